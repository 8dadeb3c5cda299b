package main

import (
	"flag"
	"log"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/observability"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const batchSize = 500

// Copies every automation table from a SQLite file into the configured
// PostgreSQL database, keeping ids. Run sync_sequences afterwards.
func main() {
	source := flag.String("sqlite", "", "source SQLite file (defaults to DB_PATH)")
	flag.Parse()

	cfg := config.LoadConfig()
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if *source == "" {
		*source = cfg.DBPath
	}
	if cfg.DBDriver != database.DriverPostgres {
		logger.Fatal("Destination must be PostgreSQL", zap.String("driver", cfg.DBDriver))
	}

	sqliteDB, err := database.OpenDialector(sqlite.Open(*source))
	if err != nil {
		logger.Fatal("Failed to open SQLite", zap.Error(err))
	}
	pgDB, err := database.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open PostgreSQL", zap.Error(err))
	}

	// parents before children
	steps := []struct {
		table string
		rows  interface{}
	}{
		{"contacts", &[]models.Contact{}},
		{"messages", &[]models.Message{}},
		{"automation_rules", &[]models.AutomationRule{}},
		{"automation_logs", &[]models.AutomationLog{}},
		{"contact_activities", &[]models.ContactActivity{}},
	}
	for _, s := range steps {
		n, err := copyTable(sqliteDB, pgDB, s.rows)
		if err != nil {
			logger.Fatal("Table migration failed", zap.String("table", s.table), zap.Error(err))
		}
		logger.Info("Table migrated", zap.String("table", s.table), zap.Int64("rows", n))
	}
	logger.Info("Migration completed, run sync_sequences next")
}

// copyTable reads rows in batches and writes each batch in its own transaction
func copyTable(src, dst *gorm.DB, rows interface{}) (int64, error) {
	var total int64
	res := src.FindInBatches(rows, batchSize, func(tx *gorm.DB, batch int) error {
		total += tx.RowsAffected
		return dst.Transaction(func(w *gorm.DB) error {
			return w.Create(rows).Error
		})
	})
	return total, res.Error
}
