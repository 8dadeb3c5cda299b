package main

import (
	"log"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/observability"

	"go.uber.org/zap"
)

// Resets PostgreSQL id sequences after rows were copied in with explicit ids,
// for example by migrate_data.
func main() {
	cfg := config.LoadConfig()
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.DBDriver != database.DriverPostgres {
		logger.Fatal("sync_sequences only applies to PostgreSQL", zap.String("driver", cfg.DBDriver))
	}
	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}

	tables := []string{
		"contacts",
		"messages",
		"automation_rules",
		"automation_logs",
		"contact_activities",
	}

	failed := 0
	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			logger.Error("Sequence sync failed", zap.String("table", table), zap.Error(err))
			failed++
			continue
		}
		logger.Info("Sequence synced", zap.String("table", table))
	}
	if failed > 0 {
		logger.Fatal("Some sequences were not synced", zap.Int("failed", failed))
	}
}
