package app

import (
	"context"
	"fmt"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/dedup"
	"whatsapp-automation/internal/observability"
	"whatsapp-automation/internal/queue"
	"whatsapp-automation/internal/store"
	"whatsapp-automation/internal/whatsapp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the collaborators shared by the server and the worker
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Repo    *store.Repo
	Client  *whatsapp.Client
	Metrics *observability.Metrics
	Engine  *automation.Engine

	amqp  *queue.Conn
	redis *redis.Client
}

// Build wires the engine from cfg. With TRANSPORT_MODE=queue outbound sends
// are published to RabbitMQ instead of calling the Cloud API directly.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*App, error) {
	db, err := database.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:  cfg,
		Log:     log,
		Repo:    store.New(db),
		Metrics: observability.NewMetrics(reg),
	}
	a.Client = whatsapp.NewClient(cfg, a.Repo, log)

	var transport automation.Transport = a.Client
	switch cfg.TransportMode {
	case config.TransportDirect, "":
	case config.TransportQueue:
		conn, err := queue.Dial(cfg.AMQPURL, cfg.SendQueue)
		if err != nil {
			return nil, err
		}
		a.amqp = conn
		transport = queue.NewPublisher(conn.Channel(), cfg.SendQueue)
		log.Info("Outbound messages go through RabbitMQ", zap.String("queue", cfg.SendQueue))
	default:
		return nil, fmt.Errorf("unsupported TRANSPORT_MODE %q", cfg.TransportMode)
	}

	var guard automation.SlotGuard
	if cfg.RedisURL != "" {
		rdb, err := dedup.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rdb
		guard = dedup.NewRedisGuard(rdb, cfg.DedupTTL)
		log.Info("Using Redis firing guard")
	} else {
		guard = dedup.NewMemoryGuard(cfg.DedupTTL)
		log.Warn("REDIS_URL not set, firing guard is process-local")
	}

	a.Engine = automation.NewEngine(automation.Deps{
		Rules:      a.Repo,
		Contacts:   a.Repo,
		Messages:   a.Repo,
		Transport:  transport,
		Logs:       a.Repo,
		Activities: a.Repo,
		Guard:      guard,
		Observer:   &observability.EngineObserver{Log: log, Metrics: a.Metrics},
	}, automation.Options{
		Workers:  cfg.Workers,
		Location: cfg.Location(),
		Logger:   log,
	})
	return a, nil
}

// Queue returns the AMQP connection, nil in direct mode
func (a *App) Queue() *queue.Conn {
	return a.amqp
}

func (a *App) Close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.Log.Warn("Close RabbitMQ connection", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if sqlDB, err := a.Repo.DB().DB(); err == nil {
		sqlDB.Close()
	}
}
