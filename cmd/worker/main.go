package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-automation/internal/app"
	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/observability"
	"whatsapp-automation/internal/queue"
	"whatsapp-automation/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// The worker owns the clock-driven triggers and, in queue mode, drains the
// outbound message queue into the WhatsApp Cloud API.
func main() {
	cfg := config.LoadConfig()
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("Failed to start", zap.Error(err))
	}
	defer a.Close()

	sched, err := scheduler.New(a.Engine, scheduler.Options{
		BirthdayCron:  cfg.BirthdayCron,
		ScheduledCron: cfg.ScheduledCron,
		Location:      cfg.Location(),
		RunTimeout:    cfg.RunTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Invalid schedule", zap.Error(err))
	}
	sched.Start()

	consumerDone := make(chan error, 1)
	if conn := a.Queue(); conn != nil {
		deliveries, err := conn.Deliveries(cfg.Workers)
		if err != nil {
			logger.Fatal("Failed to consume queue", zap.Error(err))
		}
		consumer := &queue.Consumer{Transport: a.Client, Workers: cfg.Workers, Log: logger}
		go func() { consumerDone <- consumer.Run(ctx, deliveries) }()
		logger.Info("Consuming outbound queue", zap.String("queue", cfg.SendQueue))
	}

	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-consumerDone:
		if err != nil {
			logger.Error("Queue consumer stopped", zap.Error(err))
		}
	}

	logger.Info("Shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)
}
