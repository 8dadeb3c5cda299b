package scheduler

import (
	"context"
	"fmt"
	"time"

	"whatsapp-automation/internal/automation"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Ticker is the part of the engine driven by the clock
type Ticker interface {
	OnBirthdayTick(ctx context.Context) (*automation.RunSummary, error)
	OnScheduledTick(ctx context.Context) (*automation.RunSummary, error)
}

type Options struct {
	BirthdayCron  string
	ScheduledCron string
	Location      *time.Location
	RunTimeout    time.Duration
}

// Scheduler fires the birthday and scheduled ticks. A tick that is still
// running when its next firing comes due is skipped.
type Scheduler struct {
	cron    *cron.Cron
	engine  Ticker
	timeout time.Duration
	log     *zap.Logger
}

func New(engine Ticker, opts Options, log *zap.Logger) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}
	cl := cronLogger{log.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		engine:  engine,
		timeout: opts.RunTimeout,
		log:     log,
	}

	jobs := []struct {
		name string
		spec string
		tick func(context.Context) (*automation.RunSummary, error)
	}{
		{"birthday", opts.BirthdayCron, engine.OnBirthdayTick},
		{"scheduled", opts.ScheduledCron, engine.OnScheduledTick},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(j.spec); err != nil {
			return nil, fmt.Errorf("invalid %s cron expression %q: %w", j.name, j.spec, err)
		}
		name, tick := j.name, j.tick
		if _, err := s.cron.AddFunc(j.spec, func() { s.runTick(name, tick) }); err != nil {
			return nil, err
		}
		log.Info("Scheduled automation tick", zap.String("tick", j.name), zap.String("spec", j.spec))
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the clock and waits for running ticks up to ctx
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out with ticks still running")
	}
}

func (s *Scheduler) runTick(name string, tick func(context.Context) (*automation.RunSummary, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := tick(ctx)
	if err != nil {
		s.log.Error("Automation tick failed", zap.String("tick", name), zap.Error(err))
		return
	}
	if summary != nil && summary.RulesFired > 0 {
		s.log.Info("Automation tick completed",
			zap.String("tick", name),
			zap.String("run_id", summary.RunID),
			zap.Int("rules_fired", summary.RulesFired),
			zap.Int("contacts_affected", summary.ContactsAffected))
	}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
