package observability

import (
	"errors"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Metrics struct {
	Attempts             *prometheus.CounterVec
	AttemptDuration      *prometheus.HistogramVec
	Runs                 *prometheus.CounterVec
	RunDuration          *prometheus.HistogramVec
	ValidationFailures   *prometheus.CounterVec
	CollaboratorFailures *prometheus.CounterVec
	LogWriteFailures     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_attempts_total",
				Help: "Execution attempts by trigger, action and status.",
			},
			[]string{"trigger", "action", "status"},
		),
		AttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automation_attempt_duration_seconds",
				Help:    "Time spent executing one action for one contact.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_runs_total",
				Help: "Completed engine runs by trigger and aggregate status.",
			},
			[]string{"trigger", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automation_run_duration_seconds",
				Help:    "Wall time of engine runs.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		ValidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_validation_failures_total",
				Help: "Rules skipped because their definition is invalid.",
			},
			[]string{"trigger"},
		),
		CollaboratorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_collaborator_failures_total",
				Help: "Transport and repository failures by stage.",
			},
			[]string{"stage"},
		),
		LogWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_log_write_failures_total",
			Help: "Execution logs that could not be persisted.",
		}),
	}
	reg.MustRegister(m.Attempts, m.AttemptDuration, m.Runs, m.RunDuration, m.ValidationFailures, m.CollaboratorFailures, m.LogWriteFailures)
	return m
}

// EngineObserver reports engine events to zap and Prometheus
type EngineObserver struct {
	Log     *zap.Logger
	Metrics *Metrics
}

var _ automation.Observer = (*EngineObserver)(nil)

func (o *EngineObserver) ValidationFailed(rule models.AutomationRule, err error) {
	o.Metrics.ValidationFailures.WithLabelValues(string(rule.TriggerType)).Inc()
	o.Log.Warn("Invalid automation rule",
		zap.Uint("rule_id", rule.ID),
		zap.String("rule", rule.Name),
		zap.Error(err))
}

func (o *EngineObserver) CollaboratorFailed(rule models.AutomationRule, contactID *uint, err error) {
	stage := "unknown"
	var ae *automation.Error
	if errors.As(err, &ae) && ae.Stage != "" {
		stage = ae.Stage
	}
	o.Metrics.CollaboratorFailures.WithLabelValues(stage).Inc()
	fields := []zap.Field{zap.Uint("rule_id", rule.ID), zap.Error(err)}
	if contactID != nil {
		fields = append(fields, zap.Uint("contact_id", *contactID))
	}
	o.Log.Warn("Automation action failed", fields...)
}

func (o *EngineObserver) LogWriteFailed(entry models.AutomationLog, err error) {
	o.Metrics.LogWriteFailures.Inc()
	o.Log.Error("Failed to write automation log",
		zap.Uint("rule_id", entry.AutomationID),
		zap.String("run_id", entry.RunID),
		zap.String("status", string(entry.ExecutionStatus)),
		zap.Error(err))
}

func (o *EngineObserver) AttemptRecorded(trigger models.TriggerType, result automation.ExecutionResult) {
	o.Metrics.Attempts.WithLabelValues(string(trigger), string(result.ActionType), string(result.Status)).Inc()
	o.Metrics.AttemptDuration.WithLabelValues(string(result.ActionType)).Observe(result.Duration.Seconds())
}

func (o *EngineObserver) RunCompleted(summary *automation.RunSummary) {
	o.Metrics.Runs.WithLabelValues(string(summary.Trigger), string(summary.Status)).Inc()
	o.Metrics.RunDuration.WithLabelValues(string(summary.Trigger)).Observe(summary.Duration.Seconds())
}
