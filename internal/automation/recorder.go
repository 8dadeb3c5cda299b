package automation

import (
	"context"
	"time"

	"whatsapp-automation/internal/models"
)

// Recorder writes one execution log per attempt. Writes are best effort: a
// failed write is reported to the observer and never changes the outcome.
type Recorder struct {
	Sink     LogSink
	Observer Observer
	Now      func() time.Time
}

type logContext struct {
	RunID      string
	Trigger    models.TriggerType
	ExecutedBy string
}

// Record persists entry and reports whether the write succeeded
func (r *Recorder) Record(ctx context.Context, entry *models.AutomationLog) bool {
	if r.Sink == nil {
		return true
	}
	if err := r.Sink.WriteLog(ctx, entry); err != nil {
		if r.Observer != nil {
			r.Observer.LogWriteFailed(*entry, err)
		}
		return false
	}
	return true
}

// attemptEntry builds the log row for one execution result
func (r *Recorder) attemptEntry(lc logContext, result ExecutionResult) *models.AutomationLog {
	affected := 0
	if result.Succeeded() && result.ContactID != nil {
		affected = 1
	}
	details := map[string]any{}
	for k, v := range result.Details {
		details[k] = v
	}
	if result.ErrorKind != "" {
		details["error_kind"] = string(result.ErrorKind)
	}
	return &models.AutomationLog{
		RunID:            lc.RunID,
		AutomationID:     result.RuleID,
		ContactID:        result.ContactID,
		TriggerType:      lc.Trigger,
		ActionType:       result.ActionType,
		ExecutionStatus:  result.Status,
		ExecutionTime:    result.Duration.Seconds(),
		ContactsAffected: affected,
		ErrorMessage:     result.Error,
		ExecutionDetails: details,
		ExecutedBy:       lc.ExecutedBy,
		ExecutedAt:       r.now(),
	}
}

// aggregateEntry records a rule run that targeted no contact
func (r *Recorder) aggregateEntry(lc logContext, rule models.AutomationRule, status models.ExecutionStatus, message string) *models.AutomationLog {
	return &models.AutomationLog{
		RunID:            lc.RunID,
		AutomationID:     rule.ID,
		TriggerType:      lc.Trigger,
		ActionType:       rule.ActionType,
		ExecutionStatus:  status,
		ErrorMessage:     message,
		ExecutionDetails: map[string]any{"contacts_resolved": 0},
		ExecutedBy:       lc.ExecutedBy,
		ExecutedAt:       r.now(),
	}
}

// Aggregate folds attempt outcomes into one status: no attempts is Skipped,
// only successes is Success, only failures is Failed, anything mixed is Partial.
func Aggregate(results []ExecutionResult) models.ExecutionStatus {
	var ok, bad int
	for _, res := range results {
		switch res.Status {
		case models.StatusSuccess:
			ok++
		case models.StatusFailed:
			bad++
		}
	}
	switch {
	case ok == 0 && bad == 0:
		return models.StatusSkipped
	case bad == 0:
		return models.StatusSuccess
	case ok == 0:
		return models.StatusFailed
	default:
		return models.StatusPartial
	}
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
