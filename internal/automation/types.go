package automation

import (
	"sync"
	"time"

	"whatsapp-automation/internal/models"
)

// Event is what caused an engine invocation
type Event struct {
	Kind models.TriggerType
	At   time.Time
	// Scoped events resolve to Contact only, even when it is nil
	Scoped  bool
	Contact *models.Contact
	Message *models.Message
	// Err is a lookup failure for the event's contact or message
	Err error
}

// Facts are values the evaluator needs that come from collaborators
type Facts struct {
	InboundMessages int64
}

// ExecutionResult is the outcome of one rule applied to one contact, or of a
// rule-level failure when ContactID is nil.
type ExecutionResult struct {
	RuleID     uint                   `json:"rule_id"`
	RuleName   string                 `json:"rule_name"`
	ActionType models.ActionType      `json:"action_type"`
	ContactID  *uint                  `json:"contact_id,omitempty"`
	Status     models.ExecutionStatus `json:"status"`
	ErrorKind  ErrorKind              `json:"error_kind,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Details    map[string]any         `json:"details,omitempty"`
	Duration   time.Duration          `json:"duration"`
}

func (r ExecutionResult) Succeeded() bool {
	return r.Status == models.StatusSuccess
}

// RuleError is a per-rule problem that did not produce an execution attempt
type RuleError struct {
	RuleID  uint      `json:"rule_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// RunSummary describes one engine invocation
type RunSummary struct {
	RunID            string                 `json:"run_id"`
	Trigger          models.TriggerType     `json:"trigger"`
	TestMode         bool                   `json:"test_mode"`
	Status           models.ExecutionStatus `json:"status"`
	RulesConsidered  int                    `json:"rules_considered"`
	RulesFired       int                    `json:"rules_fired"`
	ContactsAffected int                    `json:"contacts_affected"`
	Succeeded        int                    `json:"succeeded"`
	Failed           int                    `json:"failed"`
	LogWriteFailures int                    `json:"log_write_failures"`
	Attempts         []ExecutionResult      `json:"attempts"`
	Errors           []RuleError            `json:"errors,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	Duration         time.Duration          `json:"duration"`
}

// accumulator collects results from concurrent workers
type accumulator struct {
	mu       sync.Mutex
	summary  *RunSummary
	affected map[uint]struct{}
}

func newAccumulator(s *RunSummary) *accumulator {
	return &accumulator{summary: s, affected: map[uint]struct{}{}}
}

func (a *accumulator) considered() {
	a.mu.Lock()
	a.summary.RulesConsidered++
	a.mu.Unlock()
}

func (a *accumulator) fired() {
	a.mu.Lock()
	a.summary.RulesFired++
	a.mu.Unlock()
}

func (a *accumulator) ruleError(ruleID uint, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = KindCollaborator
	}
	a.mu.Lock()
	a.summary.Errors = append(a.summary.Errors, RuleError{RuleID: ruleID, Kind: kind, Message: err.Error()})
	a.mu.Unlock()
}

func (a *accumulator) logWriteFailed() {
	a.mu.Lock()
	a.summary.LogWriteFailures++
	a.mu.Unlock()
}

// attempts appends results in order, skipping nil slots
func (a *accumulator) attempts(results []*ExecutionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range results {
		if r == nil {
			continue
		}
		a.summary.Attempts = append(a.summary.Attempts, *r)
		if r.Succeeded() {
			a.summary.Succeeded++
			if r.ContactID != nil {
				a.affected[*r.ContactID] = struct{}{}
			}
		} else if r.Status == models.StatusFailed {
			a.summary.Failed++
		}
	}
	a.summary.ContactsAffected = len(a.affected)
}

func (a *accumulator) finish(now time.Time) *RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary.Status = Aggregate(a.summary.Attempts)
	a.summary.Duration = now.Sub(a.summary.StartedAt)
	if a.summary.Attempts == nil {
		a.summary.Attempts = []ExecutionResult{}
	}
	return a.summary
}
