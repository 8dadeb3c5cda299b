package automation

import (
	"context"
	"time"

	"whatsapp-automation/internal/models"
)

// RuleRepository returns automation rules. ListActiveRules must order by
// priority (1 is highest) and then by id.
type RuleRepository interface {
	ListActiveRules(ctx context.Context, trigger models.TriggerType) ([]models.AutomationRule, error)
	GetRule(ctx context.Context, id uint) (*models.AutomationRule, error)
}

// ContactFilter narrows bulk contact listings. Only active contacts are ever returned.
type ContactFilter struct {
	CreatedSince    *time.Time
	Birthday        *MonthDay
	InboundSince    *time.Time
	InboundKeywords []string
}

// MonthDay is a calendar day without a year
type MonthDay struct {
	Month time.Month
	Day   int
}

// ContactRepository reads and mutates contacts. Get methods return nil, nil
// when the record does not exist.
type ContactRepository interface {
	GetContact(ctx context.Context, id uint) (*models.Contact, error)
	ListActiveContacts(ctx context.Context, filter ContactFilter) ([]models.Contact, error)
	UpdateContactFields(ctx context.Context, id uint, fields map[string]any) error
}

type MessageReader interface {
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	CountInboundMessages(ctx context.Context, contactID uint) (int64, error)
}

// SendRequest is one outbound message addressed to a contact
type SendRequest struct {
	RuleID    uint   `json:"rule_id"`
	ContactID uint   `json:"contact_id"`
	Phone     string `json:"phone"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Language  string `json:"language,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type SendReceipt struct {
	ProviderMessageID string
	Queued            bool
}

// Transport delivers outbound messages
type Transport interface {
	Send(ctx context.Context, req SendRequest) (SendReceipt, error)
}

// LogSink persists execution logs
type LogSink interface {
	WriteLog(ctx context.Context, entry *models.AutomationLog) error
}

// ActivityWriter persists LogActivity notes
type ActivityWriter interface {
	RecordActivity(ctx context.Context, activity *models.ContactActivity) error
}

// SlotGuard claims a firing slot once. Claim returns false when the slot was
// already claimed.
type SlotGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// Observer receives engine events that are reported but never change an outcome
type Observer interface {
	ValidationFailed(rule models.AutomationRule, err error)
	CollaboratorFailed(rule models.AutomationRule, contactID *uint, err error)
	LogWriteFailed(entry models.AutomationLog, err error)
	AttemptRecorded(trigger models.TriggerType, result ExecutionResult)
	RunCompleted(summary *RunSummary)
}

type nopObserver struct{}

func (nopObserver) ValidationFailed(models.AutomationRule, error)          {}
func (nopObserver) CollaboratorFailed(models.AutomationRule, *uint, error) {}
func (nopObserver) LogWriteFailed(models.AutomationLog, error)             {}
func (nopObserver) AttemptRecorded(models.TriggerType, ExecutionResult)    {}
func (nopObserver) RunCompleted(*RunSummary)                               {}
