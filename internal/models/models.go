package models

import (
	"time"

	"gorm.io/datatypes"
)

// TriggerType is the event kind that causes a rule to be considered
type TriggerType string

const (
	TriggerNewContact      TriggerType = "new_contact"
	TriggerBirthday        TriggerType = "birthday"
	TriggerMessageReceived TriggerType = "message_received"
	TriggerKeyword         TriggerType = "keyword"
	TriggerScheduled       TriggerType = "scheduled"
	TriggerTimeBased       TriggerType = "time_based"
	TriggerManual          TriggerType = "manual"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerNewContact, TriggerBirthday, TriggerMessageReceived, TriggerKeyword,
		TriggerScheduled, TriggerTimeBased, TriggerManual:
		return true
	}
	return false
}

// ActionType is the side effect a rule performs
type ActionType string

const (
	ActionSendMessage       ActionType = "send_message"
	ActionUpdateContact     ActionType = "update_contact"
	ActionAddToGroup        ActionType = "add_to_group"
	ActionSendEmail         ActionType = "send_email"
	ActionLogActivity       ActionType = "log_activity"
	ActionTriggerAutomation ActionType = "trigger_automation"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionSendMessage, ActionUpdateContact, ActionAddToGroup, ActionSendEmail,
		ActionLogActivity, ActionTriggerAutomation:
		return true
	}
	return false
}

// ExecutionStatus is the outcome of an execution attempt or an aggregate run
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusPartial ExecutionStatus = "partial"
	StatusFailed  ExecutionStatus = "failed"
	StatusSkipped ExecutionStatus = "skipped"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ExecutedBySystem marks log rows produced by event and tick driven runs
const ExecutedBySystem = "system"

// UnknownBirthYear is stored as the year of a birthday whose year was not provided
const UnknownBirthYear = 9999

// Contact represents a WhatsApp contact
type Contact struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	Name            string                      `gorm:"type:varchar(255)" json:"name"`
	Phone           string                      `gorm:"type:varchar(32);uniqueIndex;not null" json:"phone"`
	Email           string                      `gorm:"type:varchar(255)" json:"email"`
	Notes           string                      `gorm:"type:text" json:"notes"`
	Birthday        *time.Time                  `gorm:"type:date" json:"birthday,omitempty"`
	Tags            datatypes.JSONSlice[string] `json:"tags"`
	IsActive        bool                        `gorm:"default:true;index" json:"is_active"`
	LastContactedAt *time.Time                  `json:"last_contacted_at,omitempty"`
	CreatedAt       time.Time                   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Message represents a WhatsApp message exchanged with a contact
type Message struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ContactID         uint      `gorm:"index;not null" json:"contact_id"`
	Direction         string    `gorm:"type:varchar(10);index;not null" json:"direction"`
	Type              string    `gorm:"type:varchar(50)" json:"type"`
	Content           string    `gorm:"type:text" json:"content"`
	ProviderMessageID string    `gorm:"type:varchar(128);uniqueIndex:idx_messages_provider_message_id,where:provider_message_id <> ''" json:"provider_message_id"`
	Status            string    `gorm:"type:varchar(20)" json:"status"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// AutomationRule pairs one trigger with one action.
// Conditions, payload and schedule are stored as JSON and decoded into typed
// variants by the automation package.
type AutomationRule struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Name              string         `gorm:"type:varchar(255);not null" json:"name"`
	Description       string         `gorm:"type:text" json:"description"`
	TriggerType       TriggerType    `gorm:"type:varchar(32);index;not null" json:"trigger_type"`
	TriggerConditions datatypes.JSON `json:"trigger_conditions"`
	ActionType        ActionType     `gorm:"type:varchar(32);not null" json:"action_type"`
	ActionPayload     datatypes.JSON `json:"action_payload"`
	ScheduleConfig    datatypes.JSON `json:"schedule_config,omitempty"`
	IsActive          bool           `gorm:"default:true;index" json:"is_active"`
	Priority          int            `gorm:"default:5" json:"priority"`
	CreatedBy         string         `gorm:"type:varchar(64)" json:"created_by"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AutomationRule) TableName() string {
	return "automation_rules"
}

// AutomationLog is the durable record of one execution attempt, or of a rule
// run that targeted no contact.
type AutomationLog struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	RunID            string            `gorm:"type:varchar(36);index" json:"run_id"`
	AutomationID     uint              `gorm:"index;not null" json:"automation_id"`
	ContactID        *uint             `gorm:"index" json:"contact_id,omitempty"`
	TriggerType      TriggerType       `gorm:"type:varchar(32)" json:"trigger_type"`
	ActionType       ActionType        `gorm:"type:varchar(32)" json:"action_type"`
	ExecutionStatus  ExecutionStatus   `gorm:"type:varchar(16);index;not null" json:"execution_status"`
	ExecutionTime    float64           `json:"execution_time"`
	ContactsAffected int               `json:"contacts_affected"`
	ErrorMessage     string            `gorm:"type:text" json:"error_message,omitempty"`
	ExecutionDetails datatypes.JSONMap `json:"execution_details,omitempty"`
	ExecutedBy       string            `gorm:"type:varchar(64)" json:"executed_by"`
	ExecutedAt       time.Time         `gorm:"index" json:"executed_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

// ContactActivity is a note written to a contact's timeline by a LogActivity action
type ContactActivity struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ContactID    uint      `gorm:"index;not null" json:"contact_id"`
	AutomationID uint      `gorm:"index" json:"automation_id"`
	Message      string    `gorm:"type:text" json:"message"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ContactActivity) TableName() string {
	return "contact_activities"
}

// All lists every model for migrations and data copy tools, parents first
func All() []interface{} {
	return []interface{}{
		&Contact{},
		&Message{},
		&AutomationRule{},
		&AutomationLog{},
		&ContactActivity{},
	}
}
