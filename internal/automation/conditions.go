package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"whatsapp-automation/internal/models"
)

// TriggerConditions is the typed form of a rule's trigger_conditions column.
// Each trigger type has exactly one variant.
type TriggerConditions interface {
	Trigger() models.TriggerType
	// PerContact reports whether the conditions are checked against each
	// resolved contact rather than once per rule.
	PerContact() bool
}

type NewContactConditions struct {
	Days *int `json:"days,omitempty"`
}

func (NewContactConditions) Trigger() models.TriggerType { return models.TriggerNewContact }
func (NewContactConditions) PerContact() bool            { return true }

// WindowDays defaults to one day
func (c NewContactConditions) WindowDays() int {
	if c.Days == nil {
		return 1
	}
	return *c.Days
}

type BirthdayConditions struct{}

func (BirthdayConditions) Trigger() models.TriggerType { return models.TriggerBirthday }
func (BirthdayConditions) PerContact() bool            { return true }

type SenderCriteria struct {
	MinMessages int `json:"min_messages"`
}

// MessageReceivedConditions fire when every present sub-condition passes
type MessageReceivedConditions struct {
	Keywords       []string        `json:"keywords,omitempty"`
	SenderCriteria *SenderCriteria `json:"sender_criteria,omitempty"`
	Hours          *int            `json:"hours,omitempty"`
}

func (MessageReceivedConditions) Trigger() models.TriggerType { return models.TriggerMessageReceived }
func (MessageReceivedConditions) PerContact() bool            { return true }

func (c MessageReceivedConditions) NeedsInboundCount() bool {
	return c.SenderCriteria != nil && c.SenderCriteria.MinMessages > 0
}

type KeywordConditions struct {
	Keywords      []string `json:"keywords"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
}

func (KeywordConditions) Trigger() models.TriggerType { return models.TriggerKeyword }
func (KeywordConditions) PerContact() bool            { return true }

// ScheduledConditions may carry the schedule inline for rules created before
// schedule_config had its own column.
type ScheduledConditions struct {
	Schedule *ScheduleConfig `json:"schedule,omitempty"`
}

func (ScheduledConditions) Trigger() models.TriggerType { return models.TriggerScheduled }
func (ScheduledConditions) PerContact() bool            { return false }

// TimeBasedConditions are stored but never evaluated
type TimeBasedConditions struct {
	Raw json.RawMessage
}

func (TimeBasedConditions) Trigger() models.TriggerType { return models.TriggerTimeBased }
func (TimeBasedConditions) PerContact() bool            { return false }

type ManualConditions struct {
	Raw json.RawMessage
}

func (ManualConditions) Trigger() models.TriggerType { return models.TriggerManual }
func (ManualConditions) PerContact() bool            { return false }

// ParseConditions decodes raw trigger conditions into the variant for trigger.
// Unknown keys are rejected.
func ParseConditions(trigger models.TriggerType, raw []byte) (TriggerConditions, error) {
	switch trigger {
	case models.TriggerNewContact:
		var c NewContactConditions
		if err := decodeStrict(raw, &c); err != nil {
			return nil, validationErr("conditions", "new_contact conditions: %v", err)
		}
		if c.Days != nil && *c.Days < 1 {
			return nil, validationErr("conditions", "new_contact days must be at least 1, got %d", *c.Days)
		}
		return c, nil

	case models.TriggerBirthday:
		var c BirthdayConditions
		if err := decodeStrict(raw, &c); err != nil {
			return nil, validationErr("conditions", "birthday conditions: %v", err)
		}
		return c, nil

	case models.TriggerMessageReceived:
		var c MessageReceivedConditions
		if err := decodeStrict(raw, &c); err != nil {
			return nil, validationErr("conditions", "message_received conditions: %v", err)
		}
		if err := checkKeywords(c.Keywords); err != nil {
			return nil, err
		}
		if c.SenderCriteria != nil && c.SenderCriteria.MinMessages < 0 {
			return nil, validationErr("conditions", "sender_criteria.min_messages must not be negative")
		}
		if c.Hours != nil && *c.Hours < 1 {
			return nil, validationErr("conditions", "hours must be at least 1, got %d", *c.Hours)
		}
		return c, nil

	case models.TriggerKeyword:
		var c KeywordConditions
		if err := decodeStrict(raw, &c); err != nil {
			return nil, validationErr("conditions", "keyword conditions: %v", err)
		}
		if len(c.Keywords) == 0 {
			return nil, validationErr("conditions", "keyword trigger requires at least one keyword")
		}
		if err := checkKeywords(c.Keywords); err != nil {
			return nil, err
		}
		return c, nil

	case models.TriggerScheduled:
		var c ScheduledConditions
		if err := decodeStrict(raw, &c); err != nil {
			return nil, validationErr("conditions", "scheduled conditions: %v", err)
		}
		if c.Schedule != nil {
			if err := c.Schedule.Validate(); err != nil {
				return nil, err
			}
		}
		return c, nil

	case models.TriggerTimeBased:
		if err := requireObject(raw); err != nil {
			return nil, validationErr("conditions", "time_based conditions: %v", err)
		}
		return TimeBasedConditions{Raw: json.RawMessage(raw)}, nil

	case models.TriggerManual:
		if err := requireObject(raw); err != nil {
			return nil, validationErr("conditions", "manual conditions: %v", err)
		}
		return ManualConditions{Raw: json.RawMessage(raw)}, nil
	}
	return nil, validationErr("conditions", "unknown trigger type %q", trigger)
}

func checkKeywords(keywords []string) error {
	for i, k := range keywords {
		if strings.TrimSpace(k) == "" {
			return validationErr("conditions", "keyword %d is blank", i)
		}
	}
	return nil
}

func isEmptyJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeStrict leaves dst untouched for empty or null input
func decodeStrict(raw []byte, dst any) error {
	if isEmptyJSON(raw) {
		return nil
	}
	if err := requireObject(raw); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after object")
	}
	return nil
}

func requireObject(raw []byte) error {
	if isEmptyJSON(raw) {
		return nil
	}
	if bytes.TrimSpace(raw)[0] != '{' {
		return fmt.Errorf("expected a JSON object")
	}
	return nil
}
