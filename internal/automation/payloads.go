package automation

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"whatsapp-automation/internal/models"

	"gorm.io/datatypes"
)

// ActionPayload is the typed form of a rule's action_payload column
type ActionPayload interface {
	Action() models.ActionType
}

const (
	MessageTypeText     = "text"
	MessageTypeTemplate = "template"
)

type SendMessagePayload struct {
	Message     string `json:"message"`
	MessageType string `json:"message_type,omitempty"`
	Language    string `json:"language,omitempty"`
}

func (SendMessagePayload) Action() models.ActionType { return models.ActionSendMessage }

func (p SendMessagePayload) Type() string {
	if p.MessageType == "" {
		return MessageTypeText
	}
	return p.MessageType
}

type UpdateContactPayload struct {
	UpdateFields map[string]json.RawMessage `json:"update_fields"`
}

func (UpdateContactPayload) Action() models.ActionType { return models.ActionUpdateContact }

type AddToGroupPayload struct {
	GroupID json.RawMessage `json:"group_id"`
}

func (AddToGroupPayload) Action() models.ActionType { return models.ActionAddToGroup }

type SendEmailPayload struct {
	Subject       string `json:"subject,omitempty"`
	EmailTemplate string `json:"email_template,omitempty"`
	EmailContent  string `json:"email_content,omitempty"`
}

func (SendEmailPayload) Action() models.ActionType { return models.ActionSendEmail }

type LogActivityPayload struct {
	LogMessage string `json:"log_message"`
}

func (LogActivityPayload) Action() models.ActionType { return models.ActionLogActivity }

type TriggerAutomationPayload struct {
	TargetAutomationID uint `json:"target_automation_id"`
}

func (TriggerAutomationPayload) Action() models.ActionType { return models.ActionTriggerAutomation }

// ParseAction decodes and validates raw action payload for the given action type
func ParseAction(action models.ActionType, raw []byte) (ActionPayload, error) {
	switch action {
	case models.ActionSendMessage:
		var p SendMessagePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, validationErr("payload", "send_message payload: %v", err)
		}
		if strings.TrimSpace(p.Message) == "" {
			return nil, validationErr("payload", "send_message requires a non-empty message")
		}
		if t := p.Type(); t != MessageTypeText && t != MessageTypeTemplate {
			return nil, validationErr("payload", "unsupported message_type %q", t)
		}
		return p, nil

	case models.ActionUpdateContact:
		var p UpdateContactPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, validationErr("payload", "update_contact payload: %v", err)
		}
		if _, err := p.Patch(); err != nil {
			return nil, err
		}
		return p, nil

	case models.ActionAddToGroup:
		var p AddToGroupPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, validationErr("payload", "add_to_group payload: %v", err)
		}
		if isEmptyJSON(p.GroupID) || bytes.Equal(bytes.TrimSpace(p.GroupID), []byte(`""`)) {
			return nil, validationErr("payload", "add_to_group requires group_id")
		}
		return p, nil

	case models.ActionSendEmail:
		var p SendEmailPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, validationErr("payload", "send_email payload: %v", err)
		}
		if strings.TrimSpace(p.EmailTemplate) == "" && strings.TrimSpace(p.EmailContent) == "" {
			return nil, validationErr("payload", "send_email requires email_template or email_content")
		}
		return p, nil

	case models.ActionLogActivity:
		var p LogActivityPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, validationErr("payload", "log_activity payload: %v", err)
		}
		if strings.TrimSpace(p.LogMessage) == "" {
			return nil, validationErr("payload", "log_activity requires log_message")
		}
		return p, nil

	case models.ActionTriggerAutomation:
		var p TriggerAutomationPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, validationErr("payload", "trigger_automation payload: %v", err)
		}
		if p.TargetAutomationID == 0 {
			return nil, validationErr("payload", "trigger_automation requires target_automation_id")
		}
		return p, nil
	}
	return nil, validationErr("payload", "unknown action type %q", action)
}

// ContactPatch is a validated set of column updates for a contact
type ContactPatch struct {
	Columns map[string]any
	Ignored []string
}

type fieldDecoder func(raw json.RawMessage) (any, error)

var mutableContactFields = map[string]fieldDecoder{
	"name":  decodeString,
	"email": decodeString,
	"notes": decodeString,
	"tags": func(raw json.RawMessage) (any, error) {
		var tags []string
		if err := json.Unmarshal(raw, &tags); err != nil {
			return nil, err
		}
		return datatypes.JSONSlice[string](tags), nil
	},
	"is_active": func(raw json.RawMessage) (any, error) {
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	},
	"birthday": func(raw json.RawMessage) (any, error) {
		if isEmptyJSON(raw) {
			return nil, nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		d, err := ParseBirthday(s)
		if err != nil {
			return nil, err
		}
		return d, nil
	},
}

func decodeString(raw json.RawMessage) (any, error) {
	var s string
	err := json.Unmarshal(raw, &s)
	return s, err
}

// Patch validates update_fields. Unknown keys are dropped and listed in Ignored;
// at least one known field must remain.
func (p UpdateContactPayload) Patch() (ContactPatch, error) {
	if len(p.UpdateFields) == 0 {
		return ContactPatch{}, validationErr("payload", "update_contact requires update_fields")
	}
	patch := ContactPatch{Columns: map[string]any{}}
	keys := make([]string, 0, len(p.UpdateFields))
	for k := range p.UpdateFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		decode, ok := mutableContactFields[k]
		if !ok {
			patch.Ignored = append(patch.Ignored, k)
			continue
		}
		v, err := decode(p.UpdateFields[k])
		if err != nil {
			return ContactPatch{}, validationErr("payload", "update_fields.%s: %v", k, err)
		}
		patch.Columns[k] = v
	}
	if len(patch.Columns) == 0 {
		return ContactPatch{}, validationErr("payload", "update_fields has no known contact fields (ignored: %s)",
			strings.Join(patch.Ignored, ", "))
	}
	return patch, nil
}

// ParseBirthday accepts YYYY-MM-DD or MM-DD; the latter is stored with the
// unknown-year marker.
func ParseBirthday(v string) (*time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t, nil
	}
	t, err := time.Parse("01-02", v)
	if err != nil {
		return nil, err
	}
	d := time.Date(models.UnknownBirthYear, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
}
