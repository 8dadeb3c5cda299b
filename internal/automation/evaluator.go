package automation

import (
	"strings"
	"time"

	"whatsapp-automation/internal/models"
)

// Evaluator decides whether a rule fires. It performs no I/O.
type Evaluator struct {
	Location *time.Location
}

func (e Evaluator) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

// Evaluate checks conds against the event and, for per-contact conditions, the
// contact. Manual events always fire. For scheduled rules slot names the
// firing window.
func (e Evaluator) Evaluate(conds TriggerConditions, schedule *ScheduleConfig, ev Event, contact *models.Contact, facts Facts) (fires bool, slot string) {
	if ev.Kind == models.TriggerManual {
		return true, ""
	}

	switch c := conds.(type) {
	case NewContactConditions:
		if contact == nil {
			return false, ""
		}
		window := time.Duration(c.WindowDays()) * 24 * time.Hour
		return !contact.CreatedAt.Before(ev.At.Add(-window)), ""

	case BirthdayConditions:
		if contact == nil {
			return false, ""
		}
		return IsBirthday(contact.Birthday, ev.At.In(e.location())), ""

	case MessageReceivedConditions:
		return e.messageReceived(c, ev, facts), ""

	case KeywordConditions:
		if ev.Message == nil || len(c.Keywords) == 0 {
			return false, ""
		}
		return containsAny(ev.Message.Content, c.Keywords, c.CaseSensitive), ""

	case ScheduledConditions:
		if schedule == nil {
			schedule = c.Schedule
		}
		if schedule == nil {
			return false, ""
		}
		return schedule.Fires(ev.At, e.location())

	case TimeBasedConditions, ManualConditions:
		return true, ""
	}
	return false, ""
}

func (e Evaluator) messageReceived(c MessageReceivedConditions, ev Event, facts Facts) bool {
	if ev.Message == nil {
		return false
	}
	if len(c.Keywords) > 0 && !containsAny(ev.Message.Content, c.Keywords, false) {
		return false
	}
	if c.SenderCriteria != nil && facts.InboundMessages < int64(c.SenderCriteria.MinMessages) {
		return false
	}
	if c.Hours != nil {
		window := time.Duration(*c.Hours) * time.Hour
		if ev.Message.CreatedAt.Before(ev.At.Add(-window)) {
			return false
		}
	}
	return true
}

// IsBirthday compares month and day only, so unknown-year birthdays match too
func IsBirthday(birthday *time.Time, today time.Time) bool {
	if birthday == nil {
		return false
	}
	return birthday.Month() == today.Month() && birthday.Day() == today.Day()
}

func containsAny(content string, keywords []string, caseSensitive bool) bool {
	if !caseSensitive {
		content = strings.ToLower(content)
	}
	for _, k := range keywords {
		if !caseSensitive {
			k = strings.ToLower(k)
		}
		if k != "" && strings.Contains(content, k) {
			return true
		}
	}
	return false
}

// EvaluateRule decodes the rule's conditions and schedule and evaluates them.
// Malformed conditions never fire and return a validation error.
func (e Evaluator) EvaluateRule(rule models.AutomationRule, ev Event, contact *models.Contact, facts Facts) (bool, string, error) {
	conds, err := ParseConditions(rule.TriggerType, rule.TriggerConditions)
	if err != nil {
		return false, "", err
	}
	var schedule *ScheduleConfig
	if rule.TriggerType == models.TriggerScheduled {
		if schedule, err = ParseSchedule(rule.ScheduleConfig); err != nil {
			return false, "", err
		}
	}
	fires, slot := e.Evaluate(conds, schedule, ev, contact, facts)
	return fires, slot, nil
}
