package automation

import (
	"context"
	"fmt"
	"time"

	"whatsapp-automation/internal/models"
)

const defaultInboundWindowHours = 24

// Resolver maps a rule and its trigger context onto target contacts.
// Results keep repository order; an empty slice is not an error.
type Resolver struct {
	Contacts ContactRepository
	Location *time.Location
}

// Resolve returns the contacts a rule should act on. override is a manual
// "run for this contact" request and wins over everything else.
func (r *Resolver) Resolve(ctx context.Context, rule models.AutomationRule, conds TriggerConditions, ev Event, override *uint) ([]models.Contact, error) {
	if override != nil {
		c, err := r.Contacts.GetContact(ctx, *override)
		if err != nil {
			return nil, resolutionErr("contact", fmt.Errorf("get contact %d: %w", *override, err))
		}
		return activeOnly(c), nil
	}

	if ev.Err != nil {
		return nil, resolutionErr("event", ev.Err)
	}
	if ev.Scoped {
		return activeOnly(ev.Contact), nil
	}

	filter, err := r.bulkFilter(rule.TriggerType, conds, ev.At)
	if err != nil {
		return nil, err
	}
	contacts, err := r.Contacts.ListActiveContacts(ctx, filter)
	if err != nil {
		return nil, resolutionErr("contacts", fmt.Errorf("list contacts for rule %d: %w", rule.ID, err))
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	return contacts, nil
}

func (r *Resolver) bulkFilter(trigger models.TriggerType, conds TriggerConditions, at time.Time) (ContactFilter, error) {
	var f ContactFilter
	switch trigger {
	case models.TriggerNewContact:
		days := 1
		if c, ok := conds.(NewContactConditions); ok {
			days = c.WindowDays()
		}
		since := at.Add(-time.Duration(days) * 24 * time.Hour)
		f.CreatedSince = &since

	case models.TriggerBirthday:
		loc := r.Location
		if loc == nil {
			loc = time.UTC
		}
		today := at.In(loc)
		f.Birthday = &MonthDay{Month: today.Month(), Day: today.Day()}

	case models.TriggerMessageReceived:
		hours := defaultInboundWindowHours
		if c, ok := conds.(MessageReceivedConditions); ok {
			if c.Hours != nil {
				hours = *c.Hours
			}
			f.InboundKeywords = c.Keywords
		}
		since := at.Add(-time.Duration(hours) * time.Hour)
		f.InboundSince = &since

	case models.TriggerKeyword:
		since := at.Add(-defaultInboundWindowHours * time.Hour)
		f.InboundSince = &since
		if c, ok := conds.(KeywordConditions); ok {
			f.InboundKeywords = c.Keywords
		}

	case models.TriggerScheduled, models.TriggerTimeBased, models.TriggerManual:
		// every active contact

	default:
		return f, validationErr("resolve", "unknown trigger type %q", trigger)
	}
	return f, nil
}

func activeOnly(c *models.Contact) []models.Contact {
	if c == nil || !c.IsActive {
		return []models.Contact{}
	}
	return []models.Contact{*c}
}
