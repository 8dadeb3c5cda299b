package automation

import (
	"testing"
	"time"

	"whatsapp-automation/internal/models"
)

func TestEvaluateRule(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	ev := Event{Kind: models.TriggerBirthday, At: now}
	eval := Evaluator{Location: time.UTC}

	alice := newContact(1, "Alice", now.Add(-10*24*time.Hour))
	alice.Birthday = birthdayOn(time.March, 14)
	bob := newContact(2, "Bob", now.Add(-2*time.Hour))
	bob.Birthday = birthdayOn(time.March, 15)

	inbound := &models.Message{ID: 7, ContactID: 2, Direction: models.DirectionInbound, Content: "I need HELP with my order", CreatedAt: now.Add(-time.Hour)}
	old := &models.Message{ID: 8, ContactID: 2, Direction: models.DirectionInbound, Content: "help", CreatedAt: now.Add(-30 * time.Hour)}

	tests := []struct {
		name       string
		trigger    models.TriggerType
		conditions string
		ev         Event
		contact    *models.Contact
		facts      Facts
		want       bool
		wantErr    bool
	}{
		{name: "birthday unknown year matches", trigger: models.TriggerBirthday, ev: ev, contact: &alice, want: true},
		{name: "birthday other day", trigger: models.TriggerBirthday, ev: ev, contact: &bob, want: false},
		{name: "birthday without date", trigger: models.TriggerBirthday, ev: ev, contact: &models.Contact{ID: 3}, want: false},
		{name: "new contact default window", trigger: models.TriggerNewContact, conditions: `{}`, ev: ev, contact: &bob, want: true},
		{name: "new contact outside window", trigger: models.TriggerNewContact, conditions: `{"days":7}`, ev: ev, contact: &alice, want: false},
		{name: "new contact wider window", trigger: models.TriggerNewContact, conditions: `{"days":14}`, ev: ev, contact: &alice, want: true},
		{name: "new contact bad days", trigger: models.TriggerNewContact, conditions: `{"days":0}`, ev: ev, contact: &alice, wantErr: true},
		{name: "message keywords any case", trigger: models.TriggerMessageReceived, conditions: `{"keywords":["help","support"]}`,
			ev: Event{At: now, Message: inbound}, contact: &bob, want: true},
		{name: "message keyword missing", trigger: models.TriggerMessageReceived, conditions: `{"keywords":["refund"]}`,
			ev: Event{At: now, Message: inbound}, contact: &bob, want: false},
		{name: "message sender below minimum", trigger: models.TriggerMessageReceived, conditions: `{"sender_criteria":{"min_messages":3}}`,
			ev: Event{At: now, Message: inbound}, contact: &bob, facts: Facts{InboundMessages: 2}, want: false},
		{name: "message sender at minimum", trigger: models.TriggerMessageReceived, conditions: `{"sender_criteria":{"min_messages":3}}`,
			ev: Event{At: now, Message: inbound}, contact: &bob, facts: Facts{InboundMessages: 3}, want: true},
		{name: "message too old", trigger: models.TriggerMessageReceived, conditions: `{"keywords":["help"],"hours":24}`,
			ev: Event{At: now, Message: old}, contact: &bob, want: false},
		{name: "message no conditions", trigger: models.TriggerMessageReceived, conditions: ``,
			ev: Event{At: now, Message: old}, contact: &bob, want: true},
		{name: "message unknown key", trigger: models.TriggerMessageReceived, conditions: `{"keyword":"help"}`,
			ev: Event{At: now, Message: inbound}, contact: &bob, wantErr: true},
		{name: "keyword insensitive", trigger: models.TriggerKeyword, conditions: `{"keywords":["help"]}`,
			ev: Event{At: now, Message: inbound}, contact: &bob, want: true},
		{name: "keyword case sensitive", trigger: models.TriggerKeyword, conditions: `{"keywords":["help"],"case_sensitive":true}`,
			ev: Event{At: now, Message: inbound}, contact: &bob, want: false},
		{name: "keyword empty list fails closed", trigger: models.TriggerKeyword, conditions: `{"keywords":[]}`,
			ev: Event{At: now, Message: inbound}, contact: &bob, wantErr: true},
		{name: "time based always", trigger: models.TriggerTimeBased, conditions: `{"time_criteria":{"after":"2026-01-01"}}`, ev: ev, want: true},
		{name: "manual event always", trigger: models.TriggerBirthday, ev: Event{Kind: models.TriggerManual, At: now}, contact: &bob, want: true},
		{name: "scheduled without schedule", trigger: models.TriggerScheduled, conditions: `{}`, ev: ev, want: false},
		{name: "conditions not an object", trigger: models.TriggerKeyword, conditions: `["help"]`, ev: ev, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRule(1, tt.trigger, models.ActionLogActivity, tt.conditions, `{"log_message":"x"}`)
			got, _, err := eval.EvaluateRule(r, tt.ev, tt.contact, tt.facts)
			if tt.wantErr {
				if err == nil || !IsValidation(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				if got {
					t.Fatalf("malformed conditions must not fire")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected fires=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluateScheduledRule(t *testing.T) {
	// 2026-03-16 is a Monday
	monday := time.Date(2026, time.March, 16, 8, 30, 0, 0, time.UTC)
	eval := Evaluator{Location: time.UTC}

	tests := []struct {
		name     string
		schedule string
		at       time.Time
		want     bool
		wantSlot string
	}{
		{name: "daily match", schedule: `{"type":"daily","time":"08:30"}`, at: monday, want: true, wantSlot: "2026-03-16T08:30"},
		{name: "daily unpadded", schedule: `{"type":"daily","time":"8:30"}`, at: monday, want: true, wantSlot: "2026-03-16T08:30"},
		{name: "daily other minute", schedule: `{"type":"daily","time":"08:31"}`, at: monday, want: false},
		{name: "weekly monday", schedule: `{"type":"weekly","days":[1,3]}`, at: monday, want: true, wantSlot: "2026-03-16"},
		{name: "weekly sunday is seven", schedule: `{"type":"weekly","days":[7]}`, at: monday.AddDate(0, 0, 6), want: true, wantSlot: "2026-03-22"},
		{name: "weekly other day", schedule: `{"type":"weekly","days":[2]}`, at: monday, want: false},
		{name: "monthly", schedule: `{"type":"monthly","day":16}`, at: monday, want: true, wantSlot: "2026-03-16"},
		{name: "wrapped schedule", schedule: `{"schedule":{"type":"monthly","day":16}}`, at: monday, want: true, wantSlot: "2026-03-16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRule(1, models.TriggerScheduled, models.ActionLogActivity, `{}`, `{"log_message":"x"}`)
			r.ScheduleConfig = []byte(tt.schedule)
			got, slot, err := eval.EvaluateRule(r, Event{Kind: models.TriggerScheduled, At: tt.at}, nil, Facts{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected fires=%v, got %v", tt.want, got)
			}
			if slot != tt.wantSlot {
				t.Fatalf("expected slot %q, got %q", tt.wantSlot, slot)
			}
		})
	}
}

func TestInlineScheduleInConditions(t *testing.T) {
	at := time.Date(2026, time.March, 16, 18, 0, 0, 0, time.UTC)
	r := newRule(1, models.TriggerScheduled, models.ActionLogActivity,
		`{"schedule":{"type":"daily","time":"18:00"}}`, `{"log_message":"x"}`)

	got, _, err := Evaluator{}.EvaluateRule(r, Event{Kind: models.TriggerScheduled, At: at}, nil, Facts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatalf("expected inline schedule to fire")
	}
}

func TestEvaluateIsPure(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	c := newContact(1, "Alice", now)
	c.Birthday = birthdayOn(time.March, 14)
	r := newRule(1, models.TriggerBirthday, models.ActionLogActivity, `{}`, `{"log_message":"x"}`)
	ev := Event{Kind: models.TriggerBirthday, At: now}

	first, _, _ := Evaluator{}.EvaluateRule(r, ev, &c, Facts{})
	for i := 0; i < 5; i++ {
		again, _, _ := Evaluator{}.EvaluateRule(r, ev, &c, Facts{})
		if again != first {
			t.Fatalf("evaluation changed between calls")
		}
	}
}
