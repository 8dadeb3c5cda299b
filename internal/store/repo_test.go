package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/models"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := "file:store_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := database.OpenDialector(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func seedContact(t *testing.T, repo *Repo, phone string, created time.Time, mutate func(*models.Contact)) models.Contact {
	t.Helper()
	c := models.Contact{Name: "c" + phone, Phone: phone, IsActive: true, Tags: []string{}, CreatedAt: created}
	if mutate != nil {
		mutate(&c)
	}
	if err := repo.db.Create(&c).Error; err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return c
}

func seedRule(t *testing.T, repo *Repo, name string, trigger models.TriggerType, priority int, active bool) models.AutomationRule {
	t.Helper()
	r := models.AutomationRule{
		Name:          name,
		TriggerType:   trigger,
		ActionType:    models.ActionLogActivity,
		ActionPayload: datatypes.JSON(`{"log_message":"x"}`),
		Priority:      priority,
		IsActive:      true,
	}
	if err := repo.CreateRule(context.Background(), &r); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	// gorm skips false for fields with a default
	if !active {
		if err := repo.SetRuleActive(context.Background(), r.ID, false); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
	}
	return r
}

func TestListActiveRulesOrdersByPriorityThenID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	low := seedRule(t, repo, "low", models.TriggerBirthday, 5, true)
	high := seedRule(t, repo, "high", models.TriggerBirthday, 1, true)
	tie := seedRule(t, repo, "tie", models.TriggerBirthday, 5, true)
	seedRule(t, repo, "off", models.TriggerBirthday, 1, false)
	seedRule(t, repo, "other", models.TriggerManual, 1, true)

	rows, err := repo.ListActiveRules(ctx, models.TriggerBirthday)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []uint{high.ID, low.ID, tie.ID}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(rows))
	}
	for i, id := range want {
		if rows[i].ID != id {
			t.Fatalf("position %d: expected rule %d, got %d", i, id, rows[i].ID)
		}
	}
}

func TestGetRuleMissingReturnsNil(t *testing.T) {
	repo := openTestRepo(t)
	rule, err := repo.GetRule(context.Background(), 42)
	if err != nil || rule != nil {
		t.Fatalf("expected nil, nil; got %v, %v", rule, err)
	}
	if err := repo.DeleteRule(context.Background(), 42); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveContactsFilters(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	bday := time.Date(models.UnknownBirthYear, 3, 14, 0, 0, 0, 0, time.UTC)
	otherDay := time.Date(1990, 7, 1, 0, 0, 0, 0, time.UTC)

	fresh := seedContact(t, repo, "1001", base.Add(-2*time.Hour), func(c *models.Contact) { c.Birthday = &bday })
	old := seedContact(t, repo, "1002", base.AddDate(0, 0, -10), func(c *models.Contact) { c.Birthday = &otherDay })
	inactive := seedContact(t, repo, "1003", base.Add(-time.Hour), nil)
	if err := repo.UpdateContactFields(ctx, inactive.ID, map[string]any{"is_active": false}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	since := base.AddDate(0, 0, -1)
	rows, err := repo.ListActiveContacts(ctx, automation.ContactFilter{CreatedSince: &since})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh contact, got %+v", rows)
	}

	rows, err = repo.ListActiveContacts(ctx, automation.ContactFilter{Birthday: &automation.MonthDay{Month: time.March, Day: 14}})
	if err != nil {
		t.Fatalf("list birthdays: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != fresh.ID {
		t.Fatalf("expected birthday match, got %+v", rows)
	}

	rows, err = repo.ListActiveContacts(ctx, automation.ContactFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != fresh.ID || rows[1].ID != old.ID {
		t.Fatalf("expected both active contacts in id order, got %+v", rows)
	}
}

func TestListActiveContactsInbound(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	a := seedContact(t, repo, "2001", base, nil)
	b := seedContact(t, repo, "2002", base, nil)
	c := seedContact(t, repo, "2003", base, nil)

	msgs := []models.Message{
		{ContactID: a.ID, Direction: models.DirectionInbound, Content: "What is the PRICE?", CreatedAt: base.Add(-time.Hour)},
		{ContactID: b.ID, Direction: models.DirectionInbound, Content: "price please", CreatedAt: base.AddDate(0, 0, -3)},
		{ContactID: c.ID, Direction: models.DirectionOutbound, Content: "price list attached", CreatedAt: base.Add(-time.Hour)},
	}
	for i := range msgs {
		if _, err := repo.SaveMessage(ctx, &msgs[i]); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	since := base.Add(-24 * time.Hour)
	rows, err := repo.ListActiveContacts(ctx, automation.ContactFilter{InboundSince: &since, InboundKeywords: []string{"refund", "price"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != a.ID {
		t.Fatalf("expected only contact %d, got %+v", a.ID, rows)
	}

	n, err := repo.CountInboundMessages(ctx, b.ID)
	if err != nil || n != 1 {
		t.Fatalf("expected one inbound message, got %d (%v)", n, err)
	}
}

func TestFindOrCreateContactByPhone(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	first, created, err := repo.FindOrCreateContactByPhone(ctx, "3611", "")
	if err != nil || !created {
		t.Fatalf("expected creation, got created=%v err=%v", created, err)
	}
	again, created, err := repo.FindOrCreateContactByPhone(ctx, "3611", "Eva")
	if err != nil || created {
		t.Fatalf("expected existing contact, got created=%v err=%v", created, err)
	}
	if again.ID != first.ID || again.Name != "Eva" {
		t.Fatalf("expected name backfilled on %d, got %+v", first.ID, again)
	}
}

func TestRecordOutboundAndStatus(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	c := seedContact(t, repo, "4001", base, nil)

	m := models.Message{ContactID: c.ID, Type: "text", Content: "hi", ProviderMessageID: "wamid.1", Status: "sent"}
	if err := repo.RecordOutbound(ctx, &m, base); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, _ := repo.GetContact(ctx, c.ID)
	if got.LastContactedAt == nil || !got.LastContactedAt.Equal(base) {
		t.Fatalf("expected last_contacted_at to be stamped, got %v", got.LastContactedAt)
	}

	ok, err := repo.UpdateMessageStatus(ctx, "wamid.1", "delivered")
	if err != nil || !ok {
		t.Fatalf("expected status update, got %v %v", ok, err)
	}
	ok, err = repo.UpdateMessageStatus(ctx, "wamid.unknown", "read")
	if err != nil || ok {
		t.Fatalf("unknown id must be a no-op, got %v %v", ok, err)
	}
}

func TestStats(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rule := seedRule(t, repo, "a", models.TriggerManual, 5, true)
	seedRule(t, repo, "b", models.TriggerManual, 5, false)

	logs := []models.AutomationLog{
		{AutomationID: rule.ID, ExecutionStatus: models.StatusSuccess, ExecutionTime: 0.5, ExecutedAt: base.Add(-time.Hour)},
		{AutomationID: rule.ID, ExecutionStatus: models.StatusFailed, ExecutionTime: 1, ExecutedAt: base.AddDate(0, 0, -3)},
		{AutomationID: rule.ID, ExecutionStatus: models.StatusSuccess, ExecutionTime: 0.25, ExecutedAt: base.AddDate(0, 0, -20)},
	}
	for i := range logs {
		if err := repo.WriteLog(ctx, &logs[i]); err != nil {
			t.Fatalf("write log: %v", err)
		}
	}

	s, err := repo.Stats(ctx, base)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.TotalAutomations != 2 || s.ActiveAutomations != 1 || s.InactiveAutomations != 1 {
		t.Fatalf("unexpected rule counts %+v", s)
	}
	if s.ExecutionsToday != 1 || s.ExecutionsThisWeek != 2 || s.ExecutionsThisMonth != 3 {
		t.Fatalf("unexpected execution windows %+v", s)
	}
	if s.SuccessRate != 66.67 {
		t.Fatalf("expected 66.67, got %v", s.SuccessRate)
	}
	if s.AverageExecutionTime != 0.583 {
		t.Fatalf("expected 0.583, got %v", s.AverageExecutionTime)
	}

	listed, err := repo.ListLogs(ctx, LogFilter{AutomationID: rule.ID, Status: models.StatusSuccess})
	if err != nil || len(listed) != 2 {
		t.Fatalf("expected two success logs, got %d (%v)", len(listed), err)
	}
	if !listed[0].ExecutedAt.After(listed[1].ExecutedAt) {
		t.Fatalf("expected newest first")
	}
}

func TestSaveMessageIgnoresKnownProviderID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	c := seedContact(t, repo, "5001", base, nil)

	first := models.Message{ContactID: c.ID, Direction: models.DirectionInbound, Content: "hi", ProviderMessageID: "wamid.dup"}
	stored, err := repo.SaveMessage(ctx, &first)
	if err != nil || !stored {
		t.Fatalf("first save: stored=%v err=%v", stored, err)
	}
	again := models.Message{ContactID: c.ID, Direction: models.DirectionInbound, Content: "hi", ProviderMessageID: "wamid.dup"}
	stored, err = repo.SaveMessage(ctx, &again)
	if err != nil || stored {
		t.Fatalf("redelivery: stored=%v err=%v", stored, err)
	}

	// messages without a provider id are never deduplicated
	for i := 0; i < 2; i++ {
		m := models.Message{ContactID: c.ID, Direction: models.DirectionInbound, Content: "local"}
		if stored, err := repo.SaveMessage(ctx, &m); err != nil || !stored {
			t.Fatalf("save without provider id: stored=%v err=%v", stored, err)
		}
	}
	if n, _ := repo.CountInboundMessages(ctx, c.ID); n != 3 {
		t.Fatalf("expected 3 inbound messages, got %d", n)
	}
}

func TestListActiveContactsKeywordIsLiteral(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	a := seedContact(t, repo, "6001", base, nil)
	b := seedContact(t, repo, "6002", base, nil)
	for _, m := range []models.Message{
		{ContactID: a.ID, Direction: models.DirectionInbound, Content: "Is the 50% discount on?"},
		{ContactID: b.ID, Direction: models.DirectionInbound, Content: "I want 500 units of item_x2"},
	} {
		if _, err := repo.SaveMessage(ctx, &m); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	tests := []struct {
		keyword string
		want    []uint
	}{
		{"50%", []uint{a.ID}},
		{"item_x", []uint{b.ID}},
		{"item%x", nil},
		{"50", []uint{a.ID, b.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			rows, err := repo.ListActiveContacts(ctx, automation.ContactFilter{InboundKeywords: []string{tt.keyword}})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(rows) != len(tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, rows)
			}
			for i, id := range tt.want {
				if rows[i].ID != id {
					t.Fatalf("expected %v, got %+v", tt.want, rows)
				}
			}
		})
	}
}
