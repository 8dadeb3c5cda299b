package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"whatsapp-automation/internal/models"

	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

type fakeRules struct {
	rules   []models.AutomationRule
	listErr error
	getErr  error
}

func (f *fakeRules) ListActiveRules(_ context.Context, trigger models.TriggerType) ([]models.AutomationRule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.AutomationRule
	for _, r := range f.rules {
		if r.TriggerType == trigger && r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeRules) GetRule(_ context.Context, id uint) (*models.AutomationRule, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, r := range f.rules {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

type fakeContacts struct {
	mu       sync.Mutex
	contacts []models.Contact
	getErr   error
	listErr  error
	updates  map[uint]map[string]any
	filters  []ContactFilter
}

func (f *fakeContacts) GetContact(_ context.Context, id uint) (*models.Contact, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, c := range f.contacts {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeContacts) ListActiveContacts(_ context.Context, filter ContactFilter) ([]models.Contact, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Contact
	for _, c := range f.contacts {
		if !c.IsActive {
			continue
		}
		if filter.CreatedSince != nil && c.CreatedAt.Before(*filter.CreatedSince) {
			continue
		}
		if filter.Birthday != nil {
			if c.Birthday == nil || c.Birthday.Month() != filter.Birthday.Month || c.Birthday.Day() != filter.Birthday.Day {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeContacts) UpdateContactFields(_ context.Context, id uint, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = map[uint]map[string]any{}
	}
	f.updates[id] = fields
	return nil
}

type fakeMessages struct {
	messages []models.Message
	counts   map[uint]int64
	getErr   error
	countErr error
}

func (f *fakeMessages) GetMessage(_ context.Context, id uint) (*models.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, m := range f.messages {
		if m.ID == id {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeMessages) CountInboundMessages(_ context.Context, contactID uint) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[contactID], nil
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []SendRequest
	failFor map[uint]bool
}

func (f *fakeTransport) Send(_ context.Context, req SendRequest) (SendReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[req.ContactID] {
		return SendReceipt{}, errBoom
	}
	f.sent = append(f.sent, req)
	return SendReceipt{ProviderMessageID: "wamid." + req.Phone}, nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []models.AutomationLog
	err     error
}

func (f *fakeLogs) WriteLog(_ context.Context, entry *models.AutomationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeLogs) all() []models.AutomationLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AutomationLog(nil), f.entries...)
}

type fakeActivities struct {
	mu      sync.Mutex
	written []models.ContactActivity
}

func (f *fakeActivities) RecordActivity(_ context.Context, a *models.ContactActivity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, *a)
	return nil
}

type fakeGuard struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func (f *fakeGuard) Claim(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed == nil {
		f.claimed = map[string]bool{}
	}
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

type recordingObserver struct {
	mu              sync.Mutex
	validation      []string
	collaborator    []string
	logWriteFailed  int
	attempts        int
	completedRunIDs []string
}

func (o *recordingObserver) ValidationFailed(_ models.AutomationRule, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.validation = append(o.validation, err.Error())
}

func (o *recordingObserver) CollaboratorFailed(_ models.AutomationRule, _ *uint, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.collaborator = append(o.collaborator, err.Error())
}

func (o *recordingObserver) LogWriteFailed(models.AutomationLog, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logWriteFailed++
}

func (o *recordingObserver) AttemptRecorded(models.TriggerType, ExecutionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
}

func (o *recordingObserver) RunCompleted(s *RunSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completedRunIDs = append(o.completedRunIDs, s.RunID)
}

// fixture wires an engine over fakes with a fixed clock
type fixture struct {
	now        time.Time
	rules      *fakeRules
	contacts   *fakeContacts
	messages   *fakeMessages
	transport  *fakeTransport
	logs       *fakeLogs
	activities *fakeActivities
	guard      *fakeGuard
	observer   *recordingObserver
	logger     *zap.Logger
}

func newFixture() *fixture {
	return &fixture{
		now:        time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC),
		rules:      &fakeRules{},
		contacts:   &fakeContacts{},
		messages:   &fakeMessages{counts: map[uint]int64{}},
		transport:  &fakeTransport{failFor: map[uint]bool{}},
		logs:       &fakeLogs{},
		activities: &fakeActivities{},
		guard:      &fakeGuard{},
		observer:   &recordingObserver{},
	}
}

func (f *fixture) engine() *Engine {
	return NewEngine(Deps{
		Rules:      f.rules,
		Contacts:   f.contacts,
		Messages:   f.messages,
		Transport:  f.transport,
		Logs:       f.logs,
		Activities: f.activities,
		Guard:      f.guard,
		Observer:   f.observer,
	}, Options{
		Workers: 3,
		Now:     func() time.Time { return f.now },
		Logger:  f.logger,
	})
}

func newRule(id uint, trigger models.TriggerType, action models.ActionType, conditions, payload string) models.AutomationRule {
	return models.AutomationRule{
		ID:                id,
		Name:              strings.ToUpper(string(trigger)) + " rule",
		TriggerType:       trigger,
		TriggerConditions: []byte(conditions),
		ActionType:        action,
		ActionPayload:     []byte(payload),
		IsActive:          true,
		Priority:          5,
	}
}

func sendRule(id uint, trigger models.TriggerType, conditions string) models.AutomationRule {
	return newRule(id, trigger, models.ActionSendMessage, conditions, `{"message":"Hi {{contact.name}}"}`)
}

func newContact(id uint, name string, created time.Time) models.Contact {
	return models.Contact{
		ID:        id,
		Name:      name,
		Phone:     fmt.Sprintf("36700000%03d", id),
		IsActive:  true,
		CreatedAt: created,
	}
}

func birthdayOn(month time.Month, day int) *time.Time {
	t := time.Date(models.UnknownBirthYear, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
