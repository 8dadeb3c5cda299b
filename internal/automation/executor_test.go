package automation

import (
	"context"
	"testing"
	"time"

	"whatsapp-automation/internal/models"
)

func newExecutor(f *fixture) *Executor {
	return &Executor{
		Transport:  f.transport,
		Contacts:   f.contacts,
		Activities: f.activities,
	}
}

func TestExecuteSendMessage(t *testing.T) {
	f := newFixture()
	x := newExecutor(f)
	c := newContact(4, "Dora", f.now)

	res := x.Execute(context.Background(), ExecuteRequest{Rule: sendRule(1, models.TriggerManual, ``), Contact: c})
	if res.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Error)
	}
	if f.transport.count() != 1 {
		t.Fatalf("expected one send, got %d", f.transport.count())
	}
	sent := f.transport.sent[0]
	if sent.Content != "Hi Dora" || sent.Phone != c.Phone || sent.Type != MessageTypeText {
		t.Fatalf("unexpected request %+v", sent)
	}
	if res.Details["provider_message_id"] != "wamid."+c.Phone {
		t.Fatalf("expected provider id in details, got %v", res.Details)
	}
}

func TestExecuteValidationSkipsTransport(t *testing.T) {
	f := newFixture()
	x := newExecutor(f)
	r := newRule(1, models.TriggerManual, models.ActionSendMessage, ``, `{}`)

	res := x.Execute(context.Background(), ExecuteRequest{Rule: r, Contact: newContact(1, "A", f.now)})
	if res.Status != models.StatusFailed || res.ErrorKind != KindValidation {
		t.Fatalf("expected validation failure, got %s/%s", res.Status, res.ErrorKind)
	}
	if f.transport.count() != 0 {
		t.Fatalf("transport must not be called on validation failure")
	}
}

func TestExecuteTransportFailure(t *testing.T) {
	f := newFixture()
	f.transport.failFor[2] = true
	x := newExecutor(f)

	res := x.Execute(context.Background(), ExecuteRequest{Rule: sendRule(1, models.TriggerManual, ``), Contact: newContact(2, "B", f.now)})
	if res.Status != models.StatusFailed || res.ErrorKind != KindCollaborator {
		t.Fatalf("expected collaborator failure, got %s/%s", res.Status, res.ErrorKind)
	}
}

func TestExecuteDryRun(t *testing.T) {
	f := newFixture()
	x := newExecutor(f)
	c := newContact(1, "A", f.now)

	rules := []models.AutomationRule{
		sendRule(1, models.TriggerManual, ``),
		newRule(2, models.TriggerManual, models.ActionUpdateContact, ``, `{"update_fields":{"notes":"called"}}`),
		newRule(3, models.TriggerManual, models.ActionLogActivity, ``, `{"log_message":"checked in"}`),
	}
	for _, r := range rules {
		res := x.Execute(context.Background(), ExecuteRequest{Rule: r, Contact: c, DryRun: true})
		if res.Status != models.StatusSuccess {
			t.Fatalf("rule %d: expected success in dry run, got %s (%s)", r.ID, res.Status, res.Error)
		}
		if res.Details["dry_run"] != true {
			t.Fatalf("rule %d: expected dry_run detail, got %v", r.ID, res.Details)
		}
	}
	if f.transport.count() != 0 || len(f.contacts.updates) != 0 || len(f.activities.written) != 0 {
		t.Fatalf("dry run must not mutate anything")
	}
}

func TestExecuteUpdateContactIgnoresUnknownFields(t *testing.T) {
	f := newFixture()
	x := newExecutor(f)
	r := newRule(1, models.TriggerManual, models.ActionUpdateContact, ``,
		`{"update_fields":{"is_active":false,"loyalty_points":10}}`)

	res := x.Execute(context.Background(), ExecuteRequest{Rule: r, Contact: newContact(9, "I", f.now)})
	if res.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Error)
	}
	got := f.contacts.updates[9]
	if len(got) != 1 || got["is_active"] != false {
		t.Fatalf("unexpected update %v", got)
	}
	ignored, _ := res.Details["ignored_fields"].([]string)
	if len(ignored) != 1 || ignored[0] != "loyalty_points" {
		t.Fatalf("expected ignored field detail, got %v", res.Details)
	}
}

func TestExecuteLogActivity(t *testing.T) {
	f := newFixture()
	x := newExecutor(f)
	r := newRule(5, models.TriggerManual, models.ActionLogActivity, ``, `{"log_message":"followed up"}`)

	res := x.Execute(context.Background(), ExecuteRequest{Rule: r, Contact: newContact(3, "C", f.now)})
	if res.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s", res.Status)
	}
	if len(f.activities.written) != 1 || f.activities.written[0].AutomationID != 5 {
		t.Fatalf("expected one activity row, got %+v", f.activities.written)
	}
}

func TestExecuteUnimplementedActions(t *testing.T) {
	f := newFixture()
	x := newExecutor(f)
	rules := []models.AutomationRule{
		newRule(1, models.TriggerManual, models.ActionAddToGroup, ``, `{"group_id":"vip"}`),
		newRule(2, models.TriggerManual, models.ActionSendEmail, ``, `{"email_template":"welcome"}`),
		newRule(3, models.TriggerManual, models.ActionTriggerAutomation, ``, `{"target_automation_id":9}`),
	}
	for _, r := range rules {
		res := x.Execute(context.Background(), ExecuteRequest{Rule: r, Contact: newContact(1, "A", f.now)})
		if res.Status != models.StatusFailed || res.ErrorKind != KindNotImplemented {
			t.Fatalf("%s: expected not implemented failure, got %s/%s", r.ActionType, res.Status, res.ErrorKind)
		}
	}
}

type panickingTransport struct{}

func (panickingTransport) Send(context.Context, SendRequest) (SendReceipt, error) {
	panic("provider exploded")
}

func TestExecuteRecoversFromPanics(t *testing.T) {
	x := &Executor{Transport: panickingTransport{}}
	res := x.Execute(context.Background(), ExecuteRequest{
		Rule:    sendRule(1, models.TriggerManual, ``),
		Contact: newContact(1, "A", time.Now()),
	})
	if res.Status != models.StatusFailed || res.ErrorKind != KindCollaborator {
		t.Fatalf("expected collaborator failure, got %s/%s", res.Status, res.ErrorKind)
	}
}

func TestRenderMessage(t *testing.T) {
	c := models.Contact{Name: "Eva", Phone: "3611"}
	if got := RenderMessage("Hello {{contact.name}} ({{contact.phone}})", c); got != "Hello Eva (3611)" {
		t.Fatalf("unexpected render %q", got)
	}
	if got := RenderMessage("Hello {{contact.name}}", models.Contact{}); got != "Hello there" {
		t.Fatalf("unexpected render %q", got)
	}
}
