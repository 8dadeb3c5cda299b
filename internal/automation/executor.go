package automation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"whatsapp-automation/internal/models"

	"go.uber.org/zap"
)

// Executor performs a rule's action for one contact
type Executor struct {
	Transport  Transport
	Contacts   ContactRepository
	Activities ActivityWriter
	Log        *zap.Logger
	Now        func() time.Time
}

type ExecuteRequest struct {
	Rule    models.AutomationRule
	Contact models.Contact
	DryRun  bool
	UserID  string
}

// Execute never panics; every failure is returned as a Failed result
func (x *Executor) Execute(ctx context.Context, req ExecuteRequest) (result ExecutionResult) {
	start := x.now()
	contactID := req.Contact.ID
	result = ExecutionResult{
		RuleID:     req.Rule.ID,
		RuleName:   req.Rule.Name,
		ActionType: req.Rule.ActionType,
		ContactID:  &contactID,
	}
	defer func() {
		if p := recover(); p != nil {
			result = failed(result, collaboratorErr("execute", fmt.Errorf("panic: %v", p)))
		}
		result.Duration = x.now().Sub(start)
	}()

	payload, err := ParseAction(req.Rule.ActionType, req.Rule.ActionPayload)
	if err != nil {
		return failed(result, err)
	}

	var details map[string]any
	switch p := payload.(type) {
	case SendMessagePayload:
		details, err = x.sendMessage(ctx, req, p)
	case UpdateContactPayload:
		details, err = x.updateContact(ctx, req, p)
	case LogActivityPayload:
		details, err = x.logActivity(ctx, req, p)
	case AddToGroupPayload, SendEmailPayload, TriggerAutomationPayload:
		err = &Error{Kind: KindNotImplemented, Stage: string(req.Rule.ActionType), Err: ErrNotImplemented}
	default:
		err = validationErr("payload", "unhandled action type %q", req.Rule.ActionType)
	}

	result.Details = details
	if err != nil {
		return failed(result, err)
	}
	result.Status = models.StatusSuccess
	return result
}

func (x *Executor) sendMessage(ctx context.Context, req ExecuteRequest, p SendMessagePayload) (map[string]any, error) {
	content := p.Message
	if p.Type() == MessageTypeText {
		content = RenderMessage(p.Message, req.Contact)
	}
	details := map[string]any{"message_type": p.Type(), "content": content}
	if req.DryRun {
		details["dry_run"] = true
		return details, nil
	}
	if x.Transport == nil {
		return details, collaboratorErr("transport", fmt.Errorf("no messaging transport configured"))
	}
	if req.Contact.Phone == "" {
		return details, validationErr("transport", "contact %d has no phone number", req.Contact.ID)
	}

	receipt, err := x.Transport.Send(ctx, SendRequest{
		RuleID:    req.Rule.ID,
		ContactID: req.Contact.ID,
		Phone:     req.Contact.Phone,
		Content:   content,
		Type:      p.Type(),
		Language:  p.Language,
		UserID:    req.UserID,
	})
	if err != nil {
		return details, collaboratorErr("transport", err)
	}
	if receipt.ProviderMessageID != "" {
		details["provider_message_id"] = receipt.ProviderMessageID
	}
	if receipt.Queued {
		details["queued"] = true
	}
	return details, nil
}

func (x *Executor) updateContact(ctx context.Context, req ExecuteRequest, p UpdateContactPayload) (map[string]any, error) {
	patch, err := p.Patch()
	if err != nil {
		return nil, err
	}
	if len(patch.Ignored) > 0 {
		x.logger().Info("Ignoring unknown contact fields",
			zap.Uint("rule_id", req.Rule.ID),
			zap.Uint("contact_id", req.Contact.ID),
			zap.Strings("fields", patch.Ignored))
	}

	fields := make([]string, 0, len(patch.Columns))
	for k := range patch.Columns {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	details := map[string]any{"updated_fields": fields}
	if len(patch.Ignored) > 0 {
		details["ignored_fields"] = patch.Ignored
	}
	if req.DryRun {
		details["dry_run"] = true
		return details, nil
	}
	if err := x.Contacts.UpdateContactFields(ctx, req.Contact.ID, patch.Columns); err != nil {
		return details, collaboratorErr("update_contact", err)
	}
	return details, nil
}

func (x *Executor) logActivity(ctx context.Context, req ExecuteRequest, p LogActivityPayload) (map[string]any, error) {
	details := map[string]any{"log_message": p.LogMessage}
	x.logger().Info("Automation activity",
		zap.Uint("rule_id", req.Rule.ID),
		zap.Uint("contact_id", req.Contact.ID),
		zap.String("message", p.LogMessage))
	if req.DryRun || x.Activities == nil {
		details["dry_run"] = req.DryRun
		return details, nil
	}
	err := x.Activities.RecordActivity(ctx, &models.ContactActivity{
		ContactID:    req.Contact.ID,
		AutomationID: req.Rule.ID,
		Message:      p.LogMessage,
	})
	if err != nil {
		return details, collaboratorErr("log_activity", err)
	}
	return details, nil
}

// RenderMessage fills {{contact.name}} and {{contact.phone}} placeholders
func RenderMessage(tmpl string, c models.Contact) string {
	name := c.Name
	if name == "" {
		name = "there"
	}
	return strings.NewReplacer(
		"{{contact.name}}", name,
		"{{contact.phone}}", c.Phone,
	).Replace(tmpl)
}

func failed(r ExecutionResult, err error) ExecutionResult {
	r.Status = models.StatusFailed
	r.ErrorKind = KindOf(err)
	if r.ErrorKind == "" {
		r.ErrorKind = KindCollaborator
	}
	r.Error = err.Error()
	return r
}

func (x *Executor) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

func (x *Executor) logger() *zap.Logger {
	if x.Log == nil {
		return zap.NewNop()
	}
	return x.Log
}
