package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsapp-automation/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Deps are the engine's collaborators. Guard and Observer are optional.
type Deps struct {
	Rules      RuleRepository
	Contacts   ContactRepository
	Messages   MessageReader
	Transport  Transport
	Logs       LogSink
	Activities ActivityWriter
	Guard      SlotGuard
	Observer   Observer
}

type Options struct {
	// Workers bounds how many contacts of one rule are executed concurrently
	Workers  int
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.Logger
}

// Engine runs automation rules for the six trigger surfaces: new contact,
// birthday, message received, keyword, scheduled and manual.
type Engine struct {
	rules     RuleRepository
	contacts  ContactRepository
	messages  MessageReader
	guard     SlotGuard
	observer  Observer
	evaluator Evaluator
	resolver  *Resolver
	executor  *Executor
	recorder  *Recorder
	log       *zap.Logger
	workers   int
	loc       *time.Location
	now       func() time.Time

	mu        sync.RWMutex
	listeners []func(*RunSummary)
}

func NewEngine(deps Deps, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Engine{
		rules:     deps.Rules,
		contacts:  deps.Contacts,
		messages:  deps.Messages,
		guard:     deps.Guard,
		observer:  observer,
		evaluator: Evaluator{Location: opts.Location},
		resolver:  &Resolver{Contacts: deps.Contacts, Location: opts.Location},
		executor: &Executor{
			Transport:  deps.Transport,
			Contacts:   deps.Contacts,
			Activities: deps.Activities,
			Log:        opts.Logger,
			Now:        opts.Now,
		},
		recorder: &Recorder{Sink: deps.Logs, Observer: observer, Now: opts.Now},
		log:      opts.Logger,
		workers:  opts.Workers,
		loc:      opts.Location,
		now:      opts.Now,
	}
}

// OnRunComplete registers fn to receive every finished run summary
func (e *Engine) OnRunComplete(fn func(*RunSummary)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// ManualRun asks for one rule to run now. TestMode executes actions as a
// dry run and persists no logs.
type ManualRun struct {
	RuleID    uint
	ContactID *uint
	TestMode  bool
	UserID    string
}

// run is the state of one invocation
type run struct {
	ev       Event
	override *uint
	dryRun   bool
	userID   string
	lc       logContext
	acc      *accumulator
}

func (e *Engine) newRun(kind models.TriggerType, testMode bool, userID string) *run {
	now := e.now()
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Trigger:   kind,
		TestMode:  testMode,
		StartedAt: now,
	}
	executedBy := userID
	if executedBy == "" {
		executedBy = models.ExecutedBySystem
	}
	return &run{
		ev:     Event{Kind: kind, At: now},
		dryRun: testMode,
		userID: userID,
		lc:     logContext{RunID: summary.RunID, Trigger: kind, ExecutedBy: executedBy},
		acc:    newAccumulator(summary),
	}
}

// OnNewContact runs new_contact rules for a freshly created contact
func (e *Engine) OnNewContact(ctx context.Context, contactID uint) (*RunSummary, error) {
	r := e.newRun(models.TriggerNewContact, false, "")
	rules, err := e.selectRules(ctx, models.TriggerNewContact)
	if err != nil {
		return e.abort(r, err)
	}

	r.ev.Scoped = true
	contact, err := e.contacts.GetContact(ctx, contactID)
	if err != nil {
		r.ev.Err = fmt.Errorf("get contact %d: %w", contactID, err)
	}
	r.ev.Contact = contact

	if err := e.process(ctx, r, rules); err != nil {
		return e.abort(r, err)
	}
	return e.complete(r), nil
}

// OnBirthdayTick runs birthday rules for every active contact whose birthday is today
func (e *Engine) OnBirthdayTick(ctx context.Context) (*RunSummary, error) {
	return e.tick(ctx, models.TriggerBirthday)
}

// OnScheduledTick runs scheduled rules whose schedule matches the current time
func (e *Engine) OnScheduledTick(ctx context.Context) (*RunSummary, error) {
	return e.tick(ctx, models.TriggerScheduled)
}

func (e *Engine) tick(ctx context.Context, trigger models.TriggerType) (*RunSummary, error) {
	r := e.newRun(trigger, false, "")
	rules, err := e.selectRules(ctx, trigger)
	if err != nil {
		return e.abort(r, err)
	}
	if err := e.process(ctx, r, rules); err != nil {
		return e.abort(r, err)
	}
	return e.complete(r), nil
}

// OnMessageReceived runs message_received rules and then keyword rules for
// one stored inbound message. Both passes share a single run summary.
func (e *Engine) OnMessageReceived(ctx context.Context, messageID uint) (*RunSummary, error) {
	r := e.newRun(models.TriggerMessageReceived, false, "")
	received, err := e.selectRules(ctx, models.TriggerMessageReceived)
	if err != nil {
		return e.abort(r, err)
	}
	keyword, err := e.selectRules(ctx, models.TriggerKeyword)
	if err != nil {
		return e.abort(r, err)
	}

	r.ev.Scoped = true
	msg, err := e.messages.GetMessage(ctx, messageID)
	switch {
	case err != nil:
		r.ev.Err = fmt.Errorf("get message %d: %w", messageID, err)
	case msg == nil || msg.Direction != models.DirectionInbound:
		// nothing to react to
	default:
		r.ev.Message = msg
		contact, err := e.contacts.GetContact(ctx, msg.ContactID)
		if err != nil {
			r.ev.Err = fmt.Errorf("get contact %d: %w", msg.ContactID, err)
		}
		r.ev.Contact = contact
	}

	if err := e.process(ctx, r, received); err != nil {
		return e.abort(r, err)
	}
	r.ev.Kind = models.TriggerKeyword
	r.lc.Trigger = models.TriggerKeyword
	if err := e.process(ctx, r, keyword); err != nil {
		return e.abort(r, err)
	}
	return e.complete(r), nil
}

// RunManual runs a single rule on demand, optionally for one contact only.
// It returns ErrRuleNotFound when the rule does not exist.
func (e *Engine) RunManual(ctx context.Context, req ManualRun) (*RunSummary, error) {
	r := e.newRun(models.TriggerManual, req.TestMode, req.UserID)
	r.override = req.ContactID

	rule, err := e.rules.GetRule(ctx, req.RuleID)
	if err != nil {
		return e.abort(r, fatalErr("rules", fmt.Errorf("get rule %d: %w", req.RuleID, err)))
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: %d", ErrRuleNotFound, req.RuleID)
	}

	if err := e.process(ctx, r, []models.AutomationRule{*rule}); err != nil {
		return e.abort(r, err)
	}
	return e.complete(r), nil
}

func (e *Engine) selectRules(ctx context.Context, trigger models.TriggerType) ([]models.AutomationRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, fatalErr("cancelled", err)
	}
	rules, err := e.rules.ListActiveRules(ctx, trigger)
	if err != nil {
		return nil, fatalErr("rules", fmt.Errorf("list %s rules: %w", trigger, err))
	}
	return rules, nil
}

// process walks rules in priority order. Only cancellation stops it early.
func (e *Engine) process(ctx context.Context, r *run, rules []models.AutomationRule) error {
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return fatalErr("cancelled", err)
		}
		e.processRule(ctx, r, rule)
	}
	if err := ctx.Err(); err != nil {
		return fatalErr("cancelled", err)
	}
	return nil
}

func (e *Engine) processRule(ctx context.Context, r *run, rule models.AutomationRule) {
	r.acc.considered()
	if !rule.IsActive {
		return
	}

	conds, err := ParseConditions(rule.TriggerType, rule.TriggerConditions)
	if err != nil {
		e.ruleInvalid(r, rule, err)
		return
	}

	ruleLevel := r.ev.Kind == models.TriggerManual || !conds.PerContact()
	if ruleLevel {
		if r.ev.Kind != models.TriggerManual {
			var schedule *ScheduleConfig
			if rule.TriggerType == models.TriggerScheduled {
				if schedule, err = ParseSchedule(rule.ScheduleConfig); err != nil {
					e.ruleInvalid(r, rule, err)
					return
				}
			}
			fires, slot := e.evaluator.Evaluate(conds, schedule, r.ev, nil, Facts{})
			if !fires {
				return
			}
			if slot != "" && !e.claim(ctx, rule, fmt.Sprintf("rule:%d:%s", rule.ID, slot)) {
				return
			}
		}
		r.acc.fired()
	}

	contacts, err := e.resolver.Resolve(ctx, rule, conds, r.ev, r.override)
	if err != nil {
		e.observer.CollaboratorFailed(rule, r.override, err)
		res := failed(ExecutionResult{RuleID: rule.ID, RuleName: rule.Name, ActionType: rule.ActionType, ContactID: r.override}, err)
		e.observer.AttemptRecorded(r.lc.Trigger, res)
		e.writeLog(ctx, r, e.recorder.attemptEntry(r.lc, res))
		r.acc.attempts([]*ExecutionResult{&res})
		return
	}

	if len(contacts) == 0 {
		if ruleLevel {
			e.writeLog(ctx, r, e.recorder.aggregateEntry(r.lc, rule, models.StatusSkipped, "no contacts resolved"))
		}
		return
	}

	lc := r.lc
	results := make([]*ExecutionResult, len(contacts))
	var firedOnce sync.Once
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range contacts {
		contact := contacts[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, attempted := e.attempt(ctx, r, lc, rule, conds, contact, ruleLevel, &firedOnce)
			if attempted {
				results[i] = &res
			}
			return nil
		})
	}
	_ = g.Wait()
	r.acc.attempts(results)
}

// attempt evaluates per-contact conditions and executes the action. It
// reports false when the rule does not fire for the contact.
func (e *Engine) attempt(ctx context.Context, r *run, lc logContext, rule models.AutomationRule, conds TriggerConditions, contact models.Contact, ruleLevel bool, firedOnce *sync.Once) (ExecutionResult, bool) {
	if !ruleLevel {
		var facts Facts
		if mr, ok := conds.(MessageReceivedConditions); ok && mr.NeedsInboundCount() {
			n, err := e.messages.CountInboundMessages(ctx, contact.ID)
			if err != nil {
				id := contact.ID
				cerr := collaboratorErr("count_messages", err)
				e.observer.CollaboratorFailed(rule, &id, cerr)
				res := failed(ExecutionResult{RuleID: rule.ID, RuleName: rule.Name, ActionType: rule.ActionType, ContactID: &id}, cerr)
				e.observer.AttemptRecorded(lc.Trigger, res)
				e.writeLog(ctx, r, e.recorder.attemptEntry(lc, res))
				return res, true
			}
			facts.InboundMessages = n
		}

		if fires, _ := e.evaluator.Evaluate(conds, nil, r.ev, &contact, facts); !fires {
			return ExecutionResult{}, false
		}
		if r.ev.Kind == models.TriggerBirthday {
			day := r.ev.At.In(e.loc).Format("2006-01-02")
			if !e.claim(ctx, rule, fmt.Sprintf("rule:%d:contact:%d:%s", rule.ID, contact.ID, day)) {
				return ExecutionResult{}, false
			}
		}
		firedOnce.Do(r.acc.fired)
	}

	res := e.executor.Execute(ctx, ExecuteRequest{
		Rule:    rule,
		Contact: contact,
		DryRun:  r.dryRun,
		UserID:  r.userID,
	})
	switch res.ErrorKind {
	case KindValidation:
		e.observer.ValidationFailed(rule, errors.New(res.Error))
	case KindCollaborator:
		e.observer.CollaboratorFailed(rule, res.ContactID, collaboratorErr(string(rule.ActionType), errors.New(res.Error)))
	}
	e.observer.AttemptRecorded(lc.Trigger, res)
	e.writeLog(ctx, r, e.recorder.attemptEntry(lc, res))
	return res, true
}

func (e *Engine) writeLog(ctx context.Context, r *run, entry *models.AutomationLog) {
	if r.dryRun {
		return
	}
	if !e.recorder.Record(ctx, entry) {
		r.acc.logWriteFailed()
	}
}

// claim fails open: a guard error lets the rule fire
func (e *Engine) claim(ctx context.Context, rule models.AutomationRule, key string) bool {
	if e.guard == nil {
		return true
	}
	ok, err := e.guard.Claim(ctx, key)
	if err != nil {
		e.observer.CollaboratorFailed(rule, nil, collaboratorErr("claim_slot", fmt.Errorf("%s: %w", key, err)))
		return true
	}
	return ok
}

func (e *Engine) ruleInvalid(r *run, rule models.AutomationRule, err error) {
	e.observer.ValidationFailed(rule, err)
	r.acc.ruleError(rule.ID, err)
}

func (e *Engine) complete(r *run) *RunSummary {
	summary := r.acc.finish(e.now())
	e.observer.RunCompleted(summary)
	e.log.Info("Automation run completed",
		zap.String("run_id", summary.RunID),
		zap.String("trigger", string(summary.Trigger)),
		zap.String("status", string(summary.Status)),
		zap.Int("rules_considered", summary.RulesConsidered),
		zap.Int("rules_fired", summary.RulesFired),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))

	e.mu.RLock()
	listeners := append([]func(*RunSummary){}, e.listeners...)
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(summary)
	}
	return summary
}

func (e *Engine) abort(r *run, err error) (*RunSummary, error) {
	summary := r.acc.finish(e.now())
	e.log.Error("Automation run aborted",
		zap.String("run_id", summary.RunID),
		zap.String("trigger", string(summary.Trigger)),
		zap.Error(err))
	e.observer.RunCompleted(summary)
	return summary, err
}
