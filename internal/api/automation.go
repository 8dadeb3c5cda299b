package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Runner is the engine surface the API drives
type Runner interface {
	RunManual(ctx context.Context, req automation.ManualRun) (*automation.RunSummary, error)
	OnBirthdayTick(ctx context.Context) (*automation.RunSummary, error)
	OnScheduledTick(ctx context.Context) (*automation.RunSummary, error)
}

type AutomationHandler struct {
	Store  *store.Repo
	Engine Runner
	Log    *zap.Logger
	Now    func() time.Time
}

func NewAutomationHandler(repo *store.Repo, engine Runner, log *zap.Logger) *AutomationHandler {
	return &AutomationHandler{Store: repo, Engine: engine, Log: log, Now: time.Now}
}

func (h *AutomationHandler) Register(g *gin.RouterGroup) {
	g.GET("/automations", h.GetRules)
	g.POST("/automations", h.CreateRule)
	g.GET("/automations/logs", h.GetLogs)
	g.GET("/automations/stats", h.GetStats)
	g.POST("/automations/triggers/birthday", h.TriggerBirthday)
	g.POST("/automations/triggers/scheduled", h.TriggerScheduled)
	g.GET("/automations/:id", h.GetRule)
	g.PUT("/automations/:id", h.UpdateRule)
	g.DELETE("/automations/:id", h.DeleteRule)
	g.POST("/automations/:id/toggle", h.ToggleRule)
	g.POST("/automations/:id/execute", h.ExecuteRule)
}

type ruleRequest struct {
	Name              *string             `json:"name"`
	Description       *string             `json:"description"`
	TriggerType       *models.TriggerType `json:"trigger_type"`
	TriggerConditions json.RawMessage     `json:"trigger_conditions"`
	ActionType        *models.ActionType  `json:"action_type"`
	ActionPayload     json.RawMessage     `json:"action_payload"`
	ScheduleConfig    json.RawMessage     `json:"schedule_config"`
	IsActive          *bool               `json:"is_active"`
	Priority          *int                `json:"priority"`
	CreatedBy         *string             `json:"created_by"`
}

// apply merges the set fields of req into rule
func (req ruleRequest) apply(rule *models.AutomationRule) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.TriggerType != nil {
		rule.TriggerType = *req.TriggerType
	}
	if req.TriggerConditions != nil {
		rule.TriggerConditions = datatypes.JSON(req.TriggerConditions)
	}
	if req.ActionType != nil {
		rule.ActionType = *req.ActionType
	}
	if req.ActionPayload != nil {
		rule.ActionPayload = datatypes.JSON(req.ActionPayload)
	}
	if req.ScheduleConfig != nil {
		rule.ScheduleConfig = datatypes.JSON(req.ScheduleConfig)
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.CreatedBy != nil {
		rule.CreatedBy = *req.CreatedBy
	}
}

func validateRule(rule models.AutomationRule) error {
	if rule.Priority < 1 || rule.Priority > 10 {
		return errors.New("priority must be between 1 and 10")
	}
	return automation.ValidateRule(rule)
}

// GetRules returns rules ordered the way the engine runs them
func (h *AutomationHandler) GetRules(c *gin.Context) {
	f := store.RuleFilter{
		TriggerType: models.TriggerType(c.Query("trigger_type")),
		ActionType:  models.ActionType(c.Query("action_type")),
	}
	if v := c.Query("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "is_active must be a boolean"})
			return
		}
		f.IsActive = &active
	}

	rules, err := h.Store.ListRules(c.Request.Context(), f)
	if err != nil {
		h.serverError(c, "list rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *AutomationHandler) GetRule(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := models.AutomationRule{
		IsActive:          true,
		Priority:          5,
		CreatedBy:         models.ExecutedBySystem,
		TriggerConditions: datatypes.JSON("{}"),
	}
	req.apply(&rule)
	if err := validateRule(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	active := rule.IsActive
	if err := h.Store.CreateRule(ctx, &rule); err != nil {
		h.serverError(c, "create rule", err)
		return
	}
	// is_active has a column default, so false must be written separately
	if !active {
		if err := h.Store.SetRuleActive(ctx, rule.ID, false); err != nil {
			h.serverError(c, "create rule", err)
			return
		}
		rule.IsActive = false
	}

	h.Log.Info("Automation rule created", zap.Uint("rule_id", rule.ID), zap.String("trigger", string(rule.TriggerType)))
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.apply(rule)
	if err := validateRule(*rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.Store.UpdateRule(c.Request.Context(), rule.ID, map[string]interface{}{
		"name":               rule.Name,
		"description":        rule.Description,
		"trigger_type":       rule.TriggerType,
		"trigger_conditions": rule.TriggerConditions,
		"action_type":        rule.ActionType,
		"action_payload":     rule.ActionPayload,
		"schedule_config":    rule.ScheduleConfig,
		"is_active":          rule.IsActive,
		"priority":           rule.Priority,
		"created_by":         rule.CreatedBy,
	})
	if err != nil {
		h.serverError(c, "update rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}
	if err := h.Store.DeleteRule(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		h.serverError(c, "delete rule", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

// ToggleRule sets is_active from the body, or flips it when the body is empty
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	active := !rule.IsActive
	if req.IsActive != nil {
		active = *req.IsActive
	}
	if err := h.Store.SetRuleActive(c.Request.Context(), rule.ID, active); err != nil {
		h.serverError(c, "toggle rule", err)
		return
	}
	rule.IsActive = active
	c.JSON(http.StatusOK, rule)
}

// ExecuteRule runs one rule manually. Partial failures are reported inside the
// summary with 200; only invocation-level failures change the status code.
func (h *AutomationHandler) ExecuteRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}
	var req struct {
		ContactID *uint  `json:"contact_id"`
		TestMode  bool   `json:"test_mode"`
		UserID    string `json:"user_id"`
	}
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.Engine.RunManual(c.Request.Context(), automation.ManualRun{
		RuleID:    id,
		ContactID: req.ContactID,
		TestMode:  req.TestMode,
		UserID:    req.UserID,
	})
	h.respondRun(c, summary, err)
}

func (h *AutomationHandler) TriggerBirthday(c *gin.Context) {
	summary, err := h.Engine.OnBirthdayTick(c.Request.Context())
	h.respondRun(c, summary, err)
}

func (h *AutomationHandler) TriggerScheduled(c *gin.Context) {
	summary, err := h.Engine.OnScheduledTick(c.Request.Context())
	h.respondRun(c, summary, err)
}

func (h *AutomationHandler) respondRun(c *gin.Context, summary *automation.RunSummary, err error) {
	switch {
	case errors.Is(err, automation.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
	case err != nil:
		h.Log.Error("Automation run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
	default:
		c.JSON(http.StatusOK, summary)
	}
}

// GetLogs returns automation execution logs, newest first
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	f := store.LogFilter{
		Status: models.ExecutionStatus(c.Query("status")),
		RunID:  c.Query("run_id"),
		Limit:  limit,
	}
	if v := c.Query("automation_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "automation_id must be a number"})
			return
		}
		f.AutomationID = uint(id)
	}

	logs, err := h.Store.ListLogs(c.Request.Context(), f)
	if err != nil {
		h.serverError(c, "list logs", err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *AutomationHandler) GetStats(c *gin.Context) {
	stats, err := h.Store.Stats(c.Request.Context(), h.Now())
	if err != nil {
		h.serverError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AutomationHandler) loadRule(c *gin.Context) (*models.AutomationRule, bool) {
	id, ok := ruleID(c)
	if !ok {
		return nil, false
	}
	rule, err := h.Store.GetRule(c.Request.Context(), id)
	if err != nil {
		h.serverError(c, "load rule", err)
		return nil, false
	}
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return nil, false
	}
	return rule, true
}

// bindOptionalJSON binds the body into dst whatever its declared length; an
// empty body leaves dst untouched.
func bindOptionalJSON(c *gin.Context, dst interface{}) error {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func ruleID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return 0, false
	}
	return uint(id), true
}

func (h *AutomationHandler) serverError(c *gin.Context, op string, err error) {
	h.Log.Error("Automation API error", zap.String("op", op), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
