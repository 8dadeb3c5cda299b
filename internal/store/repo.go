package store

import (
	"context"
	"errors"

	"whatsapp-automation/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned by mutations that target a missing row
var ErrNotFound = errors.New("store: not found")

// Repo implements every persistence collaborator of the automation engine
// plus the queries behind the management API.
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// DB exposes the handle for health checks and ops tools
func (r *Repo) DB() *gorm.DB {
	return r.db
}

type RuleFilter struct {
	TriggerType models.TriggerType
	ActionType  models.ActionType
	IsActive    *bool
}

// ListActiveRules orders by priority ascending (1 runs first), then id
func (r *Repo) ListActiveRules(ctx context.Context, trigger models.TriggerType) ([]models.AutomationRule, error) {
	var rows []models.AutomationRule
	err := r.db.WithContext(ctx).
		Where("trigger_type = ? AND is_active = ?", trigger, true).
		Order("priority asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) GetRule(ctx context.Context, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *Repo) ListRules(ctx context.Context, f RuleFilter) ([]models.AutomationRule, error) {
	q := r.db.WithContext(ctx).Model(&models.AutomationRule{})
	if f.TriggerType != "" {
		q = q.Where("trigger_type = ?", f.TriggerType)
	}
	if f.ActionType != "" {
		q = q.Where("action_type = ?", f.ActionType)
	}
	if f.IsActive != nil {
		q = q.Where("is_active = ?", *f.IsActive)
	}
	rows := []models.AutomationRule{}
	if err := q.Order("priority asc, id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *Repo) UpdateRule(ctx context.Context, id uint, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) SetRuleActive(ctx context.Context, id uint, active bool) error {
	return r.UpdateRule(ctx, id, map[string]any{"is_active": active})
}

func (r *Repo) DeleteRule(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.AutomationRule{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
