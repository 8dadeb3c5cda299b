package store

import (
	"context"
	"math"
	"time"

	"whatsapp-automation/internal/models"
)

func (r *Repo) WriteLog(ctx context.Context, entry *models.AutomationLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *Repo) RecordActivity(ctx context.Context, activity *models.ContactActivity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

type LogFilter struct {
	AutomationID uint
	Status       models.ExecutionStatus
	RunID        string
	Limit        int
}

// ListLogs returns newest first
func (r *Repo) ListLogs(ctx context.Context, f LogFilter) ([]models.AutomationLog, error) {
	q := r.db.WithContext(ctx).Model(&models.AutomationLog{})
	if f.AutomationID != 0 {
		q = q.Where("automation_id = ?", f.AutomationID)
	}
	if f.Status != "" {
		q = q.Where("execution_status = ?", f.Status)
	}
	if f.RunID != "" {
		q = q.Where("run_id = ?", f.RunID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows := []models.AutomationLog{}
	if err := q.Order("executed_at desc, id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type Stats struct {
	TotalAutomations     int64   `json:"total_automations"`
	ActiveAutomations    int64   `json:"active_automations"`
	InactiveAutomations  int64   `json:"inactive_automations"`
	ExecutionsToday      int64   `json:"executions_today"`
	ExecutionsThisWeek   int64   `json:"executions_this_week"`
	ExecutionsThisMonth  int64   `json:"executions_this_month"`
	SuccessRate          float64 `json:"success_rate"`
	AverageExecutionTime float64 `json:"average_execution_time"`
}

// Stats summarises rules and the execution log. Week and month are rolling
// 7 and 30 day windows ending at now.
func (r *Repo) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var s Stats
	db := r.db.WithContext(ctx)
	now = now.UTC()

	if err := db.Model(&models.AutomationRule{}).Count(&s.TotalAutomations).Error; err != nil {
		return s, err
	}
	if err := db.Model(&models.AutomationRule{}).Where("is_active = ?", true).Count(&s.ActiveAutomations).Error; err != nil {
		return s, err
	}
	s.InactiveAutomations = s.TotalAutomations - s.ActiveAutomations

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	windows := []struct {
		since time.Time
		dst   *int64
	}{
		{midnight, &s.ExecutionsToday},
		{now.AddDate(0, 0, -7), &s.ExecutionsThisWeek},
		{now.AddDate(0, 0, -30), &s.ExecutionsThisMonth},
	}
	for _, w := range windows {
		if err := db.Model(&models.AutomationLog{}).Where("executed_at >= ?", w.since).Count(w.dst).Error; err != nil {
			return s, err
		}
	}

	var total, succeeded int64
	if err := db.Model(&models.AutomationLog{}).Count(&total).Error; err != nil {
		return s, err
	}
	if err := db.Model(&models.AutomationLog{}).Where("execution_status = ?", models.StatusSuccess).Count(&succeeded).Error; err != nil {
		return s, err
	}
	if total > 0 {
		s.SuccessRate = math.Round(float64(succeeded)/float64(total)*10000) / 100
	}

	var avg float64
	if err := db.Model(&models.AutomationLog{}).Select("COALESCE(AVG(execution_time), 0)").Scan(&avg).Error; err != nil {
		return s, err
	}
	s.AverageExecutionTime = math.Round(avg*1000) / 1000
	return s, nil
}
