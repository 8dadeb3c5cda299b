package automation

import (
	"encoding/json"
	"fmt"
	"time"
)

type ScheduleKind string

const (
	ScheduleDaily   ScheduleKind = "daily"
	ScheduleWeekly  ScheduleKind = "weekly"
	ScheduleMonthly ScheduleKind = "monthly"
)

// ScheduleConfig describes when a scheduled rule fires.
// Days holds ISO weekdays, 1 is Monday and 7 is Sunday.
type ScheduleConfig struct {
	Type     ScheduleKind `json:"type"`
	Time     string       `json:"time,omitempty"`
	Days     []int        `json:"days,omitempty"`
	Day      int          `json:"day,omitempty"`
	Timezone string       `json:"timezone,omitempty"`
}

// ParseSchedule accepts either the flat object or one wrapped as {"schedule": {...}}.
// Empty input yields a nil config.
func ParseSchedule(raw []byte) (*ScheduleConfig, error) {
	if isEmptyJSON(raw) {
		return nil, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, validationErr("schedule", "schedule_config: %v", err)
	}
	if inner, ok := probe["schedule"]; ok && len(probe) == 1 {
		raw = inner
		if isEmptyJSON(raw) {
			return nil, nil
		}
	}

	var cfg ScheduleConfig
	if err := decodeStrict(raw, &cfg); err != nil {
		return nil, validationErr("schedule", "schedule_config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s ScheduleConfig) Validate() error {
	switch s.Type {
	case ScheduleDaily:
		if _, err := parseClock(s.Time); err != nil {
			return validationErr("schedule", "daily schedule: %v", err)
		}
	case ScheduleWeekly:
		if len(s.Days) == 0 {
			return validationErr("schedule", "weekly schedule requires days")
		}
		for _, d := range s.Days {
			if d < 1 || d > 7 {
				return validationErr("schedule", "weekday %d out of range 1-7", d)
			}
		}
	case ScheduleMonthly:
		if s.Day < 1 || s.Day > 31 {
			return validationErr("schedule", "monthly day %d out of range 1-31", s.Day)
		}
	default:
		return validationErr("schedule", "unknown schedule type %q", s.Type)
	}
	if s.Time != "" {
		if _, err := parseClock(s.Time); err != nil {
			return validationErr("schedule", "%v", err)
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return validationErr("schedule", "timezone %q: %v", s.Timezone, err)
		}
	}
	return nil
}

// Location returns the schedule's own timezone or fallback
func (s ScheduleConfig) Location(fallback *time.Location) *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}

// Fires reports whether the schedule matches now. slot identifies the firing
// window so a second tick inside it can be recognised as a repeat.
func (s ScheduleConfig) Fires(now time.Time, fallback *time.Location) (fires bool, slot string) {
	local := now.In(s.Location(fallback))
	date := local.Format("2006-01-02")

	switch s.Type {
	case ScheduleDaily:
		if local.Format("15:04") == normalizeClock(s.Time) {
			return true, date + "T" + normalizeClock(s.Time)
		}
	case ScheduleWeekly:
		wd := isoWeekday(local)
		for _, d := range s.Days {
			if d == wd {
				return true, date
			}
		}
	case ScheduleMonthly:
		if local.Day() == s.Day {
			return true, date
		}
	}
	return false, ""
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func parseClock(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("time is required (HH:MM)")
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	return t, nil
}

// normalizeClock turns "9:05" into "09:05"
func normalizeClock(v string) string {
	t, err := parseClock(v)
	if err != nil {
		return v
	}
	return t.Format("15:04")
}
