package automation

import (
	"strings"

	"whatsapp-automation/internal/models"
)

// ValidateRule checks a rule definition with the decoders the engine runs, so
// a rule accepted here never fails validation at execution time.
func ValidateRule(rule models.AutomationRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return validationErr("rule", "name is required")
	}
	if !rule.ActionType.Valid() {
		return validationErr("rule", "unknown action type %q", rule.ActionType)
	}
	conds, err := ParseConditions(rule.TriggerType, rule.TriggerConditions)
	if err != nil {
		return err
	}
	if _, err := ParseAction(rule.ActionType, rule.ActionPayload); err != nil {
		return err
	}
	schedule, err := ParseSchedule(rule.ScheduleConfig)
	if err != nil {
		return err
	}
	if rule.TriggerType == models.TriggerScheduled && schedule == nil {
		if sc, ok := conds.(ScheduledConditions); !ok || sc.Schedule == nil {
			return validationErr("rule", "scheduled rules need a schedule_config")
		}
	}
	return nil
}
