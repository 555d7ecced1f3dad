// Package reminder decides when a lead-time rule is due for an event.
package reminder

import (
	"fmt"
	"time"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/models"
)

// MatchWindow is the half-width of the window around a reminder instant in
// which the rule counts as due. Triggers must fire at least every
// 2*MatchWindow for no instant to be missed.
const MatchWindow = 30 * time.Minute

const (
	Kind1Day      models.ReminderKind = "1day"
	Kind3Hours    models.ReminderKind = "3hours"
	Kind1Hour     models.ReminderKind = "1hour"
	Kind30Minutes models.ReminderKind = "30minutes"
)

// Validate reports whether rule can be evaluated.
func Validate(rule models.ReminderRule) error {
	if rule.Value <= 0 {
		return apperrors.New(apperrors.KindValidation, "reminder.validate", "lead value must be positive", map[string]any{
			"value": rule.Value,
			"unit":  rule.Unit,
		})
	}
	if !rule.Unit.Valid() {
		return apperrors.New(apperrors.KindValidation, "reminder.validate", "unknown lead unit", map[string]any{
			"value": rule.Value,
			"unit":  rule.Unit,
		})
	}
	return nil
}

// KindOf returns the canonical label of rule.
func KindOf(rule models.ReminderRule) models.ReminderKind {
	switch {
	case rule.Value == 1 && rule.Unit == models.UnitDays:
		return Kind1Day
	case rule.Value == 3 && rule.Unit == models.UnitHours:
		return Kind3Hours
	case rule.Value == 1 && rule.Unit == models.UnitHours:
		return Kind1Hour
	case rule.Value == 30 && rule.Unit == models.UnitMinutes:
		return Kind30Minutes
	}
	return models.ReminderKind(fmt.Sprintf("%d%s", rule.Value, rule.Unit))
}

// ReminderTime returns the instant the reminder for rule should go out.
// Days are calendar days in eventStart's location.
func ReminderTime(eventStart time.Time, rule models.ReminderRule) time.Time {
	switch rule.Unit {
	case models.UnitDays:
		return eventStart.AddDate(0, 0, -rule.Value)
	case models.UnitHours:
		return eventStart.Add(-time.Duration(rule.Value) * time.Hour)
	case models.UnitMinutes:
		return eventStart.Add(-time.Duration(rule.Value) * time.Minute)
	default:
		return eventStart
	}
}

// IsDue reports whether now lies within MatchWindow of the reminder instant.
// The distance is truncated to whole minutes before comparing.
func IsDue(now, eventStart time.Time, rule models.ReminderRule) bool {
	if Validate(rule) != nil {
		return false
	}
	diff := now.Sub(ReminderTime(eventStart, rule)) / time.Minute
	if diff < 0 {
		diff = -diff
	}
	return diff <= MatchWindow/time.Minute
}
