package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"reminder-service/internal/models"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		rule models.ReminderRule
		want models.ReminderKind
	}{
		{models.ReminderRule{Value: 1, Unit: models.UnitDays}, "1day"},
		{models.ReminderRule{Value: 3, Unit: models.UnitHours}, "3hours"},
		{models.ReminderRule{Value: 1, Unit: models.UnitHours}, "1hour"},
		{models.ReminderRule{Value: 30, Unit: models.UnitMinutes}, "30minutes"},
		{models.ReminderRule{Value: 2, Unit: models.UnitDays}, "2days"},
		{models.ReminderRule{Value: 15, Unit: models.UnitMinutes}, "15minutes"},
		{models.ReminderRule{Value: 2, Unit: "weeks"}, "2weeks"},
	}
	for _, tc := range tests {
		t.Run(string(tc.want), func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.rule))
			assert.Equal(t, KindOf(tc.rule), KindOf(tc.rule))
		})
	}
}

func TestIsDueBoundaries(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	oneHour := models.ReminderRule{Value: 1, Unit: models.UnitHours}

	tests := []struct {
		name  string
		start time.Time
		want  bool
	}{
		{"exact instant", now.Add(time.Hour), true},
		{"30 minutes early", now.Add(time.Hour + 30*time.Minute), true},
		{"30 minutes late", now.Add(time.Hour - 30*time.Minute), true},
		{"31 minutes early", now.Add(time.Hour + 31*time.Minute), false},
		{"31 minutes late", now.Add(time.Hour - 31*time.Minute), false},
		{"30m59s truncates to 30", now.Add(time.Hour + 30*time.Minute + 59*time.Second), true},
		{"event already started", now.Add(-2 * time.Hour), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDue(now, tc.start, oneHour))
		})
	}
}

func TestIsDueDaysUseCalendarArithmetic(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	start := time.Date(2024, 6, 2, 19, 0, 0, 0, tokyo)
	rule := models.ReminderRule{Value: 1, Unit: models.UnitDays}

	assert.Equal(t, time.Date(2024, 6, 1, 19, 0, 0, 0, tokyo), ReminderTime(start, rule))
	assert.True(t, IsDue(time.Date(2024, 6, 1, 10, 10, 0, 0, time.UTC), start, rule))
}

func TestIsDueInvalidRule(t *testing.T) {
	now := time.Now()
	assert.False(t, IsDue(now, now, models.ReminderRule{Value: 0, Unit: models.UnitMinutes}))
	assert.False(t, IsDue(now, now, models.ReminderRule{Value: -1, Unit: models.UnitHours}))
	assert.False(t, IsDue(now, now.Add(time.Minute), models.ReminderRule{Value: 1, Unit: "fortnights"}))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(models.ReminderRule{Value: 5, Unit: models.UnitMinutes}))
	assert.Error(t, Validate(models.ReminderRule{Value: 0, Unit: models.UnitDays}))
	assert.Error(t, Validate(models.ReminderRule{Value: 1, Unit: ""}))
}
