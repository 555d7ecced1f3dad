package models

import "time"

// LeadUnit is the unit of a reminder lead time.
type LeadUnit string

const (
	UnitMinutes LeadUnit = "minutes"
	UnitHours   LeadUnit = "hours"
	UnitDays    LeadUnit = "days"
)

// Valid reports whether u is one of the known lead units.
func (u LeadUnit) Valid() bool {
	switch u {
	case UnitMinutes, UnitHours, UnitDays:
		return true
	}
	return false
}

// ReminderRule says how long before an event start a reminder goes out.
type ReminderRule struct {
	Value int      `json:"value"`
	Unit  LeadUnit `json:"unit"`
}

// DefaultReminderRules are assigned to a subscriber on registration.
func DefaultReminderRules() []ReminderRule {
	return []ReminderRule{
		{Value: 1, Unit: UnitDays},
		{Value: 3, Unit: UnitHours},
	}
}

// Subscriber is a chat user who receives reminders.
type Subscriber struct {
	ID                 string         `json:"id"`
	ChannelRecipientID string         `json:"channel_recipient_id"`
	ReminderEnabled    bool           `json:"reminder_enabled"`
	ReminderRules      []ReminderRule `json:"reminder_rules"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
