package models

import (
	"fmt"
	"time"
)

// ReminderKind is the canonical label of a reminder rule, e.g. "1day".
type ReminderKind string

// NotificationStatus is the state of one delivery attempt.
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

// ParseNotificationStatus converts a stored status string.
func ParseNotificationStatus(s string) (NotificationStatus, error) {
	switch st := NotificationStatus(s); st {
	case StatusPending, StatusSent, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown notification status %q", s)
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s NotificationStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed:
		return true
	case StatusPending:
		return false
	default:
		return false
	}
}

// NotificationRecord is one attempt to deliver a reminder. Each attempt is a
// new record; a triple may have many pending/failed records but at most one
// sent record.
type NotificationRecord struct {
	ID           string             `json:"id"`
	SubscriberID string             `json:"subscriber_id"`
	EventID      int64              `json:"event_id"`
	Kind         ReminderKind       `json:"kind"`
	Status       NotificationStatus `json:"status"`
	SentAt       time.Time          `json:"sent_at"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// NotificationStats aggregates ledger records by status.
type NotificationStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Add counts n records with the given status.
func (st *NotificationStats) Add(status NotificationStatus, n int) error {
	switch status {
	case StatusPending:
		st.Pending += n
	case StatusSent:
		st.Sent += n
	case StatusFailed:
		st.Failed += n
	default:
		return fmt.Errorf("cannot count unknown notification status %q", status)
	}
	st.Total += n
	return nil
}
