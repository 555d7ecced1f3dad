package models

import "time"

// RunSummary counts the outcomes of one dispatch run.
//
// Attempted always equals Sent + Failed. Unrecorded counts deliveries that
// succeeded but could not be marked sent in the ledger; they are included in
// Sent.
type RunSummary struct {
	Attempted          int `json:"attempted"`
	Sent               int `json:"sent"`
	Failed             int `json:"failed"`
	Skipped            int `json:"skipped"`
	SubscriberFailures int `json:"subscriber_failures"`
	Unrecorded         int `json:"unrecorded"`
}

// Merge adds the counters of o into s.
func (s *RunSummary) Merge(o RunSummary) {
	s.Attempted += o.Attempted
	s.Sent += o.Sent
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.SubscriberFailures += o.SubscriberFailures
	s.Unrecorded += o.Unrecorded
}

// RunReport describes a finished scheduled pass.
type RunReport struct {
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	Subscribers int        `json:"subscribers"`
	Events      int        `json:"events"`
	Summary     RunSummary `json:"summary"`
}

// ProbeResult is the outcome of an event source connectivity check.
type ProbeResult struct {
	OK     bool   `json:"ok"`
	Count  int    `json:"count"`
	Sample *Event `json:"sample,omitempty"`
	Error  string `json:"error,omitempty"`
}
