package models

import "time"

// Event is an upcoming event listed by the event source. Only ID and
// StartTime drive scheduling; the other fields are rendered into messages.
type Event struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Catch         string    `json:"catch,omitempty"`
	Description   string    `json:"description,omitempty"`
	URL           string    `json:"url"`
	Location      string    `json:"location,omitempty"`
	Address       string    `json:"address,omitempty"`
	OwnerNickname string    `json:"owner_nickname,omitempty"`
	Limit         int       `json:"limit"`
	Accepted      int       `json:"accepted"`
	Waiting       int       `json:"waiting"`
	Tags          []string  `json:"tags,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
