package memstore

import (
	"context"
	"sort"
	"time"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/models"
)

// UpsertEvents inserts or merges events by id. CreatedAt of an existing event
// is kept; UpdatedAt is refreshed.
func (s *Store) UpsertEvents(ctx context.Context, events []models.Event) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "events.bulk_upsert", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, e := range events {
		e.Tags = append([]string(nil), e.Tags...)
		if existing, ok := s.events[e.ID]; ok {
			e.CreatedAt = existing.CreatedAt
		} else {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		s.events[e.ID] = e
	}
	return nil
}

// FindUpcomingEvents returns stored events starting in [from, to], by start time.
func (s *Store) FindUpcomingEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "events.find_upcoming", nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Event, 0)
	for _, e := range s.events {
		if e.StartTime.Before(from) || e.StartTime.After(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
