package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/models"
)

// ListEnabledSubscribers returns subscribers with reminders on, ordered by
// creation time then id.
func (s *Store) ListEnabledSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "subscribers.list_enabled", nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if sub.ReminderEnabled {
			out = append(out, cloneSubscriber(*sub))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FindSubscriberByChannelID returns nil, nil when no subscriber has the
// recipient id.
func (s *Store) FindSubscriberByChannelID(ctx context.Context, recipientID string) (*models.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "subscribers.find_by_channel_id", nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRecipient[recipientID]
	if !ok {
		return nil, nil
	}
	sub := cloneSubscriber(*s.subscribers[id])
	return &sub, nil
}

// FindSubscriberByID returns nil, nil when the subscriber does not exist.
func (s *Store) FindSubscriberByID(ctx context.Context, id string) (*models.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "subscribers.find_by_id", nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return nil, nil
	}
	out := cloneSubscriber(*sub)
	return &out, nil
}

// CreateSubscriber stores a new subscriber. An empty ID is assigned.
func (s *Store) CreateSubscriber(ctx context.Context, sub models.Subscriber) (models.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return models.Subscriber{}, apperrors.Wrap(err, apperrors.KindStorage, "subscribers.create", nil)
	}
	if sub.ChannelRecipientID == "" {
		return models.Subscriber{}, apperrors.New(apperrors.KindValidation, "subscribers.create", "channel recipient id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := map[string]any{"recipient_id": sub.ChannelRecipientID}
	if _, exists := s.byRecipient[sub.ChannelRecipientID]; exists {
		return models.Subscriber{}, apperrors.New(apperrors.KindConflict, "subscribers.create", "recipient already registered", fields)
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := s.now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	stored := cloneSubscriber(sub)
	s.subscribers[sub.ID] = &stored
	s.byRecipient[sub.ChannelRecipientID] = sub.ID
	return cloneSubscriber(stored), nil
}

// UpdateReminderSettings replaces the rules and enabled flag.
func (s *Store) UpdateReminderSettings(ctx context.Context, id string, rules []models.ReminderRule, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "subscribers.update_reminder_settings", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return apperrors.Wrap(apperrors.ErrNotFound, apperrors.KindNotFound, "subscribers.update_reminder_settings", map[string]any{
			"subscriber_id": id,
		})
	}
	sub.ReminderRules = append([]models.ReminderRule(nil), rules...)
	sub.ReminderEnabled = enabled
	sub.UpdatedAt = s.now()
	return nil
}

func cloneSubscriber(sub models.Subscriber) models.Subscriber {
	sub.ReminderRules = append([]models.ReminderRule(nil), sub.ReminderRules...)
	return sub
}
