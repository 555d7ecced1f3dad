// Package memstore keeps subscribers, events and the notification ledger in
// process memory. It backs local runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/models"
)

type record struct {
	models.NotificationRecord
	seq uint64
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	seq         uint64
	records     []*record
	subscribers map[string]*models.Subscriber
	byRecipient map[string]string
	events      map[int64]models.Event
}

type Option func(*Store)

// WithClock overrides the clock used for record and row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		subscribers: make(map[string]*models.Subscriber),
		byRecipient: make(map[string]string),
		events:      make(map[int64]models.Event),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateNotification appends a pending attempt for the triple.
func (s *Store) CreateNotification(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (models.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.NotificationRecord{}, apperrors.Wrap(err, apperrors.KindStorage, "ledger.create", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	r := &record{
		NotificationRecord: models.NotificationRecord{
			ID:           uuid.NewString(),
			SubscriberID: subscriberID,
			EventID:      eventID,
			Kind:         kind,
			Status:       models.StatusPending,
			SentAt:       s.now(),
		},
		seq: s.seq,
	}
	s.records = append(s.records, r)
	return r.NotificationRecord, nil
}

// FindMostRecentNotification returns the newest attempt for the triple by
// SentAt, then by creation order.
func (s *Store) FindMostRecentNotification(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (*models.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "ledger.find_most_recent", nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *record
	for _, r := range s.records {
		if r.SubscriberID != subscriberID || r.EventID != eventID || r.Kind != kind {
			continue
		}
		if latest == nil || newer(r, latest) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := latest.NotificationRecord
	return &out, nil
}

// UpdateNotificationStatus moves a pending record to a terminal status.
func (s *Store) UpdateNotificationStatus(ctx context.Context, id string, status models.NotificationStatus, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "ledger.update_status", nil)
	}
	fields := map[string]any{"notification_id": id, "status": status}
	if !status.IsTerminal() {
		return apperrors.New(apperrors.KindConflict, "ledger.update_status", "target status is not terminal", fields)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID != id {
			continue
		}
		if r.Status.IsTerminal() {
			return apperrors.New(apperrors.KindConflict, "ledger.update_status", "record already in terminal status", fields)
		}
		r.Status = status
		r.ErrorMessage = ""
		if status == models.StatusFailed {
			r.ErrorMessage = errorMessage
		}
		return nil
	}
	return apperrors.Wrap(apperrors.ErrNotFound, apperrors.KindNotFound, "ledger.update_status", fields)
}

// ListNotificationsBySubscriber returns a subscriber's attempts, newest first.
func (s *Store) ListNotificationsBySubscriber(ctx context.Context, subscriberID string, limit int) ([]models.NotificationRecord, error) {
	return s.list(ctx, limit, func(r *record) bool { return r.SubscriberID == subscriberID })
}

// ListFailedNotifications returns failed attempts, newest first.
func (s *Store) ListFailedNotifications(ctx context.Context, limit int) ([]models.NotificationRecord, error) {
	return s.list(ctx, limit, func(r *record) bool { return r.Status == models.StatusFailed })
}

// NotificationStats counts attempts by status. An empty subscriberID counts
// everything.
func (s *Store) NotificationStats(ctx context.Context, subscriberID string) (models.NotificationStats, error) {
	var st models.NotificationStats
	if err := ctx.Err(); err != nil {
		return st, apperrors.Wrap(err, apperrors.KindStorage, "ledger.stats", nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if subscriberID != "" && r.SubscriberID != subscriberID {
			continue
		}
		if err := st.Add(r.Status, 1); err != nil {
			return models.NotificationStats{}, apperrors.Wrap(err, apperrors.KindInternal, "ledger.stats", nil)
		}
	}
	return st, nil
}

func (s *Store) list(ctx context.Context, limit int, match func(*record) bool) ([]models.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "ledger.list", nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*record, 0)
	for _, r := range s.records {
		if match(r) {
			matched = append(matched, r)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return newer(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.NotificationRecord, len(matched))
	for i, r := range matched {
		out[i] = r.NotificationRecord
	}
	return out, nil
}

func newer(a, b *record) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.After(b.SentAt)
	}
	return a.seq > b.seq
}
