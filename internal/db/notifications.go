package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/models"
)

const notificationColumns = `id, subscriber_id, event_id, kind, status, sent_at, error_message`

func (d *DB) CreateNotification(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (models.NotificationRecord, error) {
	rec := models.NotificationRecord{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		EventID:      eventID,
		Kind:         kind,
		Status:       models.StatusPending,
		SentAt:       d.now(),
	}
	query := `
        INSERT INTO notifications (id, subscriber_id, event_id, kind, status, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := d.Conn.Exec(ctx, query, rec.ID, rec.SubscriberID, rec.EventID, string(rec.Kind), string(rec.Status), rec.SentAt)
	if err != nil {
		return models.NotificationRecord{}, apperrors.Wrap(err, apperrors.KindStorage, "ledger.create", tripleFields(subscriberID, eventID, kind))
	}
	return rec, nil
}

// FindMostRecentNotification returns nil, nil when the triple has no record.
func (d *DB) FindMostRecentNotification(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (*models.NotificationRecord, error) {
	query := `
        SELECT ` + notificationColumns + `
        FROM notifications
        WHERE subscriber_id = $1 AND event_id = $2 AND kind = $3
        ORDER BY sent_at DESC, seq DESC
        LIMIT 1`
	rec, err := scanNotification(d.Conn.QueryRow(ctx, query, subscriberID, eventID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "ledger.find_most_recent", tripleFields(subscriberID, eventID, kind))
	}
	return &rec, nil
}

// UpdateNotificationStatus moves a pending record to a terminal status.
func (d *DB) UpdateNotificationStatus(ctx context.Context, id string, status models.NotificationStatus, errorMessage string) error {
	fields := map[string]any{"notification_id": id, "status": status}
	if !status.IsTerminal() {
		return apperrors.New(apperrors.KindConflict, "ledger.update_status", "target status is not terminal", fields)
	}
	if status != models.StatusFailed {
		errorMessage = ""
	}

	query := `
        UPDATE notifications
        SET status = $1, error_message = $2
        WHERE id = $3 AND status = 'pending'`
	result, err := d.Conn.Exec(ctx, query, string(status), errorMessage, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "ledger.update_status", fields)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either unknown or already terminal.
	var current string
	err = d.Conn.QueryRow(ctx, `SELECT status FROM notifications WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Wrap(apperrors.ErrNotFound, apperrors.KindNotFound, "ledger.update_status", fields)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "ledger.update_status", fields)
	}
	fields["current_status"] = current
	return apperrors.New(apperrors.KindConflict, "ledger.update_status", "record already in terminal status", fields)
}

// ListNotificationsBySubscriber returns a subscriber's attempts, newest first.
// A non-positive limit returns everything.
func (d *DB) ListNotificationsBySubscriber(ctx context.Context, subscriberID string, limit int) ([]models.NotificationRecord, error) {
	query := `
        SELECT ` + notificationColumns + `
        FROM notifications
        WHERE subscriber_id = $1
        ORDER BY sent_at DESC, seq DESC
        LIMIT $2`
	return d.listNotifications(ctx, "ledger.list_by_subscriber", query, subscriberID, limitArg(limit))
}

// ListFailedNotifications returns failed attempts, newest first.
func (d *DB) ListFailedNotifications(ctx context.Context, limit int) ([]models.NotificationRecord, error) {
	query := `
        SELECT ` + notificationColumns + `
        FROM notifications
        WHERE status = 'failed'
        ORDER BY sent_at DESC, seq DESC
        LIMIT $1`
	return d.listNotifications(ctx, "ledger.list_failed", query, limitArg(limit))
}

// NotificationStats counts attempts by status. An empty subscriberID counts
// everything.
func (d *DB) NotificationStats(ctx context.Context, subscriberID string) (models.NotificationStats, error) {
	var st models.NotificationStats
	rows, err := d.Conn.Query(ctx, `
        SELECT status, COUNT(*)
        FROM notifications
        WHERE $1 = '' OR subscriber_id = $1
        GROUP BY status`, subscriberID)
	if err != nil {
		return st, apperrors.Wrap(err, apperrors.KindStorage, "ledger.stats", nil)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return models.NotificationStats{}, apperrors.Wrap(err, apperrors.KindStorage, "ledger.stats", nil)
		}
		if err := st.Add(models.NotificationStatus(status), int(count)); err != nil {
			return models.NotificationStats{}, apperrors.Wrap(err, apperrors.KindInternal, "ledger.stats", nil)
		}
	}
	if err := rows.Err(); err != nil {
		return models.NotificationStats{}, apperrors.Wrap(err, apperrors.KindStorage, "ledger.stats", nil)
	}
	return st, nil
}

func (d *DB) listNotifications(ctx context.Context, op, query string, args ...any) ([]models.NotificationRecord, error) {
	rows, err := d.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, op, nil)
	}
	defer rows.Close()

	out := make([]models.NotificationRecord, 0)
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindStorage, op, nil)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, op, nil)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (models.NotificationRecord, error) {
	var (
		rec          models.NotificationRecord
		kind, status string
	)
	if err := row.Scan(&rec.ID, &rec.SubscriberID, &rec.EventID, &kind, &status, &rec.SentAt, &rec.ErrorMessage); err != nil {
		return models.NotificationRecord{}, err
	}
	st, err := models.ParseNotificationStatus(status)
	if err != nil {
		return models.NotificationRecord{}, err
	}
	rec.Kind = models.ReminderKind(kind)
	rec.Status = st
	return rec, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func tripleFields(subscriberID string, eventID int64, kind models.ReminderKind) map[string]any {
	return map[string]any{"subscriber_id": subscriberID, "event_id": eventID, "kind": kind}
}
