package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/models"
)

const subscriberColumns = `id, channel_recipient_id, reminder_enabled, reminder_rules, created_at, updated_at`

const uniqueViolation = "23505"

func (d *DB) ListEnabledSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := d.Conn.Query(ctx, `
        SELECT `+subscriberColumns+`
        FROM subscribers
        WHERE reminder_enabled
        ORDER BY created_at, id`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "subscribers.list_enabled", nil)
	}
	defer rows.Close()

	out := make([]models.Subscriber, 0)
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindStorage, "subscribers.list_enabled", nil)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "subscribers.list_enabled", nil)
	}
	return out, nil
}

// FindSubscriberByChannelID returns nil, nil when no subscriber has the
// recipient id.
func (d *DB) FindSubscriberByChannelID(ctx context.Context, recipientID string) (*models.Subscriber, error) {
	return d.findSubscriber(ctx, "subscribers.find_by_channel_id", `channel_recipient_id = $1`, recipientID)
}

// FindSubscriberByID returns nil, nil when the subscriber does not exist.
func (d *DB) FindSubscriberByID(ctx context.Context, id string) (*models.Subscriber, error) {
	return d.findSubscriber(ctx, "subscribers.find_by_id", `id = $1`, id)
}

func (d *DB) findSubscriber(ctx context.Context, op, where, arg string) (*models.Subscriber, error) {
	sub, err := scanSubscriber(d.Conn.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.KindStorage, op, nil)
	}
	return &sub, nil
}

// CreateSubscriber stores a new subscriber. An empty ID is assigned.
func (d *DB) CreateSubscriber(ctx context.Context, sub models.Subscriber) (models.Subscriber, error) {
	if sub.ChannelRecipientID == "" {
		return models.Subscriber{}, apperrors.New(apperrors.KindValidation, "subscribers.create", "channel recipient id is required", nil)
	}
	fields := map[string]any{"recipient_id": sub.ChannelRecipientID}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	rules, err := marshalRules(sub.ReminderRules)
	if err != nil {
		return models.Subscriber{}, apperrors.Wrap(err, apperrors.KindValidation, "subscribers.create", fields)
	}

	now := d.now()
	query := `
        INSERT INTO subscribers (id, channel_recipient_id, reminder_enabled, reminder_rules, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)`
	if _, err := d.Conn.Exec(ctx, query, sub.ID, sub.ChannelRecipientID, sub.ReminderEnabled, rules, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Subscriber{}, apperrors.Wrap(err, apperrors.KindConflict, "subscribers.create", fields)
		}
		return models.Subscriber{}, apperrors.Wrap(err, apperrors.KindStorage, "subscribers.create", fields)
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return sub, nil
}

// UpdateReminderSettings replaces the rules and enabled flag.
func (d *DB) UpdateReminderSettings(ctx context.Context, id string, rules []models.ReminderRule, enabled bool) error {
	fields := map[string]any{"subscriber_id": id}
	raw, err := marshalRules(rules)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindValidation, "subscribers.update_reminder_settings", fields)
	}
	result, err := d.Conn.Exec(ctx, `
        UPDATE subscribers
        SET reminder_rules = $1, reminder_enabled = $2, updated_at = $3
        WHERE id = $4`, raw, enabled, d.now(), id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "subscribers.update_reminder_settings", fields)
	}
	if result.RowsAffected() == 0 {
		return apperrors.Wrap(apperrors.ErrNotFound, apperrors.KindNotFound, "subscribers.update_reminder_settings", fields)
	}
	return nil
}

func scanSubscriber(row pgx.Row) (models.Subscriber, error) {
	var (
		sub   models.Subscriber
		rules []byte
	)
	if err := row.Scan(&sub.ID, &sub.ChannelRecipientID, &sub.ReminderEnabled, &rules, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return models.Subscriber{}, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &sub.ReminderRules); err != nil {
			return models.Subscriber{}, err
		}
	}
	return sub, nil
}

func marshalRules(rules []models.ReminderRule) ([]byte, error) {
	if rules == nil {
		rules = []models.ReminderRule{}
	}
	return json.Marshal(rules)
}
