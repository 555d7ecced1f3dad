package db

import (
	"context"
	"encoding/json"
	"time"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/models"
)

const upsertEvent = `
    INSERT INTO events (
        id, title, catch, description, url, location, address, owner_nickname,
        event_limit, accepted, waiting, tags, start_time, end_time, created_at, updated_at
    )
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
    ON CONFLICT (id) DO UPDATE SET
        title = EXCLUDED.title,
        catch = EXCLUDED.catch,
        description = EXCLUDED.description,
        url = EXCLUDED.url,
        location = EXCLUDED.location,
        address = EXCLUDED.address,
        owner_nickname = EXCLUDED.owner_nickname,
        event_limit = EXCLUDED.event_limit,
        accepted = EXCLUDED.accepted,
        waiting = EXCLUDED.waiting,
        tags = EXCLUDED.tags,
        start_time = EXCLUDED.start_time,
        end_time = EXCLUDED.end_time,
        updated_at = EXCLUDED.updated_at`

// UpsertEvents inserts or merges events by id in one transaction.
func (d *DB) UpsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := d.Conn.Begin(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "events.bulk_upsert", nil)
	}

	now := d.now()
	for _, e := range events {
		tags, err := json.Marshal(nonNilTags(e.Tags))
		if err != nil {
			_ = tx.Rollback(ctx)
			return apperrors.Wrap(err, apperrors.KindInternal, "events.bulk_upsert", map[string]any{"event_id": e.ID})
		}
		_, err = tx.Exec(ctx, upsertEvent,
			e.ID, e.Title, e.Catch, e.Description, e.URL, e.Location, e.Address, e.OwnerNickname,
			e.Limit, e.Accepted, e.Waiting, tags, e.StartTime, nullableTime(e.EndTime), now)
		if err != nil {
			_ = tx.Rollback(ctx)
			return apperrors.Wrap(err, apperrors.KindStorage, "events.bulk_upsert", map[string]any{"event_id": e.ID})
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "events.bulk_upsert", map[string]any{"count": len(events)})
	}
	return nil
}

// FindUpcomingEvents returns stored events starting in [from, to], by start time.
func (d *DB) FindUpcomingEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	rows, err := d.Conn.Query(ctx, `
        SELECT id, title, catch, description, url, location, address, owner_nickname,
               event_limit, accepted, waiting, tags, start_time, end_time, created_at, updated_at
        FROM events
        WHERE start_time BETWEEN $1 AND $2
        ORDER BY start_time, id`, from, to)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "events.find_upcoming", nil)
	}
	defer rows.Close()

	out := make([]models.Event, 0)
	for rows.Next() {
		var (
			e       models.Event
			tags    []byte
			endTime *time.Time
		)
		err := rows.Scan(&e.ID, &e.Title, &e.Catch, &e.Description, &e.URL, &e.Location, &e.Address, &e.OwnerNickname,
			&e.Limit, &e.Accepted, &e.Waiting, &tags, &e.StartTime, &endTime, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindStorage, "events.find_upcoming", nil)
		}
		if endTime != nil {
			e.EndTime = *endTime
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &e.Tags); err != nil {
				return nil, apperrors.Wrap(err, apperrors.KindStorage, "events.find_upcoming", map[string]any{"event_id": e.ID})
			}
		}
		if len(e.Tags) == 0 {
			e.Tags = nil
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindStorage, "events.find_upcoming", nil)
	}
	return out, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
