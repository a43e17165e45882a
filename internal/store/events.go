package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nestpulse/presence-api/internal/domain"
)

// CreateEvent appends a presence transition, conditioned on non-existence of
// that exact record so duplicate retries are harmless. It reports whether a
// row was actually written. Consecutive-type de-dup is the caller's policy;
// the store only guards against identical re-writes.
func (s *postgresStore) CreateEvent(ctx context.Context, event domain.PresenceEvent) (bool, error) {
	const query = `
		INSERT INTO presence_events (user_id, event_type, occurred_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, occurred_at, event_type) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, event.UserID, string(event.Type), event.OccurredAt)
	if err != nil {
		s.logError("create_event", err)
		return false, fmt.Errorf("insert presence event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert presence event rows affected: %w", err)
	}

	return affected > 0, nil
}

// LatestEvent returns the most recent presence transition for the user, or
// nil when none has been recorded.
func (s *postgresStore) LatestEvent(ctx context.Context, userID string) (*domain.PresenceEvent, error) {
	const query = `
		SELECT user_id, event_type, occurred_at
		FROM presence_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT 1
	`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		s.logError("latest_event", err)
		return nil, fmt.Errorf("select latest event: %w", err)
	}

	return event, nil
}

// UserWithEventsSince returns the user profile plus all of their events with
// occurred_at >= since, ascending.
func (s *postgresStore) UserWithEventsSince(ctx context.Context, userID string, since time.Time) (*domain.User, []domain.PresenceEvent, error) {
	user, err := s.UserByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	const query = `
		SELECT user_id, event_type, occurred_at
		FROM presence_events
		WHERE user_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		s.logError("user_with_events_since", err)
		return nil, nil, fmt.Errorf("select events since: %w", err)
	}
	defer rows.Close()

	var events []domain.PresenceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate events: %w", err)
	}

	return user, events, nil
}

func scanEvent(row rowScanner) (*domain.PresenceEvent, error) {
	var (
		event     domain.PresenceEvent
		eventType string
	)

	if err := row.Scan(&event.UserID, &eventType, &event.OccurredAt); err != nil {
		return nil, err
	}

	event.Type = domain.EventType(eventType)

	return &event, nil
}
