package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore persists audit events in the audit_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts one event. Idempotent per generated id via ON CONFLICT.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, subject, action,
			reason, request_id, client_ip, browser, os
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		event.Subject,
		string(event.Action),
		event.Reason,
		event.RequestID,
		event.ClientIP,
		event.Browser,
		event.OS,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns events for one subject, oldest first.
func (s *PostgresStore) ListBySubject(ctx context.Context, subject string) ([]Event, error) {
	query := `
		SELECT category, timestamp, subject, action,
			   reason, request_id, client_ip, browser, os
		FROM audit_events
		WHERE subject = $1
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the newest limit events, newest last.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT category, timestamp, subject, action,
			   reason, request_id, client_ip, browser, os
		FROM (
			SELECT category, timestamp, subject, action,
				   reason, request_id, client_ip, browser, os
			FROM audit_events
			ORDER BY timestamp DESC
			LIMIT $1
		) recent
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event

	for rows.Next() {
		var (
			category string
			action   string
			event    Event
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&event.Subject,
			&action,
			&event.Reason,
			&event.RequestID,
			&event.ClientIP,
			&event.Browser,
			&event.OS,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = Category(category)
		event.Action = Action(action)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
