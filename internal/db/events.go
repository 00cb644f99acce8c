package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RecordEvent appends an event to the history ledger.
func (db *DB) RecordEvent(ctx context.Context, input *EventInput) (*Event, error) {
	if input.SubjectKind != SubjectSession && input.SubjectKind != SubjectBatch {
		return nil, fmt.Errorf("unknown subject kind %q", input.SubjectKind)
	}

	var ev Event
	err := db.pool.QueryRow(ctx,
		`INSERT INTO generation_events (owner_id, subject_id, subject_kind, item, status, artifact, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, owner_id, subject_id, subject_kind, item, status, artifact, error_message, created_at`,
		nullableUUID(input.OwnerID), input.SubjectID, input.SubjectKind, input.Item, input.Status,
		nullableString(input.Artifact), nullableString(input.ErrorMessage),
	).Scan(&ev.ID, &ev.OwnerID, &ev.SubjectID, &ev.SubjectKind, &ev.Item, &ev.Status,
		&ev.Artifact, &ev.ErrorMessage, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	return &ev, nil
}

// ListEvents returns the events recorded for a session or batch, oldest first. When ownerID
// is not uuid.Nil only that owner's events are returned.
func (db *DB) ListEvents(ctx context.Context, subjectID, ownerID uuid.UUID) ([]Event, error) {
	query := `SELECT id, owner_id, subject_id, subject_kind, item, status, artifact, error_message, created_at
	          FROM generation_events
	          WHERE subject_id = $1`
	args := []any{subjectID}
	if ownerID != uuid.Nil {
		query += ` AND owner_id = $2`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.SubjectID, &ev.SubjectKind, &ev.Item, &ev.Status,
			&ev.Artifact, &ev.ErrorMessage, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
