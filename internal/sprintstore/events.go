package sprintstore

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendEvent inserts an append-only event row.
func (s *Store) AppendEvent(ctx context.Context, ev Event) (Event, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (batch_id, story_id, command_id, timestamp, event_type, epic_id, story_key, command, task_id, status, message, payload_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.BatchID, ev.StoryID, ev.CommandID, ev.Timestamp, ev.EventType, ev.EpicID, ev.StoryKey, ev.Command, ev.TaskID, ev.Status, ev.Message, ev.PayloadJSON)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("event id: %w", err)
		}
		ev.ID = id
		return nil
	})
	return ev, err
}

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var e Event
	if err := row.Scan(&e.ID, &e.BatchID, &e.StoryID, &e.CommandID, &e.Timestamp, &e.EventType, &e.EpicID, &e.StoryKey, &e.Command, &e.TaskID, &e.Status, &e.Message, &e.PayloadJSON); err != nil {
		return Event{}, err
	}
	return e, nil
}

// EventsOfBatch returns a page of a batch's events ordered oldest-first,
// for websocket replay-on-connect. A negative limit returns every event
// after afterID.
func (s *Store) EventsOfBatch(ctx context.Context, batchID int64, afterID int64, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, story_id, command_id, timestamp, event_type, epic_id, story_key, command, task_id, status, message, payload_json
		 FROM events WHERE batch_id = ? AND id > ? ORDER BY id LIMIT ?`,
		batchID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("events of batch: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
