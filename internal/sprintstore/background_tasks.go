package sprintstore

import (
	"context"
	"database/sql"
	"fmt"
)

var backgroundTaskUpdatableFields = map[string]bool{
	"status":       true,
	"completed_at": true,
}

const (
	BackgroundTaskStatusRunning   = "running"
	BackgroundTaskStatusCompleted = "completed"
	BackgroundTaskStatusFailed    = "error"
)

// CreateBackgroundTask inserts a running background task row.
func (s *Store) CreateBackgroundTask(ctx context.Context, batchID int64, storyKey, taskType string, spawnedAt int64) (BackgroundTask, error) {
	var bt BackgroundTask
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO background_tasks (batch_id, story_key, task_type, spawned_at, status) VALUES (?, ?, ?, ?, ?)`,
			batchID, storyKey, taskType, spawnedAt, BackgroundTaskStatusRunning)
		if err != nil {
			return fmt.Errorf("insert background task: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("background task id: %w", err)
		}
		bt = BackgroundTask{ID: id, BatchID: batchID, StoryKey: storyKey, TaskType: taskType, SpawnedAt: spawnedAt, Status: BackgroundTaskStatusRunning}
		return nil
	})
	return bt, err
}

// UpdateBackgroundTask applies a whitelisted partial update.
func (s *Store) UpdateBackgroundTask(ctx context.Context, id int64, fields map[string]any) error {
	if err := whitelistCheck("background_task", fields, backgroundTaskUpdatableFields); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for field, value := range fields {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE background_tasks SET %s = ? WHERE id = ?`, field), value, id); err != nil {
				return fmt.Errorf("update background task %s: %w", field, err)
			}
		}
		return nil
	})
}

func scanBackgroundTask(row interface{ Scan(...any) error }) (BackgroundTask, error) {
	var bt BackgroundTask
	if err := row.Scan(&bt.ID, &bt.BatchID, &bt.StoryKey, &bt.TaskType, &bt.SpawnedAt, &bt.CompletedAt, &bt.Status); err != nil {
		return BackgroundTask{}, err
	}
	return bt, nil
}

// PendingBackground lists a batch's background tasks still marked running.
func (s *Store) PendingBackground(ctx context.Context, batchID int64) ([]BackgroundTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, story_key, task_type, spawned_at, completed_at, status FROM background_tasks WHERE batch_id = ? AND status = ? ORDER BY id`,
		batchID, BackgroundTaskStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("pending background tasks: %w", err)
	}
	defer rows.Close()

	var out []BackgroundTask
	for rows.Next() {
		bt, err := scanBackgroundTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan background task: %w", err)
		}
		out = append(out, bt)
	}
	return out, rows.Err()
}
