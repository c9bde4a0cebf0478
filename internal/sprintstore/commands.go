package sprintstore

import (
	"context"
	"database/sql"
	"fmt"
)

var commandUpdatableFields = map[string]bool{
	"status":         true,
	"ended_at":       true,
	"output_summary": true,
}

// CreateCommand inserts a running command row scoped to a story.
func (s *Store) CreateCommand(ctx context.Context, storyID int64, command, taskID string, startedAt int64) (Command, error) {
	var cmd Command
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO commands (story_id, command, task_id, started_at, status) VALUES (?, ?, ?, ?, ?)`,
			storyID, command, taskID, startedAt, CommandStatusRunning)
		if err != nil {
			return fmt.Errorf("insert command: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("command id: %w", err)
		}
		cmd = Command{ID: id, StoryID: storyID, Command: command, TaskID: taskID, StartedAt: startedAt, Status: CommandStatusRunning}
		return nil
	})
	return cmd, err
}

// UpdateCommand applies a whitelisted partial update to a command row.
func (s *Store) UpdateCommand(ctx context.Context, id int64, fields map[string]any) error {
	if err := whitelistCheck("command", fields, commandUpdatableFields); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for field, value := range fields {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE commands SET %s = ? WHERE id = ?`, field), value, id); err != nil {
				return fmt.Errorf("update command %s: %w", field, err)
			}
		}
		return nil
	})
}

func scanCommand(row interface{ Scan(...any) error }) (Command, error) {
	var c Command
	if err := row.Scan(&c.ID, &c.StoryID, &c.Command, &c.TaskID, &c.StartedAt, &c.EndedAt, &c.Status, &c.OutputSummary); err != nil {
		return Command{}, err
	}
	return c, nil
}

// CommandsOfStory lists a story's commands, most recent first.
func (s *Store) CommandsOfStory(ctx context.Context, storyID int64) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, story_id, command, task_id, started_at, ended_at, status, output_summary FROM commands WHERE story_id = ? ORDER BY id DESC`,
		storyID)
	if err != nil {
		return nil, fmt.Errorf("commands of story: %w", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StoryIsBlocked reports whether a story's three most recent commands all
// failed. Fewer than
// three commands, or any success within the most recent three, means the
// story is not blocked.
func (s *Store) StoryIsBlocked(ctx context.Context, storyID int64) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status FROM commands WHERE story_id = ? ORDER BY id DESC LIMIT 3`, storyID)
	if err != nil {
		return false, fmt.Errorf("story is blocked: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return false, fmt.Errorf("scan command status: %w", err)
		}
		if status != CommandStatusFailed {
			return false, rows.Err()
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return count == 3, nil
}
