package sprintstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var storyUpdatableFields = map[string]bool{
	"status":     true,
	"started_at": true,
	"ended_at":   true,
}

var storyTerminalStatuses = map[string]bool{
	StoryStatusDone:    true,
	StoryStatusBlocked: true,
	StoryStatusFailed:  true,
}

// CreateStory inserts a pending story row scoped to a batch.
func (s *Store) CreateStory(ctx context.Context, batchID int64, storyKey, epicID string) (Story, error) {
	var story Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO stories (batch_id, story_key, epic_id, status) VALUES (?, ?, ?, ?)`,
			batchID, storyKey, epicID, StoryStatusPending)
		if err != nil {
			return fmt.Errorf("insert story: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("story id: %w", err)
		}
		story = Story{ID: id, BatchID: batchID, StoryKey: storyKey, EpicID: epicID, Status: StoryStatusPending}
		return nil
	})
	return story, err
}

// UpdateStory applies a whitelisted partial update to a story row. Callers
// transitioning into a terminal status ("done", "blocked", "failed") must
// supply ended_at in the same call — UpdateStory validates this rather than
// inferring a timestamp, since wall-clock time belongs to the caller.
func (s *Store) UpdateStory(ctx context.Context, id int64, fields map[string]any) error {
	if err := whitelistCheck("story", fields, storyUpdatableFields); err != nil {
		return err
	}
	if rawStatus, ok := fields["status"]; ok {
		status, _ := rawStatus.(string)
		if !validStoryStatuses[status] {
			return fmt.Errorf("story: invalid status %q", status)
		}
		if storyTerminalStatuses[status] {
			if _, hasEnded := fields["ended_at"]; !hasEnded {
				return fmt.Errorf("story: status %q requires ended_at in the same update", status)
			}
		}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for field, value := range fields {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE stories SET %s = ? WHERE id = ?`, field), value, id); err != nil {
				return fmt.Errorf("update story %s: %w", field, err)
			}
		}
		return nil
	})
}

func scanStory(row interface{ Scan(...any) error }) (Story, error) {
	var st Story
	if err := row.Scan(&st.ID, &st.BatchID, &st.StoryKey, &st.EpicID, &st.Status, &st.StartedAt, &st.EndedAt); err != nil {
		return Story{}, err
	}
	return st, nil
}

// StoryByKey finds a story within a batch by its key.
func (s *Store) StoryByKey(ctx context.Context, batchID int64, storyKey string) (Story, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, story_key, epic_id, status, started_at, ended_at FROM stories WHERE batch_id = ? AND story_key = ?`,
		batchID, storyKey)
	st, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Story{}, ErrNotFound
	}
	if err != nil {
		return Story{}, fmt.Errorf("story by key: %w", err)
	}
	return st, nil
}

// StoriesOfBatch lists every story belonging to a batch, oldest first.
func (s *Store) StoriesOfBatch(ctx context.Context, batchID int64) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, story_key, epic_id, status, started_at, ended_at FROM stories WHERE batch_id = ? ORDER BY id`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("stories of batch: %w", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
