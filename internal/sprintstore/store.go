// Package sprintstore implements the durable, transactional embedded
// relational state store: batches, stories, commands,
// events, and background tasks, with whitelist-guarded partial updates and
// foreign-key enforcement.
package sprintstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Story status enum. Other entities accept free-form status
// strings by design; only Story is validated against a closed set.
const (
	StoryStatusPending    = "pending"
	StoryStatusInProgress = "in-progress"
	StoryStatusDone       = "done"
	StoryStatusFailed     = "failed"
	StoryStatusBlocked    = "blocked"
	StoryStatusSkipped    = "skipped"
)

var validStoryStatuses = map[string]bool{
	StoryStatusPending:    true,
	StoryStatusInProgress: true,
	StoryStatusDone:       true,
	StoryStatusFailed:     true,
	StoryStatusBlocked:    true,
	StoryStatusSkipped:    true,
}

const (
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusStopped   = "stopped"
)

const (
	CommandStatusRunning   = "running"
	CommandStatusCompleted = "completed"
	CommandStatusFailed    = "failed"
)

// Batch mirrors the batches table.
type Batch struct {
	ID              int64  `json:"id"`
	StartedAt       int64  `json:"started_at"`
	EndedAt         *int64 `json:"ended_at,omitempty"`
	MaxCycles       int    `json:"max_cycles"`
	CyclesCompleted int    `json:"cycles_completed"`
	Status          string `json:"status"`
}

// Story mirrors the stories table.
type Story struct {
	ID        int64  `json:"id"`
	BatchID   int64  `json:"batch_id"`
	StoryKey  string `json:"story_key"`
	EpicID    string `json:"epic_id"`
	Status    string `json:"status"`
	StartedAt *int64 `json:"started_at,omitempty"`
	EndedAt   *int64 `json:"ended_at,omitempty"`
}

// Command mirrors the commands table.
type Command struct {
	ID            int64   `json:"id"`
	StoryID       int64   `json:"story_id"`
	Command       string  `json:"command"`
	TaskID        string  `json:"task_id"`
	StartedAt     int64   `json:"started_at"`
	EndedAt       *int64  `json:"ended_at,omitempty"`
	Status        string  `json:"status"`
	OutputSummary *string `json:"output_summary,omitempty"`
}

// Event mirrors the events table.
type Event struct {
	ID          int64   `json:"id"`
	BatchID     int64   `json:"batch_id"`
	StoryID     *int64  `json:"story_id,omitempty"`
	CommandID   *int64  `json:"command_id,omitempty"`
	Timestamp   int64   `json:"timestamp"`
	EventType   string  `json:"event_type"`
	EpicID      string  `json:"epic_id,omitempty"`
	StoryKey    string  `json:"story_key,omitempty"`
	Command     string  `json:"command,omitempty"`
	TaskID      string  `json:"task_id,omitempty"`
	Status      string  `json:"status,omitempty"`
	Message     string  `json:"message,omitempty"`
	PayloadJSON *string `json:"payload_json,omitempty"`
}

// BackgroundTask mirrors the background_tasks table.
type BackgroundTask struct {
	ID          int64  `json:"id"`
	BatchID     int64  `json:"batch_id"`
	StoryKey    string `json:"story_key"`
	TaskType    string `json:"task_type"`
	SpawnedAt   int64  `json:"spawned_at"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
	Status      string `json:"status"`
}

// WhitelistError reports an update field outside an entity's closed set.
type WhitelistError struct {
	Entity string
	Field  string
}

func (e *WhitelistError) Error() string {
	return fmt.Sprintf("%s: field %q is not updatable", e.Entity, e.Field)
}

// Store wraps the embedded SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates/opens the database file at path, enforcing foreign keys and
// running idempotent schema creation + migration.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	// modernc.org/sqlite does not support concurrent writers well; a single
	// connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state store: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func whitelistCheck(entity string, fields map[string]any, allowed map[string]bool) error {
	for field := range fields {
		if !allowed[field] {
			return &WhitelistError{Entity: entity, Field: field}
		}
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on any error returned
// by fn.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
