package sprintstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var batchUpdatableFields = map[string]bool{
	"ended_at":         true,
	"cycles_completed": true,
	"status":           true,
}

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("sprintstore: not found")

// CreateBatch inserts a new batch row with status "running" and returns it.
func (s *Store) CreateBatch(ctx context.Context, startedAt int64, maxCycles int) (Batch, error) {
	var b Batch
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO batches (started_at, max_cycles, cycles_completed, status) VALUES (?, ?, 0, ?)`,
			startedAt, maxCycles, BatchStatusRunning)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("batch id: %w", err)
		}
		b = Batch{ID: id, StartedAt: startedAt, MaxCycles: maxCycles, Status: BatchStatusRunning}
		return nil
	})
	return b, err
}

// UpdateBatch applies a whitelisted partial update to a batch row.
func (s *Store) UpdateBatch(ctx context.Context, id int64, fields map[string]any) error {
	if err := whitelistCheck("batch", fields, batchUpdatableFields); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for field, value := range fields {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE batches SET %s = ? WHERE id = ?`, field), value, id); err != nil {
				return fmt.Errorf("update batch %s: %w", field, err)
			}
		}
		return nil
	})
}

func scanBatch(row interface{ Scan(...any) error }) (Batch, error) {
	var b Batch
	if err := row.Scan(&b.ID, &b.StartedAt, &b.EndedAt, &b.MaxCycles, &b.CyclesCompleted, &b.Status); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// GetBatch fetches a single batch by id.
func (s *Store) GetBatch(ctx context.Context, id int64) (Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, max_cycles, cycles_completed, status FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns batches newest-first, for the dashboard's paginated
// batch history.
func (s *Store) ListBatches(ctx context.Context, limit, offset int) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, max_cycles, cycles_completed, status FROM batches ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountBatches returns the total number of batch rows, for pagination.
func (s *Store) CountBatches(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return n, nil
}

// ActiveBatch returns the single batch currently in status "running", if
// any. The invariant that at most one batch is ever running is enforced by
// the orchestrator, not by a database constraint.
func (s *Store) ActiveBatch(ctx context.Context) (Batch, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, max_cycles, cycles_completed, status FROM batches WHERE status = ? ORDER BY id DESC LIMIT 1`,
		BatchStatusRunning)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, false, nil
	}
	if err != nil {
		return Batch{}, false, fmt.Errorf("active batch: %w", err)
	}
	return b, true, nil
}

// ForceFinalizeStaleRunning marks any batch left in status "running" as
// "stopped" at process startup.
func (s *Store) ForceFinalizeStaleRunning(ctx context.Context, endedAt int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, ended_at = ? WHERE status = ?`,
		BatchStatusStopped, endedAt, BatchStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("finalize stale batches: %w", err)
	}
	return res.RowsAffected()
}
