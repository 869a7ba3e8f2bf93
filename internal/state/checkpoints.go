package state

import (
	"context"
	"database/sql"
	"errors"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// UpsertCheckpoint records the last completed step for a run. last_step_idx
// never decreases; an upsert with a smaller index keeps the stored value.
func (s *Store) UpsertCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	return s.retryWrite(ctx, "upsert checkpoint", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO checkpoints (run_id, last_step_idx, runtime_state_json, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(run_id) DO UPDATE SET
			     last_step_idx = MAX(checkpoints.last_step_idx, excluded.last_step_idx),
			     runtime_state_json = excluded.runtime_state_json,
			     updated_at = excluded.updated_at`,
			cp.RunID, cp.LastStepIdx, nullable(cp.RuntimeStateJSON), fmtTime(cp.UpdatedAt))
		return err
	})
}

// GetCheckpoint returns the run's checkpoint, or nil when none exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID string) (*core.Checkpoint, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT run_id, last_step_idx, runtime_state_json, updated_at
		 FROM checkpoints WHERE run_id = ?`, runID)

	var cp core.Checkpoint
	var runtimeState sql.NullString
	var updatedAt string
	err := row.Scan(&cp.RunID, &cp.LastStepIdx, &runtimeState, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp.RuntimeStateJSON = stringOf(runtimeState)
	cp.UpdatedAt = parseTime(updatedAt)
	return &cp, nil
}
