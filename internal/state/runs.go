package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// InsertRun persists a new run row.
func (s *Store) InsertRun(ctx context.Context, run *core.Run) error {
	return s.retryWrite(ctx, "insert run", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, task_id, status, plan_json, started_at, finished_at, failure_reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.TaskID, string(run.Status), nullable(run.PlanJSON),
			fmtTimePtr(run.StartedAt), fmtTimePtr(run.FinishedAt), nullable(run.FailureReason))
		return err
	})
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, task_id, status, plan_json, started_at, finished_at, failure_reason
		 FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// GetLatestRunForTask returns the most recently started run of a task, or
// a not-found error when the task has none.
func (s *Store) GetLatestRunForTask(ctx context.Context, taskID string) (*core.Run, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, task_id, status, plan_json, started_at, finished_at, failure_reason
		 FROM runs WHERE task_id = ?
		 ORDER BY COALESCE(started_at, '') DESC, id DESC LIMIT 1`, taskID)
	return scanRun(row)
}

// ListActiveRuns returns runs still in a non-terminal status. Used by
// startup recovery.
func (s *Store) ListActiveRuns(ctx context.Context) ([]*core.Run, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, task_id, status, plan_json, started_at, finished_at, failure_reason
		 FROM runs WHERE status IN (?, ?, ?)
		 ORDER BY COALESCE(started_at, '')`,
		string(core.RunPlanning), string(core.RunAwaitingReview), string(core.RunExecuting))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus transitions a run, optionally stamping finished_at and
// recording a failure reason.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status core.RunStatus, finishedAt *time.Time, failureReason string) error {
	return s.retryWrite(ctx, "update run status", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?,
			        finished_at = COALESCE(?, finished_at),
			        failure_reason = COALESCE(NULLIF(?, ''), failure_reason)
			 WHERE id = ?`,
			string(status), fmtTimePtr(finishedAt), failureReason, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.ErrNotFound("run", id)
		}
		return nil
	})
}

// UpdateRunPlan stores the serialized plan for a run.
func (s *Store) UpdateRunPlan(ctx context.Context, id, planJSON string) error {
	return s.retryWrite(ctx, "update run plan", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET plan_json = ? WHERE id = ?`, planJSON, id)
		return err
	})
}

func scanRun(row rowScanner) (*core.Run, error) {
	var run core.Run
	var status string
	var planJSON, failureReason, startedAt, finishedAt sql.NullString
	err := row.Scan(&run.ID, &run.TaskID, &status, &planJSON, &startedAt, &finishedAt, &failureReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("run", run.ID)
	}
	if err != nil {
		return nil, err
	}
	run.Status = core.RunStatus(status)
	run.PlanJSON = stringOf(planJSON)
	run.FailureReason = stringOf(failureReason)
	run.StartedAt = parseTimePtr(startedAt)
	run.FinishedAt = parseTimePtr(finishedAt)
	return &run, nil
}
