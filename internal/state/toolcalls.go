package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// InsertToolCall persists a new tool-call row.
func (s *Store) InsertToolCall(ctx context.Context, call *core.ToolCall) error {
	return s.retryWrite(ctx, "insert tool call", func() error {
		var stepIdx sql.NullInt64
		if call.StepIdx != nil {
			stepIdx = sql.NullInt64{Int64: *call.StepIdx, Valid: true}
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tool_calls (id, run_id, step_idx, tool_name, input_json, output_json, status, started_at, finished_at, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			call.ID, call.RunID, stepIdx, call.ToolName, call.InputJSON,
			nullable(call.OutputJSON), string(call.Status),
			fmtTimePtr(call.StartedAt), fmtTimePtr(call.FinishedAt), nullable(call.Error))
		return err
	})
}

// UpdateToolCallResult finalizes (or re-stages) a tool-call row.
func (s *Store) UpdateToolCallResult(ctx context.Context, id string, status core.ToolCallStatus, outputJSON string, finishedAt *time.Time, callErr string) error {
	return s.retryWrite(ctx, "update tool call", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE tool_calls SET status = ?,
			        output_json = COALESCE(NULLIF(?, ''), output_json),
			        finished_at = COALESCE(?, finished_at),
			        error = COALESCE(NULLIF(?, ''), error)
			 WHERE id = ?`,
			string(status), outputJSON, fmtTimePtr(finishedAt), callErr, id)
		return err
	})
}

// GetToolCall returns a tool call by id.
func (s *Store) GetToolCall(ctx context.Context, id string) (*core.ToolCall, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, run_id, step_idx, tool_name, input_json, output_json, status, started_at, finished_at, error
		 FROM tool_calls WHERE id = ?`, id)
	return scanToolCall(row)
}

// ListToolCallsForRun returns the run's tool calls in start order.
func (s *Store) ListToolCallsForRun(ctx context.Context, runID string) ([]*core.ToolCall, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, run_id, step_idx, tool_name, input_json, output_json, status, started_at, finished_at, error
		 FROM tool_calls WHERE run_id = ? ORDER BY COALESCE(started_at, ''), id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*core.ToolCall
	for rows.Next() {
		call, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func scanToolCall(row rowScanner) (*core.ToolCall, error) {
	var call core.ToolCall
	var status string
	var stepIdx sql.NullInt64
	var outputJSON, callErr, startedAt, finishedAt sql.NullString
	err := row.Scan(&call.ID, &call.RunID, &stepIdx, &call.ToolName, &call.InputJSON,
		&outputJSON, &status, &startedAt, &finishedAt, &callErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("tool call", call.ID)
	}
	if err != nil {
		return nil, err
	}
	if stepIdx.Valid {
		idx := stepIdx.Int64
		call.StepIdx = &idx
	}
	call.Status = core.ToolCallStatus(status)
	call.OutputJSON = stringOf(outputJSON)
	call.Error = stringOf(callErr)
	call.StartedAt = parseTimePtr(startedAt)
	call.FinishedAt = parseTimePtr(finishedAt)
	return &call, nil
}
