package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// InsertSubAgent persists a new sub-agent row.
func (s *Store) InsertSubAgent(ctx context.Context, agent *core.SubAgent) error {
	return s.retryWrite(ctx, "insert sub-agent", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sub_agents (id, run_id, step_idx, name, status, worktree_path, context_json, started_at, finished_at, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			agent.ID, agent.RunID, agent.StepIdx, agent.Name, string(agent.Status),
			nullable(agent.WorktreePath), nullable(agent.ContextJSON),
			fmtTimePtr(agent.StartedAt), fmtTimePtr(agent.FinishedAt), nullable(agent.Error))
		return err
	})
}

// GetSubAgent returns a sub-agent by id.
func (s *Store) GetSubAgent(ctx context.Context, id string) (*core.SubAgent, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, run_id, step_idx, name, status, worktree_path, context_json, started_at, finished_at, error
		 FROM sub_agents WHERE id = ?`, id)
	return scanSubAgent(row)
}

// ListSubAgentsForRun returns the run's sub-agents ordered by step then id.
func (s *Store) ListSubAgentsForRun(ctx context.Context, runID string) ([]*core.SubAgent, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, run_id, step_idx, name, status, worktree_path, context_json, started_at, finished_at, error
		 FROM sub_agents WHERE run_id = ? ORDER BY step_idx, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*core.SubAgent
	for rows.Next() {
		agent, err := scanSubAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// UpdateSubAgentStatus advances a sub-agent's status and optional fields.
// The sub-agent lifecycle is forward-only; callers are responsible for
// ordering, the store records what it is told.
func (s *Store) UpdateSubAgentStatus(ctx context.Context, id string, status core.SubAgentStatus, worktreePath string, finishedAt *time.Time, agentErr string) error {
	return s.retryWrite(ctx, "update sub-agent status", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sub_agents SET status = ?,
			        worktree_path = COALESCE(NULLIF(?, ''), worktree_path),
			        finished_at = COALESCE(?, finished_at),
			        error = COALESCE(NULLIF(?, ''), error)
			 WHERE id = ?`,
			string(status), worktreePath, fmtTimePtr(finishedAt), agentErr, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.ErrNotFound("sub-agent", id)
		}
		return nil
	})
}

// MarkSubAgentStarted records the running transition with its worktree path.
func (s *Store) MarkSubAgentStarted(ctx context.Context, id, worktreePath string, startedAt time.Time) error {
	return s.retryWrite(ctx, "mark sub-agent started", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sub_agents SET status = ?, worktree_path = ?, started_at = ? WHERE id = ?`,
			string(core.SubAgentRunning), worktreePath, fmtTime(startedAt), id)
		return err
	})
}

func scanSubAgent(row rowScanner) (*core.SubAgent, error) {
	var agent core.SubAgent
	var status string
	var worktreePath, contextJSON, agentErr, startedAt, finishedAt sql.NullString
	err := row.Scan(&agent.ID, &agent.RunID, &agent.StepIdx, &agent.Name, &status,
		&worktreePath, &contextJSON, &startedAt, &finishedAt, &agentErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("sub-agent", agent.ID)
	}
	if err != nil {
		return nil, err
	}
	agent.Status = core.SubAgentStatus(status)
	agent.WorktreePath = stringOf(worktreePath)
	agent.ContextJSON = stringOf(contextJSON)
	agent.Error = stringOf(agentErr)
	agent.StartedAt = parseTimePtr(startedAt)
	agent.FinishedAt = parseTimePtr(finishedAt)
	return &agent, nil
}
