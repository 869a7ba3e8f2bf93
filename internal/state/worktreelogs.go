package state

import (
	"context"
	"database/sql"
	"time"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// InsertWorktreeLog persists a worktree creation record.
func (s *Store) InsertWorktreeLog(ctx context.Context, log *core.WorktreeLog) error {
	return s.retryWrite(ctx, "insert worktree log", func() error {
		var mergeSuccess sql.NullInt64
		if log.MergeSuccess != nil {
			mergeSuccess = sql.NullInt64{Int64: boolToInt(*log.MergeSuccess), Valid: true}
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO worktree_logs (id, run_id, sub_agent_id, strategy, branch_name, base_ref,
			        worktree_path, merge_strategy, merge_success, merge_message, conflicted_files_json,
			        created_at, merged_at, cleaned_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			log.ID, log.RunID, log.SubAgentID, log.Strategy, nullable(log.BranchName),
			nullable(log.BaseRef), log.WorktreePath, nullable(log.MergeStrategy), mergeSuccess,
			nullable(log.MergeMessage), nullable(log.ConflictedFilesJSON),
			fmtTime(log.CreatedAt), fmtTimePtr(log.MergedAt), fmtTimePtr(log.CleanedAt))
		return err
	})
}

// UpdateWorktreeLogMerge records the outcome of a merge attempt on the most
// recent log row for the sub-agent.
func (s *Store) UpdateWorktreeLogMerge(ctx context.Context, subAgentID, mergeStrategy string, mergeSuccess bool, mergeMessage, conflictedFilesJSON string, mergedAt time.Time) error {
	return s.retryWrite(ctx, "update worktree log merge", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE worktree_logs SET merge_strategy = ?, merge_success = ?, merge_message = ?,
			        conflicted_files_json = ?, merged_at = ?
			 WHERE id = (SELECT id FROM worktree_logs WHERE sub_agent_id = ?
			             ORDER BY created_at DESC, id DESC LIMIT 1)`,
			mergeStrategy, boolToInt(mergeSuccess), mergeMessage,
			nullable(conflictedFilesJSON), fmtTime(mergedAt), subAgentID)
		return err
	})
}

// UpdateWorktreeLogCleaned stamps the cleanup time on the most recent log row
// for the sub-agent.
func (s *Store) UpdateWorktreeLogCleaned(ctx context.Context, subAgentID string, cleanedAt time.Time) error {
	return s.retryWrite(ctx, "update worktree log cleaned", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE worktree_logs SET cleaned_at = ?
			 WHERE id = (SELECT id FROM worktree_logs WHERE sub_agent_id = ?
			             ORDER BY created_at DESC, id DESC LIMIT 1)`,
			fmtTime(cleanedAt), subAgentID)
		return err
	})
}

// ListWorktreeLogsForRun returns the run's worktree logs in creation order.
func (s *Store) ListWorktreeLogsForRun(ctx context.Context, runID string) ([]*core.WorktreeLog, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, run_id, sub_agent_id, strategy, branch_name, base_ref, worktree_path,
		        merge_strategy, merge_success, merge_message, conflicted_files_json,
		        created_at, merged_at, cleaned_at
		 FROM worktree_logs WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*core.WorktreeLog
	for rows.Next() {
		var log core.WorktreeLog
		var branch, baseRef, mergeStrategy, mergeMessage, conflicted, mergedAt, cleanedAt sql.NullString
		var mergeSuccess sql.NullInt64
		var createdAt string
		if err := rows.Scan(&log.ID, &log.RunID, &log.SubAgentID, &log.Strategy, &branch,
			&baseRef, &log.WorktreePath, &mergeStrategy, &mergeSuccess, &mergeMessage,
			&conflicted, &createdAt, &mergedAt, &cleanedAt); err != nil {
			return nil, err
		}
		log.BranchName = stringOf(branch)
		log.BaseRef = stringOf(baseRef)
		log.MergeStrategy = stringOf(mergeStrategy)
		log.MergeMessage = stringOf(mergeMessage)
		log.ConflictedFilesJSON = stringOf(conflicted)
		if mergeSuccess.Valid {
			success := mergeSuccess.Int64 != 0
			log.MergeSuccess = &success
		}
		log.CreatedAt = parseTime(createdAt)
		log.MergedAt = parseTimePtr(mergedAt)
		log.CleanedAt = parseTimePtr(cleanedAt)
		list = append(list, &log)
	}
	return list, rows.Err()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
