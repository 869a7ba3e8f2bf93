package state

import (
	"context"
	"database/sql"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// InsertArtifact persists a new artifact row.
func (s *Store) InsertArtifact(ctx context.Context, artifact *core.Artifact) error {
	return s.retryWrite(ctx, "insert artifact", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO artifacts (id, run_id, kind, uri_or_content, metadata_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			artifact.ID, artifact.RunID, artifact.Kind, artifact.URIOrContent,
			nullable(artifact.MetadataJSON), fmtTime(artifact.CreatedAt))
		return err
	})
}

// ListArtifactsForRun returns the run's artifacts in creation order.
func (s *Store) ListArtifactsForRun(ctx context.Context, runID string) ([]*core.Artifact, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, run_id, kind, uri_or_content, metadata_json, created_at
		 FROM artifacts WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

// ListMarkdownArtifactsForTask returns every ".md" artifact across the task's
// runs. Used to rebuild a BUILD plan from reviewed planning output.
func (s *Store) ListMarkdownArtifactsForTask(ctx context.Context, taskID string) ([]*core.Artifact, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT a.id, a.run_id, a.kind, a.uri_or_content, a.metadata_json, a.created_at
		 FROM artifacts a
		 JOIN runs r ON r.id = a.run_id
		 WHERE r.task_id = ? AND a.uri_or_content LIKE '%.md'
		 ORDER BY a.created_at, a.id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func collectArtifacts(rows *sql.Rows) ([]*core.Artifact, error) {
	var list []*core.Artifact
	for rows.Next() {
		var artifact core.Artifact
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&artifact.ID, &artifact.RunID, &artifact.Kind,
			&artifact.URIOrContent, &metadata, &createdAt); err != nil {
			return nil, err
		}
		artifact.MetadataJSON = stringOf(metadata)
		artifact.CreatedAt = parseTime(createdAt)
		list = append(list, &artifact)
	}
	return list, rows.Err()
}
