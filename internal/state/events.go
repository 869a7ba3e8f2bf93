package state

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// AppendEvent inserts an event with the next sequence number for its run.
// Seq allocation and insert share one transaction on the single write
// connection, so seq is strictly increasing per run.
func (s *Store) AppendEvent(ctx context.Context, runID, category, eventType, payloadJSON string) (core.Event, error) {
	event := core.Event{
		ID:          uuid.NewString(),
		RunID:       runID,
		Category:    category,
		EventType:   eventType,
		PayloadJSON: payloadJSON,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.retryWrite(ctx, "append event", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var seq int64
		if runID == "" {
			err = tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE run_id IS NULL`).Scan(&seq)
		} else {
			err = tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE run_id = ?`, runID).Scan(&seq)
		}
		if err != nil {
			return err
		}
		event.Seq = seq

		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (id, run_id, seq, category, event_type, payload_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			event.ID, nullable(runID), seq, category, eventType, payloadJSON, fmtTime(event.CreatedAt))
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return event, err
}

// ListEventsForRun returns the run's events in sequence order.
func (s *Store) ListEventsForRun(ctx context.Context, runID string) ([]*core.Event, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, run_id, seq, category, event_type, payload_json, created_at
		 FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*core.Event
	for rows.Next() {
		var event core.Event
		var runID sql.NullString
		var createdAt string
		if err := rows.Scan(&event.ID, &runID, &event.Seq, &event.Category,
			&event.EventType, &event.PayloadJSON, &createdAt); err != nil {
			return nil, err
		}
		event.RunID = stringOf(runID)
		event.CreatedAt = parseTime(createdAt)
		list = append(list, &event)
	}
	return list, rows.Err()
}
