package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// InsertTask persists a new task row.
func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	return s.retryWrite(ctx, "insert task", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks (id, prompt, parent_task_id, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			task.ID, task.Prompt, nullable(task.ParentTaskID), string(task.Status),
			fmtTime(task.CreatedAt), fmtTime(task.UpdatedAt))
		return err
	})
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, prompt, parent_task_id, status, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns all tasks ordered by creation time, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]*core.Task, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, prompt, parent_task_id, status, created_at, updated_at
		 FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus transitions a task's status and bumps updated_at.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status core.TaskStatus) error {
	return s.retryWrite(ctx, "update task status", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), fmtTime(time.Now()), id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.ErrNotFound("task", id)
		}
		return nil
	})
}

// DeleteTask removes a task; runs and their children cascade.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.retryWrite(ctx, "delete task", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*core.Task, error) {
	var task core.Task
	var parent sql.NullString
	var status, createdAt, updatedAt string
	err := row.Scan(&task.ID, &task.Prompt, &parent, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("task", task.ID)
	}
	if err != nil {
		return nil, err
	}
	task.ParentTaskID = stringOf(parent)
	task.Status = core.TaskStatus(status)
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)
	return &task, nil
}
