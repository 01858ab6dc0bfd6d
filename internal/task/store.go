// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a task does not exist.
var ErrNotFound = errors.New("task not found")

// Store persists tasks in a sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the task database at path and applies
// pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a task. A missing id is assigned; a missing status
// defaults to open.
func (s *Store) Create(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks(id, title, status, pinned, worktree_path, scratch_path, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, t.ID, t.Title, string(t.Status), boolToInt(t.Pinned), t.WorktreePath, t.ScratchPath, ts(t.CreatedAt), ts(t.UpdatedAt))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Get returns the task with the given id.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectCols+` WHERE id = ?`, id))
}

// ByWorktreePath returns the task owning the given worktree path, or
// ErrNotFound when the path is orphaned.
func (s *Store) ByWorktreePath(ctx context.Context, path string) (Task, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectCols+` WHERE worktree_path = ?`, path))
}

// ByScratchPath returns the task owning the given scratch path.
func (s *Store) ByScratchPath(ctx context.Context, path string) (Task, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectCols+` WHERE scratch_path = ?`, path))
}

// List returns all tasks ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+` ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SetPinned toggles the pinned flag on a task.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET pinned = ?, updated_at = ? WHERE id = ?`,
		boolToInt(pinned), ts(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update pinned: %w", err)
	}
	return checkAffected(res)
}

// SetStatus updates a task's status.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), ts(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return checkAffected(res)
}

// Delete removes a task.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return checkAffected(res)
}

const selectCols = `SELECT id, title, status, pinned, worktree_path, scratch_path, created_at, updated_at FROM tasks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanOne(row *sql.Row) (Task, error) {
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var status string
	var pinned int
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Title, &status, &pinned, &t.WorktreePath, &t.ScratchPath, &createdAt, &updatedAt); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	t.Pinned = pinned != 0
	t.CreatedAt = parseTS(createdAt)
	t.UpdatedAt = parseTS(updatedAt)
	return t, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
