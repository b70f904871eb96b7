package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/taskmesh/taskmesh/task"
)

// MySQLRepository stores task runtimes in MySQL: one row per task, one row
// per step with the tool-call records held in a JSON column, and a foreign
// key so deleting a task cascades to its steps.
type MySQLRepository struct {
	db *sql.DB
}

// NewMySQLRepository opens a connection pool, verifies connectivity and
// initializes the schema. The DSN must include parseTime=true so DATETIME
// columns scan into time.Time.
func NewMySQLRepository(dsn string) (*MySQLRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mysql repository: dsn must not be empty")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql repository: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql repository: ping: %w", err)
	}
	repo := &MySQLRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *MySQLRepository) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_runtimes (
			id VARCHAR(64) PRIMARY KEY,
			status VARCHAR(16) NOT NULL,
			query TEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			started_at DATETIME(6) NULL,
			completed_at DATETIME(6) NULL,
			result MEDIUMTEXT NOT NULL,
			error TEXT NOT NULL,
			INDEX idx_task_created_at (created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS task_runtime_steps (
			id VARCHAR(64) PRIMARY KEY,
			task_id VARCHAR(64) NOT NULL,
			seq INT NOT NULL,
			agent_id VARCHAR(128) NOT NULL,
			agent_name VARCHAR(128) NOT NULL,
			status VARCHAR(16) NOT NULL,
			started_at DATETIME(6) NULL,
			completed_at DATETIME(6) NULL,
			input MEDIUMTEXT NOT NULL,
			output MEDIUMTEXT NOT NULL,
			error TEXT NOT NULL,
			tool_calls JSON NULL,
			CONSTRAINT fk_step_task FOREIGN KEY (task_id)
				REFERENCES task_runtimes (id) ON DELETE CASCADE,
			INDEX idx_step_task_seq (task_id, seq)
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("mysql repository: init schema: %w", err)
		}
	}
	return nil
}

// Put upserts the task and rewrites its step rows inside one transaction, so
// a reader always observes either the previous or the new complete snapshot.
func (r *MySQLRepository) Put(ctx context.Context, t *task.TaskRuntime) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("put: task id must not be empty")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put %s: begin: %w", t.ID, err)
	}
	defer tx.Rollback()

	const upsertTask = `INSERT INTO task_runtimes
		(id, status, query, created_at, started_at, completed_at, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		status = VALUES(status), started_at = VALUES(started_at),
		completed_at = VALUES(completed_at), result = VALUES(result), error = VALUES(error)`
	if _, err := tx.ExecContext(ctx, upsertTask,
		t.ID, string(t.Status), t.Query, t.CreatedAt, t.StartedAt, t.CompletedAt, t.Result, t.Error,
	); err != nil {
		return fmt.Errorf("put %s: upsert task: %w", t.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_runtime_steps WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("put %s: clear steps: %w", t.ID, err)
	}
	const insertStep = `INSERT INTO task_runtime_steps
		(id, task_id, seq, agent_id, agent_name, status, started_at, completed_at, input, output, error, tool_calls)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i, s := range t.Steps {
		calls, err := json.Marshal(s.ToolCalls)
		if err != nil {
			return fmt.Errorf("put %s: encode tool calls: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx, insertStep,
			s.ID, t.ID, i, s.AgentID, s.AgentName, string(s.Status),
			s.StartedAt, s.CompletedAt, s.Input, s.Output, s.Error, calls,
		); err != nil {
			return fmt.Errorf("put %s: insert step %s: %w", t.ID, s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put %s: commit: %w", t.ID, err)
	}
	return nil
}

// Get loads a task and its steps ordered by sequence number.
func (r *MySQLRepository) Get(ctx context.Context, id string) (*task.TaskRuntime, error) {
	const q = `SELECT id, status, query, created_at, started_at, completed_at, result, error
		FROM task_runtimes WHERE id = ?`
	t := &task.TaskRuntime{}
	var status string
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &status, &t.Query, &t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.Result, &t.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, task.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	t.Status = task.Status(status)

	steps, err := r.loadSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Steps = steps
	return t, nil
}

func (r *MySQLRepository) loadSteps(ctx context.Context, taskID string) ([]*task.TaskRuntimeStep, error) {
	const q = `SELECT id, agent_id, agent_name, status, started_at, completed_at, input, output, error, tool_calls
		FROM task_runtime_steps WHERE task_id = ? ORDER BY seq ASC`
	rows, err := r.db.QueryContext(ctx, q, taskID)
	if err != nil {
		return nil, fmt.Errorf("get %s: query steps: %w", taskID, err)
	}
	defer rows.Close()

	var steps []*task.TaskRuntimeStep
	for rows.Next() {
		s := &task.TaskRuntimeStep{}
		var status string
		var calls []byte
		if err := rows.Scan(&s.ID, &s.AgentID, &s.AgentName, &status,
			&s.StartedAt, &s.CompletedAt, &s.Input, &s.Output, &s.Error, &calls); err != nil {
			return nil, fmt.Errorf("get %s: scan step: %w", taskID, err)
		}
		s.Status = task.Status(status)
		if len(calls) > 0 {
			if err := json.Unmarshal(calls, &s.ToolCalls); err != nil {
				return nil, fmt.Errorf("get %s: decode tool calls: %w", taskID, err)
			}
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get %s: iterate steps: %w", taskID, err)
	}
	return steps, nil
}

// List returns matching tasks ordered by creation time ascending. Status and
// time-range predicates are pushed into SQL.
func (r *MySQLRepository) List(ctx context.Context, f task.Filter) ([]*task.TaskRuntime, error) {
	q := `SELECT id FROM task_runtimes`
	var conds []string
	var args []any
	if len(f.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")
		conds = append(conds, "status IN ("+placeholders+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if !f.CreatedAfter.IsZero() {
		conds = append(conds, "created_at > ?")
		args = append(args, f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, f.CreatedBefore)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: iterate: %w", err)
	}

	out := make([]*task.TaskRuntime, 0, len(ids))
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Delete removes the task row; steps go with it via the cascade. A second
// delete of the same id fails with task.ErrNotFound.
func (r *MySQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM task_runtimes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, task.ErrNotFound)
	}
	return nil
}

// Close closes the underlying connection pool.
func (r *MySQLRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
