package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/task"
)

// FileRepository persists each task runtime as its own directory:
//
//	<root>/task_<task_id>/
//	  task.json            task fields excluding steps, plus the ordered step ids
//	  steps/
//	    step_<step_id>.json
//
// One file per step trades write amplification for human readability: a
// reader can inspect a single step without deserializing the whole task.
// Writes go to a temp file in the same directory followed by a rename, so a
// crash mid-write leaves either the old or the new complete file behind.
type FileRepository struct {
	root   string
	logger logging.Logger
}

// FileRepositoryOptions holds configuration overrides for NewFileRepository.
type FileRepositoryOptions struct {
	// Logger used for non-fatal decode warnings during List.
	Logger logging.Logger
}

// NewFileRepository creates the root directory if needed and returns a
// file-backed repository rooted there.
func NewFileRepository(root string, optFns ...func(o *FileRepositoryOptions)) (*FileRepository, error) {
	opts := FileRepositoryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if root == "" {
		return nil, fmt.Errorf("file repository: root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("file repository: create root: %w", err)
	}
	return &FileRepository{root: root, logger: opts.Logger}, nil
}

// taskRecord is the task.json shape: TaskRuntime fields excluding the step
// bodies, plus the ordered step id sequence.
type taskRecord struct {
	ID          string      `json:"id"`
	Status      task.Status `json:"status"`
	Query       string      `json:"query"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Result      string      `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	StepIDs     []string    `json:"step_ids"`
}

func (r *FileRepository) taskDir(id string) string {
	return filepath.Join(r.root, "task_"+id)
}

func (r *FileRepository) stepsDir(id string) string {
	return filepath.Join(r.taskDir(id), "steps")
}

// Put upserts the full task and all of its steps. Step files for steps that
// no longer exist on the runtime are removed so the directory always mirrors
// the written snapshot.
func (r *FileRepository) Put(_ context.Context, t *task.TaskRuntime) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("put: task id must not be empty")
	}
	stepsDir := r.stepsDir(t.ID)
	if err := os.MkdirAll(stepsDir, 0o755); err != nil {
		return fmt.Errorf("put %s: create task dir: %w", t.ID, err)
	}

	rec := taskRecord{
		ID:          t.ID,
		Status:      t.Status,
		Query:       t.Query,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Result:      t.Result,
		Error:       t.Error,
		StepIDs:     make([]string, 0, len(t.Steps)),
	}
	for _, s := range t.Steps {
		rec.StepIDs = append(rec.StepIDs, s.ID)
	}

	for _, s := range t.Steps {
		path := filepath.Join(stepsDir, "step_"+s.ID+".json")
		if err := writeJSONAtomic(path, s); err != nil {
			return fmt.Errorf("put %s: write step %s: %w", t.ID, s.ID, err)
		}
	}
	if err := writeJSONAtomic(filepath.Join(r.taskDir(t.ID), "task.json"), rec); err != nil {
		return fmt.Errorf("put %s: write task.json: %w", t.ID, err)
	}

	// Drop orphaned step files from a previous snapshot.
	known := make(map[string]bool, len(rec.StepIDs))
	for _, id := range rec.StepIDs {
		known["step_"+id+".json"] = true
	}
	entries, err := os.ReadDir(stepsDir)
	if err != nil {
		return fmt.Errorf("put %s: read steps dir: %w", t.ID, err)
	}
	for _, e := range entries {
		if !known[e.Name()] && strings.HasSuffix(e.Name(), ".json") {
			_ = os.Remove(filepath.Join(stepsDir, e.Name()))
		}
	}
	return nil
}

// Get loads a task and its steps, preserving the persisted step order.
func (r *FileRepository) Get(_ context.Context, id string) (*task.TaskRuntime, error) {
	rec, err := r.readTaskRecord(id)
	if err != nil {
		return nil, err
	}
	t := &task.TaskRuntime{
		ID:          rec.ID,
		Status:      rec.Status,
		Query:       rec.Query,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Result:      rec.Result,
		Error:       rec.Error,
	}
	for _, stepID := range rec.StepIDs {
		path := filepath.Join(r.stepsDir(id), "step_"+stepID+".json")
		var step task.TaskRuntimeStep
		if err := readJSON(path, &step); err != nil {
			return nil, fmt.Errorf("get %s: read step %s: %w", id, stepID, err)
		}
		t.AppendStep(&step)
	}
	return t, nil
}

// List scans all task directories and returns matching runtimes ordered by
// creation time ascending. Undecodable directories are skipped with a warning
// so one corrupt task cannot hide the rest.
func (r *FileRepository) List(ctx context.Context, f task.Filter) ([]*task.TaskRuntime, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("list: read root: %w", err)
	}
	var out []*task.TaskRuntime
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "task_") {
			continue
		}
		id := strings.TrimPrefix(e.Name(), "task_")
		t, err := r.Get(ctx, id)
		if err != nil {
			r.logger.Warn("file repository: skipping undecodable task dir", "dir", e.Name(), "error", err)
			continue
		}
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete removes the task directory and every step in it. A second delete of
// the same id fails with task.ErrNotFound.
func (r *FileRepository) Delete(_ context.Context, id string) error {
	dir := r.taskDir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", id, task.ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (r *FileRepository) readTaskRecord(id string) (*taskRecord, error) {
	path := filepath.Join(r.taskDir(id), "task.json")
	var rec taskRecord
	if err := readJSON(path, &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("get %s: %w", id, task.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return &rec, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
