package seed

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunState is the lifecycle of a seeding run as seen in the status file.
type RunState string

const (
	StateStarted   RunState = "started"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
)

// ErrNoStatus is returned by ReadStatus when no run has written a status file yet.
var ErrNoStatus = errors.New("no seed status recorded")

// Status is the pollable progress of the latest run.
type Status struct {
	RunID         string         `json:"runId"`
	State         RunState       `json:"state"`
	CurrentEntity Entity         `json:"currentEntity,omitempty"`
	Processed     int            `json:"processed"`
	Total         int            `json:"total"`
	StartedAt     time.Time      `json:"startedAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	FinishedAt    *time.Time     `json:"finishedAt,omitempty"`
	Reports       []EntityReport `json:"reports,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// StatusWriter persists Status atomically. A nil writer or empty path
// disables the status file.
type StatusWriter struct {
	path string
	mu   sync.Mutex
}

func NewStatusWriter(path string) *StatusWriter {
	return &StatusWriter{path: path}
}

func (w *StatusWriter) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Write replaces the status file via a temp file and rename so readers
// never see a partial document.
func (w *StatusWriter) Write(st Status) error {
	if w == nil || w.path == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".seed-status-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// ReadStatus loads the status file at path.
func ReadStatus(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoStatus
	}
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt status file %s: %w", path, err)
	}
	return &st, nil
}
