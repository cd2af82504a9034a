// Package runstore persists one YAML manifest per script run so other
// commands can find, inspect and control it.
package runstore

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/atoms-stack/testflow/internal/results"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the run has ended.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// Manifest describes one run.
type Manifest struct {
	ID     string `yaml:"id"`
	Script string `yaml:"script"`

	// Artifacts
	Dir        string `yaml:"dir"`
	ResultPath string `yaml:"result_path"`
	LogPath    string `yaml:"log_path"`
	TokenPath  string `yaml:"token_path"`

	// Lifecycle
	Status    Status     `yaml:"status"`
	PID       int        `yaml:"pid,omitempty"`
	StartedAt time.Time  `yaml:"started_at"`
	DoneAt    *time.Time `yaml:"done_at,omitempty"`

	// Outcome
	Steps    int      `yaml:"steps"`
	Total    int      `yaml:"total"`
	Rows     int      `yaml:"rows"`
	Warnings []string `yaml:"warnings,omitempty"`
	Error    string   `yaml:"error,omitempty"`
}

// NewID returns a fresh run identifier.
func NewID() string {
	return "run-" + uuid.NewString()[:8]
}

// NewManifest creates a running manifest for a run laid out as l.
func NewManifest(id, scriptPath string, l results.Layout, now time.Time) *Manifest {
	return &Manifest{
		ID:         id,
		Script:     scriptPath,
		Dir:        l.Dir,
		ResultPath: l.ResultPath,
		LogPath:    l.LogPath,
		TokenPath:  l.TokenPath,
		Status:     StatusRunning,
		PID:        os.Getpid(),
		StartedAt:  now,
	}
}

// Finish records the outcome of the run.
func (m *Manifest) Finish(status Status, steps, total, rows int, err error, now time.Time) {
	m.Status = status
	m.Steps, m.Total, m.Rows = steps, total, rows
	m.PID = 0
	m.DoneAt = &now
	if err != nil {
		m.Error = err.Error()
	}
}

// Duration returns how long the run took, or has been running.
func (m *Manifest) Duration(now time.Time) time.Duration {
	end := now
	if m.DoneAt != nil {
		end = *m.DoneAt
	}
	return end.Sub(m.StartedAt)
}

func (m *Manifest) String() string {
	return fmt.Sprintf("%s (%s, %s)", m.ID, m.Script, m.Status)
}
