// Package control provides the run-state token an external observer uses to
// pause, resume or stop a running script.
package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// State is one value of the run-state token.
type State string

const (
	Running State = "running"
	Pause   State = "pause"
	Resume  State = "resume"
	Stop    State = "stop"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case Running, Pause, Resume, Stop:
		return true
	}
	return false
}

// ParseState normalizes user or file input.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case "", "run":
		return Running, nil
	case "paused":
		return Pause, nil
	case "stopped":
		return Stop, nil
	}
	if !st.Valid() {
		return "", fmt.Errorf("unknown run state %q", s)
	}
	return st, nil
}

// RunState is the shared token between the engine and an external observer.
// Last write wins.
type RunState interface {
	Poll(ctx context.Context) (State, error)
	Set(ctx context.Context, s State) error
	Clear(ctx context.Context) error
}

// File is a RunState backed by a small text file. A missing file reads as
// running.
type File struct {
	Path string
}

// NewFile returns a file-backed run-state.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Poll reads the token.
func (f *File) Poll(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Running, nil
		}
		return "", fmt.Errorf("reading run state: %w", err)
	}
	st, err := ParseState(string(data))
	if err != nil {
		// garbage reads as running
		return Running, nil
	}
	return st, nil
}

// Set writes the token atomically.
func (f *File) Set(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Valid() {
		return fmt.Errorf("unknown run state %q", s)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return fmt.Errorf("creating run state dir: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(string(s)+"\n"), 0644); err != nil {
		return fmt.Errorf("writing run state: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing run state: %w", err)
	}
	return nil
}

// Clear deletes the token.
func (f *File) Clear(ctx context.Context) error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing run state: %w", err)
	}
	return nil
}

// Memory is an in-process RunState.
type Memory struct {
	v atomic.Value // State
}

// NewMemory returns a run-state initialised to running.
func NewMemory() *Memory {
	m := &Memory{}
	m.v.Store(Running)
	return m
}

// Poll returns the current state.
func (m *Memory) Poll(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.v.Load().(State), nil
}

// Set replaces the state.
func (m *Memory) Set(_ context.Context, s State) error {
	if !s.Valid() {
		return fmt.Errorf("unknown run state %q", s)
	}
	m.v.Store(s)
	return nil
}

// Clear resets to running.
func (m *Memory) Clear(context.Context) error {
	m.v.Store(Running)
	return nil
}

var (
	_ RunState = (*File)(nil)
	_ RunState = (*Memory)(nil)
)
