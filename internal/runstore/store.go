package runstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"
)

// Lock is an exclusive lock on one run, held by the process executing it.
type Lock struct {
	id       string
	lockFile *os.File
	lockPath string
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() error {
	if l.lockFile == nil {
		return nil
	}
	syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	err := l.lockFile.Close()
	l.lockFile = nil
	os.Remove(l.lockPath)
	return err
}

// Filter selects runs in List.
type Filter struct {
	Status Status // empty = all
	Script string // base name match, empty = all
}

// Store keeps manifests as <dir>/<id>.yaml with atomic writes.
type Store struct {
	dir string
}

// NewStore opens or creates a manifest directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating runs dir: %w", err)
	}
	if err := recoverInterruptedWrites(dir); err != nil {
		return nil, fmt.Errorf("recovering interrupted writes: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the manifest directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// Lock acquires the exclusive lock of run id.
func (s *Store) Lock(id string) (*Lock, error) {
	lockPath := s.path(id) + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening run lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("run %s is locked by another process: %w", id, err)
	}
	return &Lock{id: id, lockFile: f, lockPath: lockPath}, nil
}

// IsLocked reports whether another process holds the lock of run id.
func (s *Store) IsLocked(id string) bool {
	f, err := os.OpenFile(s.path(id)+".lock", os.O_RDWR, 0644)
	if err != nil {
		return false
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return true
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false
}

// recoverInterruptedWrites handles .tmp files left by a crash.
func recoverInterruptedWrites(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".yaml.tmp") {
			continue
		}
		tmpPath := filepath.Join(dir, entry.Name())
		mainPath := strings.TrimSuffix(tmpPath, ".tmp")
		if _, err := os.Stat(mainPath); err == nil {
			os.Remove(tmpPath)
		} else {
			os.Rename(tmpPath, mainPath)
		}
	}
	return nil
}

// Create persists a new manifest.
func (s *Store) Create(ctx context.Context, m *Manifest) error {
	if _, err := os.Stat(s.path(m.ID)); err == nil {
		return fmt.Errorf("run already exists: %s", m.ID)
	}
	return s.Save(ctx, m)
}

// Get reads the manifest of run id.
func (s *Store) Get(ctx context.Context, id string) (*Manifest, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing run %s: %w", id, err)
	}
	return &m, nil
}

// Save writes the manifest atomically (write-then-rename).
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	mainPath := s.path(m.ID)
	tmpPath := mainPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, mainPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Delete removes the manifest of run id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("run not found: %s", id)
		}
		return err
	}
	return nil
}

// List returns the manifests matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Manifest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var runs []*Manifest
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") {
			continue
		}
		m, err := s.Get(ctx, strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if filter.Script != "" && filepath.Base(m.Script) != filepath.Base(filter.Script) {
			continue
		}
		runs = append(runs, m)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Resolve finds a run by id, id prefix or run directory.
func (s *Store) Resolve(ctx context.Context, ref string) (*Manifest, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty run reference")
	}
	if m, err := s.Get(ctx, ref); err == nil {
		return m, nil
	}
	all, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	abs, _ := filepath.Abs(ref)
	var matches []*Manifest
	for _, m := range all {
		dir, _ := filepath.Abs(m.Dir)
		if dir == abs || strings.HasPrefix(m.ID, ref) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run not found: %s", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("run reference %q is ambiguous (%d matches)", ref, len(matches))
	}
}
