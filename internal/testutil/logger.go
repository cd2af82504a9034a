package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// TestLogger captures structured logs for assertion in tests.
type TestLogger struct {
	mu      sync.RWMutex
	entries []LogEntry
	Logger  *slog.Logger
}

// LogEntry represents a captured log entry.
type LogEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// NewTestLogger creates a logger that captures every entry at debug level
// and above.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	tl := &TestLogger{}
	tl.Logger = slog.New(&captureHandler{log: tl})
	return tl
}

// captureHandler records entries, carrying attrs from WithAttrs calls.
type captureHandler struct {
	log   *TestLogger
	attrs []slog.Attr
	group string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{Level: r.Level, Message: r.Message, Attrs: make(map[string]any)}
	add := func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		entry.Attrs[key] = a.Value.Any()
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(add)

	h.log.mu.Lock()
	h.log.entries = append(h.log.entries, entry)
	h.log.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &captureHandler{log: h.log, attrs: merged, group: h.group}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &captureHandler{log: h.log, attrs: h.attrs, group: group}
}

// Entries returns a copy of all captured entries.
func (l *TestLogger) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]LogEntry(nil), l.entries...)
}

// Containing returns entries whose message contains substring.
func (l *TestLogger) Containing(substring string) []LogEntry {
	var result []LogEntry
	for _, e := range l.Entries() {
		if strings.Contains(e.Message, substring) {
			result = append(result, e)
		}
	}
	return result
}

// CountLevel returns the count of entries at a specific level.
func (l *TestLogger) CountLevel(level slog.Level) int {
	count := 0
	for _, e := range l.Entries() {
		if e.Level == level {
			count++
		}
	}
	return count
}

// AssertContains asserts that at least one log entry contains the message.
func (l *TestLogger) AssertContains(t *testing.T, msg string) {
	t.Helper()
	if len(l.Containing(msg)) == 0 {
		t.Errorf("Expected log to contain message %q, but it wasn't found", msg)
	}
}

// AssertAttrValue asserts that an entry containing msg carries key=value.
func (l *TestLogger) AssertAttrValue(t *testing.T, msg, key string, value any) {
	t.Helper()
	for _, e := range l.Containing(msg) {
		if v, ok := e.Attrs[key]; ok && v == value {
			return
		}
	}
	t.Errorf("Expected a %q log entry with %s=%v", msg, key, value)
}

// AssertNoErrors asserts that there are no ERROR level entries.
func (l *TestLogger) AssertNoErrors(t *testing.T) {
	t.Helper()
	var messages []string
	for _, e := range l.Entries() {
		if e.Level == slog.LevelError {
			messages = append(messages, e.Message)
		}
	}
	if len(messages) > 0 {
		t.Errorf("Expected no errors, got %d: %v", len(messages), messages)
	}
}
