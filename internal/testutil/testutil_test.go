package testutil

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger(t)
	logger := tl.Logger.With("run", "run-1").WithGroup("node")
	logger.Info("node started", "id", 3)
	tl.Logger.Error("query failed", "address", "DMM")

	tl.AssertContains(t, "node started")
	tl.AssertAttrValue(t, "node started", "run", "run-1")
	tl.AssertAttrValue(t, "node started", "node.id", int64(3))
	if got := tl.CountLevel(slog.LevelError); got != 1 {
		t.Errorf("CountLevel(error) = %d, want 1", got)
	}
	if len(tl.Containing("missing")) != 0 {
		t.Error("Containing should not match unrelated messages")
	}
}

func TestClock(t *testing.T) {
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	c := NewClock(start)

	if err := c.Sleep(context.Background(), time.Second); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Sleep(ctx, 2*time.Second); err == nil {
		t.Error("Sleep() on a cancelled context should fail")
	}
	if got := c.Slept(); len(got) != 2 || got[1] != 2*time.Second {
		t.Errorf("Slept() = %v", got)
	}
	if !c.Now().Equal(start) {
		t.Error("Sleep should not move the clock")
	}
	c.Advance(time.Minute)
	if !c.Now().Equal(start.Add(time.Minute)) {
		t.Errorf("Now() after Advance = %v", c.Now())
	}
}
