package status

import (
	"strings"
	"testing"
	"time"

	"github.com/atoms-stack/testflow/internal/runstore"
)

func TestFormatDetailedRun(t *testing.T) {
	now := time.Now()
	summary := &RunSummary{
		ID:         "run-1a2b3c4d",
		Script:     "/lab/sweep.atoms",
		Status:     runstore.StatusRunning,
		StartedAt:  now.Add(-2 * time.Minute),
		Duration:   2 * time.Minute,
		Steps:      5,
		Total:      10,
		Rows:       3,
		ResultPath: "/lab/results/sweep_2026-10-14_09-00-00/sweep.csv",
		LogPath:    "/lab/results/sweep_2026-10-14_09-00-00/sweep.log",
		Warnings:   []string{"line 7: node 2 redeclared"},
	}

	output := FormatDetailedRun(summary, FormatOptions{NoColor: true})

	for _, want := range []string{
		"run-1a2b3c4d",
		"/lab/sweep.atoms",
		"running",
		"Progress:",
		"50%",
		"5/10 steps, 3 rows",
		"sweep.csv",
		"Warnings:",
		"node 2 redeclared",
		"(2m0s ago)",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q, got:\n%s", want, output)
		}
	}
	if strings.Contains(output, "\033[") {
		t.Error("NoColor output contains escape sequences")
	}
}

func TestFormatDetailedRun_Failed(t *testing.T) {
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	done := start.Add(90 * time.Second)
	summary := &RunSummary{
		ID:        "run-f",
		Status:    runstore.StatusFailed,
		StartedAt: start,
		DoneAt:    &done,
		Duration:  90 * time.Second,
		Error:     "[SCRIPT_002] unresolved reference",
	}

	output := FormatDetailedRun(summary, FormatOptions{NoColor: true, Quiet: true})

	if !strings.Contains(output, "Finished: 2026-10-14 09:01:30 (took 1m30s)") {
		t.Errorf("output should show finish time, got:\n%s", output)
	}
	if !strings.Contains(output, "SCRIPT_002") {
		t.Error("output should contain the error")
	}
	if strings.Contains(output, "Results:") {
		t.Error("quiet output should omit paths")
	}
}

func TestFormatRunList(t *testing.T) {
	now := time.Now()
	done := now.Add(-10 * time.Minute)
	summaries := []*RunSummary{
		{
			ID:        "run-001",
			Script:    "/lab/sweep.atoms",
			Status:    runstore.StatusRunning,
			StartedAt: now.Add(-1 * time.Hour),
			Steps:     5,
			Total:     10,
			Orphaned:  true,
		},
		{
			ID:        "run-002",
			Script:    "/lab/burnin.atoms",
			Status:    runstore.StatusCompleted,
			StartedAt: now.Add(-30 * time.Minute),
			DoneAt:    &done,
			Duration:  20 * time.Minute,
			Steps:     5,
			Total:     5,
		},
	}

	output := FormatRunList(summaries, FormatOptions{NoColor: true})

	if !strings.Contains(output, "Found 2 run(s)") {
		t.Error("output should show run count")
	}
	if strings.Index(output, "run-002") > strings.Index(output, "run-001") {
		t.Error("newest run should come first")
	}
	for _, want := range []string{"sweep.atoms", "burnin.atoms", "(orphaned)", "Duration: 20m0s"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q", want)
		}
	}
}

func TestFormatProgress(t *testing.T) {
	tests := []struct {
		name           string
		steps, total   int
		wantPercentage string
	}{
		{"0%", 0, 10, " 0%"},
		{"50%", 5, 10, " 50%"},
		{"100%", 10, 10, " 100%"},
		{"overrun capped", 12, 10, " 100%"},
		{"no total", 3, 0, " 0%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := formatProgress(&RunSummary{Steps: tt.steps, Total: tt.total})
			if !strings.Contains(output, tt.wantPercentage) {
				t.Errorf("expected percentage %s in output, got: %s", tt.wantPercentage, output)
			}
		})
	}
}

func TestGetStatusIcon(t *testing.T) {
	tests := []struct {
		status runstore.Status
		want   string
	}{
		{runstore.StatusRunning, "●"},
		{runstore.StatusCompleted, "✓"},
		{runstore.StatusFailed, "✗"},
		{runstore.StatusStopped, "■"},
		{runstore.Status("bogus"), "?"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := getStatusIcon(tt.status); got != tt.want {
				t.Errorf("expected icon %s for status %s, got %s", tt.want, tt.status, got)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{250 * time.Millisecond, "250ms"},
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m30s"},
		{3700 * time.Second, "1h1m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
