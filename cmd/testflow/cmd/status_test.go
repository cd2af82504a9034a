package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/atoms-stack/testflow/internal/runstore"
	"github.com/atoms-stack/testflow/internal/status"
)

func resetStatusFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		statusJSON, statusWatch, statusAll, statusQuiet, statusStrict = false, false, false, false, false
		statusFilter, statusScript = "", ""
		statusNoColor = false
	})
}

func TestDisplayStatus_ActiveRunShowsDetail(t *testing.T) {
	dir := setupProject(t)
	resetStatusFlags(t)
	store, _ := seedRun(t, dir, "run-active01", true)
	statusNoColor = true

	var out bytes.Buffer
	if err := displayStatus(context.Background(), &out, store, ""); err != nil {
		t.Fatalf("displayStatus failed: %v", err)
	}
	if !strings.Contains(out.String(), "Run:      run-active01") {
		t.Errorf("single active run should be shown in detail, got:\n%s", out.String())
	}
}

func TestDisplayStatus_ListAndFilter(t *testing.T) {
	dir := setupProject(t)
	resetStatusFlags(t)
	store, done := seedRun(t, dir, "run-done0001", false)
	done.Finish(runstore.StatusCompleted, 4, 4, 2, nil, done.StartedAt.Add(time.Minute))
	if err := store.Save(context.Background(), done); err != nil {
		t.Fatal(err)
	}
	seedRun(t, dir, "run-orphan02", false)

	var out bytes.Buffer
	statusAll = true
	if err := displayStatus(context.Background(), &out, store, ""); err != nil {
		t.Fatalf("displayStatus failed: %v", err)
	}
	if !strings.Contains(out.String(), "Found 2 run(s)") || !strings.Contains(out.String(), "(orphaned)") {
		t.Errorf("list output:\n%s", out.String())
	}

	out.Reset()
	statusAll, statusFilter, statusJSON = false, "completed", true
	if err := displayStatus(context.Background(), &out, store, ""); err != nil {
		t.Fatalf("displayStatus failed: %v", err)
	}
	var got []*status.RunSummary
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if len(got) != 1 || got[0].ID != "run-done0001" || got[0].Rows != 2 {
		t.Errorf("filtered runs = %+v", got)
	}

	statusFilter = "bogus"
	if err := displayStatus(context.Background(), &out, store, ""); err == nil {
		t.Error("invalid filter should fail")
	}
}

func TestDisplayStatus_Strict(t *testing.T) {
	dir := setupProject(t)
	resetStatusFlags(t)
	store, _ := seedRun(t, dir, "run-x", true)
	statusStrict, statusFilter = true, "failed"

	var out bytes.Buffer
	err := displayStatus(context.Background(), &out, store, "")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitNoMatches {
		t.Errorf("error = %v, want ExitError(%d)", err, ExitNoMatches)
	}
}

func TestDisplayStatus_UnknownRun(t *testing.T) {
	dir := setupProject(t)
	resetStatusFlags(t)
	store, _ := seedRun(t, dir, "run-x", true)

	var out bytes.Buffer
	err := displayStatus(context.Background(), &out, store, "run-zzz")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitNotFound {
		t.Errorf("error = %v, want ExitError(%d)", err, ExitNotFound)
	}
}
