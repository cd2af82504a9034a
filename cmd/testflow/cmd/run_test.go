package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atoms-stack/testflow/internal/results"
	"github.com/atoms-stack/testflow/internal/runstore"
)

const sweepScript = `#START_SCRIPT
Loop_start(1):2
Variable:volt
Range:(1,2),(1,2,1)
#NODE1
INST::TCPIP0::10.0.0.5::INSTR
CMD:VOLT ${volt}
#ACTION:(Meas)
QRY:MEAS?
#END_NODE1
Loop_end(1)
#END_SCRIPT`

const sweepSim = `instruments:
  "TCPIP0::10.0.0.5::INSTR":
    replies:
      "MEAS?": ["1.5", "2.5"]
`

const fastConfig = `[engine]
query_settle = "0s"

[results]
write_backoff = "0s"

[transport]
sim_file = "sim.yaml"
`

func resetRunFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		runOutput, runDebug, runCaseInsensitive = "", false, false
		runTransport, runSimFile, runVars = "", "", nil
		if f := runCmd.Flags().Lookup("transport"); f != nil {
			f.Changed = false
		}
	})
}

func setupRunProject(t *testing.T) string {
	t.Helper()
	dir := setupProject(t)
	resetRunFlags(t)
	os.MkdirAll(filepath.Join(dir, ".testflow"), 0755)
	if err := os.WriteFile(filepath.Join(dir, ".testflow", "config.toml"), []byte(fastConfig), 0644); err != nil {
		t.Fatal(err)
	}
	writeScript(t, dir, "sim.yaml", sweepSim)
	writeScript(t, dir, "sweep.atoms", sweepScript)
	return dir
}

func onlyRun(t *testing.T, dir string) *runstore.Manifest {
	t.Helper()
	store, err := runstore.NewStore(filepath.Join(dir, ".testflow", "runs"))
	if err != nil {
		t.Fatal(err)
	}
	runs, err := store.List(context.Background(), runstore.Filter{})
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %d, %v; want exactly 1", len(runs), err)
	}
	return runs[0]
}

func TestRunRun_CompletesAndRecords(t *testing.T) {
	dir := setupRunProject(t)
	out := capture(t, runCmd)

	if err := runRun(runCmd, []string{"sweep.atoms"}); err != nil {
		t.Fatalf("runRun failed: %v", err)
	}

	m := onlyRun(t, dir)
	if m.Status != runstore.StatusCompleted || m.Rows != 2 || m.Steps != 2 || m.PID != 0 {
		t.Errorf("manifest = %+v", m)
	}
	if !strings.HasPrefix(m.Dir, filepath.Join(dir, "results", "sweep_")) {
		t.Errorf("run dir = %q", m.Dir)
	}

	header, rows, err := results.ReadCSV(m.ResultPath)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	col := -1
	for i, name := range header {
		if name == "Meas(N1|A1)" {
			col = i
		}
	}
	if col < 0 || len(rows) != 2 {
		t.Fatalf("header = %v, rows = %d", header, len(rows))
	}
	if rows[0][col] != "1.5" || rows[1][col] != "2.5" {
		t.Errorf("Meas column = %q, %q", rows[0][col], rows[1][col])
	}

	if _, err := os.Stat(m.LogPath); err != nil {
		t.Errorf("run log missing: %v", err)
	}
	if _, err := os.Stat(m.TokenPath); !os.IsNotExist(err) {
		t.Error("run-state token should be removed after the run")
	}
	if !strings.Contains(out.String(), "completed (2/2 steps, 2 rows)") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunRun_VarOverride(t *testing.T) {
	dir := setupRunProject(t)
	capture(t, runCmd)
	// outside any loop the override survives to the first use
	writeScript(t, dir, "single.atoms", `#START_SCRIPT
Variable:volt
Range:(1,1),1
#NODE1
INST::TCPIP0::10.0.0.5::INSTR
#ACTION:(Meas)
QRY:MEAS?
#END_NODE1
#END_SCRIPT`)
	runVars = []string{"volt=7.5"}

	if err := runRun(runCmd, []string{"single.atoms"}); err != nil {
		t.Fatalf("runRun failed: %v", err)
	}
	m := onlyRun(t, dir)
	header, rows, err := results.ReadCSV(m.ResultPath)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ReadCSV = %d rows, %v", len(rows), err)
	}
	for i, name := range header {
		if name == "volt" && rows[0][i] != "7.5" {
			t.Errorf("volt = %q, want 7.5", rows[0][i])
		}
	}
}

func TestRunRun_Errors(t *testing.T) {
	t.Run("unknown variable override", func(t *testing.T) {
		setupRunProject(t)
		runVars = []string{"nope=1"}
		err := runRun(runCmd, []string{"sweep.atoms"})
		if err == nil || !strings.Contains(err.Error(), "nope") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("malformed variable flag", func(t *testing.T) {
		setupRunProject(t)
		runVars = []string{"novalue"}
		if err := runRun(runCmd, []string{"sweep.atoms"}); err == nil {
			t.Error("expected error for malformed --var")
		}
	})

	t.Run("missing script", func(t *testing.T) {
		setupRunProject(t)
		if err := runRun(runCmd, []string{"missing.atoms"}); err == nil {
			t.Error("expected error for missing script")
		}
	})

	t.Run("unknown transport", func(t *testing.T) {
		setupRunProject(t)
		runCmd.Flags().Set("transport", "carrier-pigeon")
		err := runRun(runCmd, []string{"sweep.atoms"})
		if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
			t.Errorf("error = %v", err)
		}
	})
}

func TestRunRun_FailedRunExitCode(t *testing.T) {
	dir := setupRunProject(t)
	capture(t, runCmd)
	writeScript(t, dir, "dangling.atoms", `#START_SCRIPT
#NODE1
CMD:*RST
#END_NODE1(N9)
#END_SCRIPT`)

	err := runRun(runCmd, []string{"dangling.atoms"})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitFailed {
		t.Fatalf("error = %v, want ExitError(%d)", err, ExitFailed)
	}
	m := onlyRun(t, dir)
	if m.Status != runstore.StatusFailed || !strings.Contains(m.Error, "SCRIPT_002") {
		t.Errorf("manifest = %s, error %q", m.Status, m.Error)
	}
	if len(m.Warnings) == 0 {
		t.Error("dangling reference should be recorded as a warning")
	}
}

func TestParseVars(t *testing.T) {
	got, err := parseVars([]string{"a=1", " b =x=y", "c="})
	if err != nil {
		t.Fatal(err)
	}
	if got["a"] != "1" || got["b"] != "x=y" || got["c"] != "" {
		t.Errorf("parseVars() = %v", got)
	}
	if _, err := parseVars([]string{"=1"}); err == nil {
		t.Error("empty name should fail")
	}
}
