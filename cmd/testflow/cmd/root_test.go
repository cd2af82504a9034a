package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

// setupProject points the CLI at a fresh project directory and isolates it
// from the user's global config.
func setupProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	prev := workDir
	workDir = dir
	t.Cleanup(func() { workDir = prev })
	return dir
}

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

// capture wires a buffer to cmd's output.
func capture(t *testing.T, cmd *cobra.Command) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	t.Cleanup(func() { cmd.SetOut(nil) })
	return &buf
}

func TestRootCmdFlags(t *testing.T) {
	// Test that global flags are registered
	if rootCmd.PersistentFlags().Lookup("verbose") == nil {
		t.Error("--verbose flag not found")
	}
	if rootCmd.PersistentFlags().Lookup("workdir") == nil {
		t.Error("--workdir flag not found")
	}
	if rootCmd.Version == "" {
		t.Error("version should be set")
	}
}

func TestRootCmdSubcommands(t *testing.T) {
	want := []string{"run", "validate", "status", "pause", "resume", "stop", "init"}
	for _, name := range want {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected %q to be a subcommand", name)
		}
	}
}

func TestRunCmdFlags(t *testing.T) {
	for _, name := range []string{"output", "debug", "case-insensitive", "transport", "sim-file", "var"} {
		if runCmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag not found", name)
		}
	}
	if f := runCmd.Flags().ShorthandLookup("o"); f == nil || f.Name != "output" {
		t.Error("-o should be shorthand for --output")
	}
}

func TestGetWorkDir(t *testing.T) {
	prev := workDir
	defer func() { workDir = prev }()

	workDir = "/tmp/project"
	if got, _ := getWorkDir(); got != "/tmp/project" {
		t.Errorf("getWorkDir() = %q, want /tmp/project", got)
	}
	workDir = ""
	cwd, _ := os.Getwd()
	if got, _ := getWorkDir(); got != cwd {
		t.Errorf("getWorkDir() = %q, want %q", got, cwd)
	}
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: ExitStopped, Message: "stopped"}
	if err.Error() != "stopped" {
		t.Errorf("Error() = %q", err.Error())
	}
}
