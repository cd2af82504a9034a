package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atoms-stack/testflow/internal/config"
	"github.com/atoms-stack/testflow/internal/engine"
	"github.com/atoms-stack/testflow/internal/script"
)

func TestRunInit_CreatesStructure(t *testing.T) {
	dir := setupProject(t)
	out := capture(t, initCmd)

	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	for _, path := range []string{
		filepath.Join(dir, ".testflow", "config.toml"),
		filepath.Join(dir, ".testflow", "sim.yaml"),
		filepath.Join(dir, ".testflow", "runs"),
		filepath.Join(dir, "example.atoms"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config is invalid: %v", err)
	}
	if cfg.SimFile(dir) != filepath.Join(dir, ".testflow", "sim.yaml") {
		t.Errorf("SimFile = %q", cfg.SimFile(dir))
	}
	if cfg.Engine.PauseTick != config.Default().Engine.PauseTick {
		t.Errorf("PauseTick = %v", cfg.Engine.PauseTick)
	}

	if !strings.Contains(out.String(), "Initialized TestFlow project") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunInit_ExampleScriptCompiles(t *testing.T) {
	dir := setupProject(t)
	capture(t, initCmd)
	if err := runInit(initCmd, nil); err != nil {
		t.Fatal(err)
	}

	prog, err := engine.Load(filepath.Join(dir, "example.atoms"), script.Options{CaseSensitive: true})
	if err != nil {
		t.Fatalf("example script does not compile: %v", err)
	}
	if len(prog.Graph.Warnings) != 0 {
		t.Errorf("example script warnings: %v", prog.Graph.Warnings)
	}
	if _, ok := prog.Graph.Workflows.Lookup("zero"); !ok {
		t.Error("example workflow not captured")
	}
}

func TestRunInit_AlreadyInitialized(t *testing.T) {
	dir := setupProject(t)
	os.MkdirAll(filepath.Join(dir, ".testflow"), 0755)

	err := runInit(initCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "already initialized") {
		t.Errorf("error = %v", err)
	}
}
