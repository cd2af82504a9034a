package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atoms-stack/testflow/internal/config"
	"github.com/atoms-stack/testflow/internal/runstore"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose bool
	workDir string
)

// Exit codes
const (
	ExitSuccess   = 0
	ExitFailed    = 1
	ExitStopped   = 2
	ExitNotFound  = 3
	ExitNoMatches = 4
)

// ExitError carries a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

var rootCmd = &cobra.Command{
	Use:   "testflow",
	Short: "TestFlow - instrument test scripts as control-flow graphs",
	Long: `TestFlow runs .atoms test-automation scripts against lab instruments.

A script is a sequence of nodes joined by explicit successor references,
counted loops, conditional branches and reusable workflows. Every loop pass
produces one row in a CSV result stream next to a per-run log file.

A running script can be paused, resumed or stopped from another terminal
through its run-state token.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")

	// Version flag
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("testflow {{.Version}}\n")
}

// getWorkDir returns the effective working directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}

// loadConfig loads the layered configuration for dir. --verbose forces
// debug logging.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	return cfg, nil
}

// openStore opens the run manifest store configured for dir.
func openStore(cfg *config.Config, dir string) (*runstore.Store, error) {
	store, err := runstore.NewStore(cfg.RunsDir(dir))
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	return store, nil
}
