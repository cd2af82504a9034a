package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/atoms-stack/testflow/internal/control"
	"github.com/atoms-stack/testflow/internal/results"
	"github.com/atoms-stack/testflow/internal/runstore"
)

func newControlCmd(state control.State, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   string(state) + " <run-id|run-dir>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, args[0], state)
		},
	}
}

func init() {
	rootCmd.AddCommand(
		newControlCmd(control.Pause, "Pause a running script",
			`Pause a running script at its next checkpoint.

The run keeps its place and re-reads the run-state token until it is
resumed or stopped.`),
		newControlCmd(control.Resume, "Resume a paused script",
			`Resume a paused script from where it stopped.`),
		newControlCmd(control.Stop, "Stop a running script",
			`Stop a running script at its next checkpoint.

The partially filled row is kept, the result file is flushed and the run is
recorded as stopped. A run whose process is gone is marked stopped directly.`),
	)
}

func runControl(cmd *cobra.Command, ref string, state control.State) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, dir)
	if err != nil {
		return err
	}

	m, err := store.Resolve(ctx, ref)
	if err != nil {
		// A bare run directory still carries its token
		if info, statErr := os.Stat(ref); statErr == nil && info.IsDir() {
			token := filepath.Join(ref, results.TokenFile)
			if err := control.NewFile(token).Set(ctx, state); err != nil {
				return fmt.Errorf("writing run state: %w", err)
			}
			fmt.Fprintf(out, "Requested %s of %s\n", state, ref)
			return nil
		}
		return &ExitError{Code: ExitNotFound, Message: err.Error()}
	}

	if m.Status.IsTerminal() {
		return fmt.Errorf("run %s is already %s", m.ID, m.Status)
	}

	if !store.IsLocked(m.ID) {
		if state != control.Stop {
			return fmt.Errorf("run %s is orphaned (no process holds it); use 'testflow stop %s' to clean up", m.ID, m.ID)
		}
		m.Finish(runstore.StatusStopped, m.Steps, m.Total, m.Rows, nil, time.Now())
		if err := store.Save(ctx, m); err != nil {
			return fmt.Errorf("updating run: %w", err)
		}
		fmt.Fprintf(out, "Run %s was orphaned; marked stopped\n", m.ID)
		return nil
	}

	if err := control.NewFile(m.TokenPath).Set(ctx, state); err != nil {
		return fmt.Errorf("writing run state: %w", err)
	}
	fmt.Fprintf(out, "Requested %s of run %s\n", state, m.ID)
	if verbose {
		fmt.Fprintf(out, "Token: %s\n", m.TokenPath)
	}
	return nil
}
