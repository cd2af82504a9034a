package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/atoms-stack/testflow/internal/runstore"
	"github.com/atoms-stack/testflow/internal/status"
)

// Status command flags
var (
	statusJSON     bool
	statusWatch    bool
	statusInterval time.Duration
	statusFilter   string
	statusScript   string
	statusAll      bool
	statusQuiet    bool
	statusNoColor  bool
	statusStrict   bool
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status",
	Long: `Display the state of TestFlow runs.

By default, shows only actively running scripts (with lock held), plus any
orphaned runs whose process died without recording an outcome. If exactly
one run is active, shows its detailed status automatically.

With a run ID (or unique prefix, or run directory), shows that run.

Examples:
  testflow status                     # Show active run(s)
  testflow status run-1a2b            # Show detailed status for a run
  testflow status -a                  # Show all runs
  testflow status --filter=failed     # List only failed runs
  testflow status --json              # Output as JSON
  testflow status --watch             # Refresh every 2s (default)`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output as JSON")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Watch mode - refresh periodically")
	statusCmd.Flags().DurationVarP(&statusInterval, "interval", "i", 2*time.Second, "Watch interval")
	statusCmd.Flags().StringVar(&statusFilter, "filter", "", "Filter by status (running, completed, stopped, failed)")
	statusCmd.Flags().StringVar(&statusScript, "script", "", "Filter by script file name")
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "Show all runs (not just active)")
	statusCmd.Flags().BoolVarP(&statusQuiet, "quiet", "q", false, "Minimal output")
	statusCmd.Flags().BoolVar(&statusNoColor, "no-color", false, "Disable colors")
	statusCmd.Flags().BoolVar(&statusStrict, "strict", false, "Exit non-zero when no runs match (for scripts)")
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	var ref string
	if len(args) > 0 {
		ref = args[0]
	}

	out := cmd.OutOrStdout()
	if !statusWatch {
		return displayStatus(cmd.Context(), out, store, ref)
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	// Clear screen before first display
	fmt.Fprint(out, "\033[H\033[2J")
	for {
		// Move cursor to top
		fmt.Fprint(out, "\033[H")
		if err := displayStatus(cmd.Context(), out, store, ref); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n[Refreshing every %s, press Ctrl+C to stop]\n", statusInterval)

		select {
		case <-ticker.C:
		case <-cmd.Context().Done():
			return nil
		}
	}
}

func formatOptions() status.FormatOptions {
	noColor := statusNoColor || statusJSON || !term.IsTerminal(int(os.Stdout.Fd()))
	return status.FormatOptions{NoColor: noColor, Quiet: statusQuiet}
}

func displayStatus(ctx context.Context, out io.Writer, store *runstore.Store, ref string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ref != "" {
		m, err := store.Resolve(ctx, ref)
		if err != nil {
			return &ExitError{Code: ExitNotFound, Message: err.Error()}
		}
		return displayRunDetail(out, store, m)
	}
	return displayRunList(ctx, out, store)
}

func displayRunDetail(out io.Writer, store *runstore.Store, m *runstore.Manifest) error {
	summary := status.NewRunSummary(m, store.IsLocked(m.ID), time.Now())

	if statusJSON {
		return writeJSON(out, summary)
	}
	if summary.Orphaned {
		fmt.Fprintln(out, "⚠ WARNING: This run is orphaned (its process is gone)")
		fmt.Fprintf(out, "  Run 'testflow stop %s' to clean up.\n\n", m.ID)
	}
	fmt.Fprint(out, status.FormatDetailedRun(summary, formatOptions()))
	return nil
}

func displayRunList(ctx context.Context, out io.Writer, store *runstore.Store) error {
	filter := runstore.Filter{Script: statusScript}
	if statusFilter != "" {
		filter.Status = runstore.Status(statusFilter)
		if !filter.Status.Valid() {
			return fmt.Errorf("invalid status filter: %s (use: running, completed, stopped, failed)", statusFilter)
		}
	}

	runs, err := store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	now := time.Now()
	var (
		selected  []*runstore.Manifest
		summaries []*status.RunSummary
	)
	for _, m := range runs {
		s := status.NewRunSummary(m, store.IsLocked(m.ID), now)
		// Active = running with lock held; orphans always need attention
		if !statusAll && statusFilter == "" && s.Status != runstore.StatusRunning {
			continue
		}
		selected = append(selected, m)
		summaries = append(summaries, s)
	}

	if len(summaries) == 0 {
		if statusStrict {
			return &ExitError{Code: ExitNoMatches, Message: "no matching runs"}
		}
		if statusJSON {
			return writeJSON(out, []*status.RunSummary{})
		}
		if statusFilter != "" {
			fmt.Fprintf(out, "No runs with status: %s\n", statusFilter)
		} else if statusAll {
			fmt.Fprintln(out, "No runs found.")
		} else {
			fmt.Fprintln(out, "No active runs.")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Run 'testflow status -a' to see all runs.")
		}
		return nil
	}

	if statusJSON {
		return writeJSON(out, summaries)
	}

	// If only one run, show detailed view automatically
	if len(summaries) == 1 && !statusAll && statusFilter == "" {
		return displayRunDetail(out, store, selected[0])
	}

	fmt.Fprint(out, status.FormatRunList(summaries, formatOptions()))
	return nil
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
