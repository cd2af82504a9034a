package status

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/atoms-stack/testflow/internal/runstore"
)

// FormatOptions controls output formatting.
type FormatOptions struct {
	NoColor bool
	Quiet   bool
}

// FormatDetailedRun formats a single run with full details.
func FormatDetailedRun(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	// Header
	b.WriteString(formatHeader(summary, opts))
	b.WriteString("\n\n")

	// Progress
	b.WriteString(formatProgress(summary))
	b.WriteString("\n\n")

	if !opts.Quiet {
		b.WriteString(fmt.Sprintf("Results:  %s\n", summary.ResultPath))
		b.WriteString(fmt.Sprintf("Log:      %s\n", summary.LogPath))
		b.WriteString("\n")
	}

	if len(summary.Warnings) > 0 && !opts.Quiet {
		b.WriteString(formatWarnings(summary.Warnings, opts))
		b.WriteString("\n")
	}

	if summary.Error != "" {
		errColor := getColor("red", opts.NoColor)
		reset := resetColor(opts.NoColor)
		b.WriteString(fmt.Sprintf("%sError:%s\n  %s✗%s %s\n", errColor, reset, errColor, reset, summary.Error))
	}

	return b.String()
}

// FormatRunList formats a list of runs.
func FormatRunList(summaries []*RunSummary, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Found %d run(s):\n\n", len(summaries)))

	// Sort by started time (newest first)
	sorted := make([]*RunSummary, len(summaries))
	copy(sorted, summaries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})

	for i, summary := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(formatRunListItem(summary, opts))
	}

	return b.String()
}

// FormatScript formats the static analysis of a script.
func FormatScript(summary *ScriptSummary, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Script:   %s\n", summary.Script))
	b.WriteString(fmt.Sprintf("Window:   lines %d-%d\n", summary.Window[0], summary.Window[1]))
	b.WriteString(fmt.Sprintf("Steps:    %d\n", summary.Total))
	if summary.Wait > 0 {
		b.WriteString(fmt.Sprintf("Waits:    %s\n", formatDuration(summary.Wait)))
	}

	if !opts.Quiet {
		b.WriteString(fmt.Sprintf("\nNodes (%d):\n", len(summary.Nodes)))
		for _, n := range summary.Nodes {
			line := fmt.Sprintf("  #NODE%-4d %-11s line %d, %d action(s)", n.ID, n.Kind, n.Line, n.Actions)
			if n.Type != "" {
				line += ", " + n.Type
			}
			if n.Loop != 0 {
				line += fmt.Sprintf(", in loop %d", n.Loop)
			}
			b.WriteString(line + "\n")
		}

		if len(summary.Loops) > 0 {
			b.WriteString(fmt.Sprintf("\nLoops (%d):\n", len(summary.Loops)))
			for _, lp := range summary.Loops {
				line := fmt.Sprintf("  Loop(%d) x%d at line %d", lp.ID, lp.Iterations, lp.Line)
				if lp.Parent != 0 {
					line += fmt.Sprintf(", inside loop %d", lp.Parent)
				}
				b.WriteString(line + "\n")
			}
		}

		if len(summary.Variables) > 0 {
			b.WriteString(fmt.Sprintf("\nVariables: %s\n", strings.Join(summary.Variables, ", ")))
		}
		if len(summary.Workflows) > 0 {
			b.WriteString(fmt.Sprintf("Workflows: %s\n", strings.Join(summary.Workflows, ", ")))
		}
		if len(summary.Addresses) > 0 {
			b.WriteString("\nInstruments:\n")
			for _, a := range summary.Addresses {
				b.WriteString("  " + a + "\n")
			}
		}

		b.WriteString(fmt.Sprintf("\nColumns: %s\n", strings.Join(summary.Columns, ", ")))
	}

	if len(summary.Warnings) > 0 {
		b.WriteString("\n")
		b.WriteString(formatWarnings(summary.Warnings, opts))
	}

	return b.String()
}

func formatHeader(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	statusIcon := getStatusIcon(summary.Status)
	statusColor := getStatusColor(summary.Status, opts.NoColor)

	b.WriteString(fmt.Sprintf("Run:      %s\n", summary.ID))
	b.WriteString(fmt.Sprintf("Script:   %s\n", summary.Script))
	b.WriteString(fmt.Sprintf("Status:   %s%s %s%s", statusColor, statusIcon, summary.Status, resetColor(opts.NoColor)))
	if summary.Orphaned {
		b.WriteString(" (orphaned)")
	}
	b.WriteString(fmt.Sprintf("\nStarted:  %s", formatTime(summary.StartedAt)))

	if summary.DoneAt != nil {
		b.WriteString(fmt.Sprintf("\nFinished: %s", formatTime(*summary.DoneAt)))
		b.WriteString(fmt.Sprintf(" (took %s)", formatDuration(summary.Duration)))
	} else {
		b.WriteString(fmt.Sprintf(" (%s ago)", formatDuration(summary.Duration)))
	}

	return b.String()
}

func formatProgress(summary *RunSummary) string {
	percentage := summary.Percent()

	// Progress bar (25 characters wide)
	barWidth := 25
	filled := (percentage * barWidth) / 100
	empty := barWidth - filled

	progressBar := strings.Repeat("█", filled) + strings.Repeat("░", empty)

	return fmt.Sprintf("Progress: %s %d%% (%d/%d steps, %d rows)",
		progressBar, percentage, summary.Steps, summary.Total, summary.Rows)
}

func formatWarnings(warnings []string, opts FormatOptions) string {
	var b strings.Builder

	color := getColor("yellow", opts.NoColor)
	reset := resetColor(opts.NoColor)

	b.WriteString(fmt.Sprintf("%sWarnings:%s\n", color, reset))
	for _, w := range warnings {
		b.WriteString(fmt.Sprintf("  %s⚠%s %s\n", color, reset, w))
	}

	return b.String()
}

func formatRunListItem(summary *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	statusIcon := getStatusIcon(summary.Status)
	statusColor := getStatusColor(summary.Status, opts.NoColor)

	b.WriteString(fmt.Sprintf("%s%s %s%s", statusColor, statusIcon, summary.ID, resetColor(opts.NoColor)))

	if !opts.Quiet {
		b.WriteString(fmt.Sprintf("\n  Script:   %s", filepath.Base(summary.Script)))
		b.WriteString(fmt.Sprintf("\n  Status:   %s%s%s", statusColor, summary.Status, resetColor(opts.NoColor)))
		if summary.Orphaned {
			b.WriteString(" (orphaned)")
		}
		b.WriteString(fmt.Sprintf("\n  Progress: %d/%d steps", summary.Steps, summary.Total))

		if summary.DoneAt != nil {
			b.WriteString(fmt.Sprintf("\n  Duration: %s", formatDuration(summary.Duration)))
		} else {
			b.WriteString(fmt.Sprintf("\n  Running:  %s", formatDuration(summary.Duration)))
		}
	}

	return b.String()
}

// Formatting helpers

func getStatusIcon(status runstore.Status) string {
	switch status {
	case runstore.StatusRunning:
		return "●"
	case runstore.StatusCompleted:
		return "✓"
	case runstore.StatusFailed:
		return "✗"
	case runstore.StatusStopped:
		return "■"
	default:
		return "?"
	}
}

func getStatusColor(status runstore.Status, noColor bool) string {
	if noColor {
		return ""
	}

	switch status {
	case runstore.StatusRunning:
		return "\033[33m" // Yellow
	case runstore.StatusCompleted:
		return "\033[32m" // Green
	case runstore.StatusFailed:
		return "\033[31m" // Red
	case runstore.StatusStopped:
		return "\033[90m" // Gray
	default:
		return ""
	}
}

func getColor(name string, noColor bool) string {
	if noColor {
		return ""
	}

	switch name {
	case "red":
		return "\033[31m"
	case "green":
		return "\033[32m"
	case "yellow":
		return "\033[33m"
	case "gray":
		return "\033[90m"
	default:
		return ""
	}
}

func resetColor(noColor bool) string {
	if noColor {
		return ""
	}
	return "\033[0m"
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d < time.Second && d > 0 {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
