package status

import (
	"path/filepath"
	"time"

	"github.com/atoms-stack/testflow/internal/engine"
	"github.com/atoms-stack/testflow/internal/runstore"
)

// RunSummary contains computed information about a run for display.
type RunSummary struct {
	ID         string          `json:"id"`
	Script     string          `json:"script"`
	Status     runstore.Status `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	DoneAt     *time.Time      `json:"done_at,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Steps      int             `json:"steps"`
	Total      int             `json:"total"`
	Rows       int             `json:"rows"`
	ResultPath string          `json:"result_path"`
	LogPath    string          `json:"log_path"`
	Warnings   []string        `json:"warnings,omitempty"`
	Error      string          `json:"error,omitempty"`
	Orphaned   bool            `json:"orphaned,omitempty"`
}

// NewRunSummary creates a summary from a manifest. locked reports whether a
// live process still holds the run's lock.
func NewRunSummary(m *runstore.Manifest, locked bool, now time.Time) *RunSummary {
	return &RunSummary{
		ID:         m.ID,
		Script:     m.Script,
		Status:     m.Status,
		StartedAt:  m.StartedAt,
		DoneAt:     m.DoneAt,
		Duration:   m.Duration(now),
		Steps:      m.Steps,
		Total:      m.Total,
		Rows:       m.Rows,
		ResultPath: m.ResultPath,
		LogPath:    m.LogPath,
		Warnings:   m.Warnings,
		Error:      m.Error,
		Orphaned:   m.Status == runstore.StatusRunning && !locked,
	}
}

// Percent returns the step progress, capped at 100.
func (s *RunSummary) Percent() int {
	if s.Total <= 0 {
		return 0
	}
	p := s.Steps * 100 / s.Total
	if p > 100 {
		p = 100
	}
	return p
}

// NodeSummary describes one node of a script.
type NodeSummary struct {
	ID      int    `json:"id"`
	Kind    string `json:"kind"`
	Line    int    `json:"line"`
	Type    string `json:"type,omitempty"`
	Actions int    `json:"actions"`
	Loop    int    `json:"loop,omitempty"`
}

// LoopSummary describes one loop of a script.
type LoopSummary struct {
	ID         int `json:"id"`
	Iterations int `json:"iterations"`
	Line       int `json:"line"`
	Parent     int `json:"parent,omitempty"`
}

// ScriptSummary is the static analysis of a compiled script.
type ScriptSummary struct {
	Script    string        `json:"script"`
	Window    [2]int        `json:"window"`
	Nodes     []NodeSummary `json:"nodes"`
	Loops     []LoopSummary `json:"loops,omitempty"`
	Variables []string      `json:"variables,omitempty"`
	Workflows []string      `json:"workflows,omitempty"`
	Columns   []string      `json:"columns"`
	Addresses []string      `json:"addresses,omitempty"`
	Total     int           `json:"total_steps"`
	Wait      time.Duration `json:"estimated_wait"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// NewScriptSummary creates a summary from a compiled program. Lines are
// reported 1-based.
func NewScriptSummary(prog *engine.Program) *ScriptSummary {
	g := prog.Graph
	summary := &ScriptSummary{
		Script:    filepath.Base(prog.Path),
		Window:    [2]int{g.Window.Start + 1, g.Window.End + 1},
		Columns:   prog.Schema.Names(),
		Addresses: g.Addresses(),
		Total:     prog.Total,
		Wait:      g.EstimateWait(),
	}

	for _, n := range g.NodeOrder {
		ns := NodeSummary{
			ID:      n.ID,
			Kind:    n.Kind.String(),
			Line:    n.Start + 1,
			Type:    n.Descriptor.Type,
			Actions: len(n.Actions),
		}
		if n.Loop != nil {
			ns.Loop = n.Loop.ID
		}
		summary.Nodes = append(summary.Nodes, ns)
	}

	for _, lp := range g.LoopOrder {
		ls := LoopSummary{ID: lp.ID, Iterations: lp.Iterations, Line: lp.Start + 1}
		if lp.Parent != nil {
			ls.Parent = lp.Parent.ID
		}
		summary.Loops = append(summary.Loops, ls)
	}

	for _, v := range prog.Vars.Variables() {
		summary.Variables = append(summary.Variables, v.Name)
	}
	if g.Workflows != nil {
		summary.Workflows = g.Workflows.Names()
	}
	for _, w := range g.Warnings {
		summary.Warnings = append(summary.Warnings, w.String())
	}

	return summary
}
