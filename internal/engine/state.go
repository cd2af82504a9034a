package engine

import (
	"github.com/atoms-stack/testflow/internal/script"
)

// Status is the final outcome of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Abnormal reports whether the run did not finish on its own.
func (s Status) Abnormal() bool { return s != StatusCompleted }

// State is the execution state of one engine. Every sub-workflow call gets
// its own.
type State struct {
	PC          int // line about to execute
	Row         int // recorder row receiving measurements
	Cycle       int // completed data rows, written to the N column
	Steps       int
	Total       int
	Node        *script.Node
	ActionIndex int
	ActionTitle string
	Address     string
	LastReply   string

	iterations map[int]int // loop id -> current pass, 0 when not entered
	rowDirty   bool
}

func newState(total int) *State {
	return &State{Total: total, iterations: make(map[int]int)}
}

// Iteration returns the current pass of loop id, 0 when the loop is not
// being executed.
func (s *State) Iteration(id int) int { return s.iterations[id] }

// Progress returns the fraction of expected steps dispatched so far.
func (s *State) Progress() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Steps) / float64(s.Total)
}

// Result summarises a finished run.
type Result struct {
	Status   Status
	Err      error
	Steps    int
	Total    int
	Rows     int
	Warnings []script.Warning
}

// Snapshot is handed to the step hook after every node end.
type Snapshot struct {
	Workflow string
	Depth    int
	Node     int
	Step     int
	Total    int
	Row      int
}
