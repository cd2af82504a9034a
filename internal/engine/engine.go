package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/atoms-stack/testflow/internal/config"
	"github.com/atoms-stack/testflow/internal/control"
	tferrors "github.com/atoms-stack/testflow/internal/errors"
	"github.com/atoms-stack/testflow/internal/logging"
	"github.com/atoms-stack/testflow/internal/results"
	"github.com/atoms-stack/testflow/internal/script"
	"github.com/atoms-stack/testflow/internal/transport"
)

// errStop unwinds the walk when the run-state or the context asks to stop.
var errStop = errors.New("stop requested")

// StepHook is called after every node end when debugging. Returning an error
// stops the run.
type StepHook func(ctx context.Context, snap Snapshot) error

// Options tunes the interpreter.
type Options struct {
	CaseSensitive    bool
	PauseTick        time.Duration
	QuerySettle      time.Duration
	DefaultDelay     time.Duration
	MaxWorkflowDepth int
	FlushEveryRow    bool
	Debug            bool
}

// OptionsFromConfig maps configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CaseSensitive:    cfg.Engine.CaseSensitive,
		PauseTick:        cfg.Engine.PauseTick,
		QuerySettle:      cfg.Engine.QuerySettle,
		DefaultDelay:     cfg.Engine.DefaultDelay,
		MaxWorkflowDepth: cfg.Engine.MaxWorkflowDepth,
		FlushEveryRow:    cfg.Results.FlushEveryRow,
	}
}

// Deps are the collaborators of an engine.
type Deps struct {
	Instrument transport.Transport
	Serial     transport.Transport // SER: lines; falls back to Instrument
	RunState   control.RunState
	Artifacts  results.Artifacts
	Sink       results.Sink // nil keeps results in memory only
	Hook       StepHook

	// Now and Sleep are replaceable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine runs one program. It is single-threaded and not reusable.
type Engine struct {
	prog      *Program
	opts      Options
	deps      Deps
	workflows *script.Workflows
	name      string // workflow name, empty for the top-level script
	depth     int
	rec       *results.Recorder
	state     *State
	logger    *slog.Logger
}

// New creates an engine for prog.
func New(prog *Program, opts Options, deps Deps, logger *slog.Logger) *Engine {
	if deps.Serial == nil {
		deps.Serial = deps.Instrument
	}
	if deps.RunState == nil {
		deps.RunState = control.NewMemory()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	if logger == nil {
		logger = logging.NewForTest()
	}
	if opts.PauseTick <= 0 {
		opts.PauseTick = time.Second
	}
	return &Engine{
		prog:      prog,
		opts:      opts,
		deps:      deps,
		workflows: prog.Graph.Workflows,
		rec:       results.NewRecorder(prog.Schema, deps.Sink),
		state:     newState(prog.Total),
		logger:    logger,
	}
}

// Recorder returns the engine's result stream.
func (e *Engine) Recorder() *results.Recorder { return e.rec }

// State returns the live execution state.
func (e *Engine) State() *State { return e.state }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the program until a terminal reference, the end of the
// window, a stop request or a fatal error. The returned error is the fatal
// error of a failed run.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	g := e.prog.Graph
	top := e.depth == 0

	for _, w := range g.Warnings {
		e.logger.Warn("script warning", "line", w.Line+1, "warning", w.Message)
	}
	if top {
		if err := e.deps.RunState.Set(ctx, control.Running); err != nil {
			e.logger.Warn("cannot write run state", "error", err)
		}
	}
	e.logger.Info("run started", "total_steps", e.state.Total, "columns", e.rec.Schema().Len())

	status, runErr := e.walk(ctx)

	if err := e.completeRow(); err != nil && runErr == nil {
		status, runErr = StatusFailed, err
	}
	if top {
		if err := e.rec.Flush(); err != nil && runErr == nil {
			status, runErr = StatusFailed, err
		}
		if err := e.deps.RunState.Clear(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("cannot remove run state", "error", err)
		}
	}

	res := &Result{
		Status:   status,
		Err:      runErr,
		Steps:    e.state.Steps,
		Total:    e.state.Total,
		Rows:     e.rec.Len(),
		Warnings: g.Warnings,
	}
	switch status {
	case StatusFailed:
		e.logger.Error("run failed", "error", runErr, "steps", res.Steps, "rows", res.Rows)
	case StatusStopped:
		e.logger.Warn("run stopped", "steps", res.Steps, "rows", res.Rows)
	default:
		e.logger.Info("run completed", "steps", res.Steps, "rows", res.Rows)
	}
	return res, runErr
}

// walk is the dispatch loop.
func (e *Engine) walk(ctx context.Context) (Status, error) {
	g := e.prog.Graph
	e.state.PC = g.Window.Start + 1
	for {
		if e.state.PC >= g.Window.End || e.state.PC <= g.Window.Start {
			return StatusCompleted, nil
		}
		in := g.Instructions[e.state.PC]
		next, err := e.dispatch(ctx, in)
		switch {
		case errors.Is(err, errStop):
			return StatusStopped, nil
		case errors.Is(err, errHalt):
			return StatusCompleted, nil
		case err != nil:
			return StatusFailed, err
		}
		e.state.PC = next
	}
}

// errHalt signals a terminal reference.
var errHalt = errors.New("terminal reached")

// jump turns a resolved reference into the next program counter.
func (e *Engine) jump(ref script.Reference, from int) (int, error) {
	if ref.Kind == script.RefNone || !ref.Resolved {
		return 0, tferrors.UnresolvedReference(from+1, ref.String())
	}
	if ref.IsTerminal() {
		return 0, errHalt
	}
	return ref.Line, nil
}

// checkpoint consults the run-state. A pause blocks on the configured tick
// until resume or stop is observed.
func (e *Engine) checkpoint(ctx context.Context) error {
	paused := false
	for {
		if ctx.Err() != nil {
			return errStop
		}
		st, err := e.deps.RunState.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return errStop
			}
			e.logger.Warn("cannot read run state", "error", err)
			return nil
		}
		switch st {
		case control.Stop:
			e.logger.Info("stop requested")
			return errStop
		case control.Resume:
			// last write wins: a stop landing between this re-read and the
			// Running rewrite is still lost
			if again, err := e.deps.RunState.Poll(ctx); err == nil && again == control.Stop {
				e.logger.Info("stop requested")
				return errStop
			}
			e.logger.Info("run resumed")
			if err := e.deps.RunState.Set(ctx, control.Running); err != nil {
				e.logger.Warn("cannot write run state", "error", err)
			}
			return nil
		case control.Pause:
			if !paused {
				paused = true
				e.logger.Info("run paused")
			}
			if err := e.deps.Sleep(ctx, e.opts.PauseTick); err != nil {
				return errStop
			}
		default:
			if paused {
				e.logger.Info("run resumed")
			}
			return nil
		}
	}
}

// record writes a measurement into the current row.
func (e *Engine) record(column, value string) {
	if err := e.rec.Set(e.state.Row, column, value); err != nil {
		e.logger.Warn("cannot record value", "column", column, "error", err)
		return
	}
	e.state.rowDirty = true
}

// completeRow stamps the row index, loop counters, variables and time onto
// the current row and moves to the next one.
func (e *Engine) completeRow() error {
	if !e.state.rowDirty {
		return nil
	}
	st := e.state
	st.Cycle++
	schema := e.rec.Schema()
	now := e.deps.Now()

	for i, col := range schema.Columns {
		var v string
		switch col.Kind {
		case results.ColRow:
			v = strconv.Itoa(st.Cycle)
		case results.ColLoop:
			if it := st.iterations[col.Loop]; it > 0 {
				v = strconv.Itoa(it)
			}
		case results.ColVariable:
			if variable, ok := e.prog.Vars.Lookup(col.Name); ok {
				v, _ = variable.Current()
			}
		case results.ColDate:
			v = now.Format("2006-01-02")
		case results.ColTime:
			v = now.Format("15:04:05")
		default:
			continue
		}
		if v == "" {
			continue
		}
		if err := e.rec.SetAt(st.Row, i, v); err != nil {
			return err
		}
	}

	st.Row++
	st.rowDirty = false
	if e.depth == 0 && e.opts.FlushEveryRow {
		if err := e.rec.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// snapshot captures the state for the step hook.
func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		Workflow: e.name,
		Depth:    e.depth,
		Step:     e.state.Steps,
		Total:    e.state.Total,
		Row:      e.state.Row,
	}
	if e.state.Node != nil {
		snap.Node = e.state.Node.ID
	}
	return snap
}

func progress(st *State) string {
	return fmt.Sprintf("%.1f%%", st.Progress()*100)
}
