package engine

import (
	"context"

	tferrors "github.com/atoms-stack/testflow/internal/errors"
	"github.com/atoms-stack/testflow/internal/logging"
	"github.com/atoms-stack/testflow/internal/results"
	"github.com/atoms-stack/testflow/internal/script"
)

// callWorkflow runs a captured block as a nested program and splices its
// header and rows at the current row, followed by a delimiter row and the
// parent header. The child's steps and total both count toward the parent's
// progress.
// An unknown workflow is logged and skipped; exceeding the depth limit ends
// the run.
func (e *Engine) callWorkflow(ctx context.Context, in script.Instruction) error {
	wf, ok := e.workflows.Lookup(in.Name)
	if !ok {
		e.logger.Error("workflow call skipped", "line", in.Line+1, "error", tferrors.WorkflowNotFound(in.Name))
		return nil
	}
	depth := e.depth + 1
	if e.opts.MaxWorkflowDepth > 0 && depth > e.opts.MaxWorkflowDepth {
		return tferrors.WorkflowDepthReached(wf.Name, e.opts.MaxWorkflowDepth)
	}

	prog, err := Compile(wf.Script(), script.Options{CaseSensitive: e.opts.CaseSensitive})
	if err != nil {
		return tferrors.Wrapf(tferrors.Code(err), err, "workflow %s", wf.Name).
			WithDetail("workflow", wf.Name)
	}
	prog.Path = e.prog.Path

	child := e.child(prog, wf.Name, depth)
	child.logger.Info("workflow started", "line", in.Line+1)
	res, err := child.Run(ctx)

	e.state.Steps += res.Steps
	e.state.Total += res.Total
	e.splice(wf.Name, child.rec.Schema().Names(), child.rec.Rows())

	switch res.Status {
	case StatusStopped:
		return errStop
	case StatusFailed:
		return err
	}
	return nil
}

// child builds an isolated engine for a sub-workflow. It shares transports,
// run-state, artifacts and hook with the parent and keeps rows in memory.
func (e *Engine) child(prog *Program, name string, depth int) *Engine {
	deps := e.deps
	deps.Sink = nil
	c := New(prog, e.opts, deps, logging.WithWorkflow(e.logger, name, depth))
	c.workflows = e.workflows
	c.name = name
	c.depth = depth
	return c
}

// splice inserts a child block before the current row. A partially filled
// row moves down with the block and keeps receiving measurements.
func (e *Engine) splice(name string, header []string, rows [][]string) {
	block := make([][]string, 0, len(rows)+3)
	block = append(block, header)
	block = append(block, rows...)
	block = append(block, results.DelimiterRow(name), e.rec.Schema().Names())
	at := e.state.Row
	if at > e.rec.Len() {
		at = e.rec.Len()
	}
	e.state.Row = e.rec.Splice(at, block)
	e.logger.Info("workflow spliced", "workflow", name, "rows", len(rows), "at", at)
}
