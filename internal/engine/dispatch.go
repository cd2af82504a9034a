package engine

import (
	"context"
	"strings"

	"github.com/atoms-stack/testflow/internal/control"
	tferrors "github.com/atoms-stack/testflow/internal/errors"
	"github.com/atoms-stack/testflow/internal/expr"
	"github.com/atoms-stack/testflow/internal/logging"
	"github.com/atoms-stack/testflow/internal/results"
	"github.com/atoms-stack/testflow/internal/script"
	"github.com/atoms-stack/testflow/internal/transport"
)

// mathTitle marks an action whose next line is an assignment.
const mathTitle = "Math"

// dispatch executes one instruction and returns the next program counter.
func (e *Engine) dispatch(ctx context.Context, in script.Instruction) (int, error) {
	next := in.Line + 1
	switch in.Kind {
	case script.KindNodeStart:
		return next, e.nodeStart(ctx, in)
	case script.KindNodeEnd:
		return e.nodeEnd(ctx, in)
	case script.KindCondStart:
		return e.conditional(ctx, in)
	case script.KindLoopStart:
		return e.loopStart(ctx, in)
	case script.KindLoopEnd:
		return e.loopEnd(in)
	case script.KindVariable:
		e.variable(in)
	case script.KindInst:
		e.state.Address = e.prog.Vars.Substitute(in.Arg)
		e.logger.Debug("instrument bound", "address", e.state.Address)
	case script.KindAction:
		return e.action(in), nil
	case script.KindCmd:
		return next, e.command(ctx, in)
	case script.KindQuery:
		e.query(ctx, e.deps.Instrument, in)
	case script.KindPNG:
		e.capture(ctx, in, "png", results.ImageColumn)
	case script.KindSET:
		e.capture(ctx, in, "set", results.SetColumn)
	case script.KindSER:
		e.serial(ctx, in)
	case script.KindDelay:
		return next, e.delay(ctx, in)
	case script.KindMessage:
		return next, e.message(ctx, in)
	case script.KindWorkflowCall:
		return next, e.callWorkflow(ctx, in)
	case script.KindText:
		e.logger.Debug("ignoring line", "line", in.Line+1, "text", in.Text)
	}
	// Blank lines, comments, ranges, branch lines and #END_IF are inert.
	return next, nil
}

func (e *Engine) nodeStart(ctx context.Context, in script.Instruction) error {
	if err := e.checkpoint(ctx); err != nil {
		return err
	}
	n, ok := e.prog.Graph.Nodes[in.ID]
	if !ok {
		return nil
	}
	st := e.state
	st.Steps++
	st.Node = n
	st.ActionIndex = 0
	st.ActionTitle = ""

	d := n.Descriptor
	logging.WithNode(e.logger, n.ID, n.Kind.String()).Info("node",
		"step", st.Steps, "total", st.Total, "progress", progress(st),
		"type", d.Type, "instrument", d.Instrument, "manufacturer", d.Manufacturer, "model", d.Model)
	return nil
}

func (e *Engine) nodeEnd(ctx context.Context, in script.Instruction) (int, error) {
	if err := e.checkpoint(ctx); err != nil {
		return 0, err
	}
	if e.opts.Debug && e.deps.Hook != nil {
		if err := e.deps.Hook(ctx, e.snapshot()); err != nil {
			e.logger.Info("step hook ended the run", "error", err)
			return 0, errStop
		}
	}
	e.state.Node = nil
	ref, ok := e.prog.Graph.Refs[in.Line]
	if !ok {
		return in.Line + 1, nil
	}
	return e.jump(ref, in.Line)
}

func (e *Engine) conditional(ctx context.Context, in script.Instruction) (int, error) {
	if err := e.checkpoint(ctx); err != nil {
		return 0, err
	}
	n, ok := e.prog.Graph.Nodes[in.ID]
	if !ok {
		return in.Line + 1, nil
	}
	st := e.state
	st.Steps++
	st.Node = n

	src := e.prog.Vars.Substitute(n.Expr)
	taken := expr.EvalBool(src)
	branch, ref := "FALSE", n.False
	if taken {
		branch, ref = "TRUE", n.True
	}
	logging.WithNode(e.logger, n.ID, n.Kind.String()).Info("condition",
		"step", st.Steps, "total", st.Total, "progress", progress(st),
		"expr", src, "branch", branch, "target", ref.String())
	return e.jump(ref, in.Line)
}

func (e *Engine) loopStart(ctx context.Context, in script.Instruction) (int, error) {
	lp, ok := e.prog.Graph.Loops[in.ID]
	if !ok || lp.Start != in.Line {
		return in.Line + 1, nil
	}
	if err := e.checkpoint(ctx); err != nil {
		return 0, err
	}
	st := e.state
	it := st.iterations[lp.ID]
	if it == 0 {
		it = 1
		st.iterations[lp.ID] = it
	}
	if it > lp.Iterations {
		return e.finishLoop(lp)
	}
	e.logger.Debug("loop pass", "loop", lp.ID, "iteration", it, "iterations", lp.Iterations)
	if lp.HasEntry {
		e.loopHeader(lp)
		return e.jump(lp.Entry, lp.Start)
	}
	return in.Line + 1, nil
}

// loopHeader advances the Variable lines between Loop_start and the first
// node or nested loop, which an entry jump would otherwise skip.
func (e *Engine) loopHeader(lp *script.Loop) {
	for i := lp.Start + 1; i < lp.End && i < e.prog.Graph.Window.End; i++ {
		in := e.prog.Graph.Instructions[i]
		switch in.Kind {
		case script.KindNodeStart, script.KindCondStart, script.KindLoopStart:
			return
		case script.KindVariable:
			e.variable(in)
		}
	}
}

func (e *Engine) loopEnd(in script.Instruction) (int, error) {
	lp, ok := e.prog.Graph.Loops[in.ID]
	if !ok || lp.End != in.Line {
		return in.Line + 1, nil
	}
	if err := e.completeRow(); err != nil {
		return 0, err
	}
	st := e.state
	st.iterations[lp.ID]++
	if st.iterations[lp.ID] <= lp.Iterations {
		return lp.Start, nil
	}
	return e.finishLoop(lp)
}

func (e *Engine) finishLoop(lp *script.Loop) (int, error) {
	e.state.iterations[lp.ID] = 0
	e.logger.Info("loop finished", "loop", lp.ID, "iterations", lp.Iterations, "exit", lp.Exit.String())
	return e.jump(lp.Exit, lp.End)
}

// variable advances a loop-governed variable to the current pass.
func (e *Engine) variable(in script.Instruction) {
	v, ok := e.prog.Vars.Lookup(in.Name)
	if !ok || v.Loop == nil {
		return
	}
	it := e.state.iterations[v.Loop.ID]
	if val, ok := v.Advance(it); ok {
		e.logger.Debug("variable advanced", "variable", v.Name, "iteration", it, "value", val)
	}
}

// action opens the next action of the node. A Math action consumes the
// following line as "${var}=expression".
func (e *Engine) action(in script.Instruction) int {
	st := e.state
	st.ActionIndex++
	st.ActionTitle = in.Name
	if !strings.EqualFold(in.Name, mathTitle) {
		return in.Line + 1
	}
	line := in.Line + 1
	if line >= e.prog.Graph.Window.End {
		e.logger.Warn("Math action without an assignment", "line", in.Line+1)
		return line
	}
	if err := e.assign(e.prog.Graph.Instructions[line].Text); err != nil {
		e.logger.Error("Math action failed", "line", line+1, "error", err)
	}
	return line + 1
}

func (e *Engine) assign(text string) error {
	lhs, rhs, ok := strings.Cut(text, "=")
	if !ok {
		return tferrors.Expression(text, "missing '=' in assignment")
	}
	name := script.VarName(strings.TrimSpace(lhs))
	if name == "" {
		return tferrors.Expression(text, "missing assignment target")
	}
	src := e.prog.Vars.Substitute(rhs)
	val, err := expr.Eval(src)
	if err != nil {
		return err
	}
	e.prog.Vars.Ensure(name).Set(val.String())
	e.logger.Info("variable assigned", "variable", name, "expr", strings.TrimSpace(src), "value", val.String())
	return nil
}

// column returns the value column of the current action.
func (e *Engine) column(name func(string, int, int) string) string {
	st := e.state
	node := 0
	title := st.ActionTitle
	if st.Node != nil {
		node = st.Node.ID
		if a := st.Node.Action(st.ActionIndex); a != nil {
			title = a.Title
		}
	}
	return name(title, node, st.ActionIndex)
}

func (e *Engine) substitute(text string) string {
	out := e.prog.Vars.Substitute(text)
	for _, m := range e.prog.Vars.Unresolved(out) {
		e.logger.Warn("unresolved variable", "error", tferrors.MissingVariable(m), "text", text)
	}
	return out
}

func (e *Engine) command(ctx context.Context, in script.Instruction) error {
	switch in.Cmd {
	case script.CmdWait:
		e.logger.Debug("wait", "duration", in.Delay)
		if err := e.deps.Sleep(ctx, in.Delay); err != nil {
			return errStop
		}
	case script.CmdSave2Var:
		e.prog.Vars.Ensure(in.Name).Set(e.state.LastReply)
		e.logger.Info("reply saved", "variable", in.Name, "value", e.state.LastReply)
	case script.CmdQuery:
		e.query(ctx, e.deps.Instrument, in)
	default:
		text := e.substitute(in.Arg)
		if err := e.deps.Instrument.Send(ctx, e.state.Address, text); err != nil {
			e.logger.Error("send failed", "address", e.state.Address, "command", text, "error", err)
			return nil
		}
		e.logger.Debug("sent", "address", e.state.Address, "command", text)
	}
	return nil
}

// query sends a query through t and records the reply in the action's value
// column. A failed query leaves the cell empty.
func (e *Engine) query(ctx context.Context, t transport.Transport, in script.Instruction) {
	text := e.substitute(in.Arg)
	col := e.column(results.ValueColumn)
	reply, err := t.Query(ctx, e.state.Address, text)
	if err != nil {
		e.logger.Error("query failed", "address", e.state.Address, "command", text, "error", err)
		e.record(col, "")
		return
	}
	reply = strings.TrimSpace(reply)
	e.state.LastReply = reply
	e.record(col, reply)
	e.logger.Info("reply", "address", e.state.Address, "command", text, "reply", reply, "column", col)
	if err := e.deps.Sleep(ctx, e.opts.QuerySettle); err != nil {
		e.logger.Debug("settle interrupted", "error", err)
	}
}

// capture fetches a binary payload into an artifact file and records its
// path.
func (e *Engine) capture(ctx context.Context, in script.Instruction, ext string, name func(string, int, int) string) {
	text := e.substitute(in.Arg)
	col := e.column(name)
	data, err := e.deps.Instrument.QueryBinary(ctx, e.state.Address, text)
	if err != nil {
		e.logger.Error("capture failed", "address", e.state.Address, "command", text, "error", err)
		e.record(col, "")
		return
	}
	path, err := e.deps.Artifacts.Save(e.state.Row+1, ext, data)
	if err != nil {
		e.logger.Error("cannot save capture", "error", tferrors.IOWriteError(e.deps.Artifacts.Dir, err))
		e.record(col, "")
		return
	}
	e.record(col, path)
	e.logger.Info("capture saved", "command", text, "path", path, "bytes", len(data))
}

func (e *Engine) serial(ctx context.Context, in script.Instruction) {
	if in.IsQuery() {
		e.query(ctx, e.deps.Serial, in)
		return
	}
	text := e.substitute(in.Arg)
	if err := e.deps.Serial.Send(ctx, e.state.Address, text); err != nil {
		e.logger.Error("serial send failed", "address", e.state.Address, "command", text, "error", err)
	}
}

func (e *Engine) delay(ctx context.Context, in script.Instruction) error {
	d := in.Delay
	if !in.DelayOK {
		d = e.opts.DefaultDelay
		e.logger.Warn("unparsable delay, using default", "line", in.Line+1, "text", in.Arg, "delay", d)
	}
	e.logger.Debug("delay", "duration", d)
	if err := e.deps.Sleep(ctx, d); err != nil {
		return errStop
	}
	return nil
}

// message pauses the run until an observer resumes it.
func (e *Engine) message(ctx context.Context, in script.Instruction) error {
	e.logger.Info("message", "text", e.prog.Vars.Substitute(in.Arg))
	if err := e.deps.RunState.Set(ctx, control.Pause); err != nil {
		e.logger.Warn("cannot write run state", "error", err)
		return nil
	}
	return e.checkpoint(ctx)
}
