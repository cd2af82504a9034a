package script

import (
	"fmt"
	"strconv"
)

// RefKind tags a jump target.
type RefKind int

const (
	RefNone     RefKind = iota // Missing branch; never resolves
	RefNode                    // N<id>: start line of node id
	RefLoopEnd                 // LE<id>: end line of loop id
	RefTerminal                // X, or fallthrough past the window
	RefLine                    // Implicit fallthrough to a line
)

// Reference is a jump target together with the line it resolves to.
type Reference struct {
	Kind     RefKind
	ID       int
	Line     int
	Resolved bool
}

// Terminal is the reference that halts the engine.
var Terminal = Reference{Kind: RefTerminal, Resolved: true}

// IsTerminal reports whether the reference halts the engine.
func (r Reference) IsTerminal() bool { return r.Kind == RefTerminal }

func (r Reference) String() string {
	switch r.Kind {
	case RefNode:
		return "N" + strconv.Itoa(r.ID)
	case RefLoopEnd:
		return "LE" + strconv.Itoa(r.ID)
	case RefTerminal:
		return "X"
	case RefLine:
		return fmt.Sprintf("line %d", r.Line+1)
	default:
		return "<none>"
	}
}

// Warning is a non-fatal finding collected while parsing.
type Warning struct {
	Line    int // 0-based, -1 when not tied to a line
	Message string
}

func (w Warning) String() string {
	if w.Line < 0 {
		return w.Message
	}
	return fmt.Sprintf("line %d: %s", w.Line+1, w.Message)
}

// resolve binds a reference to the line of its target, recording a warning
// when the target does not exist.
func (g *Graph) resolve(ref Reference, from int, what string) Reference {
	switch ref.Kind {
	case RefTerminal, RefLine:
		ref.Resolved = true
	case RefNode:
		if n, ok := g.Nodes[ref.ID]; ok {
			ref.Line = n.Start
			ref.Resolved = true
		}
	case RefLoopEnd:
		if lp, ok := g.Loops[ref.ID]; ok && lp.End >= 0 {
			ref.Line = lp.End
			ref.Resolved = true
		}
	}
	if !ref.Resolved {
		g.warnf(from, "%s: reference %s cannot be resolved", what, ref)
	}
	return ref
}

// fallthrough returns the implicit successor of the line at end.
func (g *Graph) fallthroughRef(end int) Reference {
	if end+1 >= g.Window.End {
		return Terminal
	}
	return Reference{Kind: RefLine, Line: end + 1, Resolved: true}
}
