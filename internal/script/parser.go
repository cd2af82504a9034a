package script

import (
	"fmt"
	"sort"
	"strings"

	tferrors "github.com/atoms-stack/testflow/internal/errors"
)

// Options controls parsing.
type Options struct {
	CaseSensitive bool
}

// NodeKind distinguishes plain nodes from conditional ones.
type NodeKind int

const (
	NodeStandard NodeKind = iota
	NodeConditional
)

func (k NodeKind) String() string {
	if k == NodeConditional {
		return "conditional"
	}
	return "standard"
}

// Action is a titled group of instructions inside a node. Index is 1-based
// per node; 0 is used for capture commands that precede any #ACTION line.
type Action struct {
	Index int
	Title string
	Line  int
	Query bool // at least one query-type command
	Image bool // at least one PNG: capture
	Set   bool // at least one SET: capture
}

// Records reports whether the action contributes result columns.
func (a *Action) Records() bool { return a.Query || a.Image || a.Set }

// Node is a step of the script.
type Node struct {
	ID         int
	Kind       NodeKind
	Start      int // first textual occurrence of the start marker
	End        int // latest end marker, -1 if never closed
	Descriptor Descriptor
	Expr       string    // conditional nodes only
	Next       Reference // standard nodes: successor taken at End
	True       Reference
	False      Reference
	Loop       *Loop // innermost enclosing loop, nil at top level
	Actions    []*Action
}

// Action returns the action with the given per-node index.
func (n *Node) Action(index int) *Action {
	for _, a := range n.Actions {
		if a.Index == index {
			return a
		}
	}
	return nil
}

// Loop is a repeated span of lines.
type Loop struct {
	ID         int
	Iterations int
	Start      int
	End        int
	Entry      Reference // inline target on Loop_start, taken on every pass
	HasEntry   bool
	Exit       Reference // taken once iterations are exhausted
	Parent     *Loop
	Nodes      []*Node // nodes directly inside the body
	Children   []*Loop
}

// Contains reports whether line lies strictly inside the loop body.
func (lp *Loop) Contains(line int) bool { return line > lp.Start && line < lp.End }

// Depth returns the nesting depth, 1 for a top-level loop.
func (lp *Loop) Depth() int {
	d := 0
	for l := lp; l != nil; l = l.Parent {
		d++
	}
	return d
}

// RangeSpec is one Range line attached to a variable.
type RangeSpec struct {
	Line int
	Text string
}

// VarDecl is a Variable declaration with its Range lines.
type VarDecl struct {
	Name   string
	Line   int   // first declaration
	Lines  []int // every Variable line naming this variable
	Loop   *Loop // governing loop of the first declaration
	Ranges []RangeSpec
}

// Window bounds the executable region: Start is the #START_SCRIPT line and
// End is the exclusive upper bound (the #END_SCRIPT line, or the first
// #START_WORKFLOW line when no end marker exists).
type Window struct {
	Start int
	End   int
}

// Graph is the parsed, read-only form of a script.
type Graph struct {
	Lines         []string
	Instructions  []Instruction
	Window        Window
	Nodes         map[int]*Node
	NodeOrder     []*Node
	Loops         map[int]*Loop
	LoopOrder     []*Loop
	Variables     []*VarDecl
	Refs          map[int]Reference // successor of every #END_NODE line
	Workflows     *Workflows
	Warnings      []Warning
	CaseSensitive bool
}

// Parse splits text into lines and parses it.
func Parse(text string, opts Options) (*Graph, error) {
	return ParseLines(SplitLines(text), opts)
}

// SplitLines splits script text on newlines, dropping carriage returns.
func SplitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

// ParseLines builds the graph for a script given as lines.
func ParseLines(lines []string, opts Options) (*Graph, error) {
	lx := NewLexer(opts.CaseSensitive)
	g := &Graph{
		Lines:         lines,
		Instructions:  lx.LexAll(lines),
		Nodes:         make(map[int]*Node),
		Loops:         make(map[int]*Loop),
		Refs:          make(map[int]Reference),
		CaseSensitive: opts.CaseSensitive,
	}

	var wfWarnings []Warning
	g.Workflows, wfWarnings = extractWorkflows(g.Instructions, lx)

	if err := g.findWindow(); err != nil {
		return nil, err
	}
	if err := g.build(lx); err != nil {
		return nil, err
	}
	g.resolveAll()
	g.Warnings = append(g.Warnings, wfWarnings...)
	return g, nil
}

func (g *Graph) warnf(line int, format string, args ...any) {
	g.Warnings = append(g.Warnings, Warning{Line: line, Message: fmt.Sprintf(format, args...)})
}

func (g *Graph) findWindow() error {
	start := -1
	for i, in := range g.Instructions {
		if in.Kind == KindScriptStart {
			start = i
			break
		}
	}
	if start < 0 {
		return tferrors.StructuralParse(0, "missing #START_SCRIPT marker")
	}

	end := -1
	for i := start + 1; i < len(g.Instructions); i++ {
		if g.Instructions[i].Kind == KindScriptEnd {
			end = i
			break
		}
	}
	if end < 0 {
		for i := start + 1; i < len(g.Instructions); i++ {
			if g.Instructions[i].Kind == KindWorkflowStart {
				end = i
				break
			}
		}
	}
	if end < 0 {
		return tferrors.StructuralParse(start+1, "missing #END_SCRIPT marker and no #START_WORKFLOW to close the window")
	}
	g.Window = Window{Start: start, End: end}
	return nil
}

type buildState struct {
	loops     []*Loop
	node      *Node // node whose body is being scanned
	cond      *Node // open conditional block
	condTrue  int   // line of TRUE: in the open conditional, -1 if none
	condFalse int
	action    *Action
	actionIdx int
	lastVar   *VarDecl
}

func (s *buildState) top() *Loop {
	if len(s.loops) == 0 {
		return nil
	}
	return s.loops[len(s.loops)-1]
}

// build performs the structural scan of the window.
func (g *Graph) build(lx *Lexer) error {
	s := &buildState{}
	branches := make(map[*Node][2]Reference)
	hasBranch := make(map[*Node][2]bool)

	for i := g.Window.Start + 1; i < g.Window.End; i++ {
		in := g.Instructions[i]
		switch in.Kind {
		case KindNodeStart:
			n := g.declareNode(in, NodeStandard, s.top())
			s.node, s.action, s.actionIdx = n, nil, 0

		case KindNodeEnd:
			n, ok := g.Nodes[in.ID]
			if !ok {
				g.warnf(i, "end of undeclared node %d", in.ID)
			} else {
				n.End = i
			}
			if in.HasRef {
				g.Refs[i] = in.Ref
			} else {
				g.Refs[i] = g.fallthroughRef(i)
			}
			s.node, s.action = nil, nil

		case KindCondStart:
			if s.cond != nil {
				return tferrors.StructuralParse(i+1, fmt.Sprintf("conditional node %d opened inside conditional node %d", in.ID, s.cond.ID))
			}
			n := g.declareNode(in, NodeConditional, s.top())
			s.cond, s.node, s.action, s.actionIdx = n, n, nil, 0

		case KindCondTrue, KindCondFalse:
			if s.cond == nil {
				g.warnf(i, "%s branch outside a conditional node", strings.ToUpper(in.Kind.String()[len("cond_"):]))
				continue
			}
			slot := 0
			if in.Kind == KindCondFalse {
				slot = 1
			}
			if !in.HasRef {
				g.warnf(i, "conditional node %d: malformed branch target %q", s.cond.ID, in.Text)
				continue
			}
			b, h := branches[s.cond], hasBranch[s.cond]
			b[slot], h[slot] = in.Ref, true
			branches[s.cond], hasBranch[s.cond] = b, h

		case KindCondEnd:
			if s.cond == nil {
				g.warnf(i, "#END_IF without a conditional node")
				continue
			}
			s.cond.End = i
			s.cond, s.node, s.action = nil, nil, nil

		case KindLoopStart:
			if prev, ok := g.Loops[in.ID]; ok {
				// the second block closes through the same loop, whose end
				// moves to the latest Loop_end
				g.warnf(i, "loop %d redeclared, keeping start at line %d", in.ID, prev.Start+1)
				if in.Iterations != prev.Iterations {
					g.warnf(i, "loop %d redeclared with %d iterations, keeping %d", in.ID, in.Iterations, prev.Iterations)
				}
				s.loops = append(s.loops, prev)
				continue
			}
			lp := &Loop{
				ID:         in.ID,
				Iterations: in.Iterations,
				Start:      i,
				End:        -1,
				Entry:      in.Ref,
				HasEntry:   in.HasRef,
				Parent:     s.top(),
			}
			if lp.Parent != nil {
				lp.Parent.Children = append(lp.Parent.Children, lp)
			}
			g.Loops[lp.ID] = lp
			g.LoopOrder = append(g.LoopOrder, lp)
			s.loops = append(s.loops, lp)

		case KindLoopEnd:
			top := s.top()
			if top == nil || top.ID != in.ID {
				for _, open := range s.loops {
					if open.ID == in.ID {
						return tferrors.StructuralParse(i+1, fmt.Sprintf("loop %d ends inside loop %d (partial overlap)", in.ID, top.ID))
					}
				}
				return tferrors.StructuralParse(i+1, fmt.Sprintf("Loop_end(%d) without matching Loop_start", in.ID))
			}
			s.loops = s.loops[:len(s.loops)-1]
			top.End = i
			if in.HasRef {
				top.Exit = in.Ref
			} else {
				top.Exit = g.fallthroughRef(i)
			}

		case KindVariable:
			if in.Name == "" {
				g.warnf(i, "Variable line without a name")
				continue
			}
			s.lastVar = g.declareVar(lx, in, s.top())

		case KindRange:
			if s.lastVar == nil {
				return tferrors.RangeFormat(i+1, in.Text, "Range line without a preceding Variable")
			}
			s.lastVar.Ranges = append(s.lastVar.Ranges, RangeSpec{Line: i, Text: in.Arg})

		case KindAction:
			if s.node == nil {
				g.warnf(i, "#ACTION outside a node")
				continue
			}
			s.actionIdx++
			s.action = s.node.Action(s.actionIdx)
			if s.action == nil {
				s.action = &Action{Index: s.actionIdx, Title: in.Name, Line: i}
				s.node.Actions = append(s.node.Actions, s.action)
			}

		case KindCmd, KindQuery, KindSER, KindPNG, KindSET:
			if s.node == nil {
				continue
			}
			records := in.IsQuery() || in.Kind == KindPNG || in.Kind == KindSET
			if !records {
				continue
			}
			if s.action == nil {
				s.action = s.node.Action(0)
				if s.action == nil {
					s.action = &Action{Index: 0, Line: i}
					s.node.Actions = append(s.node.Actions, s.action)
				}
			}
			switch in.Kind {
			case KindPNG:
				s.action.Image = true
			case KindSET:
				s.action.Set = true
			default:
				s.action.Query = true
			}

		case KindScriptStart:
			g.warnf(i, "nested #START_SCRIPT ignored")
		}
	}

	if s.cond != nil {
		return tferrors.StructuralParse(s.cond.Start+1, fmt.Sprintf("conditional node %d has no #END_IF", s.cond.ID))
	}
	if top := s.top(); top != nil {
		return tferrors.StructuralParse(top.Start+1, fmt.Sprintf("loop %d has no Loop_end", top.ID))
	}

	for n, b := range branches {
		h := hasBranch[n]
		if h[0] {
			n.True = b[0]
		}
		if h[1] {
			n.False = b[1]
		}
	}
	return nil
}

func (g *Graph) declareNode(in Instruction, kind NodeKind, loop *Loop) *Node {
	if n, ok := g.Nodes[in.ID]; ok {
		g.warnf(in.Line, "node %d redeclared, keeping start at line %d", in.ID, n.Start+1)
		return n
	}
	n := &Node{
		ID:         in.ID,
		Kind:       kind,
		Start:      in.Line,
		End:        -1,
		Descriptor: in.Descriptor,
		Expr:       in.Expr,
		Loop:       loop,
	}
	g.Nodes[n.ID] = n
	g.NodeOrder = append(g.NodeOrder, n)
	if loop != nil {
		loop.Nodes = append(loop.Nodes, n)
	}
	return n
}

func (g *Graph) declareVar(lx *Lexer, in Instruction, loop *Loop) *VarDecl {
	for _, v := range g.Variables {
		if lx.SameName(v.Name, in.Name) {
			v.Lines = append(v.Lines, in.Line)
			return v
		}
	}
	v := &VarDecl{Name: in.Name, Line: in.Line, Lines: []int{in.Line}, Loop: loop}
	g.Variables = append(g.Variables, v)
	return v
}

// resolveAll binds every captured reference, in line order so warnings are
// deterministic.
func (g *Graph) resolveAll() {
	lines := make([]int, 0, len(g.Refs))
	for line := range g.Refs {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	for _, line := range lines {
		g.Refs[line] = g.resolve(g.Refs[line], line, "#END_NODE")
	}

	for _, n := range g.NodeOrder {
		if n.End < 0 {
			g.warnf(n.Start, "node %d has no end marker", n.ID)
		}
		if n.Kind == NodeStandard {
			if n.End >= 0 {
				n.Next = g.Refs[n.End]
			}
			continue
		}
		if n.True.Kind == RefNone {
			g.warnf(n.Start, "conditional node %d has no TRUE branch", n.ID)
		} else {
			n.True = g.resolve(n.True, n.Start, fmt.Sprintf("node %d TRUE branch", n.ID))
		}
		if n.False.Kind == RefNone {
			g.warnf(n.Start, "conditional node %d has no FALSE branch", n.ID)
		} else {
			n.False = g.resolve(n.False, n.Start, fmt.Sprintf("node %d FALSE branch", n.ID))
		}
	}

	for _, lp := range g.LoopOrder {
		if lp.HasEntry {
			lp.Entry = g.resolve(lp.Entry, lp.Start, fmt.Sprintf("Loop_start(%d)", lp.ID))
		}
		lp.Exit = g.resolve(lp.Exit, lp.End, fmt.Sprintf("Loop_end(%d)", lp.ID))
	}
}

// LoopAt returns the innermost loop whose body contains line.
func (g *Graph) LoopAt(line int) *Loop {
	var inner *Loop
	for _, lp := range g.LoopOrder {
		if lp.Contains(line) && (inner == nil || lp.Start > inner.Start) {
			inner = lp
		}
	}
	return inner
}

// Variable returns the declaration named name.
func (g *Graph) Variable(name string) (*VarDecl, bool) {
	for _, v := range g.Variables {
		if v.Name == name || (!g.CaseSensitive && strings.EqualFold(v.Name, name)) {
			return v, true
		}
	}
	return nil, false
}

// InWindow reports whether line lies inside the executable window.
func (g *Graph) InWindow(line int) bool {
	return line > g.Window.Start && line < g.Window.End
}
