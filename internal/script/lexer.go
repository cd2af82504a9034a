// Package script turns atoms script text into an immutable control-flow graph.
//
// Every line is first classified by the Lexer into an Instruction. The parser
// then walks the instructions inside the executable window, building nodes,
// loops and variable declarations, and resolves every jump reference to a
// line index. Named sub-workflows are captured independently of the window.
package script

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies one script line.
type Kind int

const (
	KindText Kind = iota // Unrecognized line, ignored by the engine
	KindBlank
	KindComment
	KindScriptStart
	KindScriptEnd
	KindWorkflowStart
	KindWorkflowEnd
	KindNodeStart
	KindNodeEnd
	KindCondStart
	KindCondTrue
	KindCondFalse
	KindCondEnd
	KindLoopStart
	KindLoopEnd
	KindVariable
	KindRange
	KindWorkflowCall
	KindInst
	KindAction
	KindCmd
	KindQuery
	KindPNG
	KindSET
	KindSER
	KindDelay
	KindMessage
)

var kindNames = map[Kind]string{
	KindText:          "text",
	KindBlank:         "blank",
	KindComment:       "comment",
	KindScriptStart:   "script_start",
	KindScriptEnd:     "script_end",
	KindWorkflowStart: "workflow_start",
	KindWorkflowEnd:   "workflow_end",
	KindNodeStart:     "node_start",
	KindNodeEnd:       "node_end",
	KindCondStart:     "cond_start",
	KindCondTrue:      "cond_true",
	KindCondFalse:     "cond_false",
	KindCondEnd:       "cond_end",
	KindLoopStart:     "loop_start",
	KindLoopEnd:       "loop_end",
	KindVariable:      "variable",
	KindRange:         "range",
	KindWorkflowCall:  "workflow_call",
	KindInst:          "inst",
	KindAction:        "action",
	KindCmd:           "cmd",
	KindQuery:         "query",
	KindPNG:           "png",
	KindSET:           "set",
	KindSER:           "ser",
	KindDelay:         "delay",
	KindMessage:       "message",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// CmdKind refines a CMD: line.
type CmdKind int

const (
	CmdWrite    CmdKind = iota // Sent, no reply recorded
	CmdQuery                   // Contains '?', reply recorded
	CmdWait                    // wait(<ms>)
	CmdSave2Var                // save2var <name>
)

// Descriptor is the parenthesised part of a node start line:
// #NODE<id>(<type>, <instrument>, <manufacturer>, <model>).
type Descriptor struct {
	Raw          string
	Type         string
	Instrument   string
	Manufacturer string
	Model        string
}

func parseDescriptor(raw string) Descriptor {
	d := Descriptor{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return d
	}
	fields := strings.Split(raw, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	dst := []*string{&d.Type, &d.Instrument, &d.Manufacturer, &d.Model}
	for i := 0; i < len(fields) && i < len(dst); i++ {
		*dst[i] = fields[i]
	}
	return d
}

// Instruction is one classified script line. Only the fields relevant to
// Kind are populated.
type Instruction struct {
	Kind Kind
	Line int    // 0-based line index
	Text string // trimmed source text

	ID         int       // node and loop markers
	Iterations int       // loop start
	Ref        Reference // inline successor on node end, loop start/end, TRUE/FALSE
	HasRef     bool
	Name       string // workflow, variable, save2var target, action title
	Expr       string // conditional expression
	Arg        string // instruction payload (command text, address, range spec, message)
	Cmd        CmdKind
	Delay      time.Duration
	DelayOK    bool // false when a Delay line could not be parsed
	Descriptor Descriptor
}

// IsQuery reports whether the instruction reads a reply from an instrument.
func (in Instruction) IsQuery() bool {
	switch in.Kind {
	case KindQuery:
		return true
	case KindCmd:
		return in.Cmd == CmdQuery
	case KindSER:
		return strings.Contains(in.Arg, "?")
	}
	return false
}

type grammar struct {
	scriptStart   *regexp.Regexp
	scriptEnd     *regexp.Regexp
	workflowStart *regexp.Regexp
	workflowEnd   *regexp.Regexp
	condStart     *regexp.Regexp
	condEnd       *regexp.Regexp
	nodeStart     *regexp.Regexp
	nodeEnd       *regexp.Regexp
	condTrue      *regexp.Regexp
	condFalse     *regexp.Regexp
	loopStart     *regexp.Regexp
	loopEnd       *regexp.Regexp
	variable      *regexp.Regexp
	rangeLine     *regexp.Regexp
	workflowCall  *regexp.Regexp
	inst          *regexp.Regexp
	action        *regexp.Regexp
	cmd           *regexp.Regexp
	query         *regexp.Regexp
	png           *regexp.Regexp
	set           *regexp.Regexp
	ser           *regexp.Regexp
	delay         *regexp.Regexp
	message       *regexp.Regexp
	wait          *regexp.Regexp
	save2var      *regexp.Regexp
	inlineRef     *regexp.Regexp
	branchRef     *regexp.Regexp
}

func newGrammar(flags string) *grammar {
	c := func(expr string) *regexp.Regexp { return regexp.MustCompile(flags + expr) }
	return &grammar{
		scriptStart:   c(`^#START_SCRIPT\b`),
		scriptEnd:     c(`^#END_SCRIPT\b`),
		workflowStart: c(`^#START_WORKFLOW\s*\(\s*([^)]*?)\s*\)`),
		workflowEnd:   c(`^#END_WORKFLOW\s*\(\s*([^)]*?)\s*\)`),
		condStart:     c(`^#NODE\s*(\d+)_IF\s*\((.*)\)\s*$`),
		condEnd:       c(`^#END_IF\b`),
		nodeStart:     c(`^#NODE\s*(\d+)(.*)$`),
		nodeEnd:       c(`^#END_NODE\s*(\d+)(.*)$`),
		condTrue:      c(`^TRUE\s*:\s*(.*)$`),
		condFalse:     c(`^FALSE\s*:\s*(.*)$`),
		loopStart:     c(`^Loop_start\s*\(\s*(\d+)\s*\)\s*:\s*(\d+)(.*)$`),
		loopEnd:       c(`^Loop_end\s*\(\s*(\d+)\s*\)(.*)$`),
		variable:      c(`^Variable\s*:\s*(.*)$`),
		rangeLine:     c(`^Range(?:\s*\(\s*\d+\s*/\s*\d+\s*\))?\s*:\s*(.*)$`),
		workflowCall:  c(`^Work_flow\s*:\s*\(\s*([^)]*?)\s*\)`),
		inst:          c(`^INST::\s*(.*)$`),
		action:        c(`^#ACTION\s*:\s*\((.*)\)\s*$`),
		cmd:           c(`^CMD\s*:\s*(.*)$`),
		query:         c(`^QRY\s*:\s*(.*)$`),
		png:           c(`^PNG\s*:\s*(.*)$`),
		set:           c(`^SET\s*:\s*(.*)$`),
		ser:           c(`^SER\s*:\s*(.*)$`),
		delay:         c(`^Delay\s*:\s*(.*)$`),
		message:       c(`^MESSAGE\s*:\s*(.*)$`),
		wait:          regexp.MustCompile(`(?i)^wait\s*\(\s*(\d+(?:\.\d+)?)\s*\)`),
		save2var:      regexp.MustCompile(`(?i)^save2var\s+(.+)$`),
		inlineRef:     c(`\(\s*(N|LE)\s*(\d+)\s*\)|\(\s*(X)\s*\)`),
		branchRef:     c(`^(?:(N|LE)\s*(\d+)|(X))\b`),
	}
}

var (
	sensitiveGrammar   = newGrammar("")
	insensitiveGrammar = newGrammar("(?i)")
)

// Lexer classifies script lines.
type Lexer struct {
	caseSensitive bool
	g             *grammar
}

// NewLexer returns a lexer. When caseSensitive is false every marker and
// keyword is matched regardless of case.
func NewLexer(caseSensitive bool) *Lexer {
	g := sensitiveGrammar
	if !caseSensitive {
		g = insensitiveGrammar
	}
	return &Lexer{caseSensitive: caseSensitive, g: g}
}

// CaseSensitive reports the matching mode.
func (l *Lexer) CaseSensitive() bool { return l.caseSensitive }

// SameName compares two workflow or variable names under the lexer's mode.
func (l *Lexer) SameName(a, b string) bool {
	if l.caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// LexAll classifies every line.
func (l *Lexer) LexAll(lines []string) []Instruction {
	out := make([]Instruction, len(lines))
	for i, text := range lines {
		out[i] = l.Lex(i, text)
	}
	return out
}

// Lex classifies a single line. Order matters where prefixes overlap:
// conditional starts are tried before plain node starts.
func (l *Lexer) Lex(line int, raw string) Instruction {
	text := strings.TrimSpace(raw)
	in := Instruction{Kind: KindText, Line: line, Text: text}
	g := l.g

	if text == "" {
		in.Kind = KindBlank
		return in
	}
	if strings.HasPrefix(text, "//") {
		in.Kind = KindComment
		return in
	}

	if g.scriptStart.MatchString(text) {
		in.Kind = KindScriptStart
		return in
	}
	if g.scriptEnd.MatchString(text) {
		in.Kind = KindScriptEnd
		return in
	}
	if m := g.workflowStart.FindStringSubmatch(text); m != nil {
		in.Kind = KindWorkflowStart
		in.Name = m[1]
		return in
	}
	if m := g.workflowEnd.FindStringSubmatch(text); m != nil {
		in.Kind = KindWorkflowEnd
		in.Name = m[1]
		return in
	}
	if m := g.condStart.FindStringSubmatch(text); m != nil {
		in.Kind = KindCondStart
		in.ID = atoi(m[1])
		in.Expr = strings.TrimSpace(m[2])
		return in
	}
	if g.condEnd.MatchString(text) {
		in.Kind = KindCondEnd
		return in
	}
	if m := g.nodeEnd.FindStringSubmatch(text); m != nil {
		in.Kind = KindNodeEnd
		in.ID = atoi(m[1])
		in.Ref, in.HasRef = l.inlineRef(m[2])
		return in
	}
	if m := g.nodeStart.FindStringSubmatch(text); m != nil {
		rest := strings.TrimSpace(m[2])
		if len(rest) >= 3 && strings.EqualFold(rest[:3], "_IF") {
			// Malformed conditional, never a plain node.
			return in
		}
		in.Kind = KindNodeStart
		in.ID = atoi(m[1])
		if strings.HasPrefix(rest, "(") {
			rest = strings.TrimPrefix(rest, "(")
			if i := strings.LastIndex(rest, ")"); i >= 0 {
				rest = rest[:i]
			}
			in.Descriptor = parseDescriptor(rest)
		}
		return in
	}
	if m := g.condTrue.FindStringSubmatch(text); m != nil {
		in.Kind = KindCondTrue
		in.Ref, in.HasRef = l.branchRef(m[1])
		return in
	}
	if m := g.condFalse.FindStringSubmatch(text); m != nil {
		in.Kind = KindCondFalse
		in.Ref, in.HasRef = l.branchRef(m[1])
		return in
	}
	if m := g.loopStart.FindStringSubmatch(text); m != nil {
		in.Kind = KindLoopStart
		in.ID = atoi(m[1])
		in.Iterations = atoi(m[2])
		in.Ref, in.HasRef = l.inlineRef(m[3])
		return in
	}
	if m := g.loopEnd.FindStringSubmatch(text); m != nil {
		in.Kind = KindLoopEnd
		in.ID = atoi(m[1])
		in.Ref, in.HasRef = l.inlineRef(m[2])
		return in
	}
	if m := g.variable.FindStringSubmatch(text); m != nil {
		in.Kind = KindVariable
		in.Name = VarName(m[1])
		return in
	}
	if m := g.rangeLine.FindStringSubmatch(text); m != nil {
		in.Kind = KindRange
		in.Arg = strings.TrimSpace(m[1])
		return in
	}
	if m := g.workflowCall.FindStringSubmatch(text); m != nil {
		in.Kind = KindWorkflowCall
		in.Name = m[1]
		return in
	}
	if m := g.inst.FindStringSubmatch(text); m != nil {
		in.Kind = KindInst
		in.Arg = strings.Trim(strings.TrimSpace(m[1]), `"'`)
		return in
	}
	if m := g.action.FindStringSubmatch(text); m != nil {
		in.Kind = KindAction
		in.Name = strings.TrimSpace(m[1])
		return in
	}
	if m := g.cmd.FindStringSubmatch(text); m != nil {
		in.Kind = KindCmd
		in.Arg = strings.TrimSpace(m[1])
		l.classifyCmd(&in)
		return in
	}
	if m := g.query.FindStringSubmatch(text); m != nil {
		in.Kind = KindQuery
		in.Arg = strings.TrimSpace(m[1])
		return in
	}
	if m := g.png.FindStringSubmatch(text); m != nil {
		in.Kind = KindPNG
		in.Arg = strings.TrimSpace(m[1])
		return in
	}
	if m := g.set.FindStringSubmatch(text); m != nil {
		in.Kind = KindSET
		in.Arg = strings.TrimSpace(m[1])
		return in
	}
	if m := g.ser.FindStringSubmatch(text); m != nil {
		in.Kind = KindSER
		in.Arg = strings.TrimSpace(m[1])
		return in
	}
	if m := g.delay.FindStringSubmatch(text); m != nil {
		in.Kind = KindDelay
		in.Arg = strings.TrimSpace(m[1])
		in.Delay, in.DelayOK = ParseDelay(in.Arg)
		return in
	}
	if m := g.message.FindStringSubmatch(text); m != nil {
		in.Kind = KindMessage
		in.Arg = strings.TrimSpace(m[1])
		return in
	}
	return in
}

func (l *Lexer) classifyCmd(in *Instruction) {
	if m := l.g.wait.FindStringSubmatch(in.Arg); m != nil {
		in.Cmd = CmdWait
		ms, _ := strconv.ParseFloat(m[1], 64)
		in.Delay = time.Duration(ms * float64(time.Millisecond))
		in.DelayOK = true
		return
	}
	if m := l.g.save2var.FindStringSubmatch(in.Arg); m != nil {
		in.Cmd = CmdSave2Var
		in.Name = VarName(m[1])
		return
	}
	if strings.Contains(in.Arg, "?") {
		in.Cmd = CmdQuery
		return
	}
	in.Cmd = CmdWrite
}

// inlineRef finds a trailing "(N<id>)", "(LE<id>)" or "(X)" in rest.
func (l *Lexer) inlineRef(rest string) (Reference, bool) {
	m := l.g.inlineRef.FindStringSubmatch(rest)
	if m == nil {
		return Reference{}, false
	}
	return refFromMatch(m[1], m[2], m[3]), true
}

// branchRef parses the target after "TRUE:" or "FALSE:".
func (l *Lexer) branchRef(s string) (Reference, bool) {
	m := l.g.branchRef.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Reference{}, false
	}
	return refFromMatch(m[1], m[2], m[3]), true
}

func refFromMatch(tag, id, terminal string) Reference {
	if terminal != "" {
		return Reference{Kind: RefTerminal, Resolved: true}
	}
	kind := RefNode
	if strings.EqualFold(tag, "LE") {
		kind = RefLoopEnd
	}
	return Reference{Kind: kind, ID: atoi(id)}
}

// VarName strips "${...}" decoration and surrounding space from a variable name.
func VarName(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}

var delayPattern = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s*(?:,\s*([A-Za-z]+))?\s*$`)

// ParseDelay parses "<value>,<unit>" with unit MS, S, M or H (any case).
// A missing unit means milliseconds.
func ParseDelay(s string) (time.Duration, bool) {
	m := delayPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	var unit time.Duration
	switch strings.ToUpper(m[2]) {
	case "", "MS":
		unit = time.Millisecond
	case "S":
		unit = time.Second
	case "M":
		unit = time.Minute
	case "H":
		unit = time.Hour
	default:
		return 0, false
	}
	return time.Duration(v * float64(unit)), true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
