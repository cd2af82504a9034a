package script

import "strings"

// Workflow is one captured #START_WORKFLOW ... #END_WORKFLOW block.
type Workflow struct {
	Name  string
	Start int // line of the start marker
	End   int // line of the end marker
	Body  []string
}

// Script wraps the body in window markers so it can be parsed and run as a
// standalone script.
func (w Workflow) Script() []string {
	lines := make([]string, 0, len(w.Body)+2)
	lines = append(lines, "#START_SCRIPT")
	lines = append(lines, w.Body...)
	lines = append(lines, "#END_SCRIPT")
	return lines
}

// Workflows holds every captured block. Repeated names are kept as
// successive instances.
type Workflows struct {
	caseSensitive bool
	byName        map[string][]Workflow
	order         []string
}

func newWorkflows(caseSensitive bool) *Workflows {
	return &Workflows{caseSensitive: caseSensitive, byName: make(map[string][]Workflow)}
}

func (w *Workflows) key(name string) string {
	if w.caseSensitive {
		return name
	}
	return strings.ToLower(name)
}

func (w *Workflows) add(wf Workflow) {
	k := w.key(wf.Name)
	if _, ok := w.byName[k]; !ok {
		w.order = append(w.order, wf.Name)
	}
	w.byName[k] = append(w.byName[k], wf)
}

// Lookup returns the first instance of the named workflow.
func (w *Workflows) Lookup(name string) (Workflow, bool) {
	if w == nil {
		return Workflow{}, false
	}
	list := w.byName[w.key(name)]
	if len(list) == 0 {
		return Workflow{}, false
	}
	return list[0], true
}

// Instances returns every captured instance of the named workflow.
func (w *Workflows) Instances(name string) []Workflow {
	if w == nil {
		return nil
	}
	return w.byName[w.key(name)]
}

// Names returns workflow names in first-capture order.
func (w *Workflows) Names() []string {
	if w == nil {
		return nil
	}
	return append([]string(nil), w.order...)
}

// Len returns the number of distinct workflow names.
func (w *Workflows) Len() int {
	if w == nil {
		return 0
	}
	return len(w.order)
}

// ExtractWorkflows scans lines for named workflow blocks, independent of any
// executable window.
func ExtractWorkflows(lines []string, opts Options) (*Workflows, []Warning) {
	lx := NewLexer(opts.CaseSensitive)
	return extractWorkflows(lx.LexAll(lines), lx)
}

func extractWorkflows(ins []Instruction, lx *Lexer) (*Workflows, []Warning) {
	wfs := newWorkflows(lx.CaseSensitive())
	var warnings []Warning

	for i := 0; i < len(ins); i++ {
		in := ins[i]
		switch in.Kind {
		case KindWorkflowStart:
			end := -1
			for j := i + 1; j < len(ins); j++ {
				if ins[j].Kind == KindWorkflowEnd && lx.SameName(ins[j].Name, in.Name) {
					end = j
					break
				}
			}
			if end < 0 {
				warnings = append(warnings, Warning{Line: i, Message: "workflow " + in.Name + " has no #END_WORKFLOW, block not captured"})
				continue
			}
			body := make([]string, 0, end-i-1)
			for j := i + 1; j < end; j++ {
				body = append(body, ins[j].Text)
			}
			wfs.add(Workflow{Name: in.Name, Start: i, End: end, Body: body})
			i = end

		case KindWorkflowEnd:
			warnings = append(warnings, Warning{Line: i, Message: "#END_WORKFLOW(" + in.Name + ") without an open #START_WORKFLOW"})
		}
	}
	return wfs, warnings
}
