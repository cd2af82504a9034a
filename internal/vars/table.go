package vars

import (
	"regexp"
	"strings"

	tferrors "github.com/atoms-stack/testflow/internal/errors"
	"github.com/atoms-stack/testflow/internal/script"
)

// Variable is a named value sequence with a cursor.
type Variable struct {
	Name       string
	Values     []float64
	Loop       *script.Loop // governing loop, nil at top level
	current    string
	hasCurrent bool
}

// Current returns the current value and whether one has been set.
func (v *Variable) Current() (string, bool) { return v.current, v.hasCurrent }

// Set replaces the current value.
func (v *Variable) Set(value string) {
	v.current = value
	v.hasCurrent = true
}

// Advance moves the cursor to the value of the given 1-based iteration.
// It reports false when the variable has no value for that iteration.
func (v *Variable) Advance(iteration int) (string, bool) {
	if iteration < 1 || iteration > len(v.Values) {
		return v.current, false
	}
	v.Set(FormatValue(v.Values[iteration-1]))
	return v.current, true
}

// Table holds the variables of one run. It is owned by a single engine.
type Table struct {
	caseSensitive bool
	byName        map[string]*Variable
	order         []*Variable
}

// NewTable returns an empty table.
func NewTable(caseSensitive bool) *Table {
	return &Table{caseSensitive: caseSensitive, byName: make(map[string]*Variable)}
}

func (t *Table) key(name string) string {
	if t.caseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// Build expands every declared variable of g. The expanded length of each
// variable must equal its governing loop's iteration count (1 outside any
// loop). A declaration without Range lines yields an empty variable that can
// still be assigned by Math actions and save2var.
func Build(g *script.Graph) (*Table, error) {
	t := NewTable(g.CaseSensitive)
	for _, decl := range g.Variables {
		v := t.Ensure(decl.Name)
		v.Loop = decl.Loop
		for _, spec := range decl.Ranges {
			r, err := ParseRange(spec.Line+1, spec.Text)
			if err != nil {
				return nil, err
			}
			v.Values = append(v.Values, r.Values()...)
		}
		if len(decl.Ranges) == 0 {
			continue
		}
		want := 1
		if decl.Loop != nil {
			want = decl.Loop.Iterations
		}
		if len(v.Values) != want {
			return nil, tferrors.RangeLength(decl.Name, len(v.Values), want)
		}
		v.Advance(1)
	}
	return t, nil
}

// Lookup returns the named variable.
func (t *Table) Lookup(name string) (*Variable, bool) {
	v, ok := t.byName[t.key(name)]
	return v, ok
}

// Ensure returns the named variable, creating an empty one if needed.
func (t *Table) Ensure(name string) *Variable {
	if v, ok := t.Lookup(name); ok {
		return v
	}
	v := &Variable{Name: name}
	t.byName[t.key(name)] = v
	t.order = append(t.order, v)
	return v
}

// Variables returns the variables in declaration order.
func (t *Table) Variables() []*Variable {
	return append([]*Variable(nil), t.order...)
}

// Override sets the current value of a declared variable.
func (t *Table) Override(name, value string) error {
	v, ok := t.Lookup(name)
	if !ok {
		return tferrors.MissingVariable(name)
	}
	v.Set(value)
	return nil
}

var placeholder = regexp.MustCompile(`\$\{\s*([^{}]*?)\s*\}`)

// Substitute replaces every ${name} with the variable's current value.
// Unknown names, and variables without a value, are left untouched.
func (t *Table) Substitute(text string) string {
	if !strings.Contains(text, "${") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(tok string) string {
		name := placeholder.FindStringSubmatch(tok)[1]
		v, ok := t.Lookup(name)
		if !ok {
			return tok
		}
		cur, ok := v.Current()
		if !ok {
			return tok
		}
		return cur
	})
}

// Unresolved returns the placeholder names in text that Substitute would
// leave in place.
func (t *Table) Unresolved(text string) []string {
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		v, ok := t.Lookup(m[1])
		if !ok {
			out = append(out, m[1])
			continue
		}
		if _, has := v.Current(); !has {
			out = append(out, m[1])
		}
	}
	return out
}
