// Package results derives the result table layout from a script and records
// cell values into it.
package results

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/atoms-stack/testflow/internal/script"
)

// Fixed column names.
const (
	RowColumn  = "N"
	DateColumn = "Date"
	TimeColumn = "Time"
)

// ColumnKind classifies a result column.
type ColumnKind int

const (
	ColRow ColumnKind = iota
	ColLoop
	ColVariable
	ColValue // query reply of an action
	ColImage // PNG artifact path
	ColSet   // SET artifact path
	ColDate
	ColTime
)

// Column describes one result column.
type Column struct {
	Name   string
	Kind   ColumnKind
	Loop   int // ColLoop
	Node   int // action columns
	Action int // action columns
}

// Schema is the ordered, name-unique list of result columns.
type Schema struct {
	Columns []Column
	index   map[string]int
}

// NewSchema builds a schema from columns, dropping repeated names.
func NewSchema(cols []Column) *Schema {
	s := &Schema{index: make(map[string]int)}
	for _, c := range cols {
		s.add(c)
	}
	return s
}

func (s *Schema) add(c Column) {
	if _, dup := s.index[c.Name]; dup {
		return
	}
	s.index[c.Name] = len(s.Columns)
	s.Columns = append(s.Columns, c)
}

// Index returns the ordinal of the named column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Names returns the header row.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.Columns) }

// DeriveSchema lays out the header: row index, Loop(<id>) ascending, variables
// in first-declaration order, one column group per recording action, then
// Date and Time.
func DeriveSchema(g *script.Graph) *Schema {
	s := NewSchema([]Column{{Name: RowColumn, Kind: ColRow}})

	ids := make([]int, 0, len(g.LoopOrder))
	for _, lp := range g.LoopOrder {
		ids = append(ids, lp.ID)
	}
	sort.Ints(ids)
	for _, id := range ids {
		s.add(Column{Name: LoopColumn(id), Kind: ColLoop, Loop: id})
	}

	for _, v := range g.Variables {
		s.add(Column{Name: v.Name, Kind: ColVariable})
	}

	for _, n := range g.NodeOrder {
		for _, a := range n.Actions {
			if !a.Records() {
				continue
			}
			if a.Query {
				s.add(Column{Name: ValueColumn(a.Title, n.ID, a.Index), Kind: ColValue, Node: n.ID, Action: a.Index})
			}
			if a.Image {
				s.add(Column{Name: ImageColumn(a.Title, n.ID, a.Index), Kind: ColImage, Node: n.ID, Action: a.Index})
			}
			if a.Set {
				s.add(Column{Name: SetColumn(a.Title, n.ID, a.Index), Kind: ColSet, Node: n.ID, Action: a.Index})
			}
		}
	}

	s.add(Column{Name: DateColumn, Kind: ColDate})
	s.add(Column{Name: TimeColumn, Kind: ColTime})
	return s
}

// LoopColumn names the iteration column of a loop.
func LoopColumn(id int) string { return fmt.Sprintf("Loop(%d)", id) }

// ValueColumn names the reply column of an action.
func ValueColumn(title string, node, action int) string {
	return fmt.Sprintf("%s(N%d|A%d)", Sanitize(title), node, action)
}

// ImageColumn names the PNG artifact column of an action.
func ImageColumn(title string, node, action int) string {
	return fmt.Sprintf("%simg(N%d|A%d)", Sanitize(title), node, action)
}

// SetColumn names the SET artifact column of an action.
func SetColumn(title string, node, action int) string {
	return fmt.Sprintf("%sset(N%d|A%d)", Sanitize(title), node, action)
}

var (
	whitespace = regexp.MustCompile(`\s`)
	unsafeRune = regexp.MustCompile(`[^\p{L}\p{N}_\-]`)
)

// Sanitize turns an action title into a column-name stem: each whitespace rune
// becomes an underscore and anything but letters, digits, '_' and '-' is dropped.
func Sanitize(title string) string {
	s := whitespace.ReplaceAllString(strings.TrimSpace(title), "_")
	return unsafeRune.ReplaceAllString(s, "")
}
