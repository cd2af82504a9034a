package results

import (
	tferrors "github.com/atoms-stack/testflow/internal/errors"
)

// DelimiterRow is the row written after a spliced sub-workflow block.
func DelimiterRow(workflow string) []string {
	return []string{"*** Sub_script " + workflow + " ended ***"}
}

// Recorder is the in-memory result stream of one engine. Data rows follow the
// schema; spliced rows keep whatever layout they were given.
type Recorder struct {
	schema *Schema
	rows   [][]string
	sink   Sink
}

// NewRecorder returns a recorder for schema. sink may be nil for a recorder
// that is only ever spliced into a parent.
func NewRecorder(schema *Schema, sink Sink) *Recorder {
	return &Recorder{schema: schema, sink: sink}
}

// Schema returns the recorder's layout.
func (r *Recorder) Schema() *Schema { return r.schema }

// Rows returns a copy of every row, spliced rows included.
func (r *Recorder) Rows() [][]string {
	out := make([][]string, len(r.rows))
	for i, row := range r.rows {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// Len returns the number of rows.
func (r *Recorder) Len() int { return len(r.rows) }

func (r *Recorder) ensure(row int) {
	for len(r.rows) <= row {
		r.rows = append(r.rows, make([]string, r.schema.Len()))
	}
}

// Set writes value into the named column of row. Rows beyond the current
// extent are appended blank. The last write wins.
func (r *Recorder) Set(row int, column, value string) error {
	idx, ok := r.schema.Index(column)
	if !ok {
		return tferrors.UnknownColumn(column)
	}
	return r.SetAt(row, idx, value)
}

// SetAt writes value into the column at ordinal idx of row.
func (r *Recorder) SetAt(row, idx int, value string) error {
	if row < 0 {
		return tferrors.Newf(tferrors.CodeUnknownColumn, "row %d out of range", row)
	}
	if idx < 0 || idx >= r.schema.Len() {
		return tferrors.Newf(tferrors.CodeUnknownColumn, "column index %d out of range", idx).
			WithDetail("index", idx)
	}
	r.ensure(row)
	cells := r.rows[row]
	for len(cells) <= idx {
		cells = append(cells, "")
	}
	cells[idx] = value
	r.rows[row] = cells
	return nil
}

// Get returns the named cell of row, or "" when unset.
func (r *Recorder) Get(row int, column string) string {
	idx, ok := r.schema.Index(column)
	if !ok || row < 0 || row >= len(r.rows) || idx >= len(r.rows[row]) {
		return ""
	}
	return r.rows[row][idx]
}

// Splice inserts block at row position at, padding with blank rows if at is
// past the end. It returns the position just after the block.
func (r *Recorder) Splice(at int, block [][]string) int {
	if at < 0 {
		at = len(r.rows)
	}
	if at > len(r.rows) {
		r.ensure(at - 1)
	}
	copied := make([][]string, len(block))
	for i, row := range block {
		copied[i] = append([]string(nil), row...)
	}
	tail := append(copied, r.rows[at:]...)
	r.rows = append(r.rows[:at], tail...)
	return at + len(block)
}

// Flush persists the header and every row to the sink.
func (r *Recorder) Flush() error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Write(r.schema.Names(), r.Rows())
}
