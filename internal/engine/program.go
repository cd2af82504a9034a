// Package engine interprets a parsed script: it walks the control-flow graph
// line by line, drives the instruments, fills the result recorder and obeys
// the run-state token.
package engine

import (
	"errors"
	"os"

	tferrors "github.com/atoms-stack/testflow/internal/errors"
	"github.com/atoms-stack/testflow/internal/results"
	"github.com/atoms-stack/testflow/internal/script"
	"github.com/atoms-stack/testflow/internal/vars"
)

// Program is everything derived from a script before execution.
type Program struct {
	Path   string
	Graph  *script.Graph
	Vars   *vars.Table
	Schema *results.Schema
	Total  int
}

// Load reads and compiles the script at path.
func Load(path string, opts script.Options) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, tferrors.IOFileNotFound(path)
		case errors.Is(err, os.ErrPermission):
			return nil, tferrors.IOPermissionDenied(path, err)
		default:
			return nil, tferrors.IOReadError(path, err)
		}
	}
	prog, err := Compile(script.SplitLines(string(data)), opts)
	if err != nil {
		return nil, err
	}
	prog.Path = path
	return prog, nil
}

// Compile parses lines and expands their variables.
func Compile(lines []string, opts script.Options) (*Program, error) {
	g, err := script.ParseLines(lines, opts)
	if err != nil {
		return nil, err
	}
	table, err := vars.Build(g)
	if err != nil {
		return nil, err
	}
	return &Program{
		Graph:  g,
		Vars:   table,
		Schema: results.DeriveSchema(g),
		Total:  g.TotalSteps(),
	}, nil
}
