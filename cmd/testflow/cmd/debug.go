package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/atoms-stack/testflow/internal/cli"
	"github.com/atoms-stack/testflow/internal/engine"
)

// debugHook pauses the run after every node until Enter is pressed.
func debugHook(in io.Reader, out io.Writer) engine.StepHook {
	p := cli.NewPrompter(in, out)
	return func(ctx context.Context, snap engine.Snapshot) error {
		where := fmt.Sprintf("node %d", snap.Node)
		if snap.Workflow != "" {
			where = fmt.Sprintf("%s node %d", snap.Workflow, snap.Node)
		}
		return p.Continue(ctx, fmt.Sprintf("[%d/%d] %s done, row %d.", snap.Step, snap.Total, where, snap.Row+1))
	}
}
