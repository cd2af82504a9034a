package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestPrompter_Continue(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("\nq\n"), &out)
	ctx := context.Background()

	if err := p.Continue(ctx, "node 1 done."); err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if err := p.Continue(ctx, "node 2 done."); !errors.Is(err, ErrQuit) {
		t.Errorf("Continue() after q = %v, want ErrQuit", err)
	}
	if err := p.Continue(ctx, "node 3 done."); !errors.Is(err, io.EOF) {
		t.Errorf("Continue() on closed input = %v, want EOF", err)
	}
	if !strings.Contains(out.String(), "node 1 done. [Enter to continue, q to stop]") {
		t.Errorf("prompt output = %q", out.String())
	}
}

func TestPrompter_ContinueCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewPrompter(r, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Continue(ctx, "waiting"); !errors.Is(err, context.Canceled) {
		t.Errorf("Continue() = %v, want context.Canceled", err)
	}
}
