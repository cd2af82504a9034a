// Package cli holds interactive terminal helpers.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrQuit is returned when the user asks to stop at a prompt.
var ErrQuit = errors.New("quit at prompt")

// Prompter asks questions on out and reads answers line by line from in.
// Reading happens on a background goroutine so a prompt can be abandoned
// when its context ends.
type Prompter struct {
	out   io.Writer
	lines chan string
}

// NewPrompter starts reading lines from in.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{out: out, lines: make(chan string)}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
		close(p.lines)
	}()
	return p
}

func (p *Prompter) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", fmt.Errorf("reading response: %w", io.EOF)
		}
		return strings.TrimSpace(line), nil
	}
}

// Continue prints prompt and waits for Enter. Typing q (or quit) returns
// ErrQuit.
func (p *Prompter) Continue(ctx context.Context, prompt string) error {
	fmt.Fprintf(p.out, "%s [Enter to continue, q to stop] ", prompt)
	response, err := p.readLine(ctx)
	if err != nil {
		return err
	}
	switch strings.ToLower(response) {
	case "q", "quit":
		return ErrQuit
	}
	return nil
}
