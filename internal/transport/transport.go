// Package transport defines how the engine talks to instruments and provides
// a YAML-scripted simulator and a raw-socket SCPI binding.
package transport

import (
	"context"
	"strings"
)

// Transport sends text commands to an addressed instrument. Every call
// blocks until the instrument has answered or failed.
type Transport interface {
	Send(ctx context.Context, address, text string) error
	Query(ctx context.Context, address, text string) (string, error)
	QueryBinary(ctx context.Context, address, text string) ([]byte, error)
}

// Closer is implemented by transports holding connections.
type Closer interface {
	Close() error
}

// Close closes t if it holds resources.
func Close(t Transport) error {
	if c, ok := t.(Closer); ok {
		return c.Close()
	}
	return nil
}

// normalize trims a command for lookup and transmission.
func normalize(text string) string {
	return strings.TrimSpace(text)
}
