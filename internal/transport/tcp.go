package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	tferrors "github.com/atoms-stack/testflow/internal/errors"
)

// DefaultSCPIPort is the raw-socket port used by LXI instruments.
const DefaultSCPIPort = 5025

// TCP speaks newline-terminated SCPI over raw sockets. Connections are opened
// on first use and kept per address.
type TCP struct {
	Port    int
	Timeout time.Duration

	mu    sync.Mutex
	conns map[string]*tcpConn
	dial  func(ctx context.Context, addr string) (net.Conn, error)
}

type tcpConn struct {
	net.Conn
	r *bufio.Reader
}

// NewTCP returns a socket transport. port is used for addresses that do not
// name one.
func NewTCP(port int, timeout time.Duration) *TCP {
	if port <= 0 {
		port = DefaultSCPIPort
	}
	d := &net.Dialer{}
	return &TCP{
		Port:    port,
		Timeout: timeout,
		conns:   make(map[string]*tcpConn),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// SocketAddr maps an instrument address to host:port. Accepted forms are
// VISA resource strings (TCPIP0::host::port::SOCKET, TCPIP0::host::INSTR),
// host:port and a bare host.
func SocketAddr(address string, defaultPort int) (string, error) {
	a := strings.TrimSpace(address)
	if a == "" {
		return "", fmt.Errorf("empty instrument address")
	}
	if strings.Contains(a, "::") {
		parts := strings.Split(a, "::")
		if !strings.HasPrefix(strings.ToUpper(parts[0]), "TCPIP") || len(parts) < 2 {
			return "", fmt.Errorf("resource %q is not a TCPIP resource", address)
		}
		host := parts[1]
		port := defaultPort
		if len(parts) >= 4 && strings.EqualFold(parts[len(parts)-1], "SOCKET") {
			p, err := strconv.Atoi(parts[2])
			if err != nil {
				return "", fmt.Errorf("resource %q has invalid port %q", address, parts[2])
			}
			port = p
		}
		return net.JoinHostPort(host, strconv.Itoa(port)), nil
	}
	if _, _, err := net.SplitHostPort(a); err == nil {
		return a, nil
	}
	return net.JoinHostPort(a, strconv.Itoa(defaultPort)), nil
}

func (t *TCP) conn(ctx context.Context, address string) (*tcpConn, error) {
	addr, err := SocketAddr(address, t.Port)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	dctx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	nc, err := t.dial(dctx, addr)
	if err != nil {
		return nil, err
	}
	c := &tcpConn{Conn: nc, r: bufio.NewReader(nc)}
	t.conns[addr] = c
	return c, nil
}

// drop closes a connection after an I/O error so the next call redials.
func (t *TCP) drop(address string) {
	addr, err := SocketAddr(address, t.Port)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		c.Close()
		delete(t.conns, addr)
	}
}

func (t *TCP) deadline(ctx context.Context) time.Time {
	var dl time.Time
	if t.Timeout > 0 {
		dl = time.Now().Add(t.Timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (dl.IsZero() || cd.Before(dl)) {
		dl = cd
	}
	return dl
}

func (t *TCP) write(ctx context.Context, address, text string) (*tcpConn, error) {
	c, err := t.conn(ctx, address)
	if err != nil {
		return nil, tferrors.Transport(address, "connect", err)
	}
	if err := c.SetDeadline(t.deadline(ctx)); err != nil {
		return nil, tferrors.Transport(address, "deadline", err)
	}
	if _, err := io.WriteString(c, normalize(text)+"\n"); err != nil {
		t.drop(address)
		return nil, tferrors.Transport(address, "write", err)
	}
	return c, nil
}

// Send writes one command.
func (t *TCP) Send(ctx context.Context, address, text string) error {
	_, err := t.write(ctx, address, text)
	return err
}

// Query writes a command and reads one reply line.
func (t *TCP) Query(ctx context.Context, address, text string) (string, error) {
	c, err := t.write(ctx, address, text)
	if err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		t.drop(address)
		return "", tferrors.Transport(address, "read", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// QueryBinary writes a command and reads an IEEE 488.2 definite-length
// block. Replies that are not blocks are returned up to the newline.
func (t *TCP) QueryBinary(ctx context.Context, address, text string) ([]byte, error) {
	c, err := t.write(ctx, address, text)
	if err != nil {
		return nil, err
	}
	data, err := ReadBlock(c.r)
	if err != nil {
		t.drop(address)
		return nil, tferrors.Transport(address, "read", err)
	}
	return data, nil
}

// ReadBlock reads "#<n><length><payload>" from r, consuming a trailing
// newline if present.
func ReadBlock(r *bufio.Reader) ([]byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if b != '#' {
		r.UnreadByte()
		line, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		return []byte(strings.TrimRight(string(line), "\r\n")), nil
	}
	nd, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if nd < '1' || nd > '9' {
		return nil, fmt.Errorf("indefinite or malformed block header #%c", nd)
	}
	digits := make([]byte, nd-'0')
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, fmt.Errorf("invalid block length %q", digits)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if next, err := r.Peek(1); err == nil && next[0] == '\n' {
		r.ReadByte()
	}
	return payload, nil
}

// Close closes every open connection.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for addr, c := range t.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(t.conns, addr)
	}
	return first
}

var (
	_ Transport = (*TCP)(nil)
	_ Closer    = (*TCP)(nil)
)
