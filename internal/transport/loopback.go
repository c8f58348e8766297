package transport

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Loopback is an in-memory echo device: every written byte becomes
// readable in order. A read with nothing buffered returns (0, nil) at once,
// which the engine treats as a timeout.
//
// CorruptAt, when non-negative, flips the low bit of the byte at that
// stream offset so the mismatch path can be exercised end to end.
type Loopback struct {
	CorruptAt int64

	buf     bytes.Buffer
	written int64
	closed  bool
}

// NewLoopback returns a perfect echo.
func NewLoopback() *Loopback {
	return &Loopback{CorruptAt: -1}
}

// parseLoopback understands "loopback://" and "loopback://?corrupt=N".
func parseLoopback(endpoint string) (*Loopback, error) {
	lb := NewLoopback()
	rest := strings.TrimPrefix(endpoint, schemeLoopback)
	if rest == "" {
		return lb, nil
	}
	u, err := url.Parse("loopback://" + rest)
	if err != nil {
		return nil, fmt.Errorf("transport: bad loopback endpoint %q: %w", endpoint, err)
	}
	if v := u.Query().Get("corrupt"); v != "" {
		off, err := strconv.ParseInt(v, 10, 64)
		if err != nil || off < 0 {
			return nil, fmt.Errorf("transport: bad corrupt offset %q", v)
		}
		lb.CorruptAt = off
	}
	return lb, nil
}

func (l *Loopback) Name() string { return schemeLoopback }

func (l *Loopback) Write(p []byte) (int, error) {
	if l.closed {
		return 0, ErrClosed
	}
	start := l.written
	l.buf.Write(p)
	l.written += int64(len(p))

	if l.CorruptAt >= start && l.CorruptAt < l.written {
		b := l.buf.Bytes()
		b[len(b)-int(l.written-l.CorruptAt)] ^= 0x01
	}
	return len(p), nil
}

func (l *Loopback) Read(p []byte) (int, error) {
	if l.closed {
		return 0, ErrClosed
	}
	if l.buf.Len() == 0 {
		return 0, nil
	}
	return l.buf.Read(p)
}

func (l *Loopback) ResetBuffers() error {
	l.buf.Reset()
	return nil
}

func (l *Loopback) Close() error {
	l.closed = true
	return nil
}
