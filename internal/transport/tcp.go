package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// drainWindow is how long ResetBuffers waits for stale input on a socket.
const drainWindow = 20 * time.Millisecond

// netTransport talks to a raw TCP serial server such as ser2net.
type netTransport struct {
	conn    net.Conn
	name    string
	timeout time.Duration
	log     zerolog.Logger
}

func dialTCP(cfg Config, log zerolog.Logger) (*netTransport, error) {
	addr := strings.TrimPrefix(cfg.Endpoint, schemeTCP)
	conn, err := net.DialTimeout("tcp", addr, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open %s: %w", cfg.Endpoint, err)
	}
	log.Info().Str("addr", addr).Msg("connected to tcp serial server")
	return &netTransport{conn: conn, name: cfg.Endpoint, timeout: cfg.Timeout, log: log}, nil
}

func (t *netTransport) Name() string { return t.name }

func (t *netTransport) Read(p []byte) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if isTimeout(err) {
		return n, nil
	}
	return n, err
}

func (t *netTransport) Write(p []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	return t.conn.Write(p)
}

// ResetBuffers drains input already queued by the server until the line
// has been silent for drainWindow. Socket output cannot be recalled.
func (t *netTransport) ResetBuffers() error {
	buf := make([]byte, 4096)
	total := 0
	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(drainWindow)); err != nil {
			return err
		}
		n, err := t.conn.Read(buf)
		total += n
		if isTimeout(err) {
			break
		}
		if err != nil {
			return fmt.Errorf("transport: drain %s: %w", t.name, err)
		}
	}
	if total > 0 {
		t.log.Debug().Int("bytes", total).Msg("drained stale input")
	}
	return nil
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return err != nil && errors.As(err, &ne) && ne.Timeout()
}
