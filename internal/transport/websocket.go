package transport

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// wsTransport talks to a websocket serial bridge. Each binary (or text)
// message carries raw link bytes in order; message boundaries carry no
// meaning.
//
// A gorilla connection is unusable after a read deadline expires, so the
// first read timeout is also the last one. That matches the engine, which
// aborts on the first empty read.
type wsTransport struct {
	conn    *websocket.Conn
	name    string
	timeout time.Duration
	pending []byte
}

func dialWebsocket(cfg Config, log zerolog.Logger) (*wsTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	conn, _, err := dialer.Dial(cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open %s: %w", cfg.Endpoint, err)
	}
	log.Info().Str("url", cfg.Endpoint).Msg("connected to websocket bridge")
	return &wsTransport{conn: conn, name: cfg.Endpoint, timeout: cfg.Timeout}, nil
}

func (t *wsTransport) Name() string { return t.name }

func (t *wsTransport) Read(p []byte) (int, error) {
	for len(t.pending) == 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
		_, msg, err := t.conn.ReadMessage()
		if isTimeout(err) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		t.pending = msg
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *wsTransport) Write(p []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ResetBuffers drops undelivered message data. A fresh connection carries
// no stale input, and probing with a deadline would break it.
func (t *wsTransport) ResetBuffers() error {
	t.pending = nil
	return nil
}

func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}
