// Package transport abstracts the duplex byte stream to the echo device.
//
// Every backend follows the same read contract: Read blocks for at most the
// configured timeout and returns (0, nil) when no data arrived in time. A
// non-nil error always means the link itself failed.
package transport

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	schemeLoopback = "loopback://"
	schemeTCP      = "tcp://"
	schemeWS       = "ws://"
	schemeWSS      = "wss://"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
	// ErrFlowTimeout means the peer never signalled clear-to-send within
	// the timeout.
	ErrFlowTimeout = errors.New("transport: flow control wait timed out")
	// ErrWriteTimeout means the driver did not accept a write within the
	// timeout. The link is closed afterwards.
	ErrWriteTimeout = errors.New("transport: write timed out")
)

// Transport is an open link to the device.
type Transport interface {
	io.ReadWriteCloser
	// Name is the endpoint the transport was opened on.
	Name() string
	// ResetBuffers discards any stale input and pending output.
	ResetBuffers() error
}

// Config holds link settings. It is not modified after Open.
type Config struct {
	Endpoint string
	BaudRate int
	Timeout  time.Duration

	RTSCTS  bool
	DSRDTR  bool
	XONXOFF bool
}

// Open selects a backend from the endpoint scheme, opens it and resets its
// buffers. Endpoints without a known scheme are serial port names.
func Open(cfg Config, log zerolog.Logger) (Transport, error) {
	log = log.With().Str("component", "transport").Logger()

	var (
		t   Transport
		err error
	)
	switch {
	case strings.HasPrefix(cfg.Endpoint, schemeLoopback):
		t, err = parseLoopback(cfg.Endpoint)
	case strings.HasPrefix(cfg.Endpoint, schemeTCP):
		t, err = dialTCP(cfg, log)
	case strings.HasPrefix(cfg.Endpoint, schemeWS), strings.HasPrefix(cfg.Endpoint, schemeWSS):
		t, err = dialWebsocket(cfg, log)
	default:
		t, err = openSerial(cfg, log)
	}
	if err != nil {
		return nil, err
	}

	if err := t.ResetBuffers(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}
