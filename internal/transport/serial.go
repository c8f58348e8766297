package transport

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

const (
	xon  = 0x11
	xoff = 0x13

	flowPollInterval = time.Millisecond
)

// serialPort is the subset of serial.Port the transport uses.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	ResetOutputBuffer() error
	GetModemStatusBits() (*serial.ModemStatusBits, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// serialTransport wraps a go.bug.st/serial port.
//
// The driver has no kernel flow-control switches, so the handshakes are
// emulated: RTS and DTR are asserted on open, CTS/DSR are polled before each
// write, and XON/XOFF bytes are stripped from the input and gate writes.
type serialTransport struct {
	port serialPort
	name string
	cfg  Config
	log  zerolog.Logger

	paused bool   // XOFF seen, waiting for XON
	held   []byte // input read while polling for XON/XOFF
	closed bool
}

type writeResult struct {
	n   int
	err error
}

func openSerial(cfg Config, log zerolog.Logger) (*serialTransport, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: true,
			DTR: true,
		},
	}
	port, err := serial.Open(cfg.Endpoint, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open %s: %w", cfg.Endpoint, err)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: failed to set timeout: %w", err)
	}

	log.Info().
		Str("port", cfg.Endpoint).
		Int("baud", cfg.BaudRate).
		Bool("rtscts", cfg.RTSCTS).
		Bool("dsrdtr", cfg.DSRDTR).
		Bool("xonxoff", cfg.XONXOFF).
		Msg("opened serial port")

	return &serialTransport{port: port, name: cfg.Endpoint, cfg: cfg, log: log}, nil
}

func (s *serialTransport) Name() string { return s.name }

func (s *serialTransport) ResetBuffers() error {
	s.held = nil
	s.paused = false
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("transport: reset input: %w", err)
	}
	if err := s.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("transport: reset output: %w", err)
	}
	return nil
}

// Write waits for clear-to-send, then hands p to the driver. The driver
// has no write deadline, so a write still pending after the timeout closes
// the port to release it.
func (s *serialTransport) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.waitClearToSend(); err != nil {
		return 0, err
	}

	done := make(chan writeResult, 1)
	go func() {
		n, err := s.port.Write(p)
		done <- writeResult{n, err}
	}()

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		s.log.Warn().Str("port", s.name).Dur("timeout", s.cfg.Timeout).Int("bytes", len(p)).Msg("write stalled, closing port")
		if err := s.Close(); err != nil {
			s.log.Warn().Err(err).Str("port", s.name).Msg("close after write timeout failed")
		}
		return 0, fmt.Errorf("%w on %s after %v", ErrWriteTimeout, s.name, s.cfg.Timeout)
	}
}

func (s *serialTransport) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(s.held) > 0 {
		n := copy(p, s.held)
		s.held = s.held[n:]
		return n, nil
	}
	if !s.cfg.XONXOFF {
		return s.port.Read(p)
	}

	// A read made only of flow bytes is not a timeout; keep waiting until
	// the deadline.
	deadline := time.Now().Add(s.cfg.Timeout)
	for {
		n, err := s.port.Read(p)
		if err != nil || n == 0 {
			return n, err
		}
		if m := s.stripFlow(p[:n]); m > 0 {
			return m, nil
		}
		if time.Now().After(deadline) {
			return 0, nil
		}
	}
}

func (s *serialTransport) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// stripFlow removes XON/XOFF from b in place, updating the pause state,
// and returns the number of data bytes left at the front of b.
func (s *serialTransport) stripFlow(b []byte) int {
	n := 0
	for _, c := range b {
		switch c {
		case xoff:
			s.paused = true
		case xon:
			s.paused = false
		default:
			b[n] = c
			n++
		}
	}
	return n
}

// pollFlow reads whatever input is pending without blocking, so an XOFF
// sent during the write phase is seen before the next write.
func (s *serialTransport) pollFlow() (err error) {
	if err := s.port.SetReadTimeout(0); err != nil {
		return fmt.Errorf("transport: set poll timeout: %w", err)
	}
	defer func() {
		if rerr := s.port.SetReadTimeout(s.cfg.Timeout); rerr != nil && err == nil {
			err = fmt.Errorf("transport: restore read timeout: %w", rerr)
		}
	}()

	buf := make([]byte, 256)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		m := s.stripFlow(buf[:n])
		s.held = append(s.held, buf[:m]...)
	}
}

func (s *serialTransport) waitClearToSend() error {
	if !s.cfg.RTSCTS && !s.cfg.DSRDTR && !s.cfg.XONXOFF {
		return nil
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	for {
		ready := true
		if s.cfg.XONXOFF {
			if err := s.pollFlow(); err != nil {
				return err
			}
			ready = !s.paused
		}
		if ready && (s.cfg.RTSCTS || s.cfg.DSRDTR) {
			bits, err := s.port.GetModemStatusBits()
			if err != nil {
				return fmt.Errorf("transport: modem status: %w", err)
			}
			if s.cfg.RTSCTS && !bits.CTS {
				ready = false
			}
			if s.cfg.DSRDTR && !bits.DSR {
				ready = false
			}
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w on %s after %v (paused=%v)", ErrFlowTimeout, s.name, s.cfg.Timeout, s.paused)
		}
		time.Sleep(flowPollInterval)
	}
}
