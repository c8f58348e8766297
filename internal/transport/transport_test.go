package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// readFull reads until n bytes arrive or a read times out.
func readFull(t *testing.T, tr Transport, n int) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, 64)
	for len(out) < n {
		m, err := tr.Read(buf[:min(len(buf), n-len(out))])
		require.NoError(t, err)
		if m == 0 {
			break
		}
		out = append(out, buf[:m]...)
	}
	return out
}

func TestLoopback_Echo(t *testing.T) {
	lb := NewLoopback()
	n, err := lb.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, []byte("hello"), readFull(t, lb, 5))

	n, err = lb.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.Zero(t, n, "empty loopback read is a timeout")
}

func TestLoopback_ResetDiscardsStale(t *testing.T) {
	lb := NewLoopback()
	lb.Write([]byte("stale"))
	require.NoError(t, lb.ResetBuffers())

	n, err := lb.Read(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoopback_Corrupt(t *testing.T) {
	lb, err := parseLoopback("loopback://?corrupt=6")
	require.NoError(t, err)

	lb.Write([]byte{0, 1, 2, 3})
	lb.Write([]byte{4, 5, 6, 7})
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 7, 7}, readFull(t, lb, 8))
}

func TestLoopback_BadEndpoint(t *testing.T) {
	_, err := parseLoopback("loopback://?corrupt=-4")
	assert.Error(t, err)
	_, err = parseLoopback("loopback://?corrupt=x")
	assert.Error(t, err)
}

func TestLoopback_Closed(t *testing.T) {
	lb := NewLoopback()
	require.NoError(t, lb.Close())
	_, err := lb.Write([]byte{1})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = lb.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_Loopback(t *testing.T) {
	tr, err := Open(Config{Endpoint: "loopback://", Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, "loopback://", tr.Name())
}

func TestOpen_MissingSerialPort(t *testing.T) {
	_, err := Open(Config{Endpoint: "/dev/echocheck-missing-port", BaudRate: 115200, Timeout: time.Second}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")
}

func startTCPEcho(t *testing.T, greeting []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				if len(greeting) > 0 {
					c.Write(greeting)
				}
				io.Copy(c, c)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestTCP_EchoAndTimeout(t *testing.T) {
	addr := startTCPEcho(t, nil)
	tr, err := Open(Config{Endpoint: "tcp://" + addr, Timeout: 200 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	defer tr.Close()

	payload := bytes.Repeat([]byte("0123456789"), 50)
	n, err := tr.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, readFull(t, tr, len(payload)))

	n, err = tr.Read(make([]byte, 16))
	require.NoError(t, err, "deadline expiry must not surface as an error")
	assert.Zero(t, n)
}

func TestTCP_ResetDrainsGreeting(t *testing.T) {
	addr := startTCPEcho(t, []byte("boot banner\r\n"))
	tr, err := dialTCP(Config{Endpoint: "tcp://" + addr, Timeout: 200 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	defer tr.Close()

	// Let the banner arrive before the reset.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.ResetBuffers())

	tr.Write([]byte("x"))
	assert.Equal(t, []byte("x"), readFull(t, tr, 1))
}

func TestTCP_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Open(Config{Endpoint: "tcp://" + addr, Timeout: 200 * time.Millisecond}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")
}

func startWSEcho(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// Split each message in two to show boundaries do not matter.
			half := len(msg) / 2
			conn.WriteMessage(typ, msg[:half])
			conn.WriteMessage(typ, msg[half:])
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocket_Echo(t *testing.T) {
	url := startWSEcho(t)
	tr, err := Open(Config{Endpoint: url, Timeout: 200 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	defer tr.Close()

	payload := bytes.Repeat([]byte{0xA5, 0x5A, 0x00}, 100)
	n, err := tr.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, readFull(t, tr, len(payload)))

	n, err = tr.Read(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)
}

type fakePort struct {
	in       []byte
	out      bytes.Buffer
	cts, dsr bool
	timeouts []time.Duration
	resets   int
	closed   bool

	restoreErr error // returned by SetReadTimeout for non-zero durations
}

func (f *fakePort) Read(p []byte) (int, error) {
	n := copy(p, f.in)
	f.in = f.in[n:]
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) { return f.out.Write(p) }
func (f *fakePort) ResetInputBuffer() error     { f.in = nil; f.resets++; return nil }
func (f *fakePort) ResetOutputBuffer() error    { f.resets++; return nil }
func (f *fakePort) Close() error                { f.closed = true; return nil }

func (f *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{CTS: f.cts, DSR: f.dsr}, nil
}

func (f *fakePort) SetReadTimeout(d time.Duration) error {
	f.timeouts = append(f.timeouts, d)
	if d != 0 {
		return f.restoreErr
	}
	return nil
}

// stuckPort never completes a write until it is closed, like a driver
// whose output buffer the device stopped draining.
type stuckPort struct {
	fakePort
	once    sync.Once
	release chan struct{}
}

func newStuckPort() *stuckPort {
	return &stuckPort{release: make(chan struct{})}
}

func (p *stuckPort) Write([]byte) (int, error) {
	<-p.release
	return 0, io.ErrClosedPipe
}

func (p *stuckPort) Close() error {
	p.once.Do(func() { close(p.release) })
	return nil
}

func newFakeSerial(port *fakePort, cfg Config) *serialTransport {
	cfg.Endpoint = "/dev/fake"
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Millisecond
	}
	return &serialTransport{port: port, name: cfg.Endpoint, cfg: cfg, log: zerolog.Nop()}
}

func TestSerial_PlainWriteRead(t *testing.T) {
	port := &fakePort{in: []byte("echo")}
	s := newFakeSerial(port, Config{})

	n, err := s.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", port.out.String())
	assert.Equal(t, []byte("echo"), readFull(t, s, 4))
}

func TestSerial_ResetBuffers(t *testing.T) {
	port := &fakePort{in: []byte("junk")}
	s := newFakeSerial(port, Config{XONXOFF: true})
	s.held = []byte("held")
	s.paused = true

	require.NoError(t, s.ResetBuffers())
	assert.Equal(t, 2, port.resets)
	assert.Empty(t, s.held)
	assert.False(t, s.paused)
}

func TestSerial_RTSCTSBlocksWithoutCTS(t *testing.T) {
	port := &fakePort{}
	s := newFakeSerial(port, Config{RTSCTS: true})

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrFlowTimeout)
	assert.Zero(t, port.out.Len())

	port.cts = true
	n, err := s.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSerial_DSRDTRBlocksWithoutDSR(t *testing.T) {
	port := &fakePort{cts: true}
	s := newFakeSerial(port, Config{DSRDTR: true})

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrFlowTimeout)

	port.dsr = true
	_, err = s.Write([]byte("x"))
	assert.NoError(t, err)
}

func TestSerial_XOFFPausesWrites(t *testing.T) {
	port := &fakePort{in: []byte{'a', xoff, 'b'}}
	s := newFakeSerial(port, Config{XONXOFF: true})

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrFlowTimeout)
	assert.True(t, s.paused)
	assert.Equal(t, []byte("ab"), s.held, "data around XOFF is kept for Read")

	port.in = []byte{xon, 'c'}
	_, err = s.Write([]byte("y"))
	require.NoError(t, err)
	assert.Equal(t, "y", port.out.String())
	assert.Contains(t, port.timeouts, time.Duration(0), "flow poll must not block")

	assert.Equal(t, []byte("abc"), readFull(t, s, 3))
}

func TestSerial_XONXOFFStrippedFromInput(t *testing.T) {
	port := &fakePort{in: []byte{xon, 'h', xoff, 'i', xon}}
	s := newFakeSerial(port, Config{XONXOFF: true})

	assert.Equal(t, []byte("hi"), readFull(t, s, 2))
	assert.False(t, s.paused)
}

func TestSerial_OnlyFlowBytesIsTimeout(t *testing.T) {
	port := &fakePort{in: []byte{xon, xon}}
	s := newFakeSerial(port, Config{XONXOFF: true})

	n, err := s.Read(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSerial_StalledWriteTimesOut(t *testing.T) {
	port := newStuckPort()
	s := newFakeSerial(&port.fakePort, Config{Timeout: 50 * time.Millisecond})
	s.port = port

	start := time.Now()
	n, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrWriteTimeout)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-port.release:
	default:
		t.Fatal("port was not closed after the write timed out")
	}

	_, err = s.Write([]byte("y"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close(), "second close is a no-op")
}

func TestSerial_RestoreTimeoutFailureSurfaces(t *testing.T) {
	port := &fakePort{restoreErr: errors.New("ioctl failed")}
	s := newFakeSerial(port, Config{XONXOFF: true})

	_, err := s.Write([]byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore read timeout")
	assert.Zero(t, port.out.Len())
}
