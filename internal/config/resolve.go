package config

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shaunagostinho/echocheck/internal/device"
	"github.com/shaunagostinho/echocheck/internal/digest"
	"github.com/shaunagostinho/echocheck/internal/units"
)

// Run is the validated, typed form of Config used by a single test run.
type Run struct {
	Port      string
	VID, PID  *uint16
	Wait      time.Duration
	BaudRate  int
	Timeout   time.Duration
	RTSCTS    bool
	DSRDTR    bool
	XONXOFF   bool
	Bytes     int
	ChunkSize int
	Seed      *uint64
	Algo      string
	HMACKey   []byte // nil means plain hash

	Format      string
	MetricsFile string
	HistoryDir  string
	LogLevel    string
	Jaeger      string
}

// Resolve validates every field and converts it to its typed form.
func (c *Config) Resolve() (*Run, error) {
	r := &Run{
		Port:        c.Device.Port,
		Wait:        c.Device.Wait,
		BaudRate:    c.Serial.BaudRate,
		RTSCTS:      c.Serial.RTSCTS,
		DSRDTR:      c.Serial.DSRDTR,
		XONXOFF:     c.Serial.XONXOFF,
		Algo:        digest.Normalize(c.Integrity.Algo),
		Format:      c.Output.Format,
		MetricsFile: c.Output.MetricsFile,
		HistoryDir:  c.Output.HistoryDir,
		LogLevel:    c.Logging.Level,
		Jaeger:      c.Tracing.JaegerEndpoint,
	}

	if c.Device.VID != "" {
		v, err := device.ParseID(c.Device.VID)
		if err != nil {
			return nil, fmt.Errorf("%w: vid: %w", ErrConfig, err)
		}
		r.VID = &v
	}
	if c.Device.PID != "" {
		v, err := device.ParseID(c.Device.PID)
		if err != nil {
			return nil, fmt.Errorf("%w: pid: %w", ErrConfig, err)
		}
		r.PID = &v
	}
	if r.BaudRate <= 0 {
		return nil, fmt.Errorf("%w: baudrate must be positive, got %d", ErrConfig, r.BaudRate)
	}
	if c.Serial.Timeout <= 0 || math.IsNaN(c.Serial.Timeout) || math.IsInf(c.Serial.Timeout, 0) {
		return nil, fmt.Errorf("%w: timeout must be a positive number of seconds", ErrConfig)
	}
	r.Timeout = time.Duration(c.Serial.Timeout * float64(time.Second))
	if r.Wait < 0 {
		return nil, fmt.Errorf("%w: wait must not be negative", ErrConfig)
	}

	n, err := units.ParseSize(c.Payload.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: bytes: %w", ErrConfig, err)
	}
	if n > math.MaxInt32 {
		return nil, fmt.Errorf("%w: bytes: %d exceeds the in-memory payload limit", ErrConfig, n)
	}
	r.Bytes = int(n)

	chunk, err := units.ParseSize(c.Payload.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk-size: %w", ErrConfig, err)
	}
	if chunk < 1 {
		return nil, fmt.Errorf("%w: chunk-size must be at least 1", ErrConfig)
	}
	if chunk > math.MaxInt32 {
		chunk = math.MaxInt32
	}
	r.ChunkSize = int(chunk)

	if c.Payload.Seed != "" {
		s, err := strconv.ParseUint(c.Payload.Seed, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: seed must be a non-negative 64-bit integer, got %q", ErrConfig, c.Payload.Seed)
		}
		r.Seed = &s
	}

	if _, err := digest.Lookup(r.Algo); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	key, err := digest.ParseKey(c.Integrity.HMACKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	r.HMACKey = key

	switch r.Format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("%w: format must be text or json, got %q", ErrConfig, r.Format)
	}
	return r, nil
}
