// Package config loads echocheck settings from defaults, an optional YAML
// file, .env files and environment variables. Command-line flags are
// applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrConfig wraps every failure to load or validate configuration.
var ErrConfig = errors.New("configuration error")

// Config holds all run settings. Sizes stay strings until Resolve so the
// same grammar applies to YAML, environment and flags.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Serial    SerialConfig    `yaml:"serial"`
	Payload   PayloadConfig   `yaml:"payload"`
	Integrity IntegrityConfig `yaml:"integrity"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`

	path string
}

type DeviceConfig struct {
	Port string        `yaml:"port"` // serial name or tcp://, ws://, loopback://
	VID  string        `yaml:"vid"`  // e.g. 0x303A
	PID  string        `yaml:"pid"`
	Wait time.Duration `yaml:"wait"` // retry resolve+open until this elapses
}

type SerialConfig struct {
	BaudRate int     `yaml:"baudrate"`
	Timeout  float64 `yaml:"timeout"` // seconds
	RTSCTS   bool    `yaml:"rtscts"`
	DSRDTR   bool    `yaml:"dsrdtr"`
	XONXOFF  bool    `yaml:"xonxoff"`
}

type PayloadConfig struct {
	Bytes     string `yaml:"bytes"`
	ChunkSize string `yaml:"chunk_size"`
	Seed      string `yaml:"seed"` // empty means random
}

type IntegrityConfig struct {
	Algo    string `yaml:"algo"`
	HMACKey string `yaml:"hmac_key"`
}

type OutputConfig struct {
	Format      string `yaml:"format"` // text or json
	MetricsFile string `yaml:"metrics_file"`
	HistoryDir  string `yaml:"history_dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type TracingConfig struct {
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate: 115200,
			Timeout:  5.0,
		},
		Payload: PayloadConfig{
			Bytes:     "1MiB",
			ChunkSize: "512",
		},
		Integrity: IntegrityConfig{
			Algo: "sha256",
		},
		Output: OutputConfig{
			Format: "text",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path (if non-empty), then .env files and environment
// overrides. A missing or malformed file at an explicit path is an error.
func Load(path string, log zerolog.Logger) (*Config, error) {
	log = log.With().Str("component", "config").Logger()
	cfg := Default()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
		}
		log.Debug().Str("path", path).Msg("loaded config file")
	}

	envPaths := []string{".env"}
	if path != "" {
		envPaths = append([]string{filepath.Join(filepath.Dir(path), ".env")}, envPaths...)
	}
	for _, ep := range envPaths {
		loadEnvFile(ep, log)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the config was loaded from, if any.
func (c *Config) Path() string { return c.path }

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// Variables already present in the real environment win.
func loadEnvFile(path string, log zerolog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Debug().Str("path", path).Msg("loading .env")
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads ECHOCHECK_* variables (and the standard
// OTEL_EXPORTER_JAEGER_ENDPOINT) over the loaded values.
func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"ECHOCHECK_PORT":                &c.Device.Port,
		"ECHOCHECK_VID":                 &c.Device.VID,
		"ECHOCHECK_PID":                 &c.Device.PID,
		"ECHOCHECK_BYTES":               &c.Payload.Bytes,
		"ECHOCHECK_CHUNK_SIZE":          &c.Payload.ChunkSize,
		"ECHOCHECK_SEED":                &c.Payload.Seed,
		"ECHOCHECK_ALGO":                &c.Integrity.Algo,
		"ECHOCHECK_HMAC_KEY":            &c.Integrity.HMACKey,
		"ECHOCHECK_FORMAT":              &c.Output.Format,
		"ECHOCHECK_METRICS_FILE":        &c.Output.MetricsFile,
		"ECHOCHECK_HISTORY_DIR":         &c.Output.HistoryDir,
		"ECHOCHECK_LOG_LEVEL":           &c.Logging.Level,
		"OTEL_EXPORTER_JAEGER_ENDPOINT": &c.Tracing.JaegerEndpoint,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("ECHOCHECK_BAUDRATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ECHOCHECK_BAUDRATE=%q", ErrConfig, v)
		}
		c.Serial.BaudRate = n
	}
	if v := os.Getenv("ECHOCHECK_TIMEOUT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: ECHOCHECK_TIMEOUT=%q", ErrConfig, v)
		}
		c.Serial.Timeout = f
	}
	if v := os.Getenv("ECHOCHECK_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: ECHOCHECK_WAIT=%q", ErrConfig, v)
		}
		c.Device.Wait = d
	}
	for key, dst := range map[string]*bool{
		"ECHOCHECK_RTSCTS":  &c.Serial.RTSCTS,
		"ECHOCHECK_DSRDTR":  &c.Serial.DSRDTR,
		"ECHOCHECK_XONXOFF": &c.Serial.XONXOFF,
	} {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || v == "true" || v == "yes"
		}
	}
	return nil
}
