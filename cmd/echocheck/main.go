// Command echocheck verifies a serial echo link by streaming a payload to
// the device, reading the echo back and comparing digests of both streams.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shaunagostinho/echocheck/internal/config"
	"github.com/shaunagostinho/echocheck/internal/device"
	"github.com/shaunagostinho/echocheck/internal/digest"
	"github.com/shaunagostinho/echocheck/internal/history"
	"github.com/shaunagostinho/echocheck/internal/observability"
	"github.com/shaunagostinho/echocheck/internal/payload"
	"github.com/shaunagostinho/echocheck/internal/report"
	"github.com/shaunagostinho/echocheck/internal/stats"
	"github.com/shaunagostinho/echocheck/internal/transfer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is the whole program minus process setup. It returns the exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	def := config.Default()

	fs := flag.NewFlagSet("echocheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("ECHOCHECK_CONFIG"), "Path to YAML config file")
	list := fs.Bool("list", false, "List serial ports with their USB identity and exit")
	port := fs.String("port", "", "Serial port name, or tcp://host:port, ws://, wss://, loopback://")
	vid := fs.String("vid", "", "USB vendor id of the device (e.g. 0x303A), with --pid")
	pid := fs.String("pid", "", "USB product id of the device, with --vid")
	wait := fs.Duration("wait", 0, "Keep retrying device lookup and open for this long")
	baud := fs.Int("baudrate", def.Serial.BaudRate, "Serial baud rate")
	timeout := fs.Float64("timeout", def.Serial.Timeout, "Read/write timeout in seconds")
	rtscts := fs.Bool("rtscts", false, "Enable RTS/CTS hardware flow control")
	dsrdtr := fs.Bool("dsrdtr", false, "Enable DSR/DTR hardware flow control")
	xonxoff := fs.Bool("xonxoff", false, "Enable XON/XOFF software flow control")
	size := fs.String("bytes", def.Payload.Bytes, "Payload size (e.g. 4096, 64KiB, 1.5MB, 0x1000)")
	chunk := fs.String("chunk-size", def.Payload.ChunkSize, "Bytes per write call")
	seed := fs.String("seed", "", "Seed for a reproducible payload (default random)")
	algo := fs.String("algo", def.Integrity.Algo, "Digest algorithm")
	hmacKey := fs.String("hmac-key", "", "HMAC key; 0x prefix means hex")
	format := fs.String("format", def.Output.Format, "Report format: text or json")
	metricsFile := fs.String("metrics-file", "", "Write prometheus textfile metrics here")
	historyDir := fs.String("history-dir", "", "Append a CSV row per run to a daily file in this directory")
	logLevel := fs.String("log-level", def.Logging.Level, "Log level: debug, info, warn, error")
	traceEndpoint := fs.String("trace-endpoint", "", "Jaeger collector endpoint for session traces")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return report.ExitOK
		}
		return report.ExitSetup
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "echocheck: unexpected argument %q\n", fs.Arg(0))
		return report.ExitSetup
	}

	log := observability.NewLogger(stderr, *logLevel).With().Str("component", "main").Logger()

	if *list {
		if err := device.List(stdout, device.SystemEnumerator{}); err != nil {
			log.Error().Err(err).Msg("failed to list ports")
			return report.ExitSetup
		}
		return report.ExitOK
	}

	cfg, err := config.Load(*configPath, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return report.ExitSetup
	}

	// Flags given on the command line win over file and environment.
	overrides := map[string]func(){
		"port":           func() { cfg.Device.Port = *port },
		"vid":            func() { cfg.Device.VID = *vid },
		"pid":            func() { cfg.Device.PID = *pid },
		"wait":           func() { cfg.Device.Wait = *wait },
		"baudrate":       func() { cfg.Serial.BaudRate = *baud },
		"timeout":        func() { cfg.Serial.Timeout = *timeout },
		"rtscts":         func() { cfg.Serial.RTSCTS = *rtscts },
		"dsrdtr":         func() { cfg.Serial.DSRDTR = *dsrdtr },
		"xonxoff":        func() { cfg.Serial.XONXOFF = *xonxoff },
		"bytes":          func() { cfg.Payload.Bytes = *size },
		"chunk-size":     func() { cfg.Payload.ChunkSize = *chunk },
		"seed":           func() { cfg.Payload.Seed = *seed },
		"algo":           func() { cfg.Integrity.Algo = *algo },
		"hmac-key":       func() { cfg.Integrity.HMACKey = *hmacKey },
		"format":         func() { cfg.Output.Format = *format },
		"metrics-file":   func() { cfg.Output.MetricsFile = *metricsFile },
		"history-dir":    func() { cfg.Output.HistoryDir = *historyDir },
		"log-level":      func() { cfg.Logging.Level = *logLevel },
		"trace-endpoint": func() { cfg.Tracing.JaegerEndpoint = *traceEndpoint },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})

	r, err := cfg.Resolve()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return report.ExitSetup
	}
	log = observability.NewLogger(stderr, r.LogLevel).With().Str("component", "main").Logger()

	shutdownTracing, err := observability.InitTracing(ctx, "echocheck", r.Jaeger)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				log.Warn().Err(err).Msg("trace flush failed")
			}
		}()
	}

	return session(ctx, r, stdout, log)
}

// session opens the device, runs one transfer and reports the outcome.
func session(ctx context.Context, r *config.Run, stdout io.Writer, log zerolog.Logger) int {
	data, err := payload.New().Generate(r.Bytes, r.Seed)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate payload")
		return report.ExitSetup
	}
	pair, err := digest.New(r.Algo, r.HMACKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up digests")
		return report.ExitSetup
	}

	link, err := openWithRetry(ctx, r, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to open device")
		return report.ExitSetup
	}
	defer func() {
		if err := link.Close(); err != nil {
			log.Warn().Err(err).Str("port", link.Name()).Msg("close failed")
		}
	}()

	id := uuid.NewString()
	st := stats.New()
	metrics := observability.NewMetrics(link.Name())
	engine := transfer.NewEngine(r.ChunkSize, log.With().Str("session_id", id).Logger(), st, metrics)

	log.Info().Str("session_id", id).Str("port", link.Name()).Str("algo", pair.Algorithm).
		Str("mode", string(pair.Mode)).Int("bytes", r.Bytes).Msg("session starting")

	st.Start()
	sess, runErr := engine.Run(ctx, id, data, link, pair)
	st.Stop()

	meta := report.Meta{Port: link.Name(), ChunkSize: r.ChunkSize}
	entry := history.Entry{ExitCode: report.ExitAborted, Err: runErr}
	if runErr == nil {
		res := report.Build(sess, data, pair, st, meta)
		if err := report.Write(stdout, res, r.Format); err != nil {
			log.Error().Err(err).Msg("failed to write report")
		}
		entry = history.Entry{Result: res, ExitCode: res.ExitCode(), Err: res.Err()}
		if entry.Err != nil {
			log.Error().Err(entry.Err).Str("session_id", id).Msg("echo verification failed")
		}
	} else {
		entry.Result = report.Aborted(sess, pair, st, meta)
	}

	if r.MetricsFile != "" {
		metrics.Summarize(st, len(data), entry.ExitCode == report.ExitOK, entry.ExitCode, time.Now())
		if err := metrics.WriteTextfile(r.MetricsFile); err != nil {
			log.Warn().Err(err).Msg("metrics not written")
		}
	}
	if r.HistoryDir != "" {
		rec := history.New(r.HistoryDir, log)
		if err := rec.Record(entry); err != nil {
			log.Warn().Err(err).Msg("history not written")
		}
		if err := rec.Close(); err != nil {
			log.Warn().Err(err).Msg("history close failed")
		}
	}
	return entry.ExitCode
}
