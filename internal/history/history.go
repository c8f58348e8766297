// Package history appends one CSV row per completed run to a daily file so
// a link can be tracked across many runs.
package history

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/echocheck/internal/report"
)

var csvHeader = []string{
	"timestamp", "session_id", "port", "verdict", "exit_code",
	"bytes", "chunk_size", "mode", "algorithm",
	"bytes_written", "bytes_read", "elapsed_s",
	"tx_mbps", "rx_mbps", "mismatch_offset", "error",
}

// Entry is one run as written to the history file. Aborted sessions have
// no report.Result, so Result may be partial and Err carries the cause.
type Entry struct {
	Result   report.Result
	ExitCode int
	Err      error
}

// Recorder writes entries to <dir>/echocheck_YYYY-MM-DD.csv, switching
// files when the date of the entry changes.
type Recorder struct {
	mu  sync.Mutex
	dir string
	log zerolog.Logger

	Now func() time.Time

	openFile func(name string, flag int, perm os.FileMode) (*os.File, error)

	file   *os.File
	writer *csv.Writer
	day    string
}

// New creates a Recorder. No file is touched until the first Record.
func New(dir string, log zerolog.Logger) *Recorder {
	return &Recorder{
		dir: dir,
		log: log.With().Str("component", "history").Logger(),
		Now: time.Now,

		openFile: os.OpenFile,
	}
}

// Record appends e, opening or rotating the daily file as needed.
func (r *Recorder) Record(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	if day := now.Format(time.DateOnly); r.writer == nil || day != r.day {
		if err := r.rotateFile(day); err != nil {
			return err
		}
	}

	if err := r.writer.Write(buildRow(now, e)); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	r.writer.Flush()
	return r.writer.Error()
}

// Close flushes and closes the current file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeFile()
}

func (r *Recorder) rotateFile(day string) error {
	if err := r.closeFile(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("history: mkdir %s: %w", r.dir, err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("echocheck_%s.csv", day))
	f, err := r.openFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("history: stat %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.day = day

	if info.Size() == 0 {
		r.writer.Write(csvHeader)
		r.writer.Flush()
		if err := r.writer.Error(); err != nil {
			r.closeFile()
			r.day = ""
			return fmt.Errorf("history: header %s: %w", path, err)
		}
	}
	r.log.Debug().Str("path", path).Msg("history file opened")
	return nil
}

func (r *Recorder) closeFile() error {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func buildRow(ts time.Time, e Entry) []string {
	res := e.Result
	row := make([]string, len(csvHeader))

	row[0] = ts.Format(time.RFC3339Nano)
	row[1] = res.SessionID
	row[2] = res.Port
	row[3] = res.Verdict()
	if e.Err != nil && e.ExitCode != report.ExitMismatch {
		row[3] = "ABORTED"
	}
	row[4] = strconv.Itoa(e.ExitCode)
	row[5] = strconv.FormatInt(res.Bytes, 10)
	row[6] = strconv.Itoa(res.ChunkSize)
	row[7] = res.Mode
	row[8] = res.Algorithm
	row[9] = strconv.FormatInt(res.BytesWritten, 10)
	row[10] = strconv.FormatInt(res.BytesRead, 10)
	row[11] = fmt.Sprintf("%.6f", res.Elapsed)
	row[12] = fmt.Sprintf("%.3f", res.TXRate)
	row[13] = fmt.Sprintf("%.3f", res.RXRate)
	if res.MismatchOffset != nil {
		row[14] = strconv.FormatInt(*res.MismatchOffset, 10)
	}
	if e.Err != nil {
		row[15] = e.Err.Error()
	}
	return row
}
