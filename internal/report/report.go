// Package report turns a finished session into the final Result, renders it
// and maps it to a process exit status.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shaunagostinho/echocheck/internal/digest"
	"github.com/shaunagostinho/echocheck/internal/stats"
	"github.com/shaunagostinho/echocheck/internal/transfer"
)

// Process exit statuses.
const (
	ExitOK       = 0
	ExitSetup    = 1 // configuration, argument, device or open failure
	ExitMismatch = 2 // session ran to completion, verdict FAIL
	ExitAborted  = 3 // session aborted (short write, read timeout, I/O error)
)

// ErrDigestMismatch is the verdict of a completed session whose echo did
// not match.
var ErrDigestMismatch = errors.New("digest mismatch")

// Meta carries run settings that are not part of the session itself.
type Meta struct {
	Port      string
	ChunkSize int
}

// Result is the terminal outcome of one completed session.
type Result struct {
	OK        bool      `json:"ok"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Port      string `json:"port"`
	Bytes     int64  `json:"bytes"`
	ChunkSize int    `json:"chunk_size"`
	Mode      string `json:"mode"`
	Algorithm string `json:"algorithm"`

	TXDigest     string  `json:"tx_digest"`
	RXDigest     string  `json:"rx_digest"`
	BytesWritten int64   `json:"bytes_written"`
	BytesRead    int64   `json:"bytes_read"`
	Elapsed      float64 `json:"elapsed_s"`
	TXRate       float64 `json:"tx_rate_mbps"`
	RXRate       float64 `json:"rx_rate_mbps"`

	// MismatchOffset is the first differing byte, set only on FAIL.
	MismatchOffset *int64 `json:"mismatch_offset,omitempty"`
}

// Build finalizes the digests and assembles the Result. It must be called
// once, after the session reached Complete.
func Build(s *transfer.Session, payload []byte, d *digest.Pair, st *stats.Collector, meta Meta) Result {
	tx, rx := d.Finalize()
	r := Result{
		SessionID:    s.ID,
		Timestamp:    s.Started,
		Port:         meta.Port,
		Bytes:        int64(len(payload)),
		ChunkSize:    meta.ChunkSize,
		Mode:         string(d.Mode),
		Algorithm:    d.Algorithm,
		TXDigest:     tx,
		RXDigest:     rx,
		BytesWritten: s.Written,
		BytesRead:    s.Read,
		Elapsed:      st.Elapsed(),
		TXRate:       st.TXRate(),
		RXRate:       st.RXRate(),
	}
	r.OK = s.Read == s.Size && s.Size == int64(len(payload)) && tx == rx
	if !r.OK {
		off := s.FirstMismatch(payload)
		r.MismatchOffset = &off
	}
	return r
}

// Aborted captures what is known about a session that did not complete.
// Digests are left empty since a partial stream proves nothing. It is for
// run history only; aborted sessions print no report.
func Aborted(s *transfer.Session, d *digest.Pair, st *stats.Collector, meta Meta) Result {
	return Result{
		SessionID:    s.ID,
		Timestamp:    s.Started,
		Port:         meta.Port,
		Bytes:        s.Size,
		ChunkSize:    meta.ChunkSize,
		Mode:         string(d.Mode),
		Algorithm:    d.Algorithm,
		BytesWritten: s.Written,
		BytesRead:    s.Read,
		Elapsed:      st.Elapsed(),
		TXRate:       st.TXRate(),
		RXRate:       st.RXRate(),
	}
}

// Err returns nil on PASS and an ErrDigestMismatch description otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	if r.BytesRead != r.Bytes {
		return fmt.Errorf("%w: read %d of %d bytes", ErrDigestMismatch, r.BytesRead, r.Bytes)
	}
	if r.MismatchOffset != nil && *r.MismatchOffset >= 0 {
		return fmt.Errorf("%w: first differing byte at offset %d", ErrDigestMismatch, *r.MismatchOffset)
	}
	return ErrDigestMismatch
}

// ExitCode maps the verdict to a process exit status.
func (r Result) ExitCode() int {
	if r.OK {
		return ExitOK
	}
	return ExitMismatch
}

// Verdict is the literal PASS/FAIL label.
func (r Result) Verdict() string {
	if r.OK {
		return "PASS"
	}
	return "FAIL"
}

// Write renders r as "text" or "json".
func Write(w io.Writer, r Result, format string) error {
	switch format {
	case "", "text":
		return WriteText(w, r)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	return fmt.Errorf("report: unknown format %q", format)
}

// WriteText renders the labelled report block.
func WriteText(w io.Writer, r Result) error {
	lines := []string{
		"=== Serial Echo Integrity Test ===",
		fmt.Sprintf("Port           : %s", r.Port),
		fmt.Sprintf("Bytes          : %d", r.Bytes),
		fmt.Sprintf("Chunk size     : %d", r.ChunkSize),
		fmt.Sprintf("Mode           : %s (%s)", r.Mode, r.Algorithm),
		fmt.Sprintf("Elapsed (s)    : %.3f", r.Elapsed),
		fmt.Sprintf("TX rate (Mb/s) : %.3f", r.TXRate),
		fmt.Sprintf("RX rate (Mb/s) : %.3f", r.RXRate),
		fmt.Sprintf("TX digest      : %s", r.TXDigest),
		fmt.Sprintf("RX digest      : %s", r.RXDigest),
	}
	if r.MismatchOffset != nil && *r.MismatchOffset >= 0 {
		lines = append(lines, fmt.Sprintf("First mismatch : offset %d", *r.MismatchOffset))
	}
	lines = append(lines, fmt.Sprintf("Result         : %s", r.Verdict()))

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
