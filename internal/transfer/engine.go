// Package transfer drives one echo session: the full payload is written in
// chunks, then the echo is read back until every byte has returned.
//
// Writing and reading are never interleaved. The device must buffer the
// whole payload before it is drained, which a real device with a smaller
// receive buffer cannot do; keep payloads within the device's buffer.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/shaunagostinho/echocheck/internal/transfer"

// Digests receives transmitted and received bytes in order.
type Digests interface {
	UpdateTX(p []byte)
	UpdateRX(p []byte)
}

// Observer is notified of every successful chunk.
type Observer interface {
	OnWrite(n int)
	OnRead(n int)
}

// Engine runs sessions with a fixed chunk size.
type Engine struct {
	ChunkSize int
	Log       zerolog.Logger
	Observers []Observer

	tracer trace.Tracer
}

// NewEngine returns an Engine that reports to obs.
func NewEngine(chunkSize int, log zerolog.Logger, obs ...Observer) *Engine {
	return &Engine{
		ChunkSize: chunkSize,
		Log:       log.With().Str("component", "transfer").Logger(),
		Observers: obs,
		tracer:    otel.Tracer(tracerName),
	}
}

// Run writes payload to rw and reads the echo back. Any failure aborts the
// session; the returned Session still carries the partial counts. A
// cancelled ctx is checked between chunks.
func (e *Engine) Run(ctx context.Context, id string, payload []byte, rw io.ReadWriter, d Digests) (*Session, error) {
	s := &Session{ID: id, Size: int64(len(payload)), State: Idle, Started: time.Now()}
	if e.ChunkSize < 1 {
		return s, e.fail(s, fmt.Errorf("transfer: chunk size must be positive, got %d", e.ChunkSize))
	}

	tracer := e.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, "echo.session", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.Int64("payload.bytes", s.Size),
		attribute.Int("chunk.size", e.ChunkSize),
	))
	defer span.End()

	err := e.write(ctx, tracer, s, payload, rw, d)
	if err == nil {
		err = e.read(ctx, tracer, s, rw, d)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s, e.fail(s, err)
	}

	s.State = Complete
	span.SetAttributes(attribute.Int64("bytes.read", s.Read))
	return s, nil
}

func (e *Engine) write(ctx context.Context, tracer trace.Tracer, s *Session, payload []byte, w io.Writer, d Digests) error {
	_, span := tracer.Start(ctx, "echo.write")
	defer span.End()

	s.State = Writing
	e.Log.Debug().Str("session_id", s.ID).Msgf("writing %s in %d-byte chunks", humanize.IBytes(uint64(s.Size)), e.ChunkSize)

	for off := 0; off < len(payload); off += e.ChunkSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transfer: write aborted after %d/%d bytes: %w", s.Written, s.Size, err)
		}
		chunk := payload[off:min(off+e.ChunkSize, len(payload))]

		n, err := w.Write(chunk)
		if err != nil {
			return fmt.Errorf("transfer: write failed at offset %d: %w", off, err)
		}
		if n != len(chunk) {
			return &ShortWriteError{Offset: int64(off), Wrote: n, Want: len(chunk)}
		}

		s.Written += int64(n)
		d.UpdateTX(chunk)
		for _, o := range e.Observers {
			o.OnWrite(n)
		}
	}

	span.SetAttributes(attribute.Int64("bytes.written", s.Written))
	e.Log.Debug().Str("session_id", s.ID).Int64("written", s.Written).Msg("write phase done")
	return nil
}

func (e *Engine) read(ctx context.Context, tracer trace.Tracer, s *Session, r io.Reader, d Digests) error {
	_, span := tracer.Start(ctx, "echo.read")
	defer span.End()

	s.State = Reading
	s.Received = make([]byte, 0, s.Size)
	buf := make([]byte, min(int64(e.ChunkSize), max(s.Size, 1)))

	for s.Read < s.Size {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transfer: read aborted after %d/%d bytes: %w", s.Read, s.Size, err)
		}
		want := min(int64(len(buf)), s.Size-s.Read)

		n, err := r.Read(buf[:want])
		if n > 0 {
			part := buf[:n]
			s.Read += int64(n)
			s.Received = append(s.Received, part...)
			d.UpdateRX(part)
			for _, o := range e.Observers {
				o.OnRead(n)
			}
		}
		if err != nil {
			return fmt.Errorf("transfer: read failed after %d/%d bytes: %w", s.Read, s.Size, err)
		}
		if n == 0 {
			return &ReadTimeoutError{Got: s.Read, Want: s.Size}
		}
	}

	span.SetAttributes(attribute.Int64("bytes.read", s.Read))
	e.Log.Debug().Str("session_id", s.ID).Int64("read", s.Read).Msg("read phase done")
	return nil
}

func (e *Engine) fail(s *Session, err error) error {
	s.State = Failed
	s.Err = err

	ev := e.Log.Error().Err(err).Str("session_id", s.ID).Int64("written", s.Written).Int64("read", s.Read).Int64("size", s.Size)
	var sw *ShortWriteError
	if errors.As(err, &sw) {
		ev = ev.Int64("offset", sw.Offset)
	}
	ev.Msg("session aborted")
	return err
}
