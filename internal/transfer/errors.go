package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrShortWrite means the transport accepted fewer bytes than requested.
	ErrShortWrite = errors.New("short write")
	// ErrReadTimeout means a read returned no data before the payload was
	// fully echoed.
	ErrReadTimeout = errors.New("timeout while reading echoed data")
)

// ShortWriteError reports where a chunk write came up short.
type ShortWriteError struct {
	Offset int64
	Wrote  int
	Want   int
}

func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("short write: wrote %d of %d bytes at offset %d", e.Wrote, e.Want, e.Offset)
}

func (e *ShortWriteError) Unwrap() error { return ErrShortWrite }

// ReadTimeoutError reports how much of the echo arrived before the stall.
type ReadTimeoutError struct {
	Got  int64
	Want int64
}

func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("%s: got %d/%d bytes", ErrReadTimeout, e.Got, e.Want)
}

func (e *ReadTimeoutError) Unwrap() error { return ErrReadTimeout }
