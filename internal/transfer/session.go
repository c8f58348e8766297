package transfer

import "time"

// State is the position of a session in Idle → Writing → Reading →
// Complete, or Failed from either active state.
type State int

const (
	Idle State = iota
	Writing
	Reading
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Writing:
		return "writing"
	case Reading:
		return "reading"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Session is the mutable run state of one transfer. It is owned by the
// Engine until Run returns.
type Session struct {
	ID      string
	Size    int64
	Written int64
	Read    int64
	State   State
	Started time.Time

	// Received holds the echoed bytes in arrival order.
	Received []byte
	// Err is the failure that moved the session to Failed.
	Err error
}

// FirstMismatch returns the first offset at which the echo differs from
// payload, or -1 when they are identical. A shorter echo that matches so
// far mismatches at its own length.
func (s *Session) FirstMismatch(payload []byte) int64 {
	n := min(len(payload), len(s.Received))
	for i := 0; i < n; i++ {
		if payload[i] != s.Received[i] {
			return int64(i)
		}
	}
	if len(payload) != len(s.Received) {
		return int64(n)
	}
	return -1
}
