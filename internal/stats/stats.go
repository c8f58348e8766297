// Package stats measures elapsed time and throughput of a transfer session.
package stats

import "time"

// minElapsed keeps rate computations finite for instantaneous runs.
const minElapsed = 1e-9

// Collector tracks byte counts against a monotonic start time. Rates are
// megabits per second with an SI megabit (10^6 bits).
type Collector struct {
	Now func() time.Time

	written int64
	read    int64
	start   time.Time
	stop    time.Time
}

// New returns a Collector using the wall clock's monotonic reading.
func New() *Collector {
	return &Collector{Now: time.Now}
}

// Start records the reference time and clears any previous stop.
func (c *Collector) Start() {
	c.start = c.now()
	c.stop = time.Time{}
}

// Stop freezes Elapsed at the current time.
func (c *Collector) Stop() {
	c.stop = c.now()
}

// OnWrite implements transfer.Observer.
func (c *Collector) OnWrite(n int) { c.written += int64(n) }

// OnRead implements transfer.Observer.
func (c *Collector) OnRead(n int) { c.read += int64(n) }

// Written returns bytes counted by OnWrite.
func (c *Collector) Written() int64 { return c.written }

// Read returns bytes counted by OnRead.
func (c *Collector) Read() int64 { return c.read }

// Elapsed returns seconds since Start, up to Stop if it was called. It is
// never below minElapsed.
func (c *Collector) Elapsed() float64 {
	end := c.stop
	if end.IsZero() {
		end = c.now()
	}
	secs := end.Sub(c.start).Seconds()
	if secs < minElapsed {
		return minElapsed
	}
	return secs
}

// TXRate is the transmit throughput in Mb/s.
func (c *Collector) TXRate() float64 {
	return Mbps(c.written, c.Elapsed())
}

// RXRate is the receive throughput in Mb/s.
func (c *Collector) RXRate() float64 {
	return Mbps(c.read, c.Elapsed())
}

// Mbps converts a byte count over seconds to megabits per second.
func Mbps(bytes int64, seconds float64) float64 {
	if seconds < minElapsed {
		seconds = minElapsed
	}
	return float64(bytes*8) / (1_000_000 * seconds)
}

func (c *Collector) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
