// Package deadline provides the absolute per-command time budget checked
// between iteration steps of the vision pipeline.
//
// Capture and detector calls cannot be preempted, so a Deadline bounds the
// number of remaining iterations, not the latency of a call already started.
package deadline

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/roach88/visiontool/internal/fault"
)

// Deadline is an absolute point in time read against an injected clock.
//
// Comparisons use time.Time, which carries a monotonic reading, so a wall
// clock step or counter wrap cannot make an expired deadline look live.
type Deadline struct {
	clk clock.Clock
	at  time.Time
}

// After returns a deadline d from now on clk.
func After(clk clock.Clock, d time.Duration) Deadline {
	return Deadline{clk: clk, at: clk.Now().Add(d)}
}

// At returns a deadline at an absolute time on clk.
func At(clk clock.Clock, at time.Time) Deadline {
	return Deadline{clk: clk, at: at}
}

// Time returns the absolute deadline.
func (d Deadline) Time() time.Time {
	return d.at
}

// Expired reports whether the deadline has strictly passed.
func (d Deadline) Expired() bool {
	return d.clk.Now().After(d.at)
}

// Remaining returns the time left, zero once expired.
func (d Deadline) Remaining() time.Duration {
	left := d.at.Sub(d.clk.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Check returns a TIMEOUT error once the deadline has passed.
func (d Deadline) Check() error {
	if d.Expired() {
		return fault.Timeout()
	}
	return nil
}
