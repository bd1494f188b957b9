package server

import "time"

// TimeSource provides the wall clock, a monotonic reference and the
// current timezone. Tests substitute a fake to drive the state machine
// through arbitrary time changes.
type TimeSource interface {
	Wall() time.Time
	Monotonic() time.Duration
	Timezone() (name string, dst bool)
	Location() *time.Location
	// Resync re-reads the system timezone after an external change.
	Resync()
}

// SystemTime is the production TimeSource backed by the Go runtime.
type SystemTime struct {
	start time.Time
}

func NewSystemTime() *SystemTime {
	return &SystemTime{start: time.Now()}
}

func (s *SystemTime) Wall() time.Time          { return time.Now() }
func (s *SystemTime) Monotonic() time.Duration { return time.Since(s.start) }

func (s *SystemTime) Timezone() (string, bool) {
	now := time.Now()
	name, _ := now.Zone()
	return name, now.IsDST()
}

func (s *SystemTime) Location() *time.Location { return time.Local }

func (s *SystemTime) Resync() {}

const (
	// clockJitter is how far wall time may drift against the monotonic
	// clock before the drift counts as a time change.
	clockJitter = 2 * time.Second

	// clockSettle is how long the clock must stay put after a detected
	// change before evaluation resumes.
	clockSettle = 2 * time.Second

	// clockResched is the cumulative change below which queued triggers
	// are left alone.
	clockResched = 5 * time.Second
)

// clockCheck detects system time changes by watching the offset between
// the wall clock and the monotonic clock. While a change is settling the
// scheduler holds off; once stable, the net movement since the last
// evaluated position is classified as a forward or backward jump.
type clockCheck struct {
	initialized bool

	// deltaClock is the wall-monotonic offset at the last detected
	// change, deltaSched the offset the queue was last evaluated
	// against.
	deltaClock time.Duration
	deltaSched time.Duration

	// settleUntil is the monotonic instant the clock must reach
	// unchanged before evaluation resumes.
	settleUntil time.Duration

	backDelta time.Duration
	forwDelta time.Duration
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// stable reports whether the clock has settled enough to evaluate.
// reported marks an externally announced time change. When the net
// movement since the last evaluation exceeds the reschedule threshold,
// it is accumulated and the matching moved flag is returned.
func (c *clockCheck) stable(wall time.Time, mono time.Duration, reported bool) (stable, movedForw, movedBack bool) {
	delta := time.Duration(wall.UnixNano()) - mono

	if !c.initialized {
		c.initialized = true
		c.deltaClock = delta
		c.deltaSched = delta
		return true, false, false
	}

	if reported || absDuration(delta-c.deltaClock) > clockJitter {
		c.deltaClock = delta
		c.settleUntil = mono + clockSettle
		return false, false, false
	}
	if mono < c.settleUntil {
		return false, false, false
	}

	diff := c.deltaClock - c.deltaSched
	switch {
	case diff > clockResched:
		c.forwDelta += diff
		c.deltaSched = c.deltaClock
		movedForw = true
	case diff < -clockResched:
		c.backDelta += diff
		c.deltaSched = c.deltaClock
		movedBack = true
	}
	return true, movedForw, movedBack
}

// takeBackDelta returns the accumulated backward movement (negative)
// and resets it.
func (c *clockCheck) takeBackDelta() time.Duration {
	d := c.backDelta
	c.backDelta = 0
	return d
}

// takeForwDelta returns the accumulated forward movement and resets it.
func (c *clockCheck) takeForwDelta() time.Duration {
	d := c.forwDelta
	c.forwDelta = 0
	return d
}
