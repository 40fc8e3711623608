// Package clock is the injectable time source for the scheduling engine.
//
// Production code uses Real(); tests use NewFake(at) and advance it by hand,
// so no scheduling decision depends on the wall clock while under test.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source consumed by schedulers and the coordinator.
type Clock = clockwork.Clock

// Fake is a manually advanced Clock.
type Fake = clockwork.FakeClock

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// NewFake returns a manually advanced clock frozen at t.
func NewFake(t time.Time) Fake {
	return clockwork.NewFakeClockAt(t)
}

// OrReal returns c, or the wall clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
