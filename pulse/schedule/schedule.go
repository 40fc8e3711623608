// Package schedule computes when a job is next eligible to run.
//
// A Schedule is an immutable policy: NextRun takes the scheduled instant of the
// last successful run (absent if the job never succeeded) and returns the next
// instant the job becomes due, or absent if it never will again. NextRun does
// no I/O and consults no clock; deciding whether that instant has arrived is
// the scheduler's job.
package schedule

import (
	"fmt"
	"time"

	"github.com/alecthomas/types/optional"

	"github.com/teranos/cadence/errors"
)

// Schedule computes the next eligible run time from the last successful one.
type Schedule interface {
	NextRun(lastRun optional.Option[time.Time]) optional.Option[time.Time]
	fmt.Stringer
}

// Bounds restricts the instants a schedule may return.
// Both ends are inclusive. A zero RunAtAndAfter places no lower limit.
type Bounds struct {
	RunAtAndAfter time.Time
	RunUntil      optional.Option[time.Time]
}

func (b Bounds) validate() error {
	if until, ok := b.RunUntil.Get(); ok && b.RunAtAndAfter.After(until) {
		return errors.WithHint(
			errors.Configurationf("lower bound %s is after upper bound %s",
				b.RunAtAndAfter.Format(time.RFC3339), until.Format(time.RFC3339)),
			"run_at_and_after must not be later than run_until")
	}
	return nil
}

func (b Bounds) belowLower(t time.Time) bool {
	return t.Before(b.RunAtAndAfter)
}

func (b Bounds) aboveUpper(t time.Time) bool {
	until, ok := b.RunUntil.Get()
	return ok && t.After(until)
}

func (b Bounds) String() string {
	if until, ok := b.RunUntil.Get(); ok {
		return fmt.Sprintf("[%s, %s]", b.RunAtAndAfter.Format(time.RFC3339), until.Format(time.RFC3339))
	}
	return fmt.Sprintf("[%s, ...)", b.RunAtAndAfter.Format(time.RFC3339))
}

// Never is a schedule that is never due.
// It stands in for jobs whose trigger is not implemented yet.
type Never struct{}

func (Never) NextRun(optional.Option[time.Time]) optional.Option[time.Time] {
	return optional.None[time.Time]()
}

func (Never) String() string { return "never" }

// OneOff fires once at a fixed instant.
// Any recorded run, whatever its value, exhausts it.
type OneOff struct {
	at     time.Time
	bounds Bounds
}

// NewOneOff returns a schedule that fires once at at.
func NewOneOff(at time.Time, bounds Bounds) (*OneOff, error) {
	if err := bounds.validate(); err != nil {
		return nil, err
	}
	return &OneOff{at: at.UTC(), bounds: bounds}, nil
}

func (s *OneOff) NextRun(lastRun optional.Option[time.Time]) optional.Option[time.Time] {
	if lastRun.Ok() {
		return optional.None[time.Time]()
	}
	if s.bounds.belowLower(s.at) || s.bounds.aboveUpper(s.at) {
		return optional.None[time.Time]()
	}
	return optional.Some(s.at)
}

// At is the instant the schedule fires.
func (s *OneOff) At() time.Time { return s.at }

// Bounds returns the schedule's bounds.
func (s *OneOff) Bounds() Bounds { return s.bounds }

func (s *OneOff) String() string {
	return fmt.Sprintf("once at %s", s.at.Format(time.RFC3339))
}

// Upcoming returns up to n successive run times, as if every run succeeded.
func Upcoming(s Schedule, lastRun optional.Option[time.Time], n int) []time.Time {
	var runs []time.Time
	for len(runs) < n {
		next, ok := s.NextRun(lastRun).Get()
		if !ok {
			break
		}
		runs = append(runs, next)
		lastRun = optional.Some(next)
	}
	return runs
}
