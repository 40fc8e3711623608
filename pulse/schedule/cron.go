package schedule

import (
	"fmt"
	"time"

	"github.com/alecthomas/types/optional"
	"github.com/robfig/cron/v3"

	"github.com/teranos/cadence/errors"
)

// Cron fires on a standard five-field cron expression or a descriptor such as "@daily".
type Cron struct {
	expression string
	zone       *time.Location
	spec       cron.Schedule
	bounds     Bounds
}

// NewCron parses expression and returns the schedule. A nil zone means UTC.
func NewCron(expression string, zone *time.Location, bounds Bounds) (*Cron, error) {
	spec, err := cron.ParseStandard(expression)
	if err != nil {
		return nil, errors.WithHint(
			errors.Mark(errors.Wrapf(err, "parse cron expression %q", expression), errors.ErrInvalidConfiguration),
			`expected five fields like "30 2 * * 1-5" or a descriptor like "@hourly"`)
	}
	if bounds.RunAtAndAfter.IsZero() {
		return nil, errors.Configurationf("cron schedule %q needs a lower bound", expression)
	}
	if err := bounds.validate(); err != nil {
		return nil, err
	}
	if zone == nil {
		zone = time.UTC
	}
	return &Cron{expression: expression, zone: zone, spec: spec, bounds: bounds}, nil
}

// NextRun returns the first fire strictly after lastRun, or the first fire at or
// after the lower bound when the job has never run.
func (s *Cron) NextRun(lastRun optional.Option[time.Time]) optional.Option[time.Time] {
	atOrAfterLower := func() time.Time {
		return s.spec.Next(s.bounds.RunAtAndAfter.In(s.zone).Add(-time.Nanosecond))
	}

	var candidate time.Time
	if last, ok := lastRun.Get(); ok {
		candidate = s.spec.Next(last.In(s.zone))
		if !candidate.IsZero() && s.bounds.belowLower(candidate) {
			candidate = atOrAfterLower()
		}
	} else {
		candidate = atOrAfterLower()
	}

	// robfig/cron returns the zero time when nothing matches within five years
	if candidate.IsZero() || s.bounds.aboveUpper(candidate) {
		return optional.None[time.Time]()
	}
	return optional.Some(candidate.UTC())
}

func (s *Cron) Expression() string   { return s.expression }
func (s *Cron) Zone() *time.Location { return s.zone }
func (s *Cron) Bounds() Bounds       { return s.bounds }

func (s *Cron) String() string {
	return fmt.Sprintf("cron %q in %s %s", s.expression, s.zone, s.bounds)
}
