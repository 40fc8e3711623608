package schedule

import (
	"fmt"
	"time"

	"github.com/alecthomas/types/optional"

	"github.com/teranos/cadence/errors"
)

// PeriodicConfig describes a Periodic schedule.
type PeriodicConfig struct {
	Period Period
	// Offset shifts every grid instant, e.g. 12h on a day grid fires at noon.
	Offset time.Duration
	// Zone lays out the grid. Nil means UTC.
	Zone   *time.Location
	Bounds Bounds
}

// Periodic fires on a repeating calendar grid shifted by a phase offset.
type Periodic struct {
	period Period
	offset time.Duration
	zone   *time.Location
	bounds Bounds
}

// NewPeriodic validates cfg and returns the schedule.
func NewPeriodic(cfg PeriodicConfig) (*Periodic, error) {
	if !cfg.Period.valid() {
		return nil, errors.WithHint(
			errors.Configurationf("unknown period %q", string(cfg.Period)),
			"use minute, hour, day, week or month")
	}
	if cfg.Offset < 0 {
		return nil, errors.Configurationf("offset %s must not be negative", cfg.Offset)
	}
	if cfg.Offset >= cfg.Period.MinLength() {
		return nil, errors.WithHintf(
			errors.Configurationf("offset %s must be shorter than one %s", cfg.Offset, cfg.Period),
			"offset must be below %s", cfg.Period.MinLength())
	}
	if err := cfg.Bounds.validate(); err != nil {
		return nil, err
	}
	zone := cfg.Zone
	if zone == nil {
		zone = time.UTC
	}
	return &Periodic{
		period: cfg.Period,
		offset: cfg.Offset,
		zone:   zone,
		bounds: cfg.Bounds,
	}, nil
}

// NextRun returns the next shifted grid instant after lastRun, or the first one
// from the lower bound when the job has never run.
//
// The never-run branch aligns the lower bound and then shifts. The clamp branch
// shifts back, aligns, then shifts forward. They are not phase-equivalent.
func (s *Periodic) NextRun(lastRun optional.Option[time.Time]) optional.Option[time.Time] {
	var candidate time.Time
	if last, ok := lastRun.Get(); ok {
		floor := s.period.Floor(last.Add(-s.offset), s.zone)
		candidate = s.period.Add(floor, 1, s.zone).Add(s.offset)
		if s.bounds.belowLower(candidate) {
			candidate = s.period.Ceil(s.bounds.RunAtAndAfter.Add(-s.offset), s.zone).Add(s.offset)
		}
	} else {
		candidate = s.period.Ceil(s.bounds.RunAtAndAfter, s.zone).Add(s.offset)
	}
	if s.bounds.aboveUpper(candidate) {
		return optional.None[time.Time]()
	}
	return optional.Some(candidate.UTC())
}

func (s *Periodic) Period() Period        { return s.period }
func (s *Periodic) Offset() time.Duration { return s.offset }
func (s *Periodic) Zone() *time.Location  { return s.zone }
func (s *Periodic) Bounds() Bounds        { return s.bounds }

func (s *Periodic) String() string {
	if s.offset == 0 {
		return fmt.Sprintf("every %s %s", s.period, s.bounds)
	}
	return fmt.Sprintf("every %s at +%s %s", s.period, s.offset, s.bounds)
}
