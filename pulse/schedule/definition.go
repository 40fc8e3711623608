package schedule

import (
	"time"

	"github.com/alecthomas/types/optional"

	"github.com/teranos/cadence/errors"
)

// Kind names a schedule variant in its serialised form.
type Kind string

const (
	KindNever    Kind = "never"
	KindOneOff   Kind = "one_off"
	KindPeriodic Kind = "periodic"
	KindCron     Kind = "cron"
)

// Definition is the serialised form of a Schedule, stored with each job and
// accepted from job files.
type Definition struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// one_off
	At *time.Time `json:"at,omitempty" yaml:"at,omitempty"`

	// periodic
	Period string `json:"period,omitempty" yaml:"period,omitempty"`
	Offset string `json:"offset,omitempty" yaml:"offset,omitempty"` // Go duration, e.g. "12h"

	// cron
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// periodic and cron
	Zone string `json:"zone,omitempty" yaml:"zone,omitempty"` // IANA name, empty means UTC

	RunAtAndAfter *time.Time `json:"run_at_and_after,omitempty" yaml:"run_at_and_after,omitempty"`
	RunUntil      *time.Time `json:"run_until,omitempty" yaml:"run_until,omitempty"`
}

// Build validates the definition and constructs the Schedule it describes.
func (d Definition) Build() (Schedule, error) {
	bounds := Bounds{RunUntil: optional.Ptr(d.RunUntil)}
	if d.RunAtAndAfter != nil {
		bounds.RunAtAndAfter = *d.RunAtAndAfter
	}

	switch d.Kind {
	case KindNever:
		return Never{}, nil

	case KindOneOff:
		if d.At == nil {
			return nil, errors.Configurationf("one_off schedule needs at")
		}
		return NewOneOff(*d.At, bounds)

	case KindPeriodic:
		period, err := ParsePeriod(d.Period)
		if err != nil {
			return nil, err
		}
		var offset time.Duration
		if d.Offset != "" {
			offset, err = time.ParseDuration(d.Offset)
			if err != nil {
				return nil, errors.Mark(errors.Wrapf(err, "parse offset %q", d.Offset), errors.ErrInvalidConfiguration)
			}
		}
		zone, err := loadZone(d.Zone)
		if err != nil {
			return nil, err
		}
		return NewPeriodic(PeriodicConfig{Period: period, Offset: offset, Zone: zone, Bounds: bounds})

	case KindCron:
		zone, err := loadZone(d.Zone)
		if err != nil {
			return nil, err
		}
		return NewCron(d.Expression, zone, bounds)

	default:
		return nil, errors.WithHint(
			errors.Configurationf("unknown schedule kind %q", string(d.Kind)),
			"use never, one_off, periodic or cron")
	}
}

// WithDefaultLowerBound returns d with RunAtAndAfter set to t when it is missing.
func (d Definition) WithDefaultLowerBound(t time.Time) Definition {
	if d.RunAtAndAfter == nil && d.Kind != KindNever && d.Kind != KindOneOff {
		t = t.UTC()
		d.RunAtAndAfter = &t
	}
	return d
}

// Describe returns the definition that builds s.
func Describe(s Schedule) (Definition, error) {
	switch s := s.(type) {
	case Never:
		return Definition{Kind: KindNever}, nil
	case *OneOff:
		at := s.At()
		d := Definition{Kind: KindOneOff, At: &at}
		d.setBounds(s.Bounds())
		return d, nil
	case *Periodic:
		d := Definition{Kind: KindPeriodic, Period: string(s.Period()), Zone: zoneName(s.Zone())}
		if s.Offset() != 0 {
			d.Offset = s.Offset().String()
		}
		d.setBounds(s.Bounds())
		return d, nil
	case *Cron:
		d := Definition{Kind: KindCron, Expression: s.Expression(), Zone: zoneName(s.Zone())}
		d.setBounds(s.Bounds())
		return d, nil
	default:
		return Definition{}, errors.Newf("schedule %T has no serialised form", s)
	}
}

func (d *Definition) setBounds(b Bounds) {
	if !b.RunAtAndAfter.IsZero() {
		lower := b.RunAtAndAfter
		d.RunAtAndAfter = &lower
	}
	d.RunUntil = b.RunUntil.Ptr()
}

func loadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "load zone %q", name), errors.ErrInvalidConfiguration)
	}
	return loc, nil
}

func zoneName(loc *time.Location) string {
	if loc == nil || loc == time.UTC {
		return ""
	}
	return loc.String()
}
