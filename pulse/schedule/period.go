package schedule

import (
	"strings"
	"time"

	"github.com/teranos/cadence/errors"
)

// Period is the length of one cell of a repeating calendar grid.
type Period string

const (
	Minute Period = "minute"
	Hour   Period = "hour"
	Day    Period = "day"
	Week   Period = "week" // weeks start on Monday
	Month  Period = "month"
)

var periodAliases = map[string]Period{
	"minute":   Minute,
	"minutely": Minute,
	"hour":     Hour,
	"hourly":   Hour,
	"day":      Day,
	"daily":    Day,
	"week":     Week,
	"weekly":   Week,
	"month":    Month,
	"monthly":  Month,
}

// ParsePeriod accepts a period name or its adverb form ("day", "daily").
func ParsePeriod(s string) (Period, error) {
	p, ok := periodAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", errors.WithHint(
			errors.Configurationf("unknown period %q", s),
			"use minute, hour, day, week or month")
	}
	return p, nil
}

// MinLength is the shortest span one period can cover.
// Phase offsets must be strictly shorter.
func (p Period) MinLength() time.Duration {
	switch p {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	case Month:
		return 28 * 24 * time.Hour
	default:
		return 0
	}
}

func (p Period) valid() bool {
	return p.MinLength() > 0
}

// Floor returns the latest grid instant at or before t, with the grid laid out in loc.
func (p Period) Floor(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	switch p {
	case Minute, Hour:
		// Zone offsets are not always whole hours, so align on local wall time
		_, offset := local.Zone()
		shift := time.Duration(offset) * time.Second
		unit := time.Minute
		if p == Hour {
			unit = time.Hour
		}
		return t.Add(shift).Truncate(unit).Add(-shift).In(loc)
	case Day:
		y, m, d := local.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case Week:
		y, m, d := local.Date()
		sinceMonday := (int(local.Weekday()) + 6) % 7
		return time.Date(y, m, d-sinceMonday, 0, 0, 0, 0, loc)
	case Month:
		y, m, _ := local.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

// Ceil returns the earliest grid instant at or after t.
func (p Period) Ceil(t time.Time, loc *time.Location) time.Time {
	floor := p.Floor(t, loc)
	if floor.Equal(t) {
		return floor
	}
	return p.Add(floor, 1, loc)
}

// Add advances t by n periods. Day and longer periods follow the calendar in loc.
func (p Period) Add(t time.Time, n int, loc *time.Location) time.Time {
	local := t.In(loc)
	switch p {
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Day:
		return local.AddDate(0, 0, n)
	case Week:
		return local.AddDate(0, 0, 7*n)
	case Month:
		return local.AddDate(0, n, 0)
	default:
		return t
	}
}
