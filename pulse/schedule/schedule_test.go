package schedule

import (
	"testing"
	"time"

	"github.com/alecthomas/types/optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
)

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func some(s string) optional.Option[time.Time] { return optional.Some(utc(s)) }

var none = optional.None[time.Time]()

func TestNever(t *testing.T) {
	assert.Equal(t, none, Never{}.NextRun(none))
	assert.Equal(t, none, Never{}.NextRun(some("2019-01-01T00:00:00Z")))
}

func TestOneOff(t *testing.T) {
	target := utc("2019-01-01T00:00:00Z")
	s, err := NewOneOff(target, Bounds{RunAtAndAfter: target})
	require.NoError(t, err)

	assert.Equal(t, optional.Some(target), s.NextRun(none))

	// Any history exhausts the schedule, in or out of bounds
	for _, last := range []string{
		"1970-01-01T00:00:00Z",
		"2018-12-31T23:59:59Z",
		"2019-01-01T00:00:00Z",
		"2019-06-01T00:00:00Z",
		"9999-01-01T00:00:00Z",
	} {
		assert.Equal(t, none, s.NextRun(some(last)), "last run %s", last)
	}
}

func TestOneOff_OutsideBounds(t *testing.T) {
	target := utc("2019-01-01T00:00:00Z")

	early, err := NewOneOff(target, Bounds{RunAtAndAfter: target.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, none, early.NextRun(none))

	late, err := NewOneOff(target, Bounds{
		RunAtAndAfter: target.Add(-time.Hour),
		RunUntil:      optional.Some(target.Add(-time.Second)),
	})
	require.NoError(t, err)
	assert.Equal(t, none, late.NextRun(none))

	inclusive, err := NewOneOff(target, Bounds{RunAtAndAfter: target, RunUntil: optional.Some(target)})
	require.NoError(t, err)
	assert.Equal(t, optional.Some(target), inclusive.NextRun(none))
}

func TestOneOff_InvertedBounds(t *testing.T) {
	_, err := NewOneOff(utc("2019-01-01T00:00:00Z"), Bounds{
		RunAtAndAfter: utc("2019-01-02T00:00:00Z"),
		RunUntil:      some("2019-01-01T00:00:00Z"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestUpcoming(t *testing.T) {
	s, err := NewPeriodic(PeriodicConfig{
		Period: Hour,
		Offset: 15 * time.Minute,
		Bounds: Bounds{RunAtAndAfter: utc("2019-01-01T00:00:00Z"), RunUntil: some("2019-01-01T03:00:00Z")},
	})
	require.NoError(t, err)

	runs := Upcoming(s, none, 10)
	assert.Equal(t, []time.Time{
		utc("2019-01-01T00:15:00Z"),
		utc("2019-01-01T01:15:00Z"),
		utc("2019-01-01T02:15:00Z"),
	}, runs)

	once, err := NewOneOff(utc("2019-01-01T00:00:00Z"), Bounds{})
	require.NoError(t, err)
	assert.Len(t, Upcoming(once, none, 5), 1)
	assert.Empty(t, Upcoming(Never{}, none, 5))
}
