package schedule

import (
	"testing"
	"time"

	"github.com/alecthomas/types/optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
)

func TestCron_Weekdays(t *testing.T) {
	// 2019-01-04 is a Friday
	s, err := NewCron("30 2 * * 1-5", nil, Bounds{RunAtAndAfter: utc("2019-01-04T00:00:00Z")})
	require.NoError(t, err)

	assert.Equal(t, some("2019-01-04T02:30:00Z"), s.NextRun(none))
	assert.Equal(t, some("2019-01-07T02:30:00Z"), s.NextRun(some("2019-01-04T02:30:00Z")))
}

func TestCron_LowerBoundIsInclusive(t *testing.T) {
	s, err := NewCron("@hourly", nil, Bounds{RunAtAndAfter: utc("2019-01-01T05:00:00Z")})
	require.NoError(t, err)

	assert.Equal(t, some("2019-01-01T05:00:00Z"), s.NextRun(none))
	// History from before the bounds clamps up to the first fire in bounds
	assert.Equal(t, some("2019-01-01T05:00:00Z"), s.NextRun(some("2018-06-01T00:00:00Z")))
}

func TestCron_UpperBound(t *testing.T) {
	s, err := NewCron("0 0 * * *", nil, Bounds{
		RunAtAndAfter: utc("2019-01-01T00:00:00Z"),
		RunUntil:      some("2019-01-02T00:00:00Z"),
	})
	require.NoError(t, err)

	assert.Equal(t, some("2019-01-02T00:00:00Z"), s.NextRun(some("2019-01-01T00:00:00Z")))
	assert.Equal(t, none, s.NextRun(some("2019-01-02T00:00:00Z")))
}

func TestCron_Zone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s, err := NewCron("0 9 * * *", ny, Bounds{RunAtAndAfter: utc("2019-01-01T00:00:00Z")})
	require.NoError(t, err)

	// 09:00 EST is 14:00 UTC
	assert.Equal(t, some("2019-01-01T14:00:00Z"), s.NextRun(none))
}

func TestNewCron_ConfigurationErrors(t *testing.T) {
	lower := utc("2019-01-01T00:00:00Z")

	_, err := NewCron("not a cron", nil, Bounds{RunAtAndAfter: lower})
	assert.True(t, errors.IsConfiguration(err))

	_, err = NewCron("* * * * *", nil, Bounds{})
	assert.True(t, errors.IsConfiguration(err))

	_, err = NewCron("* * * * *", nil, Bounds{RunAtAndAfter: lower, RunUntil: optional.Some(lower.Add(-time.Minute))})
	assert.True(t, errors.IsConfiguration(err))
}
