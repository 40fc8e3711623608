package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alecthomas/types/optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/teranos/cadence/errors"
)

func TestDefinition_BuildPeriodicFromYAML(t *testing.T) {
	doc := `
kind: periodic
period: daily
offset: 12h
run_at_and_after: 2019-01-01T06:00:00Z
run_until: 2019-01-04T00:00:00Z
`
	var def Definition
	require.NoError(t, yaml.Unmarshal([]byte(doc), &def))

	s, err := def.Build()
	require.NoError(t, err)

	assert.Equal(t, some("2019-01-02T12:00:00Z"), s.NextRun(none))
	assert.Equal(t, none, s.NextRun(some("2019-01-03T12:00:00Z")))
}

func TestDefinition_Describe(t *testing.T) {
	lower := utc("2019-01-01T00:00:00Z")
	periodic, err := NewPeriodic(PeriodicConfig{Period: Hour, Offset: 5 * time.Minute, Bounds: Bounds{RunAtAndAfter: lower}})
	require.NoError(t, err)
	oneOff, err := NewOneOff(lower, Bounds{RunAtAndAfter: lower, RunUntil: optional.Some(lower.Add(time.Hour))})
	require.NoError(t, err)
	cron, err := NewCron("*/5 * * * *", nil, Bounds{RunAtAndAfter: lower})
	require.NoError(t, err)

	for _, s := range []Schedule{Never{}, periodic, oneOff, cron} {
		def, err := Describe(s)
		require.NoError(t, err, s.String())

		// Through JSON as the store does
		raw, err := json.Marshal(def)
		require.NoError(t, err)
		var decoded Definition
		require.NoError(t, json.Unmarshal(raw, &decoded))

		rebuilt, err := decoded.Build()
		require.NoError(t, err, string(raw))
		assert.Equal(t, Upcoming(s, none, 5), Upcoming(rebuilt, none, 5), s.String())
	}
}

func TestDefinition_WithDefaultLowerBound(t *testing.T) {
	now := utc("2024-02-03T04:05:06Z")

	def := Definition{Kind: KindPeriodic, Period: "hour"}.WithDefaultLowerBound(now)
	require.NotNil(t, def.RunAtAndAfter)
	assert.Equal(t, now, *def.RunAtAndAfter)

	explicit := utc("2020-01-01T00:00:00Z")
	def = Definition{Kind: KindCron, Expression: "@daily", RunAtAndAfter: &explicit}.WithDefaultLowerBound(now)
	assert.Equal(t, explicit, *def.RunAtAndAfter)

	def = Definition{Kind: KindOneOff, At: &now}.WithDefaultLowerBound(now)
	assert.Nil(t, def.RunAtAndAfter)
}

func TestDefinition_Invalid(t *testing.T) {
	tests := []Definition{
		{Kind: "hourly"},
		{Kind: KindOneOff},
		{Kind: KindPeriodic, Period: "day", Offset: "soon"},
		{Kind: KindPeriodic, Period: "day", Offset: "25h"},
		{Kind: KindPeriodic, Period: "day", Zone: "Mars/Olympus_Mons"},
		{Kind: KindCron, Expression: "61 * * * *"},
	}
	for _, def := range tests {
		_, err := def.Build()
		assert.True(t, errors.IsConfiguration(err), "%+v", def)
	}
}
