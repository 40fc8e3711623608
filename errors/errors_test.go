package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestRepository(t *testing.T) {
	assert.Nil(t, Repository(nil, "ignored"))

	cause := fmt.Errorf("disk I/O error")
	err := Repository(cause, "read last run")
	require.Error(t, err)

	assert.True(t, IsRepository(err))
	assert.False(t, IsConfiguration(err))
	assert.Equal(t, "read last run: disk I/O error", err.Error())
}

func TestRepository_SurvivesFurtherWrapping(t *testing.T) {
	err := Wrap(Repository(New("locked"), "query jobs"), "sweep")
	assert.True(t, IsRepository(err))
}

func TestConfigurationf(t *testing.T) {
	err := Configurationf("offset %s must be below period %s", "25h", "day")

	assert.True(t, IsConfiguration(err))
	assert.Equal(t, "offset 25h must be below period day", err.Error())
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(Wrapf(ErrNotFound, "job %s", "nightly")))
}

func TestWithHint(t *testing.T) {
	err := WithHint(Configurationf("unknown period %q", "fortnight"), "use minute, hour, day, week or month")

	assert.True(t, IsConfiguration(err))
	assert.Contains(t, FlattenHints(err), "use minute")
}
