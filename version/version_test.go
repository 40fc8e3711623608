package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithVCS(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2019-01-01T00:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	info := withVCS(Info{Version: "v1.2.0"}, settings)
	assert.Equal(t, "cadence v1.2.0 (commit 0123456789ab+dirty, built 2019-01-01T00:00:00Z)", info.String())

	// ldflags win over the VCS stamp
	info = withVCS(Info{Version: "v1.2.0", Commit: "abc", BuildTime: "today"}, settings)
	assert.Equal(t, "abc", info.Commit)
	assert.Equal(t, "today", info.BuildTime)
}

func TestWithVCS_NoStamp(t *testing.T) {
	info := withVCS(Info{Version: "dev"}, nil)
	assert.Equal(t, "cadence dev (commit unknown, built unknown)", info.String())
	assert.False(t, info.Modified)
}
