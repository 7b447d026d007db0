package versions

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) { //nolint:paralleltest // Modifies global variables
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	defer func() {
		Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
	}()

	t.Run("release version", func(t *testing.T) {
		Version = "v1.2.3"
		Commit = "abc123def456789"
		BuildDate = "2024-01-15T10:30:00Z"

		info := GetVersionInfo()
		assert.Equal(t, "v1.2.3", info.Version)
		assert.Equal(t, "abc123def456789", info.Commit)
		assert.Equal(t, "2024-01-15 10:30:00 UTC", info.BuildDate)
		assert.Equal(t, runtime.Version(), info.GoVersion)
		assert.Equal(t, fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), info.Platform)
	})

	t.Run("dev build named after commit", func(t *testing.T) {
		Version = "dev"
		Commit = "abc123def456789"
		BuildDate = "2024-01-15T10:30:00Z"

		info := GetVersionInfo()
		assert.Equal(t, "build-abc123de", info.Version)
	})

	t.Run("unparseable build date passes through", func(t *testing.T) {
		Version = "v1.2.3"
		Commit = "abc123"
		BuildDate = "not-a-date"

		info := GetVersionInfo()
		assert.Equal(t, "not-a-date", info.BuildDate)
	})
}
