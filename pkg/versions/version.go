// Package versions provides build version information for the gateway.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

const unknownStr = "unknown"

// Values injected at build time via ldflags.
var (
	// Version is the release version, or "dev" for local builds.
	Version = "dev"
	// Commit is the git commit hash the binary was built from.
	Commit = unknownStr
	// BuildDate is when the binary was built, RFC 3339.
	BuildDate = unknownStr
)

// VersionInfo is the resolved version metadata of this binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version metadata, falling back to the Go build
// info embedded in the binary when ldflags were not set.
func GetVersionInfo() VersionInfo {
	version := Version
	commit := Commit
	buildDate := BuildDate

	if commit == unknownStr || buildDate == unknownStr {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					if commit == unknownStr && setting.Value != "" {
						commit = setting.Value
					}
				case "vcs.time":
					if buildDate == unknownStr && setting.Value != "" {
						buildDate = setting.Value
					}
				}
			}
		}
	}

	// Local builds are named after the commit they were built from.
	if version == "dev" {
		if commit != unknownStr {
			short := commit
			if len(short) > 8 {
				short = short[:8]
			}
			version = "build-" + short
		} else {
			version = "build-unknown"
		}
	}

	if buildDate != unknownStr {
		if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
			buildDate = t.UTC().Format("2006-01-02 15:04:05 UTC")
		}
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
