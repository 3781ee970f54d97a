// Package version reports what build of Autofleet is running. Release builds
// set the variables with -ldflags "-X"; other builds fall back to the VCS
// stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at link time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the one-line description printed by --version.
func Info() string {
	commit, date := stamp()
	return fmt.Sprintf("Autofleet %s (commit: %s, built: %s, go: %s)",
		Version, commit, date, runtime.Version())
}

// Short returns the release version, "dev" for local builds.
func Short() string {
	return Version
}

// Map returns the build description served by GET /api/v1/health.
func Map() map[string]string {
	commit, date := stamp()
	return map[string]string{
		"version":    Version,
		"git_commit": commit,
		"build_date": date,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// stamp returns the commit and build date, preferring link-time values.
func stamp() (commit, date string) {
	commit, date = GitCommit, BuildDate
	if commit != "unknown" {
		return commit, date
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, date
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.time":
			if date == "unknown" {
				date = s.Value
			}
		}
	}
	return commit, date
}
