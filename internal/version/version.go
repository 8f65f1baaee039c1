// Package version reports what build of the client is running.
//
// Release builds stamp the variables with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/socket-client/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/socket-client/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/socket-client/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Unstamped builds fall back to the VCS settings the go tool embeds.
package version

import (
	"runtime/debug"
	"sync"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var fillOnce sync.Once

// fill copies vcs.revision and vcs.time from the embedded build info into
// variables that ldflags left at their defaults.
func fill() {
	fillOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if Commit == "unknown" && len(s.Value) >= 7 {
					Commit = s.Value[:7]
				}
			case "vcs.time":
				if BuildTime == "unknown" && s.Value != "" {
					BuildTime = s.Value
				}
			}
		}
	})
}

// String returns a formatted version string.
func String() string {
	fill()
	return Version + " (" + Commit + ") built " + BuildTime
}

// Fields returns the version as slog key/value pairs.
func Fields() []any {
	fill()
	return []any{"version", Version, "commit", Commit, "build_time", BuildTime}
}
