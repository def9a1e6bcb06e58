// Package version carries the build identity stamped in by the linker:
//
//	go build -ldflags "-X git.home.luguber.info/inful/washer/internal/version.Version=v0.3.0"
package version

import "fmt"

var Version = "unknown"

var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String is the one-line form printed by --version.
func String() string {
	if GitCommit == "unknown" && BuildTime == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
