// Package buildinfo carries the version metadata stamped into the binary.
package buildinfo

import "fmt"

// Overridden at release time via -ldflags; the zero values identify a local
// development build.
var (
	// Version is the release tag or git describe output.
	Version = "dev"

	// Commit is the short git SHA the binary was built from.
	Commit = "none"

	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)

// Summary renders the startup banner line.
func Summary() string {
	return fmt.Sprintf("SatQuery Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)
}
