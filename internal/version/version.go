// Package version provides build-time version information.
package version

import "fmt"

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String formats the build information for the version command.
func String() string {
	return fmt.Sprintf("agentcore %s (%s, built %s)", Version, Commit, BuildDate)
}
