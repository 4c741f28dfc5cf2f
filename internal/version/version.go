// Package version holds build-time version information for the tixrag binary.
// The variables in this package are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/tixrag/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/tixrag/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/tixrag/internal/version.BuildDate=2026-01-01"
//
// Without ldflags the values fall back to "dev" and "unknown".
package version

import "fmt"

// Version is the semantic version of the binary (e.g. "v0.3.0").
var Version = "dev"

// Commit is the short git SHA of the commit the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC date the binary was built (RFC3339 format).
var BuildDate = "unknown"

// String renders the one-line banner printed by `tixrag version`.
func String() string {
	return fmt.Sprintf("tixrag %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
