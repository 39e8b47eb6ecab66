// Package version holds build information for the bowen binary, injected via
// -ldflags:
//
//	go build -ldflags="-X github.com/joedaviesio/magna/internal/version.Version=v0.2.0 \
//	                    -X github.com/joedaviesio/magna/internal/version.Commit=abc1234"
package version

import "fmt"

// APIVersion is the version of the HTTP API contract served under /api/v1.
const APIVersion = "1.0.0"

var (
	// Version is the application version. "dev" for local builds.
	Version = "dev"
	// Commit is the short git SHA the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC build date in RFC3339.
	BuildDate = "unknown"
)

// String renders the one-line form printed by `bowen version`.
func String() string {
	return fmt.Sprintf("bowen %s (api %s, commit: %s, built: %s)", Version, APIVersion, Commit, BuildDate)
}
