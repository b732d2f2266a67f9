// Package version holds the build metadata printed by `digestpin version`.
// Release builds stamp it through ldflags:
//
//	go build -ldflags "-X github.com/jmgilman/digestpin/internal/version.Version=v0.3.0 \
//	                   -X github.com/jmgilman/digestpin/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/jmgilman/digestpin/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/digestpin
package version

var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"

	// Commit is the short git commit the binary was built from.
	Commit = "none"

	// Date is the UTC build time in RFC 3339 format.
	Date = "unknown"
)
