// Package version exposes build metadata, stamped at link time via
// -ldflags "-X github.com/agentic-observability/aef/pkg/version.Version=...".
package version

var (
	// Version is the released semantic version, or "dev" for local builds.
	Version = "dev"
	// GitCommit is the short commit hash the binary was built from.
	GitCommit = "unknown"
	// BuildDate is the RFC3339 build timestamp.
	BuildDate = "unknown"
)

// Full renders a single human-readable string combining all three fields,
// used in aefd's startup log line.
func Full() string {
	return Version + " (" + GitCommit + ", built " + BuildDate + ")"
}
