// Package version exposes the build-time version string reported by
// /health and /api/discover.
package version

// Version is set at build time via -ldflags "-X intercom/internal/version.Version=...".
var Version = "dev"
