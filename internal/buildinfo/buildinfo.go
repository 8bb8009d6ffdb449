// Package buildinfo carries build-time metadata injected via -ldflags.
package buildinfo

// Populated at build time:
//
//	go build -ldflags "-X github.com/edgewatch/camd/internal/buildinfo.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
