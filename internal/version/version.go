// Package version carries the build identity stamped in via -ldflags.
package version

// Set by the linker at release time; the zero values mark local builds.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
