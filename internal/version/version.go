package version

// Populated at build time via -ldflags, e.g.
//
//	-X github.com/you/rumblechat/internal/version.Version=v0.3.0
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)
