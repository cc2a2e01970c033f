package version

// Set at build time with -ldflags "-X github.com/fridgecal/fridgecal/pkg/version.Version=...".
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
)

// Info is reported by the daemon on /version.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

func Get() Info {
	return Info{Version: Version, GitCommit: GitCommit}
}
