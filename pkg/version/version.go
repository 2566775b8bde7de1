package version

import (
	"fmt"
	"runtime"
)

// Build information, populated through -ldflags at release time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
	OS        = runtime.GOOS
	Arch      = runtime.GOARCH
)

// Product is the name reported in logs, the CLI and the RTSP User-Agent header.
const Product = "rtspsource"

// Info contains version information.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns the version information.
func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        OS,
		Arch:      Arch,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s, os/arch: %s/%s)",
		Product, i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.OS, i.Arch)
}

// Short returns "<product> <version>".
func (i Info) Short() string {
	return fmt.Sprintf("%s %s", Product, i.Version)
}

// UserAgent formats the info as an RTSP/HTTP User-Agent token.
func (i Info) UserAgent() string {
	return fmt.Sprintf("%s/%s", Product, i.Version)
}
