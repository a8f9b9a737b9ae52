package bulkmailer

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Build metadata, injected with -ldflags "-X github.com/lattiq/bulkmailer.Version=...".
var (
	// Version is the semantic version of the library.
	Version = "dev"

	// GitCommit is the git commit hash when the binary was built.
	GitCommit = "unknown"

	// BuildDate is the date when the binary was built.
	BuildDate = "unknown"
)

// VersionInfo contains detailed version information.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Modified  bool   `json:"modified,omitempty"`
}

// GetVersionInfo returns the ldflags values, completed from the embedded VCS stamp.
func GetVersionInfo() *VersionInfo {
	info := &VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" {
				info.GitCommit = s.Value
				if len(info.GitCommit) > 12 {
					info.GitCommit = info.GitCommit[:12]
				}
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// String returns a human-readable version string.
func (v *VersionInfo) String() string {
	parts := []string{"bulkmailer " + v.Version}
	if v.GitCommit != "unknown" && v.GitCommit != "" {
		commit := v.GitCommit
		if v.Modified {
			commit += "-dirty"
		}
		parts = append(parts, "commit "+commit)
	}
	if v.BuildDate != "unknown" && v.BuildDate != "" {
		parts = append(parts, "built "+v.BuildDate)
	}
	parts = append(parts, v.GoVersion, v.Platform)
	return strings.Join(parts, ", ")
}

// UserAgent returns a user agent token for outbound requests.
func (v *VersionInfo) UserAgent() string {
	return fmt.Sprintf("bulkmailer/%s (%s)", v.Version, v.Platform)
}

// IsDevBuild reports whether the binary was built without release metadata.
func (v *VersionInfo) IsDevBuild() bool {
	return strings.Contains(v.Version, "dev") || v.Modified || v.GitCommit == "unknown"
}
