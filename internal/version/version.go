// Package version reports build information stamped in with -ldflags.
package version

import (
	"runtime/debug"
	"strings"
)

// Set at build time, for example:
//
//	-ldflags "-X machinehub/internal/version.Version=1.4.0 -X machinehub/internal/version.Commit=abc123"
var (
	Version = "dev"
	Commit  = ""
	Built   = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Built     string `json:"built,omitempty"`
	GoVersion string `json:"goVersion"`
}

// Get falls back to the VCS revision recorded by the Go toolchain when no
// commit was stamped.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, Built: Built}
	if build, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = build.GoVersion
		if info.Commit == "" {
			for _, setting := range build.Settings {
				if setting.Key == "vcs.revision" {
					info.Commit = setting.Value
				}
			}
		}
	}
	return info
}

func (i Info) String() string {
	parts := []string{"machinehub " + i.Version}
	if i.Commit != "" {
		commit := i.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		parts = append(parts, "commit "+commit)
	}
	if i.Built != "" {
		parts = append(parts, "built "+i.Built)
	}
	if i.GoVersion != "" {
		parts = append(parts, i.GoVersion)
	}
	return strings.Join(parts, ", ")
}
