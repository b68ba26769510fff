// Package version reports the build identity stamped on every job run.
package version

import (
	"runtime/debug"
	"time"
)

// Set with -ldflags "-X github.com/kbukum/agentflow/version.Version=v1.2.0 ...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Dirty     bool   `json:"dirty"`
}

// Get merges the linker-provided values with the VCS stamp Go embeds in
// module builds. Linker values win.
func Get() Info {
	info := Info{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// String renders "<version>[-<commit7>][-dirty]".
func (i Info) String() string {
	s := i.Version
	if c := i.GitCommit; c != "" {
		if len(c) > 7 {
			c = c[:7]
		}
		s += "-" + c
	}
	if i.Dirty {
		s += "-dirty"
	}
	return s
}

// Built parses BuildTime. The zero time means unknown.
func (i Info) Built() time.Time {
	t, _ := time.Parse(time.RFC3339, i.BuildTime)
	return t
}

// EngineVersion is the value stamped on job runs.
func EngineVersion() string {
	return Get().String()
}
