// SPDX-License-Identifier: MIT
//
// Package build carries build metadata injected with linker flags:
//
//	go build -ldflags "-X soundscope/pkg/build.buildName=soundscope \
//	  -X soundscope/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds have no flags; Initialize then reports what is missing
// and the fields keep values read from the module's embedded build info.
package build

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Description is the one-line summary shown by the CLI.
const Description = "Real-time pitch, tempo, band and genre analysis of audio streams"

// Info is the metadata of the running binary.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = defaults()
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

func defaults() *Info {
	info := &Info{Name: "soundscope", Time: "unknown", Commit: "unknown", Version: "dev"}
	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		info.Version = v
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.Time = s.Value
		}
	}
	return info
}

// Initialize copies the linker-injected values into the build info. Every
// flag is required; the returned error names each one missing, and the
// fields of missing flags keep their defaults.
func Initialize() error {
	var errs []error
	set := func(flag, val string, dst *string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", flag))
			return
		}
		*dst = val
	}
	set("BuildName", buildName, &buildFlags.Name)
	set("BuildTime", buildTime, &buildFlags.Time)
	set("BuildCommit", buildCommit, &buildFlags.Commit)
	set("BuildVersion", buildVersion, &buildFlags.Version)
	return errors.Join(errs...)
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildFlags
}
