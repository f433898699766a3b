// Package versions provides build and version information for advert-sync.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	unknownStr = "unknown"
	devVersion = "dev"

	// commitDigits is how much of the commit a development version shows
	commitDigits = 8

	buildDateLayout = "2006-01-02 15:04:05 MST"
)

// Stamped at release time with -ldflags "-X .../internal/versions.Version=v1.2.3 ...".
// Unstamped binaries fall back to the VCS data Go embeds in the build.
var (
	Version = devVersion
	//nolint:goconst // placeholder until stamped
	Commit = unknownStr
	//nolint:goconst // placeholder until stamped
	BuildDate = unknownStr
)

// VersionInfo describes the running binary. It is printed by the version
// command, sent as the metrics service version and checked against a
// pipeline's minVersion.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// IsDevelopment reports whether the binary was built without a release version
func (v VersionInfo) IsDevelopment() bool {
	return strings.HasPrefix(v.Version, "build-") || strings.HasPrefix(v.Version, devVersion)
}

// String renders the multi-line form printed by `advert-sync version`
func (v VersionInfo) String() string {
	commit := v.Commit
	if v.Dirty {
		commit += " (modified)"
	}
	return fmt.Sprintf("advert-sync %s\n  commit: %s\n  built: %s\n  go: %s\n  platform: %s\n",
		v.Version, commit, v.BuildDate, v.GoVersion, v.Platform)
}

// GetVersionInfo returns the version information of this binary
func GetVersionInfo() VersionInfo {
	var settings []debug.BuildSetting
	if info, ok := debug.ReadBuildInfo(); ok {
		settings = info.Settings
	}
	return newVersionInfo(Version, Commit, BuildDate, settings)
}

// newVersionInfo combines the stamped values with the embedded VCS settings.
// Stamped values win; VCS settings only fill in a dev build.
func newVersionInfo(version, commit, buildDate string, settings []debug.BuildSetting) VersionInfo {
	info := VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if strings.HasPrefix(version, devVersion) {
		for _, s := range settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == unknownStr {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildDate == unknownStr {
					info.BuildDate = s.Value
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}

	if t, err := time.Parse(time.RFC3339, info.BuildDate); err == nil {
		info.BuildDate = t.UTC().Format(buildDateLayout)
	}

	if version == devVersion {
		info.Version = fmt.Sprintf("build-%.*s", commitDigits, info.Commit)
	}
	return info
}
