// Package version reports the build version of the adtopia binary.
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Set at build time with -ldflags "-X github.com/adtopia/adtopia/pkg/version.version=...".
var (
	version   = "0.0.0-dev" //nolint:gochecknoglobals // Injected by ldflags.
	gitCommit = "unknown"   //nolint:gochecknoglobals // Injected by ldflags.
	buildDate = "unknown"   //nolint:gochecknoglobals // Injected by ldflags.
)

// GetVersion returns the release version.
func GetVersion() string {
	return version
}

// GetGitCommit returns the commit the binary was built from.
func GetGitCommit() string {
	return gitCommit
}

// GetBuildDate returns the build timestamp.
func GetBuildDate() string {
	return buildDate
}

// IsRelease reports whether the version is a valid semantic version without a
// prerelease suffix.
func IsRelease() bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return v.Prerelease() == ""
}

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s/%s)", version, gitCommit, buildDate, runtime.GOOS, runtime.GOARCH)
}
