// Package version reports the build version of the realitycam binaries and
// of the manifests they sign.
package version

import (
	"runtime"
	"strings"
)

// Version is the release version. Set with -ldflags "-X .../version.Version=...".
var Version = "dev"

// Commit is the source revision, set the same way.
var Commit = ""

// String returns the version with a single 'v' prefix for display.
func String() string {
	return "v" + strings.TrimPrefix(Version, "v")
}

// Info describes the running build.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build info.
func Get() Info {
	return Info{
		Version:   String(),
		Commit:    Commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
