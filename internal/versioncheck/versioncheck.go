// Package versioncheck compares realitycam versions. It checks GitHub for
// newer releases and decides whether a manifest's generator version meets a
// verifier's minimum.
package versioncheck

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// InstallMethod indicates how the CLI was installed.
type InstallMethod int

const (
	GoInstall InstallMethod = iota
	Homebrew
	DirectDownload
)

func (m InstallMethod) String() string {
	switch m {
	case GoInstall:
		return "go-install"
	case Homebrew:
		return "homebrew"
	case DirectDownload:
		return "direct-download"
	default:
		return "unknown"
	}
}

// CheckResult is the outcome of a release check.
type CheckResult struct {
	CurrentVersion  string
	LatestVersion   string
	ReleaseURL      string
	UpdateAvailable bool
	InstallMethod   InstallMethod
	UpgradeCommand  string
	FromCache       bool
	Error           error // lookup failure; a stale cache may still fill LatestVersion
}

// Checker looks up the latest release, caching the answer for CacheTTL.
type Checker struct {
	GitHubClient *GitHubClient
	CachePath    string
	CacheTTL     time.Duration
}

// NewChecker returns a Checker against GitHub with a one day cache.
func NewChecker() *Checker {
	return &Checker{
		GitHubClient: NewGitHubClient(DefaultGitHubAPI),
		CachePath:    DefaultCachePath(),
		CacheTTL:     24 * time.Hour,
	}
}

// Check compares currentVersion with the latest release. Network failures
// fall back to a stale cache entry when one exists.
func (c *Checker) Check(ctx context.Context, currentVersion string) *CheckResult {
	result := &CheckResult{
		CurrentVersion: currentVersion,
		InstallMethod:  DetectInstallMethod(),
	}

	cached, cacheErr := ReadCacheFile(c.CachePath)
	if cacheErr == nil && cached.IsValid(c.CacheTTL) {
		result.LatestVersion = cached.LatestVersion
		result.ReleaseURL = cached.ReleaseURL
		result.FromCache = true
	} else {
		release, err := c.GitHubClient.FetchLatestRelease(ctx)
		if err != nil {
			result.Error = err
			if cacheErr == nil {
				result.LatestVersion = cached.LatestVersion
				result.ReleaseURL = cached.ReleaseURL
				result.FromCache = true
			}
			if result.LatestVersion == "" {
				return result
			}
		} else {
			result.LatestVersion = strings.TrimPrefix(release.TagName, "v")
			result.ReleaseURL = release.HTMLURL
			_ = WriteCacheFile(c.CachePath, &CacheEntry{
				LatestVersion: result.LatestVersion,
				ReleaseURL:    result.ReleaseURL,
				CheckedAt:     time.Now().UTC(),
			})
		}
	}

	result.UpdateAvailable = IsNewerVersion(currentVersion, result.LatestVersion)
	result.UpgradeCommand = UpgradeCommand(result.InstallMethod, result.LatestVersion)
	return result
}

// DetectInstallMethod guesses how the running binary was installed.
func DetectInstallMethod() InstallMethod {
	execPath, err := os.Executable()
	if err != nil {
		return DirectDownload
	}
	return DetectInstallMethodFromPath(execPath, os.Getenv("GOPATH"))
}

// DetectInstallMethodFromPath classifies execPath. gopath may be empty.
func DetectInstallMethodFromPath(execPath, gopath string) InstallMethod {
	if strings.Contains(execPath, "/Cellar/") || strings.Contains(execPath, "/homebrew/") {
		return Homebrew
	}
	if strings.Contains(execPath, "/go/bin/") || (gopath != "" && strings.HasPrefix(execPath, gopath)) {
		return GoInstall
	}
	return DirectDownload
}

// UpgradeCommand returns the upgrade instruction for method.
func UpgradeCommand(method InstallMethod, newVersion string) string {
	switch method {
	case GoInstall:
		return "go install github.com/" + Repository + "/cmd/realitycam@" + NormalizeVersion(newVersion)
	case Homebrew:
		return "brew upgrade realitycam"
	default:
		return "Download from https://github.com/" + Repository + "/releases"
	}
}

// IsNewerVersion reports whether latest is a newer semantic version than
// current. Invalid versions (including "dev") never compare newer.
func IsNewerVersion(current, latest string) bool {
	c, l := NormalizeVersion(current), NormalizeVersion(latest)
	if !semver.IsValid(c) || !semver.IsValid(l) {
		return false
	}
	return semver.Compare(c, l) < 0
}

// MeetsMinimum reports whether a manifest generator version is at least
// minimum. An empty minimum accepts everything. Development builds ("dev")
// and other non-semver versions are rejected once a minimum is set.
func MeetsMinimum(generator, minimum string) (bool, error) {
	if minimum == "" {
		return true, nil
	}
	m := NormalizeVersion(minimum)
	if !semver.IsValid(m) {
		return false, fmt.Errorf("invalid minimum version %q", minimum)
	}
	g := NormalizeVersion(generator)
	if !semver.IsValid(g) {
		return false, nil
	}
	return semver.Compare(g, m) >= 0, nil
}

// NormalizeVersion ensures a version string has the v prefix semver needs.
func NormalizeVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
