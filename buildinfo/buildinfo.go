// Package buildinfo reports the version of the running borderwatch binary.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
)

const repo = "https://github.com/borderwatch/borderwatch"

var (
	buildInfo      *debug.BuildInfo
	buildInfoValid bool
	readBuildInfo  sync.Once

	externalURL     string
	readExternalURL sync.Once

	version     string
	readVersion sync.Once

	// Injected with ldflags at build!
	tag string
)

// Version returns the semantic version of the build.
// Use golang.org/x/mod/semver to compare versions.
func Version() string {
	readVersion.Do(func() {
		revision, valid := revision()
		if valid && len(revision) >= 7 {
			revision = "+" + revision[:7]
		} else {
			revision = ""
		}
		if tag == "" {
			version = "v0.0.0-devel" + revision
			return
		}
		t := strings.TrimPrefix(tag, "v")
		if semver.Build("v"+t) == "" {
			t += revision
		}
		version = "v" + t
	})
	return version
}

// IsDev reports whether the binary was built without a release tag.
func IsDev() bool {
	return strings.HasPrefix(Version(), "v0.0.0-devel")
}

// VersionsMatch reports whether two versions share a major and minor
// release. Development builds match everything.
func VersionsMatch(v1, v2 string) bool {
	if strings.HasPrefix(v1, "v0.0.0-devel") || strings.HasPrefix(v2, "v0.0.0-devel") {
		return true
	}
	return semver.MajorMinor(v1) == semver.MajorMinor(v2)
}

// ExternalURL returns a URL referencing the current version. Release builds
// link to the release, development builds to the commit.
func ExternalURL() string {
	readExternalURL.Do(func() {
		if !IsDev() {
			externalURL = fmt.Sprintf("%s/releases/tag/%s", repo, semver.Canonical(Version()))
			return
		}
		revision, valid := revision()
		if !valid {
			externalURL = repo
			return
		}
		externalURL = fmt.Sprintf("%s/commit/%s", repo, revision)
	})
	return externalURL
}

// Time returns when the Git revision was published.
func Time() (time.Time, bool) {
	value, valid := find("vcs.time")
	if !valid {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// revision returns the Git hash of the build.
func revision() (string, bool) {
	return find("vcs.revision")
}

func find(key string) (string, bool) {
	readBuildInfo.Do(func() {
		buildInfo, buildInfoValid = debug.ReadBuildInfo()
	})
	if !buildInfoValid {
		return "", false
	}
	for _, setting := range buildInfo.Settings {
		if setting.Key != key {
			continue
		}
		return setting.Value, true
	}
	return "", false
}
