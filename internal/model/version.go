package model

import (
	"strconv"
	"strings"

	"buildsync/internal/syncerr"
)

// Supported model versions: major CurrentMajor, at least MinModelVersion.
const (
	MinModelVersion = "1.0"
	CurrentMajor    = 1
)

// CheckVersion rejects models this importer cannot read.
func CheckVersion(version string) error {
	major, minor, ok := parseVersion(version)
	if !ok {
		return syncerr.Newf(syncerr.KindUnsupportedToolVersion, "malformed model version %q", version)
	}
	minMajor, minMinor, _ := parseVersion(MinModelVersion)
	if major < minMajor || (major == minMajor && minor < minMinor) {
		return syncerr.Newf(syncerr.KindUnsupportedToolVersion, "model version %s is older than the minimum supported %s", version, MinModelVersion)
	}
	if major > CurrentMajor {
		return syncerr.Newf(syncerr.KindUnsupportedToolVersion, "model version %s is newer than supported major %d", version, CurrentMajor)
	}
	return nil
}

// parseVersion reads "major[.minor[.patch]]"; anything after patch is ignored.
func parseVersion(v string) (major, minor int, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(v, ".", 3)
	var err error
	if major, err = strconv.Atoi(parts[0]); err != nil || major < 0 {
		return 0, 0, false
	}
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil || minor < 0 {
			return 0, 0, false
		}
	}
	return major, minor, true
}
