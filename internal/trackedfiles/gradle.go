package trackedfiles

import (
	"bufio"
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

var (
	reRootName     = regexp.MustCompile(`(?m)^\s*rootProject\.name\s*=\s*["']([^"']+)["']`)
	reDistribution = regexp.MustCompile(`gradle-([0-9][0-9A-Za-z.\-]*?)-(?:bin|all)\.zip`)
)

// WrapperProperties is the wrapper file path relative to the project root.
const WrapperProperties = "gradle/wrapper/gradle-wrapper.properties"

// DetectToolVersion reads the tool version from the wrapper's
// distributionUrl ("gradle-8.7-bin.zip" yields "8.7"). It returns "" when
// the wrapper is absent or names no version.
func DetectToolVersion(fsys afero.Fs, root string) string {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	props := readProperties(fsys, filepath.Join(root, filepath.FromSlash(WrapperProperties)))
	url := props["distributionUrl"]
	if m := reDistribution.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// RootProjectName returns rootProject.name from the settings script, or ""
// when none is declared.
func RootProjectName(fsys afero.Fs, root string) string {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	for _, name := range []string{"settings.gradle", "settings.gradle.kts"} {
		b, err := afero.ReadFile(fsys, filepath.Join(root, name))
		if err != nil {
			continue
		}
		if m := reRootName.FindSubmatch(b); m != nil {
			return string(m[1])
		}
	}
	return ""
}

// readProperties does a light java-properties scan: '#' and '!' comments,
// key=value or key:value, escaped colons unescaped.
func readProperties(fsys afero.Fs, path string) map[string]string {
	out := make(map[string]string)
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		return out
	}
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		ln := strings.TrimSpace(s.Text())
		if ln == "" || strings.HasPrefix(ln, "#") || strings.HasPrefix(ln, "!") {
			continue
		}
		i := strings.IndexAny(ln, "=:")
		if i < 0 {
			continue
		}
		key := strings.TrimSpace(ln[:i])
		val := strings.TrimSpace(ln[i+1:])
		out[key] = strings.ReplaceAll(val, `\:`, ":")
	}
	return out
}
