// Package trackedfiles finds the files whose content can change the result
// of a sync: settings and build scripts, property files, wrapper and
// version-catalog files and native build descriptors.
package trackedfiles

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"

	"buildsync/internal/sortutil"
)

// Options control discovery.
type Options struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// UserHome is the build tool's user home (e.g. ~/.gradle). Its
	// gradle.properties is tracked under an absolute key.
	UserHome string
	// UseGitignore skips directories ignored by the root .gitignore.
	UseGitignore bool
}

// rootFiles are tracked even when absent so that creating one invalidates
// the snapshot.
var rootFiles = []string{
	"settings.gradle",
	"settings.gradle.kts",
	"build.gradle",
	"build.gradle.kts",
	"gradle.properties",
	"local.properties",
	"gradle/wrapper/gradle-wrapper.properties",
	"gradle/libs.versions.toml",
}

var descriptorNames = map[string]struct{}{
	"build.gradle":      {},
	"build.gradle.kts":  {},
	"gradle.properties": {},
	"CMakeLists.txt":    {},
	"Android.mk":        {},
	"Application.mk":    {},
}

var skipDirs = map[string]struct{}{
	".git":         {},
	".gradle":      {},
	".idea":        {},
	".buildsync":   {},
	"build":        {},
	"node_modules": {},
}

// Discover returns the absolute paths of the tracked files of the project at
// root, sorted.
func Discover(root string, opt Options) ([]string, error) {
	fsys := opt.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	var gi *ignore.GitIgnore
	if opt.UseGitignore {
		gi = loadGitignore(fsys, root)
	}

	seen := make(map[string]struct{})
	add := func(p string) {
		seen[filepath.Clean(p)] = struct{}{}
	}
	for _, rel := range rootFiles {
		add(filepath.Join(root, filepath.FromSlash(rel)))
	}

	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		rel, ok := relative(root, path)
		if !ok || rel == "." {
			return nil
		}
		if info.IsDir() {
			if _, skip := skipDirs[info.Name()]; skip {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := descriptorNames[info.Name()]; ok {
			add(path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opt.UserHome != "" {
		add(filepath.Join(opt.UserHome, "gradle.properties"))
	}

	return sortutil.SortedKeys(seen), nil
}

func loadGitignore(fsys afero.Fs, root string) *ignore.GitIgnore {
	b, err := afero.ReadFile(fsys, filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return ignore.CompileIgnoreLines(strings.Split(string(b), "\n")...)
}

func relative(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", false
	}
	return rel, true
}
