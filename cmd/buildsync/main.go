// Package main provides the buildsync CLI: it imports the build graph of a
// Gradle-style project, reusing the cached graph while none of the tracked
// build files changed, and reports variant conflicts between modules.
//
// Usage:
//
//	buildsync [flags] <project_dir>
//
// The project model comes either from a JSON file exported by the build tool
// (-model-file) or from running the tool and reading its stdout (-tool-cmd).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"buildsync/internal/cache"
	"buildsync/internal/conflict"
	"buildsync/internal/deps"
	"buildsync/internal/diff"
	"buildsync/internal/dump"
	"buildsync/internal/graph"
	"buildsync/internal/model"
	"buildsync/internal/session"
	"buildsync/internal/trackedfiles"
	"buildsync/internal/watch"
)

// Config holds the parsed command line.
type Config struct {
	projectDir      string
	cacheDir        string
	modelFile       string
	toolCmd         string
	toolVersion     string
	gradleHome      string
	useCache        bool
	generateSources bool
	autoFix         bool
	variants        variantFlag
	dumpPath        string
	watch           bool
	verbose         bool
}

// variantFlag collects repeated -variant module=variant pairs.
type variantFlag map[string]string

func (v *variantFlag) String() string {
	if v == nil || len(*v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(*v))
	for k := range *v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + (*v)[k]
	}
	return strings.Join(parts, ",")
}

func (v *variantFlag) Set(s string) error {
	name, variant, ok := strings.Cut(s, "=")
	name, variant = strings.TrimSpace(name), strings.TrimSpace(variant)
	if !ok || name == "" || variant == "" {
		return fmt.Errorf("want module=variant, got %q", s)
	}
	if *v == nil {
		*v = make(variantFlag)
	}
	(*v)[name] = variant
	return nil
}

func parseFlags(args []string) (Config, error) {
	var cfg Config
	fset := flag.NewFlagSet("buildsync", flag.ContinueOnError)
	fset.Usage = func() {
		fmt.Fprintf(fset.Output(), "Usage:\n  buildsync [flags] <project_dir>\n\nFlags:\n")
		fset.PrintDefaults()
	}
	fset.StringVar(&cfg.cacheDir, "cache-dir", ".buildsync", "base directory for per-project snapshot and model caches")
	fset.StringVar(&cfg.modelFile, "model-file", "", "JSON project model exported by the build tool (relative to <project_dir>)")
	fset.StringVar(&cfg.toolCmd, "tool-cmd", "", "build tool command printing the JSON project model on stdout")
	fset.StringVar(&cfg.toolVersion, "tool-version", "", "active build tool version (default: from the wrapper properties)")
	fset.StringVar(&cfg.gradleHome, "gradle-home", defaultGradleHome(), "build tool user home; its gradle.properties is tracked")
	fset.BoolVar(&cfg.useCache, "use-cache", true, "reuse the cached graph when no tracked file changed")
	fset.BoolVar(&cfg.generateSources, "generate-sources", false, "request source generation after a successful sync")
	fset.BoolVar(&cfg.autoFix, "auto-fix", false, "apply unambiguous variant conflict fixes")
	fset.Var(&cfg.variants, "variant", "select a variant explicitly as module=variant (repeatable)")
	fset.StringVar(&cfg.dumpPath, "dump", "", "write a stable dump of the graph and print its diff to the previous dump")
	fset.BoolVar(&cfg.watch, "watch", false, "keep watching tracked files and re-sync on change")
	fset.BoolVar(&cfg.verbose, "v", false, "debug logging")

	if err := fset.Parse(args); err != nil {
		return cfg, err
	}
	if fset.NArg() != 1 {
		fset.Usage()
		return cfg, errors.New("expected exactly one <project_dir>")
	}
	cfg.projectDir = filepath.Clean(fset.Arg(0))
	switch {
	case cfg.modelFile == "" && strings.TrimSpace(cfg.toolCmd) == "":
		return cfg, errors.New("one of -model-file or -tool-cmd is required")
	case cfg.modelFile != "" && cfg.toolCmd != "":
		return cfg, errors.New("-model-file and -tool-cmd are mutually exclusive")
	}
	return cfg, nil
}

func defaultGradleHome() string {
	if v := os.Getenv("GRADLE_USER_HOME"); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gradle")
	}
	return ""
}

func buildOptions(cfg Config, useCache bool) session.Options {
	return session.Options{
		UseCache:                 useCache,
		GenerateSourcesOnSuccess: cfg.generateSources,
		AutoResolveConflicts:     cfg.autoFix,
		Variants:                 cfg.variants,
	}
}

func newFetcher(cfg Config) model.Fetcher {
	if cfg.modelFile != "" {
		return model.FileFetcher{Path: cfg.modelFile}
	}
	fields := strings.Fields(cfg.toolCmd)
	return model.CommandFetcher{Command: fields[0], Args: fields[1:]}
}

func newLogger(verbose bool, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	logger := newLogger(cfg.verbose, os.Stderr)
	root, err := filepath.Abs(cfg.projectDir)
	if err != nil {
		return err
	}
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		return fmt.Errorf("project directory %s not found", root)
	}

	toolVersion := cfg.toolVersion
	if toolVersion == "" {
		toolVersion = trackedfiles.DetectToolVersion(nil, root)
	}
	if toolVersion == "" {
		toolVersion = "unknown"
		logger.Warn("build tool version not detected; set -tool-version")
	}
	if name := trackedfiles.RootProjectName(nil, root); name != "" {
		logger.Debug("root project", "name", name)
	}

	store := cache.NewStore(toolVersion, cache.WithLogger(logger))
	builder := deps.NewBuilder(logger)
	sess, err := session.New(store, builder, conflict.NewDetector(builder, logger), session.Config{
		Root:           root,
		ToolVersion:    toolVersion,
		CacheDir:       cfg.cacheDir,
		UserGradleHome: cfg.gradleHome,
		Fetcher:        newFetcher(cfg),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := sess.Sync(ctx, buildOptions(cfg, cfg.useCache))
	if err != nil {
		return err
	}
	report(os.Stdout, res)
	if res.Status == session.Failed {
		return res.Err
	}
	if cfg.dumpPath != "" {
		if err := writeDump(os.Stdout, cfg.dumpPath, res.Graph); err != nil {
			return err
		}
	}
	if !cfg.watch {
		return nil
	}
	return watchAndSync(ctx, cfg, root, sess, logger)
}

func watchAndSync(ctx context.Context, cfg Config, root string, sess *session.Session, logger *slog.Logger) error {
	tracked, err := trackedfiles.Discover(root, trackedfiles.Options{UserHome: cfg.gradleHome, UseGitignore: true})
	if err != nil {
		return err
	}
	w, err := watch.New(tracked, watch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()
	fmt.Printf("watching %d build files (Ctrl-C to stop)\n", len(tracked))

	err = w.Run(ctx, func(changed []string) {
		fmt.Printf("changed: %s\n", strings.Join(changed, ", "))
		res, err := sess.Sync(ctx, buildOptions(cfg, true))
		if err != nil {
			logger.Warn("sync skipped", "err", err)
			return
		}
		report(os.Stdout, res)
		if res.Status != session.Failed && cfg.dumpPath != "" {
			if err := writeDump(os.Stdout, cfg.dumpPath, res.Graph); err != nil {
				logger.Warn("dump not written", "err", err)
			}
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func report(w io.Writer, res session.Result) {
	fmt.Fprintf(w, "sync %s\n", res.Status)
	if res.Status == session.Failed {
		fmt.Fprintf(w, "  reason: %v\n", res.Err)
		return
	}
	from := "build tool"
	if res.FromCache {
		from = "cache"
	}
	fmt.Fprintf(w, "  modules: %d, libraries: %d (from %s)\n", len(res.Graph.Modules()), len(res.Graph.Libraries()), from)
	for _, is := range res.Graph.Issues() {
		fmt.Fprintf(w, "  issue [%s] %s\n", is.Kind, is.Message)
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(w, "  conflict %s\n", c)
	}
}

// writeDump replaces the dump at path and prints how it changed.
func writeDump(w io.Writer, path string, p *graph.Project) error {
	prev, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cur := dump.Project(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(cur), 0o644); err != nil {
		return err
	}
	if len(prev) == 0 {
		fmt.Fprintf(w, "dump written to %s\n", path)
		return nil
	}
	patch, _ := diff.Unified(path+" (previous)", path, string(prev), cur, diff.Options{})
	if patch == "" {
		fmt.Fprintf(w, "dump unchanged: %s\n", path)
		return nil
	}
	fmt.Fprint(w, patch)
	return nil
}
