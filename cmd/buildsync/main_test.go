package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"buildsync/internal/conflict"
	"buildsync/internal/deps"
	"buildsync/internal/graph"
	"buildsync/internal/model"
	"buildsync/internal/session"
	"buildsync/internal/syncerr"
)

func TestParseFlagsBasic(t *testing.T) {
	args := []string{"-model-file", "build/model.json", "-variant", "lib=release", "-variant", "app = staging", "-auto-fix", "-use-cache=false", "."}
	cfg, err := parseFlags(args)
	if err != nil {
		t.Fatalf("parseFlags error: %v", err)
	}
	if cfg.modelFile != "build/model.json" {
		t.Fatalf("modelFile got %q", cfg.modelFile)
	}
	if cfg.variants["lib"] != "release" || cfg.variants["app"] != "staging" {
		t.Fatalf("variants got %v", cfg.variants)
	}
	if cfg.variants.String() != "app=staging,lib=release" {
		t.Fatalf("variants string got %q", cfg.variants.String())
	}
	if !cfg.autoFix || cfg.useCache {
		t.Fatalf("unexpected bools: %+v", cfg)
	}
	if cfg.projectDir != "." {
		t.Fatalf("projectDir got %q", cfg.projectDir)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	cases := map[string][]string{
		"missing project dir": {"-model-file", "m.json"},
		"no model source":     {"."},
		"both model sources":  {"-model-file", "m.json", "-tool-cmd", "gradle model", "."},
		"bad variant":         {"-model-file", "m.json", "-variant", "lib", "."},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseFlags(args); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

func TestBuildOptions(t *testing.T) {
	cfg := Config{generateSources: true, autoFix: true, variants: variantFlag{"lib": "debug"}}
	opt := buildOptions(cfg, true)
	if !opt.UseCache || !opt.GenerateSourcesOnSuccess || !opt.AutoResolveConflicts || opt.Variants["lib"] != "debug" {
		t.Fatalf("unexpected options: %+v", opt)
	}
}

func TestNewFetcher(t *testing.T) {
	if f, ok := newFetcher(Config{modelFile: "m.json"}).(model.FileFetcher); !ok || f.Path != "m.json" {
		t.Fatalf("expected file fetcher, got %#v", f)
	}
	f, ok := newFetcher(Config{toolCmd: "./gradlew -q exportModel"}).(model.CommandFetcher)
	if !ok || f.Command != "./gradlew" || strings.Join(f.Args, " ") != "-q exportModel" {
		t.Fatalf("expected command fetcher, got %#v", f)
	}
}

func sampleGraph(t *testing.T) *graph.Project {
	t.Helper()
	b := deps.NewBuilder(nil)
	p, err := b.Build(&model.Project{Name: "p", Root: "/p", Modules: []model.Module{
		{Name: "app", Identity: ":app", Kind: model.KindApp, Variants: []model.Variant{{Name: "debug", Dependencies: model.Dependencies{
			Libraries: []model.LibraryArtifact{{Module: ":lib", ExpectedVariant: "debug"}},
			Binaries:  []model.Binary{{Path: "/m2/a.jar"}},
		}}}},
		{Name: "lib", Identity: ":lib", Kind: model.KindLibrary, Variants: []model.Variant{{Name: "release"}, {Name: "debug"}}},
	}}, deps.Options{Selections: map[string]string{"lib": "release"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return p
}

func TestReport(t *testing.T) {
	p := sampleGraph(t)
	var buf bytes.Buffer
	report(&buf, session.Result{Status: session.Succeeded, Graph: p, FromCache: true, Conflicts: conflict.NewDetector(nil, nil).Scan(p)})
	out := buf.String()
	for _, want := range []string{
		"sync succeeded\n",
		"modules: 2, libraries: 1 (from cache)",
		"conflict lib -> app: expected debug, actual release",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	report(&buf, session.Result{Status: session.Failed, Err: syncerr.New(syncerr.KindFetch, "boom", errors.New("exit 1"))})
	if !strings.Contains(buf.String(), "reason: fetch: boom: exit 1") {
		t.Fatalf("unexpected failure report: %s", buf.String())
	}
}

func TestWriteDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "graph.txt")
	p := sampleGraph(t)

	var buf bytes.Buffer
	if err := writeDump(&buf, path, p); err != nil {
		t.Fatalf("writeDump: %v", err)
	}
	if !strings.Contains(buf.String(), "dump written") {
		t.Fatalf("unexpected output: %s", buf.String())
	}

	buf.Reset()
	if err := writeDump(&buf, path, p); err != nil {
		t.Fatalf("writeDump: %v", err)
	}
	if !strings.Contains(buf.String(), "dump unchanged") {
		t.Fatalf("unexpected output: %s", buf.String())
	}

	lib, _ := p.Module("lib")
	if err := deps.NewBuilder(nil).Reselect(p, lib, "debug"); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	buf.Reset()
	if err := writeDump(&buf, path, p); err != nil {
		t.Fatalf("writeDump: %v", err)
	}
	if !strings.Contains(buf.String(), "+        Variant: debug") {
		t.Fatalf("expected variant change in diff:\n%s", buf.String())
	}
	if b, _ := os.ReadFile(path); !strings.Contains(string(b), "Variant: debug") {
		t.Fatalf("dump not replaced")
	}
}
