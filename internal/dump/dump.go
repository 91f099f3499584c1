// Package dump renders a project graph as stable text. Two graphs built
// from the same model dump identically, which makes dumps suitable for
// diffing consecutive syncs and for golden-file tests.
package dump

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"buildsync/internal/graph"
)

// RootStub replaces the project root in every rendered path.
const RootStub = "<ROOT>"

// Project renders p. Modules and libraries are sorted by name, edges keep
// their build order.
func Project(p *graph.Project) string {
	d := dumper{root: filepath.Clean(p.Root)}
	d.line(0, "PROJECT (%s)", p.Name)
	d.line(1, "Root: %s", d.path(p.Root))
	for _, name := range p.SortedModuleNames() {
		m, _ := p.Module(name)
		d.module(m)
	}
	libs := p.Libraries()
	sort.Slice(libs, func(i, j int) bool {
		if libs[i].Key.Name != libs[j].Key.Name {
			return libs[i].Key.Name < libs[j].Key.Name
		}
		return libs[i].Key.BinaryPath < libs[j].Key.BinaryPath
	})
	for _, l := range libs {
		d.library(l)
	}
	for _, is := range p.Issues() {
		d.line(1, "ISSUE (%s) %s: %s", is.Kind, is.Module, is.Message)
	}
	return d.b.String()
}

type dumper struct {
	b    strings.Builder
	root string
}

func (d *dumper) line(depth int, format string, args ...any) {
	d.b.WriteString(strings.Repeat("    ", depth))
	fmt.Fprintf(&d.b, format, args...)
	d.b.WriteByte('\n')
}

func (d *dumper) module(m *graph.Module) {
	d.line(1, "MODULE (%s)", m.Name)
	d.line(2, "Identity: %s", m.Identity)
	if m.Root != "" {
		d.line(2, "Root: %s", d.path(m.Root))
	}
	d.line(2, "Kind: %s", m.Kind)
	if m.Variant != nil {
		d.line(2, "Variant: %s", m.Variant.Name)
		d.line(2, "Candidates: %s", strings.Join(m.Variant.Candidates, ", "))
	}
	for _, e := range m.Edges {
		attrs := []string{string(e.Scope)}
		if e.Exported {
			attrs = append(attrs, "exported")
		}
		if e.Kind == graph.ModuleEdge {
			if e.ExpectedVariant != "" {
				attrs = append(attrs, "expects "+e.ExpectedVariant)
			}
			d.line(2, "ModuleDependency: %s (%s)", e.Target, strings.Join(attrs, ", "))
			continue
		}
		d.line(2, "LibraryDependency: %s (%s)", e.Library.Name, strings.Join(attrs, ", "))
	}
}

func (d *dumper) library(l *graph.Library) {
	d.line(1, "LIBRARY (%s)", l.Key.Name)
	d.line(2, "Binary: %s", d.path(l.Binary))
	for _, s := range l.Sources {
		d.line(2, "Source: %s", d.path(s))
	}
	for _, s := range l.Docs {
		d.line(2, "Doc: %s", d.path(s))
	}
}

func (d *dumper) path(p string) string {
	if d.root == "" || d.root == "." {
		return p
	}
	p = filepath.Clean(p)
	if p == d.root {
		return RootStub
	}
	if strings.HasPrefix(p, d.root+string(filepath.Separator)) {
		return RootStub + filepath.ToSlash(p[len(d.root):])
	}
	return filepath.ToSlash(p)
}
