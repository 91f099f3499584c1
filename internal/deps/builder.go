// Package deps turns the external dependency lists of a fetched model into
// deduplicated library nodes and scoped edges of a graph.Project.
package deps

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"buildsync/internal/graph"
	"buildsync/internal/model"
	"buildsync/internal/syncerr"
	"buildsync/internal/variant"
)

// ErrPublished is returned when populating a graph that was already handed
// out to collaborators.
var ErrPublished = errors.New("graph already published")

// Builder populates graphs. It holds no per-graph state and may be reused.
type Builder struct {
	logger *slog.Logger
}

// Options tune one Build.
type Options struct {
	// Selections maps module names to the variant that should stay selected
	// when it is still a candidate (previous sync, explicit user choice).
	Selections map[string]string
}

func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{logger: logger}
}

// Build creates an unpublished graph for proj. Dangling module references
// and inconsistent module sets abort the build; modules without variants
// and module cycles are recorded as issues.
func (b *Builder) Build(proj *model.Project, opts Options) (*graph.Project, error) {
	p := graph.New(proj.Name, proj.Root)
	identities := make(map[string]string, len(proj.Modules))
	for i := range proj.Modules {
		src := &proj.Modules[i]
		if prev, dup := identities[src.Identity]; dup && src.Identity != "" {
			return nil, syncerr.Newf(syncerr.KindInvalidModel, "modules %q and %q share identity %q", prev, src.Name, src.Identity)
		}
		identities[src.Identity] = src.Name
		node := &graph.Module{
			Name:     src.Name,
			Identity: src.Identity,
			Root:     src.Root,
			Kind:     graph.KindOf(src.Kind),
			Source:   src,
		}
		if err := p.AddModule(node); err != nil {
			return nil, err
		}
	}

	for _, m := range p.Modules() {
		err := b.selectAndPopulate(p, m, opts.Selections[m.Name])
		switch {
		case err == nil:
		case syncerr.Is(err, syncerr.KindNoVariantsAvailable):
			p.AddIssue(graph.Issue{
				Kind:    syncerr.KindNoVariantsAvailable,
				Module:  m.Name,
				Message: fmt.Sprintf("module %s declares no build variants", m.Name),
			})
			b.logger.Warn("module has no variants", "module", m.Name)
		default:
			return nil, fmt.Errorf("populate %s: %w", m.Name, err)
		}
	}

	cycles, err := p.Cycles()
	if err != nil {
		return nil, fmt.Errorf("module graph: %w", err)
	}
	for _, c := range cycles {
		p.AddIssue(graph.Issue{
			Kind:    syncerr.KindModuleCycle,
			Module:  c[0],
			Message: "module dependency cycle: " + strings.Join(c, " -> "),
		})
	}

	b.logger.Debug("graph built", "modules", len(p.Modules()), "libraries", len(p.Libraries()), "issues", len(p.Issues()))
	return p, nil
}

// Populate attaches deps to m with the given scope, creating library nodes
// as needed. Calling it twice with the same artifacts adds nothing new.
func (b *Builder) Populate(p *graph.Project, m *graph.Module, deps model.Dependencies, scope graph.Scope) error {
	if p.Published() {
		return ErrPublished
	}
	return b.populate(p, m, deps, scope)
}

// Reselect switches m to the named variant and rebuilds its edges from that
// variant's dependency lists. Module references are resolved before anything
// is touched, so on failure both m and the project's libraries are left
// unchanged. A published graph is refused with ErrPublished.
func (b *Builder) Reselect(p *graph.Project, m *graph.Module, name string) error {
	if p.Published() {
		return ErrPublished
	}
	if m.Source == nil || m.Variant == nil {
		return syncerr.Newf(syncerr.KindVariantConflict, "module %s has no selectable variants", m.Name)
	}
	if !variant.Contains(m.Variant.Candidates, name) {
		return syncerr.Newf(syncerr.KindVariantConflict, "variant %q is not available for module %s", name, m.Name)
	}
	v, ok := m.Source.Variant(name)
	if !ok {
		return syncerr.Newf(syncerr.KindInvalidModel, "module %s lost variant %q", m.Name, name)
	}
	for _, deps := range []model.Dependencies{v.Dependencies, v.TestDependencies} {
		if err := b.checkRefs(p, m, deps); err != nil {
			return err
		}
	}

	prevEdges, prevName := m.Edges, m.Variant.Name
	m.Edges = nil
	m.Variant.Name = name
	if err := b.populateVariant(p, m); err != nil {
		m.Edges, m.Variant.Name = prevEdges, prevName
		p.PruneLibraries()
		return err
	}
	if n := p.PruneLibraries(); n > 0 {
		b.logger.Debug("pruned libraries", "module", m.Name, "count", n)
	}
	b.logger.Info("variant reselected", "module", m.Name, "from", prevName, "to", name)
	return nil
}

// checkRefs resolves every sibling-module reference in deps, nested library
// lists included, without modifying the graph.
func (b *Builder) checkRefs(p *graph.Project, m *graph.Module, deps model.Dependencies) error {
	for _, lib := range deps.Libraries {
		if lib.Module != "" {
			if _, ok := p.ModuleByIdentity(lib.Module); !ok {
				return syncerr.Newf(syncerr.KindDanglingModuleReference, "module %s depends on unknown module %q", m.Name, lib.Module)
			}
			continue
		}
		if err := b.checkRefs(p, m, lib.Dependencies); err != nil {
			return err
		}
	}
	for _, ref := range deps.Modules {
		if _, ok := p.ModuleByIdentity(ref.Identity); !ok {
			return syncerr.Newf(syncerr.KindDanglingModuleReference, "module %s depends on unknown module %q", m.Name, ref.Identity)
		}
	}
	return nil
}

func (b *Builder) selectAndPopulate(p *graph.Project, m *graph.Module, preferred string) error {
	src := m.Source
	if !src.HasVariants() {
		return b.populate(p, m, src.Dependencies, graph.ScopeCompile)
	}
	candidates := variant.Unique(src.VariantNames())
	name, err := variant.SelectPreferred(candidates, preferred)
	if err != nil {
		return err
	}
	m.Variant = &graph.VariantRecord{Name: name, Module: m.Name, Candidates: candidates}
	return b.populateVariant(p, m)
}

func (b *Builder) populateVariant(p *graph.Project, m *graph.Module) error {
	v, ok := m.Source.Variant(m.Variant.Name)
	if !ok {
		return syncerr.Newf(syncerr.KindInvalidModel, "module %s lost variant %q", m.Name, m.Variant.Name)
	}
	if err := b.populate(p, m, v.Dependencies, graph.ScopeCompile); err != nil {
		return err
	}
	return b.populate(p, m, v.TestDependencies, graph.ScopeTest)
}

func (b *Builder) populate(p *graph.Project, m *graph.Module, deps model.Dependencies, scope graph.Scope) error {
	visited := make(map[graph.LibraryKey]struct{})
	return b.walk(p, m, deps, scope, visited)
}

// walk expands deps depth-first. visited guards against library cycles in
// one expansion pass.
func (b *Builder) walk(p *graph.Project, m *graph.Module, deps model.Dependencies, scope graph.Scope, visited map[graph.LibraryKey]struct{}) error {
	for _, bin := range deps.Binaries {
		b.addBinary(p, m, bin.Path, bin.Source, bin.Doc, scope)
	}
	for _, lib := range deps.Libraries {
		if lib.Module != "" {
			if err := b.addModule(p, m, lib.Module, lib.ExpectedVariant, scope); err != nil {
				return err
			}
			continue
		}
		if lib.Bundle != "" {
			key := libraryKey(p.Root, lib.Bundle)
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}
			b.addBinary(p, m, lib.Bundle, lib.Source, lib.Doc, scope)
		}
		if err := b.walk(p, m, lib.Dependencies, scope, visited); err != nil {
			return err
		}
	}
	for _, ref := range deps.Modules {
		if err := b.addModule(p, m, ref.Identity, "", scope); err != nil {
			return err
		}
	}
	return nil
}

// addBinary links m to the library for path. Library edges are always
// exported so transitive dependents see first-level dependencies too.
func (b *Builder) addBinary(p *graph.Project, m *graph.Module, path, source, doc string, scope graph.Scope) {
	if path == "" {
		return
	}
	key := libraryKey(p.Root, path)
	lib, created := p.LibraryFor(key)
	if created {
		b.logger.Debug("library created", "name", key.Name, "path", key.BinaryPath)
	}
	lib.Attach(graph.RoleSource, absolute(p.Root, source))
	lib.Attach(graph.RoleDoc, absolute(p.Root, doc))
	m.AddEdge(graph.NewLibraryEdge(key, scope, true))
}

func (b *Builder) addModule(p *graph.Project, m *graph.Module, identity, expected string, scope graph.Scope) error {
	target, ok := p.ModuleByIdentity(identity)
	if !ok {
		return syncerr.Newf(syncerr.KindDanglingModuleReference, "module %s depends on unknown module %q", m.Name, identity)
	}
	if target.Name == m.Name {
		return nil
	}
	m.AddEdge(graph.NewModuleEdge(target.Name, scope, scope != graph.ScopeTest, expected))
	return nil
}

func libraryKey(root, path string) graph.LibraryKey {
	abs := absolute(root, path)
	return graph.LibraryKey{Name: nameWithoutExtension(abs), BinaryPath: abs}
}

func absolute(root, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

func nameWithoutExtension(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
