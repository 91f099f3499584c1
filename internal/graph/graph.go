// Package graph is the IDE-side project graph produced by a sync: modules,
// the libraries they share and the scoped edges between them.
//
// Design goals:
//   - Deterministic iteration (modules and libraries keep insertion order)
//   - One LibraryNode per (name, binary path), shared by every module
//   - Typed accessors instead of generic keyed lookups
//
// A Project is built by deps.Builder and published once complete; after
// Publish only an explicit variant re-selection may touch it.
package graph

import (
	"fmt"
	"sort"

	"buildsync/internal/model"
	"buildsync/internal/syncerr"
)

// Project is the root of the graph. Module names are unique.
type Project struct {
	Name string
	Root string

	modules   []*Module
	byName    map[string]*Module
	libraries []*Library
	byKey     map[LibraryKey]*Library
	issues    []Issue
	published bool
}

// Issue is a non-fatal problem found while building the graph.
type Issue struct {
	Kind    syncerr.Kind
	Module  string
	Message string
}

func New(name, root string) *Project {
	return &Project{
		Name:   name,
		Root:   root,
		byName: make(map[string]*Module),
		byKey:  make(map[LibraryKey]*Library),
	}
}

// AddModule inserts m. Duplicate names are rejected.
func (p *Project) AddModule(m *Module) error {
	if m == nil || m.Name == "" {
		return syncerr.New(syncerr.KindInvalidModel, "module without name", nil)
	}
	if _, dup := p.byName[m.Name]; dup {
		return syncerr.Newf(syncerr.KindInvalidModel, "duplicate module name %q", m.Name)
	}
	p.byName[m.Name] = m
	p.modules = append(p.modules, m)
	return nil
}

func (p *Project) Module(name string) (*Module, bool) {
	m, ok := p.byName[name]
	return m, ok
}

// ModuleByIdentity matches the build tool's own identity of a module, not
// its display name.
func (p *Project) ModuleByIdentity(identity string) (*Module, bool) {
	for _, m := range p.modules {
		if m.Identity == identity {
			return m, true
		}
	}
	return nil, false
}

// Modules returns modules in insertion order.
func (p *Project) Modules() []*Module {
	return append([]*Module(nil), p.modules...)
}

// Library returns the library registered under key.
func (p *Project) Library(key LibraryKey) (*Library, bool) {
	l, ok := p.byKey[key]
	return l, ok
}

// LibraryFor returns the library for key, creating it when absent. The
// boolean reports whether a new node was created.
func (p *Project) LibraryFor(key LibraryKey) (*Library, bool) {
	if l, ok := p.byKey[key]; ok {
		return l, false
	}
	l := &Library{Key: key, Binary: key.BinaryPath}
	p.byKey[key] = l
	p.libraries = append(p.libraries, l)
	return l, true
}

// Libraries returns libraries in insertion order.
func (p *Project) Libraries() []*Library {
	return append([]*Library(nil), p.libraries...)
}

// PruneLibraries drops libraries no module edge references any more and
// returns how many were removed.
func (p *Project) PruneLibraries() int {
	used := make(map[LibraryKey]struct{}, len(p.libraries))
	for _, m := range p.modules {
		for _, e := range m.Edges {
			if e.Kind == LibraryEdge {
				used[e.Library] = struct{}{}
			}
		}
	}
	kept := p.libraries[:0]
	removed := 0
	for _, l := range p.libraries {
		if _, ok := used[l.Key]; ok {
			kept = append(kept, l)
			continue
		}
		delete(p.byKey, l.Key)
		removed++
	}
	p.libraries = kept
	return removed
}

func (p *Project) AddIssue(is Issue) { p.issues = append(p.issues, is) }

func (p *Project) Issues() []Issue { return append([]Issue(nil), p.issues...) }

// Publish freezes the graph structure.
func (p *Project) Publish() { p.published = true }

func (p *Project) Published() bool { return p.published }

// Dependents returns the modules holding a module edge to target, in module
// order.
func (p *Project) Dependents(target string) []*Module {
	var out []*Module
	for _, m := range p.modules {
		if m.Name == target {
			continue
		}
		for _, e := range m.Edges {
			if e.Kind == ModuleEdge && e.Target == target {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// ModuleKind tells apps apart from modules consumed by other modules.
type ModuleKind string

const (
	KindApp     ModuleKind = "app"
	KindLibrary ModuleKind = "library"
	KindJava    ModuleKind = "java"
)

// KindOf maps a model kind onto a ModuleKind.
func KindOf(kind string) ModuleKind {
	switch kind {
	case model.KindApp:
		return KindApp
	case model.KindLibrary:
		return KindLibrary
	default:
		return KindJava
	}
}

// Module is one node of the graph.
type Module struct {
	Name     string
	Identity string
	Root     string
	Kind     ModuleKind
	Variant  *VariantRecord
	Edges    []Edge

	// Source is the external model the node was built from.
	Source *model.Module
}

// SelectedVariant returns the active variant name or "".
func (m *Module) SelectedVariant() string {
	if m.Variant == nil {
		return ""
	}
	return m.Variant.Name
}

// ModuleEdges returns only the edges pointing at other modules.
func (m *Module) ModuleEdges() []Edge {
	var out []Edge
	for _, e := range m.Edges {
		if e.Kind == ModuleEdge {
			out = append(out, e)
		}
	}
	return out
}

// LibraryEdges returns only the edges pointing at libraries.
func (m *Module) LibraryEdges() []Edge {
	var out []Edge
	for _, e := range m.Edges {
		if e.Kind == LibraryEdge {
			out = append(out, e)
		}
	}
	return out
}

// AddEdge appends e unless an edge to the same library or module already
// exists; in that case the existing edge is widened to the broader scope and
// keeps its position. It reports whether a new edge was appended.
func (m *Module) AddEdge(e Edge) bool {
	for i := range m.Edges {
		cur := &m.Edges[i]
		if !cur.sameTarget(e) {
			continue
		}
		if e.Scope.wider(cur.Scope) {
			cur.Scope = e.Scope
			cur.Exported = cur.Exported || e.Exported
		}
		if cur.ExpectedVariant == "" {
			cur.ExpectedVariant = e.ExpectedVariant
		}
		return false
	}
	m.Edges = append(m.Edges, e)
	return true
}

// VariantRecord is the selected variant of a module together with the
// candidates it was chosen from. Name is always one of Candidates when
// Candidates is non-empty.
type VariantRecord struct {
	Name       string
	Module     string
	Candidates []string
}

// Scope is the visibility of an edge.
type Scope string

const (
	ScopeCompile  Scope = "compile"
	ScopeProvided Scope = "provided"
	ScopeRuntime  Scope = "runtime"
	ScopeTest     Scope = "test"
)

var scopeRank = map[Scope]int{ScopeCompile: 3, ScopeProvided: 2, ScopeRuntime: 1, ScopeTest: 0}

func (s Scope) wider(than Scope) bool { return scopeRank[s] > scopeRank[than] }

// EdgeKind discriminates Edge.
type EdgeKind int

const (
	LibraryEdge EdgeKind = iota
	ModuleEdge
)

func (k EdgeKind) String() string {
	if k == ModuleEdge {
		return "module"
	}
	return "library"
}

// Edge is either a library edge (Library set) or a module edge (Target and
// optionally ExpectedVariant set), discriminated by Kind.
type Edge struct {
	Kind            EdgeKind
	Library         LibraryKey
	Target          string
	Scope           Scope
	Exported        bool
	ExpectedVariant string
}

func NewLibraryEdge(key LibraryKey, scope Scope, exported bool) Edge {
	return Edge{Kind: LibraryEdge, Library: key, Scope: scope, Exported: exported}
}

func NewModuleEdge(target string, scope Scope, exported bool, expected string) Edge {
	return Edge{Kind: ModuleEdge, Target: target, Scope: scope, Exported: exported, ExpectedVariant: expected}
}

func (e Edge) sameTarget(o Edge) bool {
	if e.Kind != o.Kind {
		return false
	}
	if e.Kind == LibraryEdge {
		return e.Library == o.Library
	}
	return e.Target == o.Target
}

func (e Edge) String() string {
	if e.Kind == ModuleEdge {
		s := fmt.Sprintf("module %s (%s", e.Target, e.Scope)
		if e.ExpectedVariant != "" {
			s += ", expects " + e.ExpectedVariant
		}
		return s + ")"
	}
	return fmt.Sprintf("library %s (%s)", e.Library.Name, e.Scope)
}

// LibraryKey identifies a library. Source and doc roots are deliberately not
// part of the identity.
type LibraryKey struct {
	Name       string
	BinaryPath string
}

// PathRole is the role of a root attached to a library.
type PathRole string

const (
	RoleBinary PathRole = "binary"
	RoleSource PathRole = "source"
	RoleDoc    PathRole = "doc"
)

// Library is shared by every module whose edges carry its key.
type Library struct {
	Key     LibraryKey
	Binary  string
	Sources []string
	Docs    []string
}

// Attach adds a source or doc root; empty and repeated paths are ignored.
func (l *Library) Attach(role PathRole, path string) {
	if path == "" {
		return
	}
	switch role {
	case RoleSource:
		l.Sources = appendUnique(l.Sources, path)
	case RoleDoc:
		l.Docs = appendUnique(l.Docs, path)
	case RoleBinary:
		l.Binary = path
	}
}

// Roles lists the roles with at least one attached path, in a fixed order.
func (l *Library) Roles() []PathRole {
	var out []PathRole
	if l.Binary != "" {
		out = append(out, RoleBinary)
	}
	if len(l.Sources) > 0 {
		out = append(out, RoleSource)
	}
	if len(l.Docs) > 0 {
		out = append(out, RoleDoc)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// SortedModuleNames returns all module names sorted.
func (p *Project) SortedModuleNames() []string {
	out := make([]string, 0, len(p.modules))
	for _, m := range p.modules {
		out = append(out, m.Name)
	}
	sort.Strings(out)
	return out
}
