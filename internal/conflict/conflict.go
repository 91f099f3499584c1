// Package conflict finds modules whose consumers were built against a
// different variant than the one selected for them, and fixes them by
// re-selecting the expected variant.
package conflict

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"buildsync/internal/deps"
	"buildsync/internal/graph"
	"buildsync/internal/syncerr"
)

// Conflict is one dependent module expecting another variant of Source than
// the selected one.
type Conflict struct {
	Source   string
	Affected string
	Expected string
	Actual   string
	Message  string

	fixer *fixer
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s -> %s: expected %s, actual %s", c.Source, c.Affected, c.Expected, c.Actual)
}

// Fix selects Expected for Source and re-scans the part of the graph the
// flip can influence, returning the conflicts found there. A fix that would
// re-introduce a pair resolved earlier in the same scan session is refused
// with a syncerr.KindVariantConflict error.
//
// Fixes apply before publication only. On a published graph Fix fails with
// deps.ErrPublished; request a new sync selecting Expected for Source
// instead.
func (c Conflict) Fix() ([]Conflict, error) {
	if c.fixer == nil {
		return nil, errors.New("conflict was not produced by a scan")
	}
	return c.fixer.fix(c)
}

// Detector scans graphs. Fixes go through the builder so that the
// re-selected module gets its edges rebuilt.
type Detector struct {
	builder *deps.Builder
	logger  *slog.Logger
}

func NewDetector(builder *deps.Builder, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if builder == nil {
		builder = deps.NewBuilder(logger)
	}
	return &Detector{builder: builder, logger: logger}
}

// Scan returns every variant conflict of p in module order. Conflicts
// returned by one Scan share their fix history.
func (d *Detector) Scan(p *graph.Project) []Conflict {
	f := d.newFixer(p)
	return f.scan(nil)
}

type pair struct{ source, affected string }

// fixer holds the pairs already resolved for one graph so chained fixes
// terminate.
type fixer struct {
	d        *Detector
	p        *graph.Project
	resolved map[pair]string
}

func (d *Detector) newFixer(p *graph.Project) *fixer {
	return &fixer{d: d, p: p, resolved: make(map[pair]string)}
}

// scan checks the library modules in targets (all when nil) against their
// dependents anywhere in the graph.
func (f *fixer) scan(targets map[string]struct{}) []Conflict {
	var out []Conflict
	for _, m := range f.p.Modules() {
		if m.Kind != graph.KindLibrary || m.Variant == nil {
			continue
		}
		if targets != nil {
			if _, ok := targets[m.Name]; !ok {
				continue
			}
		}
		actual := m.Variant.Name
		for _, dep := range f.p.Dependents(m.Name) {
			for _, e := range dep.ModuleEdges() {
				if e.Target != m.Name || e.ExpectedVariant == "" || e.ExpectedVariant == actual {
					continue
				}
				out = append(out, Conflict{
					Source:   m.Name,
					Affected: dep.Name,
					Expected: e.ExpectedVariant,
					Actual:   actual,
					Message: fmt.Sprintf("module %s expects variant %q of module %s, but %q is selected",
						dep.Name, e.ExpectedVariant, m.Name, actual),
					fixer: f,
				})
			}
		}
	}
	return out
}

func (f *fixer) fix(c Conflict) ([]Conflict, error) {
	src, ok := f.p.Module(c.Source)
	if !ok {
		return nil, syncerr.Newf(syncerr.KindVariantConflict, "module %s no longer exists", c.Source)
	}
	if prev := src.SelectedVariant(); prev != c.Expected {
		if err := f.guard(c); err != nil {
			return nil, err
		}
		if err := f.d.builder.Reselect(f.p, src, c.Expected); err != nil {
			return nil, err
		}
		if pr, expected, broken := f.reopened(c.Source); broken {
			if err := f.d.builder.Reselect(f.p, src, prev); err != nil {
				return nil, fmt.Errorf("restore %s to %q: %w", c.Source, prev, err)
			}
			return nil, syncerr.Newf(syncerr.KindVariantConflict,
				"selecting %q for %s would re-introduce the conflict with %s (expects %q)",
				c.Expected, c.Source, pr.source, expected)
		}
	}
	f.markResolved(c.Source, c.Expected)

	sub, err := f.p.Reachable(c.Source)
	if err != nil {
		return nil, fmt.Errorf("module graph: %w", err)
	}
	next := f.scan(sub)
	f.d.logger.Debug("conflict fixed", "source", c.Source, "variant", c.Expected, "remaining", len(next))
	return next, nil
}

// guard refuses a flip of c.Source that would break a pair resolved
// earlier with another variant.
func (f *fixer) guard(c Conflict) error {
	for pr, expected := range f.resolved {
		if pr.source == c.Source && expected != c.Expected {
			return syncerr.Newf(syncerr.KindVariantConflict,
				"selecting %q for %s would re-introduce the conflict with %s (expects %q)",
				c.Expected, c.Source, pr.affected, expected)
		}
	}
	return nil
}

// reopened reports a resolved pair whose affected module is affected and
// whose expectation no longer matches the source's selected variant.
func (f *fixer) reopened(affected string) (pair, string, bool) {
	m, ok := f.p.Module(affected)
	if !ok {
		return pair{}, "", false
	}
	for pr := range f.resolved {
		if pr.affected != affected {
			continue
		}
		src, ok := f.p.Module(pr.source)
		if !ok {
			continue
		}
		for _, e := range m.ModuleEdges() {
			if e.Target == pr.source && e.ExpectedVariant != "" && e.ExpectedVariant != src.SelectedVariant() {
				return pr, e.ExpectedVariant, true
			}
		}
	}
	return pair{}, "", false
}

func (f *fixer) markResolved(source, variant string) {
	for _, dep := range f.p.Dependents(source) {
		for _, e := range dep.ModuleEdges() {
			if e.Target == source && e.ExpectedVariant == variant {
				f.resolved[pair{source, dep.Name}] = variant
			}
		}
	}
}

// Group is the set of conflicts sharing one source module.
type Group struct {
	Source    string
	Conflicts []Conflict
}

// Resolvable reports whether every affected module expects the same
// variant, so a single re-selection clears the group.
func (g Group) Resolvable() bool {
	if len(g.Conflicts) == 0 {
		return false
	}
	want := g.Conflicts[0].Expected
	for _, c := range g.Conflicts[1:] {
		if c.Expected != want {
			return false
		}
	}
	return true
}

// GroupBySource groups conflicts by source module, ordered by source name.
func GroupBySource(conflicts []Conflict) []Group {
	idx := make(map[string]int)
	var out []Group
	for _, c := range conflicts {
		i, ok := idx[c.Source]
		if !ok {
			i = len(out)
			idx[c.Source] = i
			out = append(out, Group{Source: c.Source})
		}
		out[i].Conflicts = append(out[i].Conflicts, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// ResolveAll applies one fix per round, re-scanning in between, until no
// resolvable group is left. A module flips at most once, so the rounds are
// bounded by the module count. It returns the number of fixes applied and
// the conflicts left afterwards.
func (d *Detector) ResolveAll(p *graph.Project) (int, []Conflict, error) {
	f := d.newFixer(p)
	fixed := 0
	refused := make(map[string]struct{})
	for round := 0; round <= len(p.Modules()); round++ {
		progress := false
		for _, g := range GroupBySource(f.scan(nil)) {
			if _, skip := refused[g.Source]; skip {
				continue
			}
			if !g.Resolvable() {
				d.logger.Info("conflict group needs a manual choice", "source", g.Source, "conflicts", len(g.Conflicts))
				refused[g.Source] = struct{}{}
				continue
			}
			c := g.Conflicts[0]
			if _, err := c.Fix(); err != nil {
				if syncerr.Is(err, syncerr.KindVariantConflict) {
					d.logger.Warn("conflict fix refused", "source", c.Source, "err", err)
					refused[g.Source] = struct{}{}
					continue
				}
				return fixed, nil, err
			}
			fixed++
			progress = true
			break
		}
		if !progress {
			break
		}
	}
	return fixed, f.scan(nil), nil
}
