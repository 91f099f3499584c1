package graph

import (
	"errors"
	"sort"

	graphlib "github.com/dominikbraun/graph"
)

// ModuleGraph returns the directed module dependency graph: one vertex per
// module, one edge per module edge (dependent -> dependency). Edges to
// unknown modules are skipped.
func ModuleGraph(p *Project) (graphlib.Graph[string, string], error) {
	g := graphlib.New(graphlib.StringHash, graphlib.Directed())
	for _, m := range p.modules {
		if err := g.AddVertex(m.Name); err != nil && !errors.Is(err, graphlib.ErrVertexAlreadyExists) {
			return nil, err
		}
	}
	for _, m := range p.modules {
		for _, e := range m.Edges {
			if e.Kind != ModuleEdge || e.Target == m.Name {
				continue
			}
			if _, ok := p.byName[e.Target]; !ok {
				continue
			}
			err := g.AddEdge(m.Name, e.Target)
			if err != nil && !errors.Is(err, graphlib.ErrEdgeAlreadyExists) {
				return nil, err
			}
		}
	}
	return g, nil
}

// Reachable returns from and every module it depends on, directly or
// transitively.
func (p *Project) Reachable(from string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if _, ok := p.byName[from]; !ok {
		return out, nil
	}
	g, err := ModuleGraph(p)
	if err != nil {
		return nil, err
	}
	err = graphlib.DFS(g, from, func(name string) bool {
		out[name] = struct{}{}
		return false
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cycles returns the module dependency cycles, each sorted, ordered by their
// first member.
func (p *Project) Cycles() ([][]string, error) {
	g, err := ModuleGraph(p)
	if err != nil {
		return nil, err
	}
	sccs, err := graphlib.StronglyConnectedComponents(g)
	if err != nil {
		return nil, err
	}
	var out [][]string
	for _, c := range sccs {
		if len(c) < 2 {
			continue
		}
		c = append([]string(nil), c...)
		sort.Strings(c)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}
