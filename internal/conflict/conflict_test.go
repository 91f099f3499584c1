package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildsync/internal/deps"
	"buildsync/internal/graph"
	"buildsync/internal/model"
	"buildsync/internal/syncerr"
)

func app(name string, expects ...model.LibraryArtifact) model.Module {
	return model.Module{
		Name: name, Identity: ":" + name, Kind: model.KindApp,
		Variants: []model.Variant{{Name: "debug", Dependencies: model.Dependencies{Libraries: expects}}},
	}
}

func lib(name string, debugDeps model.Dependencies) model.Module {
	return model.Module{
		Name: name, Identity: ":" + name, Kind: model.KindLibrary,
		Variants: []model.Variant{
			{Name: "release"},
			{Name: "debug", Dependencies: debugDeps},
		},
	}
}

func expects(identity, variant string) model.LibraryArtifact {
	return model.LibraryArtifact{Bundle: "/p/out/" + identity[1:] + ".aar", Module: identity, ExpectedVariant: variant}
}

func build(t *testing.T, b *deps.Builder, selections map[string]string, modules ...model.Module) *graph.Project {
	t.Helper()
	p, err := b.Build(&model.Project{Name: "p", Root: "/p", Modules: modules}, deps.Options{Selections: selections})
	require.NoError(t, err)
	return p
}

func TestScanAndFix(t *testing.T) {
	b := deps.NewBuilder(nil)
	p := build(t, b, map[string]string{"lib": "release"},
		app("app", expects(":lib", "debug")),
		lib("lib", model.Dependencies{}),
	)
	d := NewDetector(b, nil)

	conflicts := d.Scan(p)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, "lib", c.Source)
	assert.Equal(t, "app", c.Affected)
	assert.Equal(t, "debug", c.Expected)
	assert.Equal(t, "release", c.Actual)
	assert.Equal(t, "lib -> app: expected debug, actual release", c.String())

	next, err := c.Fix()
	require.NoError(t, err)
	assert.Empty(t, next)

	m, _ := p.Module("lib")
	assert.Equal(t, "debug", m.SelectedVariant())
	assert.Empty(t, d.Scan(p))
}

func TestScanOrderIsStable(t *testing.T) {
	b := deps.NewBuilder(nil)
	mods := []model.Module{
		app("b-app", expects(":lib", "debug")),
		app("a-app", expects(":lib", "debug"), expects(":other", "debug")),
		lib("lib", model.Dependencies{}),
		lib("other", model.Dependencies{}),
	}
	sel := map[string]string{"lib": "release", "other": "release"}

	first := NewDetector(b, nil).Scan(build(t, b, sel, mods...))
	second := NewDetector(b, nil).Scan(build(t, b, sel, mods...))
	require.Len(t, first, 3)
	for i := range first {
		assert.Equal(t, first[i].String(), second[i].String())
	}
	assert.Equal(t, "b-app", first[0].Affected, "dependents follow module order")
	assert.Equal(t, "other", first[2].Source)
}

func TestFixSurfacesTransitiveConflicts(t *testing.T) {
	b := deps.NewBuilder(nil)
	p := build(t, b, map[string]string{"lib": "release", "core": "release"},
		app("app", expects(":lib", "debug")),
		lib("lib", model.Dependencies{Libraries: []model.LibraryArtifact{expects(":core", "debug")}}),
		lib("core", model.Dependencies{}),
	)
	d := NewDetector(b, nil)

	conflicts := d.Scan(p)
	require.Len(t, conflicts, 1, "release lib does not depend on core yet")

	next, err := conflicts[0].Fix()
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "core", next[0].Source)
	assert.Equal(t, "lib", next[0].Affected)

	next, err = next[0].Fix()
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Empty(t, d.Scan(p))
}

func TestFixNeverReintroducesResolvedPair(t *testing.T) {
	b := deps.NewBuilder(nil)
	p := build(t, b, nil,
		app("one", expects(":lib", "debug")),
		app("two", expects(":lib", "release")),
		lib("lib", model.Dependencies{}),
	)
	d := NewDetector(b, nil)

	conflicts := d.Scan(p)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "two", conflicts[0].Affected)

	next, err := conflicts[0].Fix()
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "one", next[0].Affected)

	_, err = next[0].Fix()
	assert.True(t, syncerr.Is(err, syncerr.KindVariantConflict))
	m, _ := p.Module("lib")
	assert.Equal(t, "release", m.SelectedVariant())
}

func TestFixRefusesToReopenPairThroughDependent(t *testing.T) {
	b := deps.NewBuilder(nil)
	mid := model.Module{
		Name: "mid", Identity: ":mid", Kind: model.KindLibrary,
		Variants: []model.Variant{
			{Name: "release", Dependencies: model.Dependencies{Libraries: []model.LibraryArtifact{expects(":base", "release")}}},
			{Name: "debug", Dependencies: model.Dependencies{Libraries: []model.LibraryArtifact{expects(":base", "debug")}}},
		},
	}
	p := build(t, b, map[string]string{"base": "debug", "mid": "release"},
		app("app", expects(":mid", "debug")),
		mid,
		lib("base", model.Dependencies{}),
	)
	d := NewDetector(b, nil)

	conflicts := d.Scan(p)
	require.Len(t, conflicts, 2)
	require.Equal(t, "mid -> app: expected debug, actual release", conflicts[0].String())
	require.Equal(t, "base -> mid: expected release, actual debug", conflicts[1].String())

	_, err := conflicts[1].Fix()
	require.NoError(t, err)

	_, err = conflicts[0].Fix()
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindVariantConflict))

	m, _ := p.Module("mid")
	assert.Equal(t, "release", m.SelectedVariant(), "refused flip is rolled back")
	base, _ := p.Module("base")
	assert.Equal(t, "release", base.SelectedVariant())
	remaining := d.Scan(p)
	require.Len(t, remaining, 1)
	assert.Equal(t, "mid", remaining[0].Source)
}

func TestFixOnPublishedGraph(t *testing.T) {
	b := deps.NewBuilder(nil)
	p := build(t, b, map[string]string{"lib": "release"},
		app("app", expects(":lib", "debug")),
		lib("lib", model.Dependencies{}),
	)
	p.Publish()

	conflicts := NewDetector(b, nil).Scan(p)
	require.Len(t, conflicts, 1)
	_, err := conflicts[0].Fix()
	assert.ErrorIs(t, err, deps.ErrPublished)
	m, _ := p.Module("lib")
	assert.Equal(t, "release", m.SelectedVariant())
}

func TestFixWithoutScan(t *testing.T) {
	_, err := Conflict{Source: "lib"}.Fix()
	assert.Error(t, err)
}

func TestGroupBySource(t *testing.T) {
	groups := GroupBySource([]Conflict{
		{Source: "z", Affected: "a", Expected: "debug"},
		{Source: "m", Affected: "a", Expected: "debug"},
		{Source: "z", Affected: "b", Expected: "debug"},
		{Source: "m", Affected: "b", Expected: "release"},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, "m", groups[0].Source)
	assert.False(t, groups[0].Resolvable())
	assert.Equal(t, "z", groups[1].Source)
	assert.Len(t, groups[1].Conflicts, 2)
	assert.True(t, groups[1].Resolvable())
	assert.False(t, Group{}.Resolvable())
}

func TestResolveAll(t *testing.T) {
	t.Run("chained", func(t *testing.T) {
		b := deps.NewBuilder(nil)
		p := build(t, b, map[string]string{"lib": "release", "core": "release"},
			app("app", expects(":lib", "debug")),
			lib("lib", model.Dependencies{Libraries: []model.LibraryArtifact{expects(":core", "debug")}}),
			lib("core", model.Dependencies{}),
		)
		fixed, remaining, err := NewDetector(b, nil).ResolveAll(p)
		require.NoError(t, err)
		assert.Equal(t, 2, fixed)
		assert.Empty(t, remaining)
	})

	t.Run("contradicting consumers", func(t *testing.T) {
		b := deps.NewBuilder(nil)
		p := build(t, b, nil,
			app("one", expects(":lib", "debug")),
			app("two", expects(":lib", "release")),
			lib("lib", model.Dependencies{}),
		)
		fixed, remaining, err := NewDetector(b, nil).ResolveAll(p)
		require.NoError(t, err)
		assert.Equal(t, 1, fixed)
		require.Len(t, remaining, 1)
		assert.Equal(t, "one", remaining[0].Affected)
	})
}
