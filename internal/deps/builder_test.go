package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildsync/internal/graph"
	"buildsync/internal/model"
	"buildsync/internal/syncerr"
)

func sampleProject() *model.Project {
	return &model.Project{
		Name: "p",
		Root: "/p",
		Modules: []model.Module{
			{
				Name: "app", Identity: ":app", Root: "/p/app", Kind: model.KindApp,
				Variants: []model.Variant{{
					Name: "debug",
					Dependencies: model.Dependencies{
						Binaries: []model.Binary{{Path: "/m2/guava-31.jar", Source: "/m2/guava-31-sources.jar"}},
						Libraries: []model.LibraryArtifact{
							{Bundle: "/p/lib/build/lib.aar", Module: ":lib", ExpectedVariant: "debug"},
						},
					},
					TestDependencies: model.Dependencies{
						Binaries: []model.Binary{{Path: "/m2/junit.jar"}},
					},
				}},
			},
			{
				Name: "lib", Identity: ":lib", Root: "/p/lib", Kind: model.KindLibrary,
				Variants: []model.Variant{
					{Name: "release", Dependencies: model.Dependencies{
						Binaries: []model.Binary{{Path: "/m2/okio-release.jar"}},
					}},
					{Name: "debug", Dependencies: model.Dependencies{
						Binaries: []model.Binary{{Path: "/m2/guava-31.jar", Doc: "/m2/guava-31-javadoc.jar"}},
						Modules:  []model.ModuleRef{{Identity: ":core"}},
					}},
				},
			},
			{
				Name: "core", Identity: ":core", Root: "/p/core", Kind: model.KindJava,
				Dependencies: model.Dependencies{
					Binaries: []model.Binary{{Path: "libs/annotations.jar"}},
				},
			},
		},
	}
}

func TestBuild(t *testing.T) {
	b := NewBuilder(nil)
	p, err := b.Build(sampleProject(), Options{})
	require.NoError(t, err)

	t.Run("variants selected by default rule", func(t *testing.T) {
		app, _ := p.Module("app")
		lib, _ := p.Module("lib")
		core, _ := p.Module("core")
		assert.Equal(t, "debug", app.SelectedVariant())
		assert.Equal(t, "debug", lib.SelectedVariant())
		assert.Equal(t, []string{"release", "debug"}, lib.Variant.Candidates)
		assert.Nil(t, core.Variant)
	})

	t.Run("shared library is one node", func(t *testing.T) {
		key := graph.LibraryKey{Name: "guava-31", BinaryPath: "/m2/guava-31.jar"}
		lib, ok := p.Library(key)
		require.True(t, ok)
		assert.Equal(t, []string{"/m2/guava-31-sources.jar"}, lib.Sources)
		assert.Equal(t, []string{"/m2/guava-31-javadoc.jar"}, lib.Docs)
		assert.Len(t, p.Libraries(), 3, "guava, junit, annotations")
	})

	t.Run("edges carry scope and export", func(t *testing.T) {
		app, _ := p.Module("app")
		require.Len(t, app.Edges, 3)
		assert.Equal(t, graph.LibraryEdge, app.Edges[0].Kind)
		assert.True(t, app.Edges[0].Exported)
		assert.Equal(t, graph.ScopeCompile, app.Edges[0].Scope)

		assert.Equal(t, graph.ModuleEdge, app.Edges[1].Kind)
		assert.Equal(t, "lib", app.Edges[1].Target)
		assert.Equal(t, "debug", app.Edges[1].ExpectedVariant)

		assert.Equal(t, graph.ScopeTest, app.Edges[2].Scope)
		assert.True(t, app.Edges[2].Exported, "library edges are exported regardless of scope")
	})

	t.Run("relative binaries resolve against project root", func(t *testing.T) {
		_, ok := p.Library(graph.LibraryKey{Name: "annotations", BinaryPath: "/p/libs/annotations.jar"})
		assert.True(t, ok)
	})
}

func TestBuildKeepsPreferredVariant(t *testing.T) {
	p, err := NewBuilder(nil).Build(sampleProject(), Options{Selections: map[string]string{"lib": "release", "app": "gone"}})
	require.NoError(t, err)
	lib, _ := p.Module("lib")
	app, _ := p.Module("app")
	assert.Equal(t, "release", lib.SelectedVariant())
	assert.Equal(t, "debug", app.SelectedVariant())
	_, ok := p.Library(graph.LibraryKey{Name: "okio-release", BinaryPath: "/m2/okio-release.jar"})
	assert.True(t, ok)
}

func TestPopulateIsIdempotent(t *testing.T) {
	p := graph.New("p", "/p")
	m := &graph.Module{Name: "app", Identity: ":app"}
	require.NoError(t, p.AddModule(m))
	deps := model.Dependencies{Binaries: []model.Binary{{Path: "/m2/a.jar"}, {Path: "/m2/a.jar", Source: "/src/a.zip"}}}

	b := NewBuilder(nil)
	require.NoError(t, b.Populate(p, m, deps, graph.ScopeCompile))
	require.NoError(t, b.Populate(p, m, deps, graph.ScopeCompile))

	assert.Len(t, p.Libraries(), 1)
	assert.Len(t, m.Edges, 1)
	lib := p.Libraries()[0]
	assert.Equal(t, graph.LibraryKey{Name: "a", BinaryPath: "/m2/a.jar"}, lib.Key)
	assert.Equal(t, []string{"/src/a.zip"}, lib.Sources, "source roots attach but never split identity")

	p.Publish()
	assert.ErrorIs(t, b.Populate(p, m, deps, graph.ScopeCompile), ErrPublished)
}

func TestLibraryExpansionGuardsCycles(t *testing.T) {
	p := graph.New("p", "/p")
	m := &graph.Module{Name: "app", Identity: ":app"}
	require.NoError(t, p.AddModule(m))

	inner := model.LibraryArtifact{Bundle: "/m2/a.aar"}
	outer := model.LibraryArtifact{
		Bundle: "/m2/b.aar",
		Dependencies: model.Dependencies{
			Libraries: []model.LibraryArtifact{inner, {Bundle: "/m2/b.aar", Dependencies: model.Dependencies{
				Binaries: []model.Binary{{Path: "/m2/never.jar"}},
			}}},
			Binaries: []model.Binary{{Path: "/m2/c.jar"}},
		},
	}
	deps := model.Dependencies{Libraries: []model.LibraryArtifact{outer, inner}}
	require.NoError(t, NewBuilder(nil).Populate(p, m, deps, graph.ScopeCompile))

	names := []string{}
	for _, l := range p.Libraries() {
		names = append(names, l.Key.Name)
	}
	assert.Equal(t, []string{"b", "c", "a"}, names)
}

func TestDanglingModuleReference(t *testing.T) {
	proj := sampleProject()
	proj.Modules = proj.Modules[:2] // drop :core, still referenced by lib
	_, err := NewBuilder(nil).Build(proj, Options{})
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindDanglingModuleReference))
	assert.True(t, syncerr.IsFatal(err))
}

func TestNoVariantsIsAnIssue(t *testing.T) {
	proj := sampleProject()
	proj.Modules[1].Variants = nil
	p, err := NewBuilder(nil).Build(proj, Options{})
	require.NoError(t, err)

	lib, _ := p.Module("lib")
	assert.Nil(t, lib.Variant)
	assert.Empty(t, lib.Edges)
	require.Len(t, p.Issues(), 1)
	assert.Equal(t, syncerr.KindNoVariantsAvailable, p.Issues()[0].Kind)
	assert.Equal(t, "lib", p.Issues()[0].Module)
}

func TestDuplicateIdentity(t *testing.T) {
	proj := sampleProject()
	proj.Modules[2].Identity = ":lib"
	_, err := NewBuilder(nil).Build(proj, Options{})
	assert.True(t, syncerr.Is(err, syncerr.KindInvalidModel))
}

func TestModuleCycleIssue(t *testing.T) {
	proj := sampleProject()
	proj.Modules[2].Dependencies.Modules = []model.ModuleRef{{Identity: ":lib"}}
	p, err := NewBuilder(nil).Build(proj, Options{})
	require.NoError(t, err)
	require.Len(t, p.Issues(), 1)
	assert.Equal(t, syncerr.KindModuleCycle, p.Issues()[0].Kind)
	assert.Contains(t, p.Issues()[0].Message, "core -> lib")
}

func TestReselect(t *testing.T) {
	b := NewBuilder(nil)
	p, err := b.Build(sampleProject(), Options{})
	require.NoError(t, err)
	lib, _ := p.Module("lib")

	require.NoError(t, b.Reselect(p, lib, "release"))
	assert.Equal(t, "release", lib.SelectedVariant())
	require.Len(t, lib.Edges, 1)
	assert.Equal(t, "okio-release", lib.Edges[0].Library.Name)

	_, ok := p.Library(graph.LibraryKey{Name: "guava-31", BinaryPath: "/m2/guava-31.jar"})
	assert.True(t, ok, "still used by app")

	err = b.Reselect(p, lib, "staging")
	assert.True(t, syncerr.Is(err, syncerr.KindVariantConflict))
	assert.Equal(t, "release", lib.SelectedVariant())

	core, _ := p.Module("core")
	assert.Error(t, b.Reselect(p, core, "debug"))
}

func TestReselectFailureLeavesGraphUnchanged(t *testing.T) {
	proj := sampleProject()
	proj.Modules[1].Variants[0].Dependencies = model.Dependencies{
		Binaries: []model.Binary{{Path: "/m2/leak.jar"}, {Path: "/m2/guava-31.jar", Source: "/m2/guava-extra-sources.jar"}},
		Modules:  []model.ModuleRef{{Identity: ":ghost"}},
	}
	b := NewBuilder(nil)
	p, err := b.Build(proj, Options{})
	require.NoError(t, err)
	lib, _ := p.Module("lib")
	require.Equal(t, "debug", lib.SelectedVariant())
	edges := append([]graph.Edge(nil), lib.Edges...)
	libsBefore := len(p.Libraries())

	err = b.Reselect(p, lib, "release")
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindDanglingModuleReference))

	assert.Equal(t, "debug", lib.SelectedVariant())
	assert.Equal(t, edges, lib.Edges)
	assert.Len(t, p.Libraries(), libsBefore)
	_, leaked := p.Library(graph.LibraryKey{Name: "leak", BinaryPath: "/m2/leak.jar"})
	assert.False(t, leaked)
	guava, ok := p.Library(graph.LibraryKey{Name: "guava-31", BinaryPath: "/m2/guava-31.jar"})
	require.True(t, ok)
	assert.Equal(t, []string{"/m2/guava-31-sources.jar"}, guava.Sources)
}

func TestReselectRefusesPublishedGraph(t *testing.T) {
	b := NewBuilder(nil)
	p, err := b.Build(sampleProject(), Options{})
	require.NoError(t, err)
	p.Publish()
	lib, _ := p.Module("lib")

	assert.ErrorIs(t, b.Reselect(p, lib, "release"), ErrPublished)
	assert.Equal(t, "debug", lib.SelectedVariant())
}
