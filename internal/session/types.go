package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofrs/uuid"
	"github.com/spf13/afero"

	"buildsync/internal/cache"
	"buildsync/internal/conflict"
	"buildsync/internal/graph"
	"buildsync/internal/model"
)

// State is the sync state of a project.
type State int

const (
	Idle State = iota
	InProgress
	Succeeded
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InProgress:
		return "in-progress"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// Terminal reports whether s ends a sync.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped
}

// Options are the flags of one sync request.
type Options struct {
	// UseCache lets a valid snapshot with a complete model cache skip the
	// external fetch.
	UseCache bool
	// GenerateSourcesOnSuccess asks the Generator to run after a
	// successful sync.
	GenerateSourcesOnSuccess bool
	// SkipRefresh reports a cache hit as Skipped: same graph, but
	// collaborators are not asked to refresh conflict reporting.
	SkipRefresh bool
	// AutoResolveConflicts applies every unambiguous conflict fix before
	// the graph is published.
	AutoResolveConflicts bool
	// Variants maps module names to explicitly chosen variants.
	Variants map[string]string
}

// Result is the outcome of one sync request. Graph is nil unless Status is
// Succeeded or Skipped; Err is set only when Status is Failed.
type Result struct {
	RequestID       uuid.UUID
	Status          State
	Graph           *graph.Project
	Conflicts       []conflict.Conflict
	Err             error
	Snapshot        *cache.Snapshot
	FromCache       bool
	GenerateSources bool
	Duration        time.Duration
}

// Populator materializes a published graph in the host (modules,
// libraries, source roots, SDKs).
type Populator interface {
	Populate(ctx context.Context, p *graph.Project) error
}

// Generator runs source generation after a successful sync.
type Generator interface {
	GenerateSources(ctx context.Context, p *graph.Project) error
}

// Notifier receives terminal transitions and conflict reports. Both calls
// run on the dispatch callback.
type Notifier interface {
	SyncStateChanged(r Result)
	ConflictsFound(conflicts []conflict.Conflict)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	NowUTC() time.Time
}

// SystemUTC is the production clock.
type SystemUTC struct{}

func (SystemUTC) NowUTC() time.Time {
	return time.Now().UTC()
}

// Config wires a Session to its project and collaborators.
type Config struct {
	// Root is the absolute project directory.
	Root string
	// ToolVersion is the expected build tool version. Defaults to the
	// store's version; a fetched model reporting another one is logged.
	ToolVersion string
	// CacheDir is the base directory of per-project caches.
	CacheDir string
	// UserGradleHome holds the user-wide gradle.properties that is tracked
	// too. Empty disables it.
	UserGradleHome string

	Fetcher   model.Fetcher
	Populator Populator
	Generator Generator
	Notifier  Notifier

	// Dispatch schedules publication on the thread collaborators require.
	// Defaults to running the callback inline.
	Dispatch func(func())

	// Fs is used for tracked-file discovery. Defaults to the store's.
	Fs     afero.Fs
	Logger *slog.Logger
	Clock  Clock
}
