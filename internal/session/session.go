// Package session runs syncs for one project. It decides between the cached
// graph and a fresh fetch, drives graph building and conflict detection,
// and publishes the outcome through a small state machine:
//
//	Idle -> InProgress -> Succeeded | Failed | Skipped -> Idle
//
// At most one sync is in progress; a request made meanwhile is rejected,
// not queued.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/spf13/afero"

	"buildsync/internal/cache"
	"buildsync/internal/conflict"
	"buildsync/internal/deps"
	"buildsync/internal/diff"
	"buildsync/internal/dump"
	"buildsync/internal/graph"
	"buildsync/internal/model"
	"buildsync/internal/syncerr"
	"buildsync/internal/trackedfiles"
)

// ErrInProgress is returned by Sync when another sync is running.
var ErrInProgress = errors.New("sync already in progress")

// Session is the single sync entry point of a project.
type Session struct {
	store    *cache.Store
	builder  *deps.Builder
	detector *conflict.Detector
	cfg      Config
	fs       afero.Fs
	logger   *slog.Logger

	snapshotPath string
	modelsPath   string

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	last   *Result

	// Owned by the running sync; runs never overlap.
	selections map[string]string
	lastDump   string
}

// New validates cfg and returns an idle session.
func New(store *cache.Store, builder *deps.Builder, detector *conflict.Detector, cfg Config) (*Session, error) {
	if store == nil || builder == nil || detector == nil {
		return nil, errors.New("session: store, builder and detector are required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("session: no fetcher configured")
	}
	if cfg.Root == "" || !filepath.IsAbs(cfg.Root) {
		return nil, fmt.Errorf("session: project root must be absolute, got %q", cfg.Root)
	}
	cfg.Root = filepath.Clean(cfg.Root)
	if cfg.ToolVersion == "" {
		cfg.ToolVersion = store.ToolVersion()
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(f func()) { f() }
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemUTC{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fs := cfg.Fs
	if fs == nil {
		fs = store.Fs()
	}
	dir := cache.CacheDir(cfg.CacheDir, cfg.Root)
	return &Session{
		store:        store,
		builder:      builder,
		detector:     detector,
		cfg:          cfg,
		fs:           fs,
		logger:       cfg.Logger.With("project", cfg.Root),
		snapshotPath: filepath.Join(dir, cache.SnapshotFileName),
		modelsPath:   filepath.Join(dir, cache.ModelsFileName),
	}, nil
}

// State returns the current state. A finished sync keeps its terminal
// state until the next request moves the session back through Idle.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Last returns the result of the most recent finished sync.
func (s *Session) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// Request starts a sync in the background. It returns false, and changes
// nothing, when a sync is already in progress. The channel yields exactly
// one Result once the outcome has been published.
func (s *Session) Request(ctx context.Context, opts Options) (<-chan Result, bool) {
	s.mu.Lock()
	if s.state == InProgress {
		s.mu.Unlock()
		s.logger.Debug("sync request ignored", "state", InProgress)
		return nil, false
	}
	id := newRequestID()
	if s.state.Terminal() {
		s.transition(Idle, id)
	}
	s.transition(InProgress, id)
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan Result, 1)
	go func() {
		defer cancel()
		res := s.run(ctx, id, opts)
		s.publish(ctx, &res)
		out <- res
		close(out)
	}()
	return out, true
}

// Sync runs one sync and waits for its result.
func (s *Session) Sync(ctx context.Context, opts Options) (Result, error) {
	ch, ok := s.Request(ctx, opts)
	if !ok {
		return Result{}, ErrInProgress
	}
	return <-ch, nil
}

// Cancel aborts the in-flight sync, which then fails with a cancelled
// reason. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// transition must be called with mu held.
func (s *Session) transition(to State, id uuid.UUID) {
	s.logger.Info("sync state", "from", s.state, "to", to, "request", id)
	s.state = to
}

func (s *Session) run(ctx context.Context, id uuid.UUID, opts Options) Result {
	start := s.cfg.Clock.NowUTC()
	log := s.logger.With("request", id)
	res := s.sync(ctx, log, opts)
	res.RequestID = id
	res.GenerateSources = opts.GenerateSourcesOnSuccess && res.Status != Failed
	res.Duration = s.cfg.Clock.NowUTC().Sub(start)
	return res
}

func (s *Session) sync(ctx context.Context, log *slog.Logger, opts Options) Result {
	tracked, err := trackedfiles.Discover(s.cfg.Root, trackedfiles.Options{
		Fs:           s.fs,
		UserHome:     s.cfg.UserGradleHome,
		UseGitignore: true,
	})
	if err != nil {
		return failed(fmt.Errorf("discover tracked files: %w", err))
	}
	prev := s.store.Load(s.snapshotPath)

	if opts.UseCache {
		if res, ok := s.fromCache(ctx, log, prev, tracked, opts); ok {
			return res
		}
	}
	return s.fresh(ctx, log, prev, tracked, opts)
}

// fromCache rebuilds the graph from the model cache when the snapshot
// still matches every tracked file and the cache is complete.
func (s *Session) fromCache(ctx context.Context, log *slog.Logger, prev *cache.Snapshot, tracked []string, opts Options) (Result, bool) {
	if err := ctx.Err(); err != nil {
		return cancelled(err), true
	}
	if err := s.store.Validate(prev, s.cfg.Root); err != nil {
		log.Info("cache miss", "reason", err)
		return Result{}, false
	}
	for _, p := range tracked {
		if _, ok := prev.Entries[cache.Key(s.cfg.Root, p)]; !ok {
			log.Info("cache miss", "reason", "new tracked file", "file", p)
			return Result{}, false
		}
	}
	mc := s.store.LoadModels(s.modelsPath)
	if !mc.Complete() {
		log.Info("cache miss", "reason", "model cache incomplete")
		return Result{}, false
	}
	p, conflicts, err := s.buildGraph(log, mc.ToProject(), merge(mc.Selected, opts.Variants), opts)
	if err != nil {
		log.Warn("cached model unusable", "err", err)
		return Result{}, false
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err), true
	}
	s.remember(p)
	status := Succeeded
	if opts.SkipRefresh {
		status = Skipped
	}
	log.Info("cache hit", "modules", len(p.Modules()), "libraries", len(p.Libraries()), "status", status)
	return Result{Status: status, Graph: p, Conflicts: conflicts, Snapshot: prev, FromCache: true}, true
}

func (s *Session) fresh(ctx context.Context, log *slog.Logger, prev *cache.Snapshot, tracked []string, opts Options) Result {
	// Hash before fetching so edits made during the fetch invalidate the
	// next sync.
	current, err := s.store.Compute(s.cfg.Root, tracked)
	if err != nil {
		log.Warn("snapshot not computed; cache will not be written", "err", err)
		current = nil
	}

	fetchStart := s.cfg.Clock.NowUTC()
	proj, err := s.cfg.Fetcher.Fetch(ctx, s.cfg.Root)
	if cerr := ctx.Err(); cerr != nil {
		return cancelled(cerr)
	}
	if err != nil {
		if syncerr.KindOf(err) == "" {
			err = syncerr.New(syncerr.KindFetch, "fetch project model", err)
		}
		return failed(err)
	}
	log.Info("model fetched", "modules", len(proj.Modules), "took", s.cfg.Clock.NowUTC().Sub(fetchStart))
	if proj.ToolVersion != "" && proj.ToolVersion != s.cfg.ToolVersion {
		log.Warn("build tool reports another version", "expected", s.cfg.ToolVersion, "reported", proj.ToolVersion)
	}

	prefs := s.selections
	if len(prefs) == 0 {
		if mc := s.store.LoadModels(s.modelsPath); mc != nil {
			prefs = mc.Selected
		}
	}
	p, conflicts, err := s.buildGraph(log, proj, merge(prefs, opts.Variants), opts)
	if err != nil {
		return failed(err)
	}
	if cerr := ctx.Err(); cerr != nil {
		return cancelled(cerr)
	}
	selected := s.remember(p)

	if current != nil {
		if err := s.store.Extend(current, s.cfg.Root, proj.BuildFiles()); err != nil {
			log.Warn("hash model build files", "err", err)
			current = nil
		}
	}
	if current != nil {
		if d := cache.Compare(prev, current); !d.Empty() {
			log.Info("tracked files changed", "added", d.Added, "removed", d.Removed, "changed", d.Changed)
		}
		s.persist(log, cache.NewModelCache(proj, selected), current)
	}
	return Result{Status: Succeeded, Graph: p, Conflicts: conflicts, Snapshot: current}
}

// buildGraph builds, scans and publishes. Fatal builder errors abort
// without exposing the partial graph.
func (s *Session) buildGraph(log *slog.Logger, proj *model.Project, selections map[string]string, opts Options) (*graph.Project, []conflict.Conflict, error) {
	p, err := s.builder.Build(proj, deps.Options{Selections: selections})
	if err != nil {
		return nil, nil, err
	}
	for _, is := range p.Issues() {
		log.Warn("graph issue", "kind", is.Kind, "module", is.Module, "msg", is.Message)
	}

	var conflicts []conflict.Conflict
	if opts.AutoResolveConflicts {
		fixed, remaining, err := s.detector.ResolveAll(p)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve conflicts: %w", err)
		}
		if fixed > 0 {
			log.Info("conflicts resolved", "fixed", fixed)
		}
		conflicts = remaining
	} else {
		conflicts = s.detector.Scan(p)
	}
	if len(conflicts) > 0 {
		log.Info("variant conflicts", "count", len(conflicts))
	}
	p.Publish()
	log.Info("graph built", "modules", len(p.Modules()), "libraries", len(p.Libraries()))
	return p, conflicts, nil
}

// persist writes the model cache first, then the snapshot; a snapshot never
// points at a model cache that failed to write.
func (s *Session) persist(log *slog.Logger, mc *cache.ModelCache, snap *cache.Snapshot) {
	if err := s.store.SaveModels(mc, s.modelsPath); err != nil {
		log.Warn("cache not written", "err", err)
		if rmErr := s.store.Remove(s.snapshotPath); rmErr != nil {
			log.Warn("remove stale snapshot", "err", rmErr)
		}
		return
	}
	if err := s.store.Persist(snap, s.snapshotPath); err != nil {
		log.Warn("cache not written", "err", err)
		return
	}
	log.Debug("cache written", "entries", len(snap.Entries))
}

// remember records the selected variants for the next sync and logs how
// the graph moved since the previous one.
func (s *Session) remember(p *graph.Project) map[string]string {
	selected := make(map[string]string)
	for _, m := range p.Modules() {
		if v := m.SelectedVariant(); v != "" {
			selected[m.Name] = v
		}
	}
	s.selections = selected

	cur := dump.Project(p)
	if s.lastDump != "" {
		patch, _ := diff.Unified("previous", "current", s.lastDump, cur, diff.Options{MaxBytes: 1 << 20})
		if patch != "" {
			added, removed := diff.Stat(patch)
			s.logger.Info("graph changed", "added", added, "removed", removed)
			s.logger.Debug("graph diff", "patch", patch)
		}
	}
	s.lastDump = cur
	return selected
}

// publish hands the outcome to collaborators in one dispatched callback
// and moves the session to its terminal state. Once the callback runs the
// sync can no longer be cancelled; a cancel that landed before it fails the
// sync before any collaborator sees the graph.
func (s *Session) publish(ctx context.Context, res *Result) {
	done := make(chan struct{})
	s.cfg.Dispatch(func() {
		defer close(done)
		s.mu.Lock()
		s.cancel = nil
		err := ctx.Err()
		s.mu.Unlock()
		if err != nil && res.Status != Failed {
			*res = Result{
				RequestID: res.RequestID,
				Status:    Failed,
				Err:       cancelled(err).Err,
				Duration:  res.Duration,
			}
		}

		if res.Status != Failed && s.cfg.Populator != nil {
			if err := s.cfg.Populator.Populate(ctx, res.Graph); err != nil {
				*res = Result{
					RequestID: res.RequestID,
					Status:    Failed,
					Err:       fmt.Errorf("populate project: %w", err),
					Duration:  res.Duration,
				}
			}
		}
		if res.Status != Failed && res.GenerateSources && s.cfg.Generator != nil {
			if err := s.cfg.Generator.GenerateSources(ctx, res.Graph); err != nil {
				s.logger.Warn("source generation failed", "request", res.RequestID, "err", err)
			}
		}

		s.mu.Lock()
		s.transition(res.Status, res.RequestID)
		last := *res
		s.last = &last
		s.mu.Unlock()

		if res.Status == Failed {
			s.logger.Error("sync failed", "request", res.RequestID, "kind", syncerr.KindOf(res.Err), "err", res.Err)
		}
		if n := s.cfg.Notifier; n != nil {
			n.SyncStateChanged(*res)
			if res.Status == Succeeded {
				n.ConflictsFound(res.Conflicts)
			}
		}
	})
	<-done
}

func failed(err error) Result {
	return Result{Status: Failed, Err: err}
}

func cancelled(err error) Result {
	return failed(syncerr.New(syncerr.KindCancelled, "sync cancelled", err))
}

func merge(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func newRequestID() uuid.UUID {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil
	}
	return id
}
