// Package watch reports changes of tracked build files so a caller can tell
// a sync is needed.
package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"buildsync/internal/sortutil"
)

const DefaultDebounce = 250 * time.Millisecond

// Watcher watches the directories holding tracked files. Events for other
// files in those directories are dropped.
type Watcher struct {
	fsw      *fsnotify.Watcher
	tracked  map[string]struct{}
	debounce time.Duration
	logger   *slog.Logger
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// New starts watching the parent directories of tracked. Directories that
// do not exist yet are skipped.
func New(tracked []string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		tracked:  make(map[string]struct{}, len(tracked)),
		debounce: DefaultDebounce,
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fsw = fsw

	dirs := make(map[string]struct{})
	for _, p := range tracked {
		p = filepath.Clean(p)
		w.tracked[p] = struct{}{}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	w.logger.Debug("watching build files", "files", len(w.tracked), "dirs", len(fsw.WatchList()))
	return w, nil
}

// Run delivers batches of changed tracked paths to onChange until ctx is
// done. Events arriving within the debounce window are merged.
func (w *Watcher) Run(ctx context.Context, onChange func(changed []string)) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			p, relevant := w.relevant(ev)
			if !relevant {
				continue
			}
			if len(pending) == 0 {
				timer.Reset(w.debounce)
			}
			pending[p] = struct{}{}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watch events overflowed; some changes may be merged")
				continue
			}
			w.logger.Warn("watch error", "err", err)
		case <-timer.C:
			changed := sortutil.SortedKeys(pending)
			clear(pending)
			onChange(changed)
		}
	}
}

func (w *Watcher) Close() error { return w.fsw.Close() }

func (w *Watcher) relevant(ev fsnotify.Event) (string, bool) {
	p := filepath.Clean(ev.Name)
	if _, ok := w.tracked[p]; !ok {
		return "", false
	}
	if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return p, true
	}
	return "", false
}
