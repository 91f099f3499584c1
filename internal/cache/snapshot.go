// Package cache provides the checksum store that decides whether the graph
// computed by a previous sync is still valid, plus its on-disk files.
//
// Conventions:
//   - A per-project cache lives at: <base>/<pathKey>/
//   - The snapshot is stored at:    <base>/<pathKey>/snapshot.bin
//   - The model cache is stored at: <base>/<pathKey>/models.json
//
// Hashes are MD5: they only detect change and are not a security boundary.
package cache

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"buildsync/internal/syncerr"
)

const (
	defaultCacheRoot = ".buildsync"
	SnapshotFileName = "snapshot.bin"
	ModelsFileName   = "models.json"
)

// PathKey returns a short, stable identifier for an absolute project path.
func PathKey(abs string) string {
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:12]
}

// CacheDir resolves the cache directory for the given absolute project path.
// If base is empty, it falls back to ".buildsync".
func CacheDir(base, rootAbs string) string {
	root := base
	if root == "" {
		root = defaultCacheRoot
	}
	return filepath.Join(root, PathKey(rootAbs))
}

// Store computes, validates and persists snapshots.
type Store struct {
	fs          afero.Fs
	toolVersion string
	now         func() time.Time
	logger      *slog.Logger
}

type StoreOption func(*Store)

// WithFs replaces the OS filesystem.
func WithFs(fs afero.Fs) StoreOption { return func(s *Store) { s.fs = fs } }

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) StoreOption { return func(s *Store) { s.now = now } }

func WithLogger(l *slog.Logger) StoreOption { return func(s *Store) { s.logger = l } }

// NewStore returns a store bound to the active build tool version.
func NewStore(toolVersion string, opts ...StoreOption) *Store {
	s := &Store{
		fs:          afero.NewOsFs(),
		toolVersion: toolVersion,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

func (s *Store) ToolVersion() string { return s.toolVersion }

func (s *Store) Fs() afero.Fs { return s.fs }

// Compute hashes the current content of every tracked file. A missing file
// hashes as empty content.
func (s *Store) Compute(root string, tracked []string) (*Snapshot, error) {
	snap := &Snapshot{
		ToolVersion: s.toolVersion,
		Created:     s.now().UTC(),
		Entries:     make(map[string]Hash, len(tracked)),
	}
	if err := s.Extend(snap, root, tracked); err != nil {
		return nil, err
	}
	return snap, nil
}

// Extend hashes the tracked files not yet present in snap.
func (s *Store) Extend(snap *Snapshot, root string, tracked []string) error {
	for _, p := range tracked {
		key := Key(root, p)
		if _, ok := snap.Entries[key]; ok {
			continue
		}
		h, err := s.hashFile(Resolve(root, key))
		if err != nil {
			return fmt.Errorf("hash %s: %w", key, err)
		}
		snap.Entries[key] = h
	}
	return nil
}

// Validate recomputes every entry against the files under root. It returns
// a syncerr.KindCacheInvalid error naming the first reason the snapshot
// cannot be trusted; I/O failures count as invalid.
func (s *Store) Validate(snap *Snapshot, root string) error {
	switch {
	case snap == nil:
		return syncerr.New(syncerr.KindCacheInvalid, "no snapshot", nil)
	case snap.ToolVersion != s.toolVersion:
		return syncerr.Newf(syncerr.KindCacheInvalid, "tool version changed from %q to %q", snap.ToolVersion, s.toolVersion)
	case len(snap.Entries) == 0:
		return syncerr.New(syncerr.KindCacheInvalid, "snapshot tracks no files", nil)
	}
	for _, e := range snap.Sorted() {
		h, err := s.hashFile(Resolve(root, e.Key))
		if err != nil {
			return syncerr.New(syncerr.KindCacheInvalid, "read "+e.Key, err)
		}
		if h != e.Hash {
			return syncerr.Newf(syncerr.KindCacheInvalid, "%s changed", e.Key)
		}
	}
	return nil
}

// IsValid reports whether snap still matches the files under root.
func (s *Store) IsValid(snap *Snapshot, root string) bool {
	err := s.Validate(snap, root)
	if err != nil {
		s.logger.Debug("snapshot invalid", "reason", err)
	}
	return err == nil
}

// Persist writes snap atomically to path. On failure the previous file is
// removed so a later Load cannot resurrect stale state.
func (s *Store) Persist(snap *Snapshot, path string) error {
	if err := s.writeAtomic(path, encodeSnapshot(snap)); err != nil {
		if rmErr := s.Remove(path); rmErr != nil {
			s.logger.Warn("remove stale snapshot", "path", path, "err", rmErr)
		}
		return syncerr.New(syncerr.KindPersistFailure, "write snapshot "+path, err)
	}
	return nil
}

// Load reads a snapshot. A missing or corrupt file yields nil.
func (s *Store) Load(path string) *Snapshot {
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read snapshot", "path", path, "err", err)
		}
		return nil
	}
	snap, err := decodeSnapshot(b)
	if err != nil {
		s.logger.Warn("snapshot corrupt", "path", path, "err", syncerr.New(syncerr.KindCacheCorrupt, "decode", err))
		return nil
	}
	return snap
}

// Remove deletes path; a missing file is not an error.
func (s *Store) Remove(path string) error {
	err := s.fs.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// writeAtomic writes into a temporary sibling and renames it over path so
// readers never observe a partially-written file.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := afero.TempFile(s.fs, dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) hashFile(path string) (Hash, error) {
	var out Hash
	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return emptyHash, nil
		}
		return out, err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return out, err
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

var emptyHash = Hash(md5.Sum(nil))

// Key returns the snapshot key of path: root-relative with forward slashes
// when inside root, absolute otherwise.
func Key(root, path string) string {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return abs
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return abs
	}
	return rel
}

// Resolve turns a snapshot key back into a path.
func Resolve(root, key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(root, filepath.FromSlash(key))
}
