package cache

import (
	"sort"
	"time"
)

// HashSize is the length of a content hash in bytes.
const HashSize = 16

// Hash is a 128-bit content digest of one tracked file.
type Hash [HashSize]byte

// Entry is one tracked file. Key is relative to the project root (forward
// slashes) when the file lives inside it, absolute otherwise.
type Entry struct {
	Key  string
	Hash Hash
}

// Snapshot fingerprints every file an import depends on. It is persisted as
// a whole and replaced as a whole.
type Snapshot struct {
	ToolVersion string
	Created     time.Time
	Entries     map[string]Hash
}

// Sorted returns the entries ordered by key.
func (s *Snapshot) Sorted() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.Entries))
	for k, h := range s.Entries {
		out = append(out, Entry{Key: k, Hash: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns the tracked keys, sorted.
func (s *Snapshot) Keys() []string {
	entries := s.Sorted()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

// Equal compares tool version, timestamp (millisecond precision, as
// persisted) and entries.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.ToolVersion != o.ToolVersion || s.Created.UnixMilli() != o.Created.UnixMilli() {
		return false
	}
	if len(s.Entries) != len(o.Entries) {
		return false
	}
	for k, h := range s.Entries {
		if oh, ok := o.Entries[k]; !ok || oh != h {
			return false
		}
	}
	return true
}

// Delta describes how the tracked files moved between two snapshots:
//
//   - Added: keys tracked now that were not tracked before
//   - Removed: keys tracked before that are no longer tracked
//   - Changed: keys whose content hash differs
type Delta struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}
