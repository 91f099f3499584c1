package cache

import "sort"

// Compare computes the change set from prev to curr. A nil snapshot counts
// as empty.
func Compare(prev, curr *Snapshot) Delta {
	if delta, ok := handleTrivialDelta(prev, curr); ok {
		return delta
	}
	removed, changed := classifyRemovedAndChanged(prev.Entries, curr.Entries)
	delta := Delta{
		Removed: removed,
		Added:   classifyAdded(prev.Entries, curr.Entries),
		Changed: changed,
	}
	sortDelta(&delta)
	return delta
}

func handleTrivialDelta(prev, curr *Snapshot) (Delta, bool) {
	var d Delta
	switch {
	case curr == nil || len(curr.Entries) == 0:
		if prev != nil {
			d.Removed = prev.Keys()
		}
		return d, true
	case prev == nil || len(prev.Entries) == 0:
		d.Added = curr.Keys()
		return d, true
	default:
		return Delta{}, false
	}
}

func classifyRemovedAndChanged(prev, curr map[string]Hash) ([]string, []string) {
	removed := make([]string, 0)
	changed := make([]string, 0)
	for key, ph := range prev {
		if ch, ok := curr[key]; ok {
			if ph != ch {
				changed = append(changed, key)
			}
			continue
		}
		removed = append(removed, key)
	}
	return removed, changed
}

func classifyAdded(prev, curr map[string]Hash) []string {
	added := make([]string, 0)
	for key := range curr {
		if _, ok := prev[key]; !ok {
			added = append(added, key)
		}
	}
	return added
}

func sortDelta(d *Delta) {
	sort.Strings(d.Removed)
	sort.Strings(d.Added)
	sort.Strings(d.Changed)
}
