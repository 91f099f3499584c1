// Package variant picks the active build variant of a module out of the
// variants the build tool reports for it.
//
// Every caller that needs a default variant goes through Select, so the
// choice is the same wherever it is made:
//  1. a single candidate is returned as is;
//  2. otherwise "debug" wins when present;
//  3. otherwise the lexicographically smallest name.
package variant

import (
	"sort"

	"buildsync/internal/syncerr"
)

// Debug is the variant preferred for projects nobody has configured yet.
const Debug = "debug"

// Select returns the default variant for candidates. Duplicate names are
// ignored. It fails with syncerr.KindNoVariantsAvailable when candidates is
// empty.
func Select(candidates []string) (string, error) {
	names := Unique(candidates)
	switch {
	case len(names) == 0:
		return "", syncerr.New(syncerr.KindNoVariantsAvailable, "no variants to select from", nil)
	case len(names) == 1:
		return names[0], nil
	}
	if Contains(names, Debug) {
		return Debug, nil
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return sorted[0], nil
}

// SelectPreferred keeps preferred when it is still one of the candidates and
// falls back to Select otherwise.
func SelectPreferred(candidates []string, preferred string) (string, error) {
	if preferred != "" && Contains(candidates, preferred) {
		return preferred, nil
	}
	return Select(candidates)
}

// Contains reports whether name is one of candidates.
func Contains(candidates []string, name string) bool {
	for _, c := range candidates {
		if c == name {
			return true
		}
	}
	return false
}

// Unique drops empty and repeated names, keeping first-seen order.
func Unique(candidates []string) []string {
	if len(candidates) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
