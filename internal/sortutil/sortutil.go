// Package sortutil turns path sets into deterministic lists.
package sortutil

import "sort"

// SortedKeys returns the keys of set in lexicographic order.
func SortedKeys[V any](set map[string]V) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
