// Package diff renders unified diffs between two text renderings of a
// project graph. It uses github.com/pmezard/go-difflib/difflib to produce
// classic unified patches (---/+++ headers, @@ hunks).
package diff

import (
	"fmt"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"
)

// Options controls patch generation.
type Options struct {
	// MaxBytes is a guardrail on input size (old+new). When exceeded a
	// placeholder patch is returned. 0 means no limit.
	MaxBytes int

	// Context is the number of context lines in hunks. Defaults to 3.
	Context int
}

// Unified produces a unified patch for a->b. It returns "" when both sides
// are identical, and reports whether the body was omitted due to size.
func Unified(aName, bName, a, b string, opt Options) (body string, oversize bool) {
	if a == b {
		return "", false
	}
	if opt.MaxBytes > 0 && len(a)+len(b) > opt.MaxBytes {
		return omitted(aName, bName), true
	}
	ctx := opt.Context
	if ctx <= 0 {
		ctx = 3
	}
	u := difflib.UnifiedDiff{
		A:        splitLinesKeepNL(a),
		B:        splitLinesKeepNL(b),
		FromFile: aName,
		ToFile:   bName,
		Context:  ctx,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil || s == "" {
		return omitted(aName, bName), false
	}
	return s, false
}

// Stat counts added and removed lines of a unified patch, headers excluded.
func Stat(patch string) (added, removed int) {
	for _, ln := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(ln, "+++"), strings.HasPrefix(ln, "---"):
		case strings.HasPrefix(ln, "+"):
			added++
		case strings.HasPrefix(ln, "-"):
			removed++
		}
	}
	return added, removed
}

// splitLinesKeepNL keeps the trailing newline on every line, which gives
// better hunks.
func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}

func omitted(aName, bName string) string {
	return fmt.Sprintf("--- %s\n+++ %s\n@@\n# diff omitted\n", aName, bName)
}
