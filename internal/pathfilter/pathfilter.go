// Package pathfilter implements the boundary-aware prefix matcher used to
// scope queries and deletes to a subset of normalized paths (spec.md §6).
package pathfilter

import "github.com/jgaa/deldupes/internal/pathutil"

// Filter matches normalized paths against a set of prefixes. The zero value
// is an empty filter that matches everything.
type Filter struct {
	prefixes []string
}

// New builds a Filter from already-normalized prefixes. An empty prefixes
// slice yields a filter that matches every path.
func New(prefixes []string) Filter {
	return Filter{prefixes: prefixes}
}

// Empty reports whether the filter has no prefixes, i.e. matches everything.
func (f Filter) Empty() bool {
	return len(f.prefixes) == 0
}

// Match reports whether path is matched by the filter: an empty filter
// matches everything; otherwise path must equal one of the prefixes, or
// start with a prefix immediately followed by a path separator. Comparison
// is byte-exact on normalized paths; there is no case-folding and no
// substring matching ("/home/ab" never matches prefix "/home/a").
func (f Filter) Match(path string) bool {
	if f.Empty() {
		return true
	}

	for _, prefix := range f.prefixes {
		if pathutil.UnderRoot(path, prefix) {
			return true
		}
	}

	return false
}
