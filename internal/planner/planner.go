// Package planner implements the Planner component (spec.md §4.9):
// deterministic keeper selection, partial-selection semantics, the
// keep-one safety invariant, and dry-run vs. apply execution.
package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jgaa/deldupes/internal/fs"
	"github.com/jgaa/deldupes/internal/pathfilter"
	"github.com/jgaa/deldupes/internal/query"
	"github.com/jgaa/deldupes/internal/store"
)

// Policy is a keeper-selection policy (spec.md §4.9's table).
type Policy int

const (
	PolicyOldest Policy = iota
	PolicyNewest
	PolicyShortestPath
	PolicyLongestPath
	PolicyAlphaFirst
	PolicyAlphaLast
)

// ParsePolicy maps a CLI --preserve value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "oldest":
		return PolicyOldest, nil
	case "newest":
		return PolicyNewest, nil
	case "shortest-path":
		return PolicyShortestPath, nil
	case "longest-path":
		return PolicyLongestPath, nil
	case "alpha-first":
		return PolicyAlphaFirst, nil
	case "alpha-last":
		return PolicyAlphaLast, nil
	default:
		return 0, fmt.Errorf("planner: unknown preserve policy %q", s)
	}
}

// ErrSafetyViolation is returned when a plan would leave a hash with zero
// Live copies. This must never happen; a violation means a bug in plan
// construction, not a recoverable runtime condition.
var ErrSafetyViolation = errors.New("planner: plan would delete the last live copy")

// Plan is the deletion plan for one duplicate group.
type Plan struct {
	Group    query.DupeGroup
	Keeper   *query.Entry // nil when the selection was a strict subset
	ToDelete []query.Entry
}

// BuildPlans implements spec.md §4.9's per-group algorithm over groups
// already loaded by [query.LoadDuplicateGroups]. Groups with no entry
// matching filter produce no plan.
func BuildPlans(groups []query.DupeGroup, filter pathfilter.Filter, policy Policy) ([]Plan, error) {
	var plans []Plan

	for _, g := range groups {
		var selected []query.Entry

		if filter.Empty() {
			selected = g.Entries
		} else {
			for _, e := range g.Entries {
				if filter.Match(e.Path) {
					selected = append(selected, e)
				}
			}
		}

		if len(selected) == 0 {
			continue
		}

		var plan Plan

		plan.Group = g

		if len(selected) == len(g.Entries) {
			keeper := chooseKeeper(selected, policy)
			toDelete := make([]query.Entry, 0, len(selected)-1)

			for _, e := range selected {
				if e.FID != keeper.FID {
					toDelete = append(toDelete, e)
				}
			}

			if len(toDelete)+1 != len(g.Entries) {
				return nil, fmt.Errorf("%w: hash %x", ErrSafetyViolation, g.Hash)
			}

			plan.Keeper = &keeper
			plan.ToDelete = toDelete
		} else {
			// A strict subset: at least one copy survives outside the
			// selection, so the keep-one invariant holds automatically
			// without choosing an explicit keeper.
			plan.ToDelete = append([]query.Entry(nil), selected...)
		}

		plans = append(plans, plan)
	}

	return plans, nil
}

// chooseKeeper picks exactly one entry to preserve per policy. All ties
// break by path ascending. entries must be non-empty.
func chooseKeeper(entries []query.Entry, policy Policy) query.Entry {
	ranked := append([]query.Entry(nil), entries...)

	less := policyLess(policy)
	sort.SliceStable(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })

	return ranked[0]
}

func policyLess(policy Policy) func(a, b query.Entry) bool {
	switch policy {
	case PolicyOldest:
		return func(a, b query.Entry) bool { return mtimeLess(a, b, true) }
	case PolicyNewest:
		return func(a, b query.Entry) bool { return mtimeLess(a, b, false) }
	case PolicyShortestPath:
		return func(a, b query.Entry) bool {
			if len(a.Path) != len(b.Path) {
				return len(a.Path) < len(b.Path)
			}

			return a.Path < b.Path
		}
	case PolicyLongestPath:
		return func(a, b query.Entry) bool {
			if len(a.Path) != len(b.Path) {
				return len(a.Path) > len(b.Path)
			}

			return a.Path < b.Path
		}
	case PolicyAlphaFirst:
		return func(a, b query.Entry) bool { return a.Path < b.Path }
	case PolicyAlphaLast:
		return func(a, b query.Entry) bool {
			if a.Path != b.Path {
				return a.Path > b.Path
			}

			return a.Path < b.Path
		}
	default:
		return func(a, b query.Entry) bool { return a.Path < b.Path }
	}
}

// mtimeLess orders by known-mtime-first, then by mtime ascending (oldest)
// or descending (newest); unknown mtimes (MtimeSecs == 0) sort last either
// way, then by path ascending.
func mtimeLess(a, b query.Entry, ascending bool) bool {
	aKnown := a.Meta.MtimeSecs != 0
	bKnown := b.Meta.MtimeSecs != 0

	if aKnown != bKnown {
		return aKnown // known sorts before unknown
	}

	if aKnown && a.Meta.MtimeSecs != b.Meta.MtimeSecs {
		if ascending {
			return a.Meta.MtimeSecs < b.Meta.MtimeSecs
		}

		return a.Meta.MtimeSecs > b.Meta.MtimeSecs
	}

	return a.Path < b.Path
}

// Result summarizes one applied (or simulated) plan.
type Result struct {
	Plan    Plan
	Removed []string // paths actually removed from disk (apply mode only)
}

// Apply executes plans. In dry-run mode, no filesystem or store mutation
// occurs; callers render `WOULD_DELETE` themselves from the returned
// plans. In apply mode, plans are processed one at a time: each target
// file of a plan is removed from the filesystem one by one, then that
// plan's deleted FIDs are marked Missing in a single transaction. If a
// removal fails partway through a group, the files already removed are
// not yet marked Missing; a subsequent `scan` (whose missing-detection
// pass runs unless --no-detect-deletes is given) recovers them
// (spec.md §9).
func Apply(fsys fs.FS, st *store.Store, plans []Plan, dryRun bool) ([]Result, error) {
	if dryRun {
		results := make([]Result, len(plans))
		for i, p := range plans {
			results[i] = Result{Plan: p}
		}

		return results, nil
	}

	results := make([]Result, 0, len(plans))

	for _, p := range plans {
		var removed []string

		var fids []uint64

		for _, e := range p.ToDelete {
			if err := fsys.Remove(e.Path); err != nil {
				return results, fmt.Errorf("planner: remove %s: %w", e.Path, err)
			}

			removed = append(removed, e.Path)
			fids = append(fids, e.FID)
		}

		if len(fids) > 0 {
			if _, err := st.MarkFilesMissing(fids); err != nil {
				return results, fmt.Errorf("planner: mark missing: %w", err)
			}
		}

		results = append(results, Result{Plan: p, Removed: removed})
	}

	return results, nil
}
