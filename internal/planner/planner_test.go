package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jgaa/deldupes/internal/codec"
	"github.com/jgaa/deldupes/internal/fs"
	"github.com/jgaa/deldupes/internal/pathfilter"
	"github.com/jgaa/deldupes/internal/query"
	"github.com/jgaa/deldupes/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	dir := t.TempDir()
	s, err := store.Open(dir, fs.NewReal(), store.Options{
		AppName: "deldupes-test", DBKind: "bbolt",
		HashFullAlgo: "blake3-256", HashPrefixAlgo: "sha1-prefix4k",
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func meta(hashByte byte, size, mtime uint64) codec.FileMeta {
	var m codec.FileMeta
	m.Size = size
	m.MtimeSecs = mtime
	m.Hash256[0] = hashByte

	return m
}

// TestS3DeleteOldest mirrors spec.md §8 scenario S3: three identical files,
// --preserve oldest keeps the one with the smallest mtime.
func TestS3DeleteOldest(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 5, 0)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/a", Meta: withMtime(same, 300)},
		{Path: "/r/b/c", Meta: withMtime(same, 100)},
		{Path: "/r/b/d", Meta: withMtime(same, 200)},
	}))

	groups, err := query.LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)
	require.Len(t, groups, 1)

	plans, err := BuildPlans(groups, pathfilter.New(nil), PolicyOldest)
	require.NoError(t, err)
	require.Len(t, plans, 1)

	plan := plans[0]
	require.NotNil(t, plan.Keeper)
	require.Equal(t, "/r/b/c", plan.Keeper.Path)
	require.Len(t, plan.ToDelete, 2)
}

func TestS3DeleteNewest(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 5, 0)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/a", Meta: withMtime(same, 300)},
		{Path: "/r/b", Meta: withMtime(same, 100)},
	}))

	groups, err := query.LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)

	plans, err := BuildPlans(groups, pathfilter.New(nil), PolicyNewest)
	require.NoError(t, err)
	require.Equal(t, "/r/a", plans[0].Keeper.Path)
}

func TestShortestAndLongestPathPolicies(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 5, 1)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/aaaa", Meta: same},
		{Path: "/r/b", Meta: same},
	}))

	groups, err := query.LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)

	shortPlans, err := BuildPlans(groups, pathfilter.New(nil), PolicyShortestPath)
	require.NoError(t, err)
	require.Equal(t, "/r/b", shortPlans[0].Keeper.Path)

	longPlans, err := BuildPlans(groups, pathfilter.New(nil), PolicyLongestPath)
	require.NoError(t, err)
	require.Equal(t, "/r/aaaa", longPlans[0].Keeper.Path)
}

func TestAlphaFirstAndLastPolicies(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 5, 1)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/b", Meta: same},
		{Path: "/r/a", Meta: same},
	}))

	groups, err := query.LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)

	firstPlans, err := BuildPlans(groups, pathfilter.New(nil), PolicyAlphaFirst)
	require.NoError(t, err)
	require.Equal(t, "/r/a", firstPlans[0].Keeper.Path)

	lastPlans, err := BuildPlans(groups, pathfilter.New(nil), PolicyAlphaLast)
	require.NoError(t, err)
	require.Equal(t, "/r/b", lastPlans[0].Keeper.Path)
}

// TestS4PartialSelectionHasNoKeeper mirrors spec.md §8 scenario S4: a
// filter matching a strict subset of a group schedules that subset for
// deletion without nominating a keeper, since a copy survives outside the
// selection regardless.
func TestS4PartialSelectionHasNoKeeper(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 5, 1)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/a", Meta: same},
		{Path: "/r/b/c", Meta: same},
		{Path: "/r/b/d", Meta: same},
	}))

	groups, err := query.LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)

	plans, err := BuildPlans(groups, pathfilter.New([]string{"/r/b"}), PolicyOldest)
	require.NoError(t, err)
	require.Len(t, plans, 1)

	plan := plans[0]
	require.Nil(t, plan.Keeper)
	require.Len(t, plan.ToDelete, 2)

	paths := []string{plan.ToDelete[0].Path, plan.ToDelete[1].Path}
	require.ElementsMatch(t, []string{"/r/b/c", "/r/b/d"}, paths)
}

func TestBuildPlansSkipsGroupsWithNoFilterMatch(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 5, 1)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/a", Meta: same},
		{Path: "/r/b", Meta: same},
	}))

	groups, err := query.LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)

	plans, err := BuildPlans(groups, pathfilter.New([]string{"/nowhere"}), PolicyOldest)
	require.NoError(t, err)
	require.Empty(t, plans)
}

func TestApplyDryRunLeavesFilesAndStoreUntouched(t *testing.T) {
	dir := t.TempDir()
	pathC := filepath.Join(dir, "c")
	require.NoError(t, os.WriteFile(pathC, []byte("hello"), 0o644))

	st := openTestStore(t)

	same := meta(0xAA, 5, 1)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: filepath.Join(dir, "a"), Meta: same},
		{Path: pathC, Meta: same},
	}))

	groups, err := query.LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)

	plans, err := BuildPlans(groups, pathfilter.New(nil), PolicyAlphaFirst)
	require.NoError(t, err)

	results, err := Apply(fs.NewReal(), st, plans, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Empty(t, results[0].Removed)

	_, err = os.Stat(pathC)
	require.NoError(t, err, "dry-run must not touch the filesystem")
}

func TestApplyRemovesFilesAndMarksMissing(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a")
	pathB := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(pathA, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte("hello"), 0o644))

	st := openTestStore(t)

	same := meta(0xAA, 5, 1)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: pathA, Meta: same},
		{Path: pathB, Meta: same},
	}))

	groups, err := query.LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)

	plans, err := BuildPlans(groups, pathfilter.New(nil), PolicyAlphaFirst)
	require.NoError(t, err)
	require.Equal(t, pathA, plans[0].Keeper.Path)

	results, err := Apply(fs.NewReal(), st, plans, false)
	require.NoError(t, err)
	require.Equal(t, []string{pathB}, results[0].Removed)

	_, err = os.Stat(pathB)
	require.True(t, os.IsNotExist(err))

	obs, ok, err := st.GetCurrentByPath(pathB)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.StateMissing, obs.State)

	obsA, ok, err := st.GetCurrentByPath(pathA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.StateLive, obsA.State)
}

func withMtime(m codec.FileMeta, mtime uint64) codec.FileMeta {
	m.MtimeSecs = mtime

	return m
}
