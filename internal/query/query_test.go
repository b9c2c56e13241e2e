package query

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jgaa/deldupes/internal/codec"
	"github.com/jgaa/deldupes/internal/fs"
	"github.com/jgaa/deldupes/internal/hashing"
	"github.com/jgaa/deldupes/internal/pathfilter"
	"github.com/jgaa/deldupes/internal/pathutil"
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

// TestS1ScanAndDupes mirrors spec.md §8 scenario S1: three identical files,
// header is the shortest path.
func TestS1ScanAndDupes(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 5, 100)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/a", Meta: same},
		{Path: "/r/b/c", Meta: same},
		{Path: "/r/b/d", Meta: same},
	}))

	groups, err := LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "/r/a", groups[0].Header)
	require.Len(t, groups[0].Entries, 3)
	require.Equal(t, "/r/a", groups[0].Entries[0].Path)
	require.Equal(t, "/r/b/c", groups[0].Entries[1].Path)
	require.Equal(t, "/r/b/d", groups[0].Entries[2].Path)
}

func TestDupesGroupsIgnoreNonLiveEntries(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 5, 100)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{{Path: "/r/a", Meta: same}}))
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{{Path: "/r/b", Meta: same}}))

	obsA, _, err := st.GetCurrentByPath("/r/a")
	require.NoError(t, err)

	_, err = st.MarkFilesMissing([]uint64{obsA.FID})
	require.NoError(t, err)

	groups, err := LoadDuplicateGroups(st, pathfilter.New(nil))
	require.NoError(t, err)
	require.Empty(t, groups, "only one live copy remains, not a duplicate group")
}

func TestDupesGroupsRespectFilter(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 5, 100)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/a", Meta: same},
		{Path: "/r/b/c", Meta: same},
	}))

	groups, err := LoadDuplicateGroups(st, pathfilter.New([]string{"/r/b"}))
	require.NoError(t, err)
	require.Len(t, groups, 1, "group matches because one entry is under the filter")

	groups, err = LoadDuplicateGroups(st, pathfilter.New([]string{"/nowhere"}))
	require.NoError(t, err)
	require.Empty(t, groups)
}

// TestS2Potential mirrors spec.md §8 scenario S2: two files share a prefix
// but differ in full content, ordered by size descending.
func TestS2Potential(t *testing.T) {
	st := openTestStore(t)

	var fp [codec.PrefixFPSize]byte
	fp[0] = 0x11

	big := codec.FileMeta{Size: 9000, MtimeSecs: 1, HasPrefixFP: true, PrefixFP: fp}
	big.Hash256[0] = 1

	small := codec.FileMeta{Size: 5000, MtimeSecs: 1, HasPrefixFP: true, PrefixFP: fp}
	small.Hash256[0] = 2

	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/big", Meta: big},
		{Path: "/r/small", Meta: small},
	}))

	groups, err := LoadPotentialGroups(st, pathfilter.New(nil), SizeRange{})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Entries, 2)
	require.Equal(t, "/r/big", groups[0].Entries[0].Path)
	require.Equal(t, "/r/small", groups[0].Entries[1].Path)
}

func TestPotentialExcludesTrueDuplicates(t *testing.T) {
	st := openTestStore(t)

	var fp [codec.PrefixFPSize]byte
	fp[0] = 0x22

	same := codec.FileMeta{Size: 5000, MtimeSecs: 1, HasPrefixFP: true, PrefixFP: fp}
	same.Hash256[0] = 9

	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/a", Meta: same},
		{Path: "/r/b", Meta: same},
	}))

	groups, err := LoadPotentialGroups(st, pathfilter.New(nil), SizeRange{})
	require.NoError(t, err)
	require.Empty(t, groups, "identical full hash means true duplicates, not potential")
}

func TestStatsCountsStatesAndDupeBytes(t *testing.T) {
	st := openTestStore(t)

	same := meta(0xAA, 100, 1)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{
		{Path: "/r/a", Meta: same},
		{Path: "/r/b", Meta: same},
	}))

	updated := meta(0xBB, 50, 2)
	require.NoError(t, st.WriteBatchVersions([]store.BatchItem{{Path: "/r/a", Meta: updated}}))

	stats, err := ComputeStats(st)
	require.NoError(t, err)

	require.Equal(t, 2, stats.Live)   // new /r/a observation + /r/b
	require.Equal(t, 1, stats.Replaced)
	require.Equal(t, 0, stats.Missing)
	require.Equal(t, uint64(150), stats.LiveBytes)
	require.Equal(t, 0, stats.DupeGroups, "the two live files now have different hashes")
}

// TestS5Check mirrors spec.md §8 scenario S5.
func TestS5Check(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))

	root, err := pathutil.Normalize(dir)
	require.NoError(t, err)

	rels := []string{"a", "b/c", "b/d"}
	for _, rel := range rels {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte("hello"), 0o644))
	}

	st := openTestStore(t)
	opts := hashing.DefaultOptions()

	for _, rel := range rels {
		p := filepath.Join(root, rel)

		info, err := os.Stat(p)
		require.NoError(t, err)

		m, err := hashing.Hash(p, uint64(info.Size()), uint64(info.ModTime().Unix()), opts)
		require.NoError(t, err)
		require.NoError(t, st.WriteBatchVersions([]store.BatchItem{{Path: p, Meta: m}}))
	}

	pathA := filepath.Join(root, "a")

	status, peers, err := CheckByPath(st, pathA, opts)
	require.NoError(t, err)
	require.Equal(t, StatusExists, status)
	require.Len(t, peers, 2)
}
