package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jgaa/deldupes/internal/pathutil"
)

type nilProber struct{}

func (nilProber) GetCurrentSizeMtime(string) (uint64, uint64, bool, error) {
	return 0, 0, false, nil
}

func collect(t *testing.T, s *Scanner, roots []string) ([]Job, map[string]struct{}) {
	t.Helper()

	jobs := make(chan Job, 1024)

	var (
		seen map[string]struct{}
		err  error
	)

	done := make(chan struct{})

	go func() {
		seen, err = s.Run(roots, jobs)
		close(done)
	}()

	var got []Job
	for j := range jobs {
		got = append(got, j)
	}

	<-done
	require.NoError(t, err)

	return got, seen
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalkFindsRegularNonEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))

	writeFile(t, filepath.Join(dir, "a"), "hello")
	writeFile(t, filepath.Join(dir, "b", "c"), "hello")
	writeFile(t, filepath.Join(dir, "empty"), "")

	root, err := pathutil.Normalize(dir)
	require.NoError(t, err)

	s := New(nilProber{}, Options{Recursive: true})
	jobs, seen := collect(t, s, []string{root})

	require.Len(t, jobs, 2, "zero-byte files are skipped")
	require.Contains(t, seen, filepath.Join(root, "a"))
	require.Contains(t, seen, filepath.Join(root, "b", "c"))
	require.Contains(t, seen, filepath.Join(root, "empty"), "zero-byte files are still recorded as seen")
}

func TestNonRecursiveOnlyEnumeratesImmediateEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))

	writeFile(t, filepath.Join(dir, "a"), "hello")
	writeFile(t, filepath.Join(dir, "b", "c"), "hello")

	root, err := pathutil.Normalize(dir)
	require.NoError(t, err)

	s := New(nilProber{}, Options{Recursive: false})
	jobs, _ := collect(t, s, []string{root})

	require.Len(t, jobs, 1)
	require.Equal(t, filepath.Join(root, "a"), jobs[0].Path)
}

type staticProber struct {
	size, mtime uint64
	path        string
}

func (p staticProber) GetCurrentSizeMtime(path string) (uint64, uint64, bool, error) {
	if path == p.path {
		return p.size, p.mtime, true, nil
	}

	return 0, 0, false, nil
}

func TestPreFlightSkipMatchesSizeAndMtime(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "hello")

	root, err := pathutil.Normalize(dir)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "a"))
	require.NoError(t, err)

	prober := staticProber{
		path:  filepath.Join(root, "a"),
		size:  uint64(info.Size()),
		mtime: uint64(info.ModTime().Unix()),
	}

	s := New(prober, Options{Recursive: true})
	jobs, seen := collect(t, s, []string{root})

	require.Empty(t, jobs, "matching size/mtime should be skipped")
	require.Contains(t, seen, filepath.Join(root, "a"), "skipped files are still recorded as seen")
}

func TestCycleGuardAvoidsRevisitingSameDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeFile(t, filepath.Join(sub, "f"), "hello")

	link := filepath.Join(dir, "loop")
	require.NoError(t, os.Symlink(sub, link))

	root, err := pathutil.Normalize(dir)
	require.NoError(t, err)

	s := New(nilProber{}, Options{Recursive: true, FollowSymlinks: true})
	jobs, _ := collect(t, s, []string{root})

	// "sub/f" is reachable directly and via "loop/f"; the cycle guard keys
	// on (dev, ino) of the directory itself, not the path, so the real
	// directory is walked once under whichever name is popped first and
	// the second name is skipped: one job in total.
	require.Len(t, jobs, 1)
}
