// Package scanner implements the Scanner component (spec.md §4.5): an
// iterative, cycle-guarded filesystem walk that normalizes paths, applies
// the pre-flight skip probe, and enqueues hashing jobs.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/jgaa/deldupes/internal/pathutil"
)

// Job is one file queued for hashing.
type Job struct {
	Path      string
	Size      uint64
	MtimeSecs uint64
}

// SizeMtimeProber is the subset of the Store the Scanner needs for its
// pre-flight skip: the current (size, mtime) of a path's last observation.
type SizeMtimeProber interface {
	GetCurrentSizeMtime(path string) (size, mtime uint64, ok bool, err error)
}

// Options controls traversal behavior.
type Options struct {
	// FollowSymlinks causes symlinked directories to be descended into,
	// still subject to the (dev, ino) cycle guard.
	FollowSymlinks bool
	// Recursive enumerates the full subtree of each root. When false, only
	// each root's immediate entries are visited.
	Recursive bool
}

// Scanner walks a set of roots and enqueues [Job] values onto a bounded
// channel, tracking every normalized path it observed.
type Scanner struct {
	prober SizeMtimeProber
	opts   Options
}

// New builds a Scanner that consults prober for the pre-flight skip.
func New(prober SizeMtimeProber, opts Options) *Scanner {
	return &Scanner{prober: prober, opts: opts}
}

type dirEntry struct {
	dev, ino uint64
}

// Run walks every root (already normalized by the caller) and sends a Job
// for each regular, non-empty, not-pre-flight-skipped file. Run closes jobs
// exactly once, whether it returns an error or not, and always returns the
// set of every normalized path it observed (even ones skipped or erroring),
// so the caller can still run missing-detection on a partial walk.
func (s *Scanner) Run(roots []string, jobs chan<- Job) (seen map[string]struct{}, err error) {
	defer close(jobs)

	seen = make(map[string]struct{})
	visitedDirs := make(map[dirEntry]struct{})

	for _, root := range roots {
		if walkErr := s.walkRoot(root, jobs, seen, visitedDirs); walkErr != nil {
			return seen, walkErr
		}
	}

	return seen, nil
}

func (s *Scanner) walkRoot(root string, jobs chan<- Job, seen map[string]struct{}, visitedDirs map[dirEntry]struct{}) error {
	info, err := os.Lstat(root)
	if err != nil {
		return fmt.Errorf("scanner: stat root %s: %w", root, err)
	}

	if !info.IsDir() {
		s.visitFile(root, info, jobs, seen)

		return nil
	}

	stack := []string{root}

	for len(stack) > 0 {
		curDir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dirInfo, err := os.Stat(curDir)
		if err != nil {
			continue // transient I/O error walking a directory: not fatal (spec.md §7)
		}

		if key, ok := statKey(dirInfo); ok {
			if _, seenDir := visitedDirs[key]; seenDir {
				continue
			}

			visitedDirs[key] = struct{}{}
		}

		entries, err := os.ReadDir(curDir)
		if err != nil {
			continue
		}

		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			childPath := filepath.Join(curDir, entry.Name())

			childInfo, err := os.Lstat(childPath)
			if err != nil {
				continue
			}

			if childInfo.Mode()&os.ModeSymlink != 0 {
				if !s.opts.FollowSymlinks {
					continue
				}

				resolved, err := os.Stat(childPath)
				if err != nil {
					continue
				}

				childInfo = resolved
			}

			if childInfo.IsDir() {
				if s.opts.Recursive {
					stack = append(stack, childPath)
				}

				continue
			}

			s.visitFile(childPath, childInfo, jobs, seen)
		}
	}

	return nil
}

func (s *Scanner) visitFile(path string, info os.FileInfo, jobs chan<- Job, seen map[string]struct{}) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return
	}

	// Recorded before any early return: a path that exists on disk must
	// never be flipped to Missing by this pass's missing-detection, even
	// if it's momentarily irregular or zero-byte rather than deleted.
	seen[norm] = struct{}{}

	if !info.Mode().IsRegular() {
		return
	}

	if info.Size() == 0 {
		return // spec.md §9 open question: zero-size files are skipped by design
	}

	size := uint64(info.Size())
	mtime := uint64(info.ModTime().Unix())

	if s.prober != nil {
		curSize, curMtime, ok, err := s.prober.GetCurrentSizeMtime(norm)
		if err == nil && ok && curSize == size && curMtime == mtime {
			return
		}
	}

	jobs <- Job{Path: norm, Size: size, MtimeSecs: mtime}
}

func statKey(info os.FileInfo) (dirEntry, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return dirEntry{}, false
	}

	return dirEntry{dev: uint64(st.Dev), ino: st.Ino}, true
}
