// Package hashing implements the Hash Engine (spec.md §4.1): a size-adaptive
// strong content hash plus an optional cheap prefix fingerprint, with
// best-effort kernel I/O hints.
package hashing

import (
	"crypto/sha1" //nolint:gosec // used only as a 160-bit fingerprint, not a security boundary; see DESIGN.md
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"

	"github.com/jgaa/deldupes/internal/codec"
)

// Algorithm identifiers persisted to meta.toml. Changing either is a
// database-format change (spec.md §4.1).
const (
	StrongHashAlgo = "blake3-256"
	PrefixAlgo     = "sha1-prefix4k"
)

const (
	// PrefixSampleSize is the number of leading bytes fingerprinted.
	PrefixSampleSize = 4096

	streamBufSize = 1 << 20 // 1 MiB
)

// DefaultMmapThreshold is the size at or above which files are hashed via
// a read-only mmap instead of streaming reads.
const DefaultMmapThreshold = 32 << 20 // 32 MiB

// Options controls the size-adaptive strategy and the aggressiveness of
// page-cache hints. In the zero value, MmapThreshold <= 0 falls back to
// [DefaultMmapThreshold], so it behaves like [DefaultOptions].
type Options struct {
	// MmapThreshold is the size at or above which the strong hash is
	// computed over a read-only mmap rather than a streaming read.
	MmapThreshold int64
	// Aggressive, when set, advises the kernel to drop a file's pages from
	// cache immediately after hashing it.
	Aggressive bool
}

// DefaultOptions returns the engine's default strategy: stream below
// 32 MiB, mmap at or above it, and leave pages in cache after hashing.
func DefaultOptions() Options {
	return Options{MmapThreshold: DefaultMmapThreshold, Aggressive: false}
}

// Hash computes a [codec.FileMeta] for the file at path, given a pre-stat'd
// size and mtime. Errors from opening, reading, or stating the file are
// wrapped with path for context; kernel hints are always best-effort and
// never surface as errors.
func Hash(path string, size uint64, mtimeSecs uint64, opts Options) (codec.FileMeta, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from a filesystem walk, not untrusted input
	if err != nil {
		return codec.FileMeta{}, fmt.Errorf("hashing: open %s: %w", path, err)
	}
	defer f.Close()

	adviseSequential(f)

	m := codec.FileMeta{Size: size, MtimeSecs: mtimeSecs}

	if size > PrefixSampleSize {
		fp, err := hashPrefix(f)
		if err != nil {
			return codec.FileMeta{}, fmt.Errorf("hashing: prefix fingerprint %s: %w", path, err)
		}

		m.HasPrefixFP = true
		m.PrefixFP = fp

		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return codec.FileMeta{}, fmt.Errorf("hashing: rewind %s: %w", path, err)
		}
	}

	threshold := opts.MmapThreshold
	if threshold <= 0 {
		threshold = DefaultMmapThreshold
	}

	var strong [codec.HashSize]byte

	if int64(size) >= threshold {
		strong, err = hashMmap(f, size, opts.Aggressive)
	} else {
		strong, err = hashStream(f)
	}

	if err != nil {
		return codec.FileMeta{}, fmt.Errorf("hashing: strong hash %s: %w", path, err)
	}

	m.Hash256 = strong

	if opts.Aggressive {
		adviseDrop(f)
	}

	return m, nil
}

// hashPrefix reads up to [PrefixSampleSize] bytes from the current file
// position and returns their SHA-1 digest.
func hashPrefix(f *os.File) ([codec.PrefixFPSize]byte, error) {
	var out [codec.PrefixFPSize]byte

	buf := make([]byte, PrefixSampleSize)

	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return out, err
	}

	sum := sha1.Sum(buf[:n]) //nolint:gosec // fingerprint only, see package doc
	copy(out[:], sum[:])

	return out, nil
}

// hashStream hashes the whole file through a 1 MiB read buffer.
func hashStream(f *os.File) ([codec.HashSize]byte, error) {
	var out [codec.HashSize]byte

	h := blake3.New(codec.HashSize, nil)
	buf := make([]byte, streamBufSize)

	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return out, err
	}

	copy(out[:], h.Sum(nil))

	return out, nil
}

// hashMmap hashes the file through a read-only mmap, used for large files
// where a single mapped pass outperforms buffered reads.
func hashMmap(f *os.File, size uint64, aggressive bool) ([codec.HashSize]byte, error) {
	var out [codec.HashSize]byte

	if size == 0 {
		h := blake3.New(codec.HashSize, nil)
		copy(out[:], h.Sum(nil))

		return out, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return out, fmt.Errorf("mmap: %w", err)
	}

	defer func() { _ = unix.Munmap(data) }()

	adviseMmapSequential(data)

	h := blake3.New(codec.HashSize, nil)
	if _, err := h.Write(data); err != nil {
		return out, err
	}

	copy(out[:], h.Sum(nil))

	if aggressive {
		adviseMmapDrop(data)
	}

	return out, nil
}

// adviseMmapSequential hints the kernel that the mapped region will be
// read once, sequentially. Best-effort: failures are ignored.
func adviseMmapSequential(data []byte) {
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
}

// adviseMmapDrop hints the kernel to evict the mapped region's pages once
// hashing is done. Best-effort: failures are ignored.
func adviseMmapDrop(data []byte) {
	_ = unix.Madvise(data, unix.MADV_DONTNEED)
}

// adviseSequential hints the kernel that the file will be read once,
// sequentially, start to finish. Best-effort: failures are ignored.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

// adviseDrop hints the kernel to evict the file's pages from cache after
// hashing. Best-effort: failures are ignored.
func adviseDrop(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
