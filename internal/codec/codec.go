// Package codec implements the fixed-offset binary encoding for per-file
// observations and the packed, sorted-unique FID lists stored under each
// content hash.
//
// The layout (format version 1) is:
//
//	offset  size  field
//	  0      1    version = 1
//	  1      1    flags; bit0 = has_prefix_fp
//	  2      8    size                (little-endian u64)
//	 10      8    mtime_secs          (little-endian u64)
//	 18     32    hash256
//	 50     20    prefix_fp           (present iff bit0 set)
//
// Changing either field layout or the hash algorithms it carries is a
// database-format change; see meta.toml.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Version is the only FileMeta encoding version this package understands.
const Version = 1

const (
	offVersion  = 0
	offFlags    = 1
	offSize     = 2
	offMtime    = 10
	offHash     = 18
	offPrefixFP = 50

	// HashSize is the width of the strong content hash in bytes.
	HashSize = 32
	// PrefixFPSize is the width of the cheap prefix fingerprint in bytes.
	PrefixFPSize = 20

	flagHasPrefixFP = 1 << 0

	minEncodedLen = offPrefixFP // 50: length without the optional prefix fingerprint
	maxEncodedLen = offPrefixFP + PrefixFPSize
)

// ErrShortBuffer is returned when a buffer is too small to hold a FileMeta.
var ErrShortBuffer = errors.New("codec: buffer too short")

// ErrVersion is returned when the encoded version byte is not Version.
var ErrVersion = errors.New("codec: unknown version")

// ErrTruncatedPrefix is returned when the flag byte claims a prefix
// fingerprint that the buffer is too short to hold.
var ErrTruncatedPrefix = errors.New("codec: truncated prefix fingerprint")

// FileMeta is the content observation recorded for one FID. It is immutable
// once written: a new observation always mints a new FID rather than
// mutating an existing record.
type FileMeta struct {
	Size      uint64
	MtimeSecs uint64
	Hash256   [HashSize]byte
	PrefixFP  [PrefixFPSize]byte
	// HasPrefixFP holds iff Size > 4096; see invariant 6 in spec.md §3.
	HasPrefixFP bool
}

// Encode serializes m into the version-1 fixed-offset layout.
func Encode(m FileMeta) []byte {
	n := minEncodedLen
	if m.HasPrefixFP {
		n = maxEncodedLen
	}

	buf := make([]byte, n)
	buf[offVersion] = Version

	if m.HasPrefixFP {
		buf[offFlags] = flagHasPrefixFP
	}

	binary.LittleEndian.PutUint64(buf[offSize:], m.Size)
	binary.LittleEndian.PutUint64(buf[offMtime:], m.MtimeSecs)
	copy(buf[offHash:offHash+HashSize], m.Hash256[:])

	if m.HasPrefixFP {
		copy(buf[offPrefixFP:offPrefixFP+PrefixFPSize], m.PrefixFP[:])
	}

	return buf
}

// Decode parses a buffer written by Encode. It fails if the buffer is
// shorter than the fixed header, the version byte is not Version, or the
// flags claim a prefix fingerprint the buffer cannot hold.
func Decode(buf []byte) (FileMeta, error) {
	var m FileMeta

	if len(buf) < minEncodedLen {
		return m, fmt.Errorf("%w: got %d bytes, need at least %d", ErrShortBuffer, len(buf), minEncodedLen)
	}

	if buf[offVersion] != Version {
		return m, fmt.Errorf("%w: got %d, want %d", ErrVersion, buf[offVersion], Version)
	}

	hasPrefix := buf[offFlags]&flagHasPrefixFP != 0

	if hasPrefix && len(buf) < maxEncodedLen {
		return m, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncatedPrefix, len(buf), maxEncodedLen)
	}

	m.Size = binary.LittleEndian.Uint64(buf[offSize:])
	m.MtimeSecs = binary.LittleEndian.Uint64(buf[offMtime:])
	copy(m.Hash256[:], buf[offHash:offHash+HashSize])
	m.HasPrefixFP = hasPrefix

	if hasPrefix {
		copy(m.PrefixFP[:], buf[offPrefixFP:offPrefixFP+PrefixFPSize])
	}

	return m, nil
}

// PeekSizeMtime reads just the size and mtime fields from an encoded
// FileMeta without decoding the hash or prefix fingerprint. Used by the
// scan pre-flight skip probe, which only needs these two fields.
func PeekSizeMtime(buf []byte) (size, mtimeSecs uint64, err error) {
	if len(buf) < minEncodedLen {
		return 0, 0, fmt.Errorf("%w: got %d bytes, need at least %d", ErrShortBuffer, len(buf), minEncodedLen)
	}

	if buf[offVersion] != Version {
		return 0, 0, fmt.Errorf("%w: got %d, want %d", ErrVersion, buf[offVersion], Version)
	}

	return binary.LittleEndian.Uint64(buf[offSize:]), binary.LittleEndian.Uint64(buf[offMtime:]), nil
}

// EncodeFIDList concatenates ids as little-endian u64 values, preserving
// the sorted-unique order callers are expected to maintain.
func EncodeFIDList(ids []uint64) []byte {
	buf := make([]byte, len(ids)*8)

	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:], id)
	}

	return buf
}

// DecodeFIDList splits buf into little-endian u64 values. Trailing bytes
// that don't form a full 8-byte word are ignored, matching spec.md §4.3.
func DecodeFIDList(buf []byte) []uint64 {
	n := len(buf) / 8
	ids := make([]uint64, n)

	for i := 0; i < n; i++ {
		ids[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}

	return ids
}

// InsertFIDSorted inserts id into a sorted-unique FID list, returning the
// updated list and whether an insertion actually happened (false if id was
// already present).
func InsertFIDSorted(ids []uint64, id uint64) ([]uint64, bool) {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids, false
	}

	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id

	return ids, true
}
