// Package query implements the Query Layer (spec.md §4.8): duplicate-group
// and potential-duplicate loaders, storage statistics, and the
// check-by-path / check-by-hash classifiers.
package query

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jgaa/deldupes/internal/codec"
	"github.com/jgaa/deldupes/internal/hashing"
	"github.com/jgaa/deldupes/internal/pathfilter"
	"github.com/jgaa/deldupes/internal/pathutil"
	"github.com/jgaa/deldupes/internal/store"
)

// Entry is one path's observation inside a duplicate or potential group.
type Entry struct {
	FID  uint64
	PID  uint64
	Path string
	Meta codec.FileMeta
}

// DupeGroup is a set of Live paths sharing one content hash.
type DupeGroup struct {
	Hash    [codec.HashSize]byte
	Header  string // shortest path, tie-broken lexicographically
	Entries []Entry
}

// LoadDuplicateGroups implements spec.md §4.8's exact-duplicate loader:
// every hash with two or more Live entries, filtered by filter, sorted by
// header path then hash.
func LoadDuplicateGroups(st *store.Store, filter pathfilter.Filter) ([]DupeGroup, error) {
	var groups []DupeGroup

	err := st.ForEachHashGroup(func(hash [codec.HashSize]byte, fids []uint64) error {
		if len(fids) < 2 {
			return nil
		}

		obs, err := st.LookupByHash(hash)
		if err != nil {
			return err
		}

		var live []Entry

		for _, o := range obs {
			if o.State != store.StateLive {
				continue
			}

			live = append(live, Entry{FID: o.FID, PID: o.PID, Path: o.Path, Meta: o.Meta})
		}

		if len(live) < 2 {
			return nil
		}

		if !filter.Empty() {
			matched := false

			for _, e := range live {
				if filter.Match(e.Path) {
					matched = true

					break
				}
			}

			if !matched {
				return nil
			}
		}

		sort.Slice(live, func(i, j int) bool { return live[i].Path < live[j].Path })

		groups = append(groups, DupeGroup{Hash: hash, Header: headerPath(live), Entries: live})

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Header != groups[j].Header {
			return groups[i].Header < groups[j].Header
		}

		return compareHash(groups[i].Hash, groups[j].Hash) < 0
	})

	return groups, nil
}

// headerPath returns the shortest path in entries, tie-broken
// lexicographically. entries must already be non-empty.
func headerPath(entries []Entry) string {
	header := entries[0].Path

	for _, e := range entries[1:] {
		if len(e.Path) < len(header) || (len(e.Path) == len(header) && e.Path < header) {
			header = e.Path
		}
	}

	return header
}

func compareHash(a, b [codec.HashSize]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}

			return 1
		}
	}

	return 0
}

// PotentialGroup is a set of Live, content-distinct files whose first 4 KiB
// collide.
type PotentialGroup struct {
	PrefixFP [codec.PrefixFPSize]byte
	Entries  []Entry
}

// SizeRange bounds a potential-duplicate query by the largest entry's
// size; a zero Min or Max means unbounded on that side. Mirrors the original tool's
// size-range filter (SPEC_FULL.md "supplemented features").
type SizeRange struct {
	Min, Max uint64 // Max == 0 means unbounded
}

// LoadPotentialGroups implements spec.md §4.8's potential-duplicate
// loader: Live files with a present prefix fingerprint, bucketed by that
// fingerprint, with the full-hash singletons surfaced as "prefix-colliding
// but content-distinct."
func LoadPotentialGroups(st *store.Store, filter pathfilter.Filter, sizes SizeRange) ([]PotentialGroup, error) {
	type bucketed struct {
		prefix  [codec.PrefixFPSize]byte
		entries []Entry
	}

	buckets := make(map[[codec.PrefixFPSize]byte]*bucketed)

	err := st.ForEachLiveFile(func(lf store.LiveFile) error {
		if !lf.Meta.HasPrefixFP {
			return nil
		}

		b, ok := buckets[lf.Meta.PrefixFP]
		if !ok {
			b = &bucketed{prefix: lf.Meta.PrefixFP}
			buckets[lf.Meta.PrefixFP] = b
		}

		b.entries = append(b.entries, Entry{FID: lf.FID, PID: lf.PID, Path: lf.Path, Meta: lf.Meta})

		return nil
	})
	if err != nil {
		return nil, err
	}

	var groups []PotentialGroup

	for _, b := range buckets {
		byHash := make(map[[codec.HashSize]byte][]Entry)
		for _, e := range b.entries {
			byHash[e.Meta.Hash256] = append(byHash[e.Meta.Hash256], e)
		}

		var singletons []Entry

		for _, es := range byHash {
			if len(es) == 1 {
				singletons = append(singletons, es[0])
			}
		}

		if len(singletons) < 2 {
			continue
		}

		if !filter.Empty() {
			matched := false

			for _, e := range singletons {
				if filter.Match(e.Path) {
					matched = true

					break
				}
			}

			if !matched {
				continue
			}
		}

		sort.Slice(singletons, func(i, j int) bool {
			if singletons[i].Meta.Size != singletons[j].Meta.Size {
				return singletons[i].Meta.Size > singletons[j].Meta.Size
			}

			return singletons[i].Path < singletons[j].Path
		})

		if sizes.Min > 0 && singletons[0].Meta.Size < sizes.Min {
			continue
		}

		if sizes.Max > 0 && singletons[0].Meta.Size > sizes.Max {
			continue
		}

		groups = append(groups, PotentialGroup{PrefixFP: b.prefix, Entries: singletons})
	}

	sort.Slice(groups, func(i, j int) bool {
		pi, pj := groups[i].Entries[0].Path, groups[j].Entries[0].Path
		if pi != pj {
			return pi < pj
		}

		return string(groups[i].PrefixFP[:]) < string(groups[j].PrefixFP[:])
	})

	return groups, nil
}

// Stats is the report produced by spec.md §4.8's stats pass.
type Stats struct {
	Live, Replaced, Missing int
	LiveBytes               uint64
	DupeGroups              int
	DupeExtraFiles          int
	DupeBytes               uint64
}

// ComputeStats tallies file states and duplicate storage overhead.
func ComputeStats(st *store.Store) (Stats, error) {
	var s Stats

	err := st.ForEachFileState(func(_ uint64, state store.FileState, meta codec.FileMeta) error {
		switch state {
		case store.StateLive:
			s.Live++
			s.LiveBytes += meta.Size
		case store.StateReplaced:
			s.Replaced++
		case store.StateMissing:
			s.Missing++
		}

		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	err = st.ForEachHashGroup(func(hash [codec.HashSize]byte, fids []uint64) error {
		if len(fids) < 2 {
			return nil
		}

		obs, err := st.LookupByHash(hash)
		if err != nil {
			return err
		}

		var liveCount int

		var firstSize uint64

		for _, o := range obs {
			if o.State != store.StateLive {
				continue
			}

			if liveCount == 0 {
				firstSize = o.Meta.Size
			}

			liveCount++
		}

		if liveCount < 2 {
			return nil
		}

		s.DupeGroups++
		s.DupeExtraFiles += liveCount - 1
		s.DupeBytes += uint64(liveCount-1) * firstSize

		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	return s, nil
}

// Status classifies a path or hash relative to the store and the
// filesystem.
type Status int

const (
	// StatusExists means the path's current content is on disk and Live.
	StatusExists Status = iota
	// StatusKnownRemoved means the content is known to the store but no
	// Live copy remains.
	StatusKnownRemoved
	// StatusNotFound means neither the store nor the disk has a Live
	// record matching the query.
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusExists:
		return "EXISTS"
	case StatusKnownRemoved:
		return "KNOWN_REMOVED"
	default:
		return "NOT_FOUND"
	}
}

// CheckByPath implements spec.md §4.8's check-by-path classifier.
func CheckByPath(st *store.Store, rawPath string, hashOpts hashing.Options) (Status, []Entry, error) {
	norm, err := pathutil.Normalize(rawPath)
	if err != nil {
		return StatusNotFound, nil, fmt.Errorf("query: normalize %q: %w", rawPath, err)
	}

	info, statErr := os.Stat(norm)
	diskExists := statErr == nil

	obs, dbFound, err := st.GetCurrentByPath(norm)
	if err != nil {
		return StatusNotFound, nil, err
	}

	if !diskExists {
		if dbFound && obs.State == store.StateMissing {
			return StatusKnownRemoved, nil, nil
		}

		return StatusNotFound, nil, nil
	}

	if dbFound && obs.State == store.StateLive &&
		obs.Meta.Size == uint64(info.Size()) && obs.Meta.MtimeSecs == uint64(info.ModTime().Unix()) {
		peers, err := livePeers(st, obs.Meta.Hash256, norm)
		if err != nil {
			return StatusNotFound, nil, err
		}

		return StatusExists, peers, nil
	}

	meta, err := hashing.Hash(norm, uint64(info.Size()), uint64(info.ModTime().Unix()), hashOpts)
	if err != nil {
		return StatusNotFound, nil, fmt.Errorf("query: hash %s: %w", norm, err)
	}

	return classifyByHash(st, meta.Hash256, norm)
}

// CheckByHash implements spec.md §4.8's check-by-hash classifier.
func CheckByHash(st *store.Store, raw string) (Status, []Entry, error) {
	hash, err := ParseHashHex(raw)
	if err != nil {
		return StatusNotFound, nil, err
	}

	return classifyByHash(st, hash, "")
}

// classifyByHash consults the hash index only: Exists iff any peer is
// Live; KnownRemoved iff the hash is known but no Live peer; else
// NotFound. excludePath, if non-empty, is left out of the returned peers.
func classifyByHash(st *store.Store, hash [codec.HashSize]byte, excludePath string) (Status, []Entry, error) {
	obs, err := st.LookupByHash(hash)
	if err != nil {
		return StatusNotFound, nil, err
	}

	if len(obs) == 0 {
		return StatusNotFound, nil, nil
	}

	var live []Entry

	anyLive := false

	for _, o := range obs {
		if o.State != store.StateLive {
			continue
		}

		anyLive = true

		if o.Path == excludePath {
			continue
		}

		live = append(live, Entry{FID: o.FID, PID: o.PID, Path: o.Path, Meta: o.Meta})
	}

	if anyLive {
		return StatusExists, live, nil
	}

	return StatusKnownRemoved, nil, nil
}

func livePeers(st *store.Store, hash [codec.HashSize]byte, excludePath string) ([]Entry, error) {
	obs, err := st.LookupByHash(hash)
	if err != nil {
		return nil, err
	}

	var peers []Entry

	for _, o := range obs {
		if o.State != store.StateLive || o.Path == excludePath {
			continue
		}

		peers = append(peers, Entry{FID: o.FID, PID: o.PID, Path: o.Path, Meta: o.Meta})
	}

	return peers, nil
}

// ParseHashHex parses a 64-hex-character strong hash, accepting an
// optional trailing whitespace-separated path field and an optional "*"
// binary-mode marker on that field (sha1sum-style lines).
func ParseHashHex(s string) ([codec.HashSize]byte, error) {
	var out [codec.HashSize]byte

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return out, fmt.Errorf("query: empty hash input")
	}

	raw := fields[0]

	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return out, fmt.Errorf("query: invalid hash %q: %w", raw, err)
	}

	if len(decoded) != codec.HashSize {
		return out, fmt.Errorf("query: hash %q has %d bytes, want %d", raw, len(decoded), codec.HashSize)
	}

	copy(out[:], decoded)

	return out, nil
}
