// Package store implements spec.md §4.4 (the Store component) and §6 (the
// database directory protocol) on top of an embedded ordered-map
// transactional KV engine. Table names below are on-disk identities and
// must not change without a format bump.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/jgaa/deldupes/internal/codec"
	"github.com/jgaa/deldupes/internal/fs"
	"github.com/jgaa/deldupes/internal/pathutil"
)

// Bucket names, literal per spec.md §4.4's table.
var (
	bucketPathToID    = []byte("path_to_id")
	bucketIDToPath    = []byte("id_to_path")
	bucketKVU64       = []byte("kv_u64")
	bucketPathCurrent = []byte("path_current")
	bucketFileMeta    = []byte("file_meta")
	bucketFileToPath  = []byte("file_to_path")
	bucketFileState   = []byte("file_state")
	bucketHashIndex   = []byte("hash256_to_files")
)

var allBuckets = [][]byte{
	bucketPathToID, bucketIDToPath, bucketKVU64, bucketPathCurrent,
	bucketFileMeta, bucketFileToPath, bucketFileState, bucketHashIndex,
}

const (
	counterNextPathID = "next_path_id"
	counterNextFileID = "next_file_id"
)

// FileState is one of the three states attached to every FID (spec.md §3).
type FileState uint8

const (
	// StateLive marks the current, on-disk observation for its path.
	StateLive FileState = iota
	// StateReplaced marks an observation superseded by a newer one at the
	// same path. Terminal.
	StateReplaced
	// StateMissing marks an observation known removed, or whose path was
	// not seen during missing-detection. Terminal.
	StateMissing
)

func (s FileState) String() string {
	switch s {
	case StateLive:
		return "Live"
	case StateReplaced:
		return "Replaced"
	case StateMissing:
		return "Missing"
	default:
		return fmt.Sprintf("FileState(%d)", uint8(s))
	}
}

// Store wraps the embedded KV engine, holding the directory's exclusive
// lock for the handle's lifetime.
type Store struct {
	dir  string
	db   *bbolt.DB
	fsys fs.FS
	lock fs.Locker
}

// Options pins the hash-algorithm identities a freshly-initialized database
// records in meta.toml, and validates them against an existing one.
type Options struct {
	AppName        string
	DBKind         string
	HashFullAlgo   string
	HashPrefixAlgo string
}

// Open validates, locks, and opens the database directory at dir,
// initializing it if empty. See spec.md §4.4's open protocol and §6 for
// the directory contract.
func Open(dir string, fsys fs.FS, opts Options) (*Store, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("store: read database directory: %w", err)
	}

	empty := len(entries) == 0

	if !empty {
		if err := validateDirectory(fsys, dir); err != nil {
			return nil, err
		}
	}

	lockPath := filepath.Join(dir, lockFileName)
	if ok, _ := fsys.Exists(lockPath); !ok {
		if err := fsys.WriteFileAtomic(lockPath, nil, 0o644); err != nil {
			return nil, fmt.Errorf("store: create lock marker: %w", err)
		}
	}

	lock, err := fsys.Lock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLockContention, err)
	}

	db, err := bbolt.Open(filepath.Join(dir, dbFileName), 0o644, nil)
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := ensureBuckets(db); err != nil {
		_ = db.Close()
		_ = lock.Close()

		return nil, err
	}

	if empty {
		m := dbMeta{
			Format:     currentFormat,
			App:        opts.AppName,
			DBKind:     opts.DBKind,
			HashFull:   opts.HashFullAlgo,
			HashPrefix: opts.HashPrefixAlgo,
		}

		if err := writeMeta(fsys, dir, m); err != nil {
			_ = db.Close()
			_ = lock.Close()

			return nil, err
		}
	} else {
		m, err := readMeta(fsys, dir)
		if err != nil {
			_ = db.Close()
			_ = lock.Close()

			return nil, err
		}

		if m.HashFull != opts.HashFullAlgo || m.HashPrefix != opts.HashPrefixAlgo {
			_ = db.Close()
			_ = lock.Close()

			return nil, fmt.Errorf("%w: database has %q/%q, build uses %q/%q",
				ErrHashAlgoMismatch, m.HashFull, m.HashPrefix, opts.HashFullAlgo, opts.HashPrefixAlgo)
		}
	}

	return &Store{dir: dir, db: db, fsys: fsys, lock: lock}, nil
}

func validateDirectory(fsys fs.FS, dir string) error {
	needed := []string{metaFileName, dbFileName}

	for _, name := range needed {
		ok, err := fsys.Exists(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("store: stat %s: %w", name, err)
		}

		if !ok {
			return fmt.Errorf("%w: missing %s", ErrCorruptDirectory, name)
		}
	}

	return nil
}

func ensureBuckets(db *bbolt.DB) error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", b, err)
			}
		}

		return nil
	})
}

// Close releases the database engine and the exclusive directory lock.
// Safe to call on a nil Store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	var errs []error

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: close database: %w", err))
		}

		s.db = nil
	}

	if s.lock != nil {
		if err := s.lock.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: release lock: %w", err))
		}

		s.lock = nil
	}

	return errors.Join(errs...)
}

// --- id helpers ---

func u64key(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)

	return b
}

func keyU64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func nextCounter(tx *bbolt.Tx, name string) (uint64, error) {
	b := tx.Bucket(bucketKVU64)

	raw := b.Get([]byte(name))

	var cur uint64
	if raw != nil {
		cur = keyU64(raw)
	}

	next := cur + 1
	if err := b.Put([]byte(name), u64key(next)); err != nil {
		return 0, err
	}

	return next, nil
}

// getOrCreatePID returns the PID for path, allocating and persisting one if
// this is the first time path has been observed.
func getOrCreatePID(tx *bbolt.Tx, path string) (uint64, error) {
	p2id := tx.Bucket(bucketPathToID)

	if raw := p2id.Get([]byte(path)); raw != nil {
		return keyU64(raw), nil
	}

	pid, err := nextCounter(tx, counterNextPathID)
	if err != nil {
		return 0, fmt.Errorf("store: allocate pid: %w", err)
	}

	if err := p2id.Put([]byte(path), u64key(pid)); err != nil {
		return 0, err
	}

	if err := tx.Bucket(bucketIDToPath).Put(u64key(pid), []byte(path)); err != nil {
		return 0, err
	}

	return pid, nil
}

// GetOrCreatePID is the standalone, single-transaction form of path→PID
// allocation, exposed for callers outside a write batch.
func (s *Store) GetOrCreatePID(path string) (uint64, error) {
	var pid uint64

	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		pid, err = getOrCreatePID(tx, path)

		return err
	})

	return pid, err
}

// ResolvePath returns the normalized path string for pid.
func (s *Store) ResolvePath(pid uint64) (string, error) {
	var path string

	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketIDToPath).Get(u64key(pid))
		if raw == nil {
			return fmt.Errorf("%w: pid %d", ErrNotFound, pid)
		}

		path = string(raw)

		return nil
	})

	return path, err
}

// --- write batch ---

// BatchItem is one observation to persist via WriteBatchVersions.
type BatchItem struct {
	Path string
	Meta codec.FileMeta
}

// WriteBatchVersions implements spec.md §4.4's write_batch_versions: for
// each item, allocate or reuse a PID, retire the prior current FID (if any)
// to Replaced, mint a new Live FID, and insert it into its hash bucket. The
// whole batch commits as a single transaction; on any error nothing is
// durable.
func (s *Store) WriteBatchVersions(items []BatchItem) error {
	if len(items) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		pathCurrent := tx.Bucket(bucketPathCurrent)
		fileMeta := tx.Bucket(bucketFileMeta)
		fileToPath := tx.Bucket(bucketFileToPath)
		fileState := tx.Bucket(bucketFileState)
		hashIndex := tx.Bucket(bucketHashIndex)

		for _, item := range items {
			pid, err := getOrCreatePID(tx, item.Path)
			if err != nil {
				return err
			}

			if prevRaw := pathCurrent.Get(u64key(pid)); prevRaw != nil {
				prevFID := keyU64(prevRaw)
				if err := fileState.Put(u64key(prevFID), []byte{byte(StateReplaced)}); err != nil {
					return err
				}
			}

			fid, err := nextCounter(tx, counterNextFileID)
			if err != nil {
				return fmt.Errorf("store: allocate fid: %w", err)
			}

			if err := fileMeta.Put(u64key(fid), codec.Encode(item.Meta)); err != nil {
				return err
			}

			if err := fileToPath.Put(u64key(fid), u64key(pid)); err != nil {
				return err
			}

			if err := fileState.Put(u64key(fid), []byte{byte(StateLive)}); err != nil {
				return err
			}

			if err := pathCurrent.Put(u64key(pid), u64key(fid)); err != nil {
				return err
			}

			if err := insertHashEntry(hashIndex, item.Meta.Hash256, fid); err != nil {
				return err
			}
		}

		return nil
	})
}

func insertHashEntry(b *bbolt.Bucket, hash [codec.HashSize]byte, fid uint64) error {
	existing := codec.DecodeFIDList(b.Get(hash[:]))

	updated, changed := codec.InsertFIDSorted(existing, fid)
	if !changed {
		return nil
	}

	return b.Put(hash[:], codec.EncodeFIDList(updated))
}

// --- reads ---

// GetCurrentSizeMtime returns the size and mtime of the current observation
// at path, used as the scan pre-flight skip probe.
func (s *Store) GetCurrentSizeMtime(path string) (size, mtimeSecs uint64, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		pidRaw := tx.Bucket(bucketPathToID).Get([]byte(path))
		if pidRaw == nil {
			return nil
		}

		fidRaw := tx.Bucket(bucketPathCurrent).Get(pidRaw)
		if fidRaw == nil {
			return nil
		}

		metaRaw := tx.Bucket(bucketFileMeta).Get(fidRaw)
		if metaRaw == nil {
			return nil
		}

		var decodeErr error

		size, mtimeSecs, decodeErr = codec.PeekSizeMtime(metaRaw)
		if decodeErr != nil {
			return fmt.Errorf("store: decode fid %d: %w", keyU64(fidRaw), decodeErr)
		}

		ok = true

		return nil
	})

	return size, mtimeSecs, ok, err
}

// CurrentObservation is the current content observation for a path.
type CurrentObservation struct {
	FID   uint64
	PID   uint64
	State FileState
	Meta  codec.FileMeta
}

// GetCurrentByPath returns the current observation for path, if any.
func (s *Store) GetCurrentByPath(path string) (CurrentObservation, bool, error) {
	var (
		out   CurrentObservation
		found bool
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		pidRaw := tx.Bucket(bucketPathToID).Get([]byte(path))
		if pidRaw == nil {
			return nil
		}

		fidRaw := tx.Bucket(bucketPathCurrent).Get(pidRaw)
		if fidRaw == nil {
			return nil
		}

		fid := keyU64(fidRaw)

		metaRaw := tx.Bucket(bucketFileMeta).Get(fidRaw)
		if metaRaw == nil {
			return fmt.Errorf("%w: fid %d has no meta", ErrNotFound, fid)
		}

		meta, err := codec.Decode(metaRaw)
		if err != nil {
			return fmt.Errorf("store: decode fid %d: %w", fid, err)
		}

		stateRaw := tx.Bucket(bucketFileState).Get(fidRaw)

		out = CurrentObservation{
			FID:   fid,
			PID:   keyU64(pidRaw),
			State: FileState(stateRaw[0]),
			Meta:  meta,
		}
		found = true

		return nil
	})

	return out, found, err
}

// HashObservation is one entry returned by LookupByHash: a FID sharing a
// content hash, with its current path, state, and decoded meta.
type HashObservation struct {
	FID   uint64
	PID   uint64
	Path  string
	State FileState
	Meta  codec.FileMeta
}

// LookupByHash returns every observation (live or historical) sharing hash.
func (s *Store) LookupByHash(hash [codec.HashSize]byte) ([]HashObservation, error) {
	var out []HashObservation

	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketHashIndex).Get(hash[:])
		fids := codec.DecodeFIDList(raw)

		for _, fid := range fids {
			obs, err := loadObservation(tx, fid)
			if err != nil {
				return err
			}

			out = append(out, obs)
		}

		return nil
	})

	return out, err
}

func loadObservation(tx *bbolt.Tx, fid uint64) (HashObservation, error) {
	fidKey := u64key(fid)

	metaRaw := tx.Bucket(bucketFileMeta).Get(fidKey)
	if metaRaw == nil {
		return HashObservation{}, fmt.Errorf("%w: fid %d has no meta", ErrNotFound, fid)
	}

	meta, err := codec.Decode(metaRaw)
	if err != nil {
		return HashObservation{}, fmt.Errorf("store: decode fid %d: %w", fid, err)
	}

	pidRaw := tx.Bucket(bucketFileToPath).Get(fidKey)
	if pidRaw == nil {
		return HashObservation{}, fmt.Errorf("%w: fid %d has no path mapping", ErrNotFound, fid)
	}

	pathRaw := tx.Bucket(bucketIDToPath).Get(pidRaw)

	stateRaw := tx.Bucket(bucketFileState).Get(fidKey)

	return HashObservation{
		FID:   fid,
		PID:   keyU64(pidRaw),
		Path:  string(pathRaw),
		State: FileState(stateRaw[0]),
		Meta:  meta,
	}, nil
}

// ForEachHashGroup iterates every hash with its packed FID list in key
// order. fn must not mutate the store.
func (s *Store) ForEachHashGroup(fn func(hash [codec.HashSize]byte, fids []uint64) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHashIndex).ForEach(func(k, v []byte) error {
			var hash [codec.HashSize]byte
			copy(hash[:], k)

			return fn(hash, codec.DecodeFIDList(v))
		})
	})
}

// LiveFile is one Live observation, as surfaced by ForEachLiveFile.
type LiveFile struct {
	FID  uint64
	PID  uint64
	Path string
	Meta codec.FileMeta
}

// ForEachLiveFile iterates every FID whose state is Live, in FID order.
func (s *Store) ForEachLiveFile(fn func(LiveFile) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		fileState := tx.Bucket(bucketFileState)
		fileMeta := tx.Bucket(bucketFileMeta)
		fileToPath := tx.Bucket(bucketFileToPath)
		idToPath := tx.Bucket(bucketIDToPath)

		return fileState.ForEach(func(k, v []byte) error {
			if FileState(v[0]) != StateLive {
				return nil
			}

			fid := keyU64(k)

			metaRaw := fileMeta.Get(k)
			if metaRaw == nil {
				return fmt.Errorf("%w: fid %d has no meta", ErrNotFound, fid)
			}

			meta, err := codec.Decode(metaRaw)
			if err != nil {
				return fmt.Errorf("store: decode fid %d: %w", fid, err)
			}

			pidRaw := fileToPath.Get(k)
			if pidRaw == nil {
				return fmt.Errorf("%w: fid %d has no path mapping", ErrNotFound, fid)
			}

			return fn(LiveFile{
				FID:  fid,
				PID:  keyU64(pidRaw),
				Path: string(idToPath.Get(pidRaw)),
				Meta: meta,
			})
		})
	})
}

// ForEachFileState iterates every FID with its state, in FID order.
func (s *Store) ForEachFileState(fn func(fid uint64, state FileState, meta codec.FileMeta) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		fileMeta := tx.Bucket(bucketFileMeta)

		return tx.Bucket(bucketFileState).ForEach(func(k, v []byte) error {
			metaRaw := fileMeta.Get(k)
			if metaRaw == nil {
				return fmt.Errorf("%w: fid %d has no meta", ErrNotFound, keyU64(k))
			}

			meta, err := codec.Decode(metaRaw)
			if err != nil {
				return fmt.Errorf("store: decode fid %d: %w", keyU64(k), err)
			}

			return fn(keyU64(k), FileState(v[0]), meta)
		})
	})
}

// MarkMissingNotSeen implements spec.md §4.4's mark_missing_not_seen: any
// Live FID under one of roots whose path is absent from seen flips to
// Missing. Returns the number of FIDs flipped.
func (s *Store) MarkMissingNotSeen(roots []string, seen map[string]struct{}) (int, error) {
	count := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		pathCurrent := tx.Bucket(bucketPathCurrent)
		idToPath := tx.Bucket(bucketIDToPath)
		fileState := tx.Bucket(bucketFileState)

		return pathCurrent.ForEach(func(pidKey, fidKey []byte) error {
			path := string(idToPath.Get(pidKey))
			if !underAnyRoot(path, roots) {
				return nil
			}

			if _, ok := seen[path]; ok {
				return nil
			}

			stateRaw := fileState.Get(fidKey)
			if stateRaw == nil || FileState(stateRaw[0]) != StateLive {
				return nil
			}

			if err := fileState.Put(fidKey, []byte{byte(StateMissing)}); err != nil {
				return err
			}

			count++

			return nil
		})
	})

	return count, err
}

func underAnyRoot(path string, roots []string) bool {
	for _, root := range roots {
		if pathutil.UnderRoot(path, root) {
			return true
		}
	}

	return false
}

// MarkFilesMissing flips each listed FID's state from Live to Missing,
// ignoring FIDs already in a terminal state or absent. Returns the number
// actually flipped.
func (s *Store) MarkFilesMissing(fids []uint64) (int, error) {
	count := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		fileState := tx.Bucket(bucketFileState)

		for _, fid := range fids {
			key := u64key(fid)

			stateRaw := fileState.Get(key)
			if stateRaw == nil || FileState(stateRaw[0]) != StateLive {
				continue
			}

			if err := fileState.Put(key, []byte{byte(StateMissing)}); err != nil {
				return err
			}

			count++
		}

		return nil
	})

	return count, err
}
