package store

import "errors"

// ErrLockContention reports that another process already holds the
// database's exclusive lock. Callers should use errors.Is(err, ErrLockContention).
var ErrLockContention = errors.New("database in use")

// ErrCorruptDirectory reports a non-empty database directory that is
// missing the expected meta.toml or data file.
var ErrCorruptDirectory = errors.New("database directory is non-empty but missing expected files")

// ErrHashAlgoMismatch reports that a database was built with a different
// hash algorithm than the one this binary is compiled with (spec.md §9,
// "mixed historical schema").
var ErrHashAlgoMismatch = errors.New("database hash algorithm does not match this build")

// ErrNotFound is returned by lookups that find no matching record.
var ErrNotFound = errors.New("store: not found")

// ErrClosed names the closed-Store condition. No Store method returns it:
// methods other than Close do not check whether Close has been called.
var ErrClosed = errors.New("store: closed")
