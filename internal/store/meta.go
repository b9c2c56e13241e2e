package store

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/jgaa/deldupes/internal/fs"
)

// metaFileName is the database-directory header written at init time.
const metaFileName = "meta.toml"

// dbFileName is the embedded KV engine's data file.
const dbFileName = "index.bbolt"

// lockFileName is the advisory-lock marker file (spec.md §6: "content
// irrelevant").
const lockFileName = "LOCK"

// currentFormat is the only meta.toml format version this build writes or
// accepts.
const currentFormat = 1

// dbMeta is the database directory header (spec.md §6).
type dbMeta struct {
	Format     int    `toml:"format"`
	App        string `toml:"app"`
	DBKind     string `toml:"db_kind"`
	HashFull   string `toml:"hash_full"`
	HashPrefix string `toml:"hash_prefix"`
}

func writeMeta(fsys fs.FS, dir string, m dbMeta) error {
	var buf bytes.Buffer

	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("store: encode meta.toml: %w", err)
	}

	if err := fsys.WriteFileAtomic(filepath.Join(dir, metaFileName), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("store: write meta.toml: %w", err)
	}

	return nil
}

func readMeta(fsys fs.FS, dir string) (dbMeta, error) {
	var m dbMeta

	data, err := fsys.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return m, fmt.Errorf("store: read meta.toml: %w", err)
	}

	if err := toml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("store: parse meta.toml: %w", err)
	}

	return m, nil
}
