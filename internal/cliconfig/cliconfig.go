// Package cliconfig centralizes the default flag values shared across
// deldupes subcommands (SPEC_FULL.md "AMBIENT STACK" — Configuration).
// There is no config file; every setting here is a CLI flag default.
package cliconfig

import "github.com/jgaa/deldupes/internal/hashing"

// DefaultDBName is used when --db is not given.
const DefaultDBName = "deldupes"

// Defaults holds the flag defaults every command shares.
type Defaults struct {
	Threads        int
	BatchSize      int
	MmapThreshold  int64
	FollowSymlinks bool
	Recursive      bool
	DetectDeletes  bool
	PreservePolicy string
}

// Default returns the baseline Defaults. Threads is resolved lazily by
// the scan command itself (pipeline.DefaultThreads), since it depends on
// the running machine, not a fixed constant.
func Default() Defaults {
	return Defaults{
		BatchSize:      10_000,
		MmapThreshold:  hashing.DefaultMmapThreshold,
		FollowSymlinks: false,
		Recursive:      true,
		DetectDeletes:  true,
		PreservePolicy: "oldest",
	}
}
