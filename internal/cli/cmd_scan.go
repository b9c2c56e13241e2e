package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/jgaa/deldupes/internal/cliconfig"
	"github.com/jgaa/deldupes/internal/hashing"
	"github.com/jgaa/deldupes/internal/pathutil"
	"github.com/jgaa/deldupes/internal/pipeline"
	"github.com/jgaa/deldupes/internal/store"
)

// ScanCmd implements spec.md §6's `scan` command: walk roots, hash
// changed files, commit batched observations, and optionally detect
// files that went missing since the last scan.
func ScanCmd(st *store.Store, log zerolog.Logger) *Command {
	defaults := cliconfig.Default()

	flags := flag.NewFlagSet("scan", flag.ContinueOnError)
	flagThreads := flags.Int("threads", 0, "Hash worker count (default: available_parallelism-1)")
	flagFollowSymlinks := flags.Bool("follow-symlinks", defaults.FollowSymlinks, "Follow symlinked directories")
	flagNoRecursive := flags.Bool("no-recursive", false, "Only scan the immediate contents of each root")
	flagNoDetectDeletes := flags.Bool("no-detect-deletes", false, "Skip the missing-detection pass")

	return &Command{
		Flags: flags,
		Usage: "scan <roots...> [flags]",
		Short: "Index files under one or more roots",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("scan: at least one root is required")
			}

			roots, err := pathutil.NormalizeAll(args)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}

			opts := pipeline.Options{
				Roots:          roots,
				Threads:        *flagThreads,
				FollowSymlinks: *flagFollowSymlinks,
				Recursive:      !*flagNoRecursive,
				DetectDeletes:  !*flagNoDetectDeletes,
				HashOptions:    hashing.Options{MmapThreshold: defaults.MmapThreshold},
			}

			stats, err := pipeline.Run(st, opts, log)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}

			o.Printf("files hashed: %d\n", stats.FilesHashed)
			o.Printf("batches written: %d\n", stats.BatchesWritten)

			if opts.DetectDeletes {
				o.Printf("missing detected: %d\n", stats.MissingDetected)
			}

			return nil
		},
	}
}
