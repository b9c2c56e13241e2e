package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/jgaa/deldupes/internal/query"
	"github.com/jgaa/deldupes/internal/store"
)

// StatsCmd implements spec.md §6's `stats` command: a printed storage
// report. Human-readable size formatting is out of scope (spec.md §1);
// byte counts print raw.
func StatsCmd(st *store.Store) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage: "stats",
		Short: "Print storage and duplicate statistics",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			s, err := query.ComputeStats(st)
			if err != nil {
				return err
			}

			o.Printf("live: %d\n", s.Live)
			o.Printf("replaced: %d\n", s.Replaced)
			o.Printf("missing: %d\n", s.Missing)
			o.Printf("live bytes: %d\n", s.LiveBytes)
			o.Printf("duplicate groups: %d\n", s.DupeGroups)
			o.Printf("duplicate extra files: %d\n", s.DupeExtraFiles)
			o.Printf("duplicate bytes: %d\n", s.DupeBytes)

			return nil
		},
	}
}
