package cli

import (
	"context"
	"encoding/hex"

	flag "github.com/spf13/pflag"

	"github.com/jgaa/deldupes/internal/pathfilter"
	"github.com/jgaa/deldupes/internal/pathutil"
	"github.com/jgaa/deldupes/internal/query"
	"github.com/jgaa/deldupes/internal/store"
)

// DupesCmd implements spec.md §6's `dupes` command. --min-count is a
// convenience filter supplemented from the original tool (SPEC_FULL.md
// "SUPPLEMENTED FEATURES").
func DupesCmd(st *store.Store) *Command {
	flags := flag.NewFlagSet("dupes", flag.ContinueOnError)
	flagMinCount := flags.Int("min-count", 2, "Only show groups with at least this many live copies")

	return &Command{
		Flags: flags,
		Usage: "dupes <roots...> [flags]",
		Short: "List exact duplicate groups",
		Exec: func(_ context.Context, o *IO, args []string) error {
			roots, err := pathutil.NormalizeAll(args)
			if err != nil {
				return err
			}

			groups, err := query.LoadDuplicateGroups(st, pathfilter.New(roots))
			if err != nil {
				return err
			}

			for _, g := range groups {
				if len(g.Entries) < *flagMinCount {
					continue
				}

				o.Printf("%s  hash=%s  copies=%d\n", g.Header, hex.EncodeToString(g.Hash[:]), len(g.Entries))

				for _, e := range g.Entries {
					o.Printf("  %s  size=%d\n", e.Path, e.Meta.Size)
				}
			}

			return nil
		},
	}
}
