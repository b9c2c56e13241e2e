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

// PotentialCmd implements spec.md §6's `potential` command: files sharing
// a prefix fingerprint but differing in full content. --min-size/--max-size
// are the size-range filter supplemented from the original tool
// (SPEC_FULL.md "SUPPLEMENTED FEATURES").
func PotentialCmd(st *store.Store) *Command {
	flags := flag.NewFlagSet("potential", flag.ContinueOnError)
	flagMinSize := flags.Uint64("min-size", 0, "Only show groups whose largest entry is at least this many bytes")
	flagMaxSize := flags.Uint64("max-size", 0, "Only show groups whose largest entry is at most this many bytes (0 = unbounded)")

	return &Command{
		Flags: flags,
		Usage: "potential <roots...> [flags]",
		Short: "List prefix-colliding, content-distinct files",
		Exec: func(_ context.Context, o *IO, args []string) error {
			roots, err := pathutil.NormalizeAll(args)
			if err != nil {
				return err
			}

			sizes := query.SizeRange{Min: *flagMinSize, Max: *flagMaxSize}

			groups, err := query.LoadPotentialGroups(st, pathfilter.New(roots), sizes)
			if err != nil {
				return err
			}

			for _, g := range groups {
				o.Printf("prefix=%s  files=%d\n", hex.EncodeToString(g.PrefixFP[:]), len(g.Entries))

				for _, e := range g.Entries {
					o.Printf("  %s  size=%d\n", e.Path, e.Meta.Size)
				}
			}

			return nil
		},
	}
}
