package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/jgaa/deldupes/internal/cliconfig"
	"github.com/jgaa/deldupes/internal/hashing"
	"github.com/jgaa/deldupes/internal/query"
	"github.com/jgaa/deldupes/internal/store"
)

// CheckCmd implements spec.md §6's `check` command: per-path
// classification into EXISTS / KNOWN_REMOVED / NOT_FOUND.
func CheckCmd(st *store.Store, quietDefault bool) *Command {
	flags := flag.NewFlagSet("check", flag.ContinueOnError)
	flagQuiet := flags.Bool("quiet", quietDefault, "Print one status token per input instead of details")

	defaults := cliconfig.Default()
	hashOpts := hashing.Options{MmapThreshold: defaults.MmapThreshold}

	return &Command{
		Flags: flags,
		Usage: "check <paths...> [flags]",
		Short: "Classify paths as existing, known-removed, or unknown",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("check: at least one path is required")
			}

			for _, p := range args {
				status, peers, err := query.CheckByPath(st, p, hashOpts)
				if err != nil {
					return fmt.Errorf("check: %s: %w", p, err)
				}

				if *flagQuiet {
					o.Printf("%s %s\n", status, p)
					continue
				}

				o.Printf("%s  %s\n", status, p)

				for _, peer := range peers {
					o.Printf("  also: %s\n", peer.Path)
				}
			}

			return nil
		},
	}
}
