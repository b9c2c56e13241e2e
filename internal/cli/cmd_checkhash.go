package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/jgaa/deldupes/internal/query"
	"github.com/jgaa/deldupes/internal/store"
)

// CheckHashCmd implements spec.md §6's `check-hash` command: per-hash
// classification into EXISTS / KNOWN_REMOVED / NOT_FOUND, consulting only
// the hash index.
func CheckHashCmd(st *store.Store, quietDefault bool) *Command {
	flags := flag.NewFlagSet("check-hash", flag.ContinueOnError)
	flagQuiet := flags.Bool("quiet", quietDefault, "Print one status token per input instead of details")

	return &Command{
		Flags: flags,
		Usage: "check-hash <hashes...> [flags]",
		Short: "Classify hashes as existing, known-removed, or unknown",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("check-hash: at least one hash is required")
			}

			for _, h := range args {
				status, peers, err := query.CheckByHash(st, h)
				if err != nil {
					return fmt.Errorf("check-hash: %s: %w", h, err)
				}

				if *flagQuiet {
					o.Printf("%s %s\n", status, h)
					continue
				}

				o.Printf("%s  %s\n", status, h)

				for _, peer := range peers {
					o.Printf("  %s\n", peer.Path)
				}
			}

			return nil
		},
	}
}
