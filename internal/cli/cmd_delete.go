package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/jgaa/deldupes/internal/fs"
	"github.com/jgaa/deldupes/internal/pathfilter"
	"github.com/jgaa/deldupes/internal/pathutil"
	"github.com/jgaa/deldupes/internal/planner"
	"github.com/jgaa/deldupes/internal/query"
	"github.com/jgaa/deldupes/internal/store"
)

// DeleteCmd implements spec.md §6's `delete` command and §4.9's
// planner: dry-run by default, filesystem removal only with --apply.
func DeleteCmd(st *store.Store) *Command {
	flags := flag.NewFlagSet("delete", flag.ContinueOnError)
	flagApply := flags.Bool("apply", false, "Actually remove files (default is dry-run)")
	flagPreserve := flags.String("preserve", "oldest",
		"Keeper policy: oldest, newest, shortest-path, longest-path, alpha-first, alpha-last")

	return &Command{
		Flags: flags,
		Usage: "delete <roots...> [flags]",
		Short: "Remove all-but-one copy from duplicate groups",
		Exec: func(_ context.Context, o *IO, args []string) error {
			policy, err := planner.ParsePolicy(*flagPreserve)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			roots, err := pathutil.NormalizeAll(args)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			filter := pathfilter.New(roots)

			groups, err := query.LoadDuplicateGroups(st, filter)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			plans, err := planner.BuildPlans(groups, filter, policy)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			results, err := planner.Apply(fs.NewReal(), st, plans, !*flagApply)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			verb := "WOULD_DELETE"
			if *flagApply {
				verb = "DELETED"
			}

			for _, r := range results {
				targets := r.Plan.ToDelete
				if *flagApply {
					for _, p := range r.Removed {
						o.Printf("%s %s\n", verb, p)
					}
				} else {
					for _, e := range targets {
						o.Printf("%s %s\n", verb, e.Path)
					}
				}
			}

			return nil
		},
	}
}
