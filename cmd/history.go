// -- cmd/history.go --
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/caliper-cli/internal/observability"
	"github.com/xkilldash9x/caliper-cli/internal/store"
)

// newHistoryCmd creates the `history` command listing recent persisted runs.
func newHistoryCmd() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if cfg.Store.DatabaseURL == "" {
				return fmt.Errorf("history needs a database: set store.database_url or CALIPER_DB_URL")
			}

			pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to history database: %w", err)
			}
			defer pool.Close()

			st, err := store.New(ctx, pool, logger)
			if err != nil {
				return err
			}
			runs, err := st.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tSCENARIOS\tPASSED\tFAILED\tVIOLATIONS\tVCS")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					shortID(r.ID),
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.TotalScenarios, r.Passed, r.Failed, r.Violations,
					describeVCS(r))
			}
			return w.Flush()
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return historyCmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// describeVCS renders a compact branch@commit marker, "*" flagging a dirty
// worktree.
func describeVCS(r store.RunRow) string {
	if r.Commit == "" {
		return "-"
	}
	out := r.Commit
	if len(out) > 10 {
		out = out[:10]
	}
	if r.Branch != "" {
		out = r.Branch + "@" + out
	}
	if r.Dirty {
		out += "*"
	}
	return out
}
