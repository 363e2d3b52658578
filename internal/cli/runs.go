package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/rumpsched/internal/store"
	"github.com/me/rumpsched/pkg/model"
	"github.com/spf13/cobra"
)

// openStore opens and migrates the SQLite trace database at path.
func openStore(ctx context.Context, path string) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate trace db: %w", err)
	}
	return st, nil
}

func newRunsCmd() *cobra.Command {
	var (
		db      string
		state   string
		scen    string
		limit   int
		offset  int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOptions{Limit: limit, Offset: offset, State: state, Scenario: scen}
			opts.Clamp()

			var (
				runs  []*model.Run
				total int
			)
			if db != "" {
				st, err := openStore(cmd.Context(), db)
				if err != nil {
					return err
				}
				defer st.Close()
				if runs, total, err = st.ListRuns(cmd.Context(), opts); err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
			} else {
				list, pg, err := client.ListRuns(opts)
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				runs, total = list, pg.Total
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}
			fmt.Fprintf(out, "%-40s %-10s %-11s %-8s %-9s %-10s %s\n",
				"ID", "SCENARIO", "STATE", "THREADS", "SWITCHES", "VTIME", "CREATED")
			for _, r := range runs {
				fmt.Fprintf(out, "%-40s %-10s %-11s %-8d %-9d %-10s %s\n",
					r.ID, r.Scenario, r.State, r.Threads, r.Switches,
					time.Duration(r.VirtualTime).Round(time.Microsecond),
					humanize.Time(r.CreatedAt))
			}
			if opts.Offset+len(runs) < total {
				fmt.Fprintf(out, "\nShowing %d of %d runs. Use --offset %d for more.\n",
					len(runs), total, opts.Offset+len(runs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "Read from this SQLite database instead of the server")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (RUNNING, COMPLETED, FAILED)")
	cmd.Flags().StringVar(&scen, "scenario", "", "Filter by scenario name")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print runs as JSON")
	return cmd
}
