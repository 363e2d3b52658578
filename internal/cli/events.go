package cli

import (
	"fmt"
	"time"

	"github.com/me/rumpsched/pkg/model"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var (
		db     string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the context-switch trace of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			opts := model.ListOptions{Limit: limit, Offset: offset}
			opts.Clamp()

			var (
				run    *model.Run
				events []model.SwitchEvent
				total  int
			)
			if db != "" {
				st, err := openStore(cmd.Context(), db)
				if err != nil {
					return err
				}
				defer st.Close()
				if run, err = st.GetRun(cmd.Context(), runID); err != nil {
					return fmt.Errorf("get run: %w", err)
				}
				if run == nil {
					return fmt.Errorf("run %s not found", runID)
				}
				if events, total, err = st.ListEvents(cmd.Context(), runID, opts); err != nil {
					return fmt.Errorf("list events: %w", err)
				}
			} else {
				var err error
				if run, err = client.GetRun(runID); err != nil {
					return fmt.Errorf("get run: %w", err)
				}
				list, pg, err := client.ListEvents(runID, opts)
				if err != nil {
					return fmt.Errorf("list events: %w", err)
				}
				events, total = list, pg.Total
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:      %s\n", run.ID)
			fmt.Fprintf(out, "Scenario: %s\n", run.Scenario)
			fmt.Fprintf(out, "State:    %s\n", run.State)
			if run.Error != "" {
				fmt.Fprintf(out, "Error:    %s\n", run.Error)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "%-6s %-12s %-10s %s\n", "SEQ", "AT", "PREV", "NEXT")
			for _, ev := range events {
				fmt.Fprintf(out, "%-6d %-12s %-10s %s\n",
					ev.Seq, time.Duration(ev.At).Round(time.Microsecond), ev.Prev, ev.Next)
			}
			if opts.Offset+len(events) < total {
				fmt.Fprintf(out, "\nShowing %d of %d events. Use --offset %d for more.\n",
					len(events), total, opts.Offset+len(events))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "Read from this SQLite database instead of the server")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Events to skip")
	return cmd
}
