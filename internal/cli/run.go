package cli

import (
	"fmt"
	"time"

	"github.com/me/rumpsched/internal/scenario"
	"github.com/me/rumpsched/pkg/model"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		threads  int
		rounds   int
		traceDB  string
		platform string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Boot a machine and run a scenario on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if platform != "" {
				cfg.Platform = platform
			}
			if traceDB != "" {
				cfg.TraceDB = traceDB
			}
			if err := validateConfig(); err != nil {
				return err
			}
			p := scenario.Params{Threads: threads, Rounds: rounds}
			ctx := cmd.Context()

			var (
				res *scenario.Result
				run *model.Run
				err error
			)
			if cfg.TraceDB != "" {
				st, serr := openStore(ctx, cfg.TraceDB)
				if serr != nil {
					return serr
				}
				defer st.Close()
				run, res, err = scenario.Record(ctx, st, args[0], p, cfg, logger)
			} else {
				res, err = scenario.Run(ctx, args[0], p, cfg, logger)
			}

			out := cmd.OutOrStdout()
			if res != nil && !quiet {
				for _, line := range res.Output {
					fmt.Fprintln(out, line)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s: %d threads, %d switches, %s virtual time\n",
				res.Scenario, res.Threads, res.Switches, res.VirtualTime.Round(time.Microsecond))
			if run != nil {
				fmt.Fprintf(out, "recorded %s\n", run.ID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&threads, "threads", 0, "Number of worker threads (0 = scenario default)")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "Rounds per thread (0 = scenario default)")
	cmd.Flags().StringVar(&traceDB, "trace-db", "", "Record the run and its switch trace in this SQLite database")
	cmd.Flags().StringVar(&platform, "platform", "", "Platform override: sim or host")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the summary")
	return cmd
}
