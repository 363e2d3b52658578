package cli

import (
	"fmt"

	"github.com/me/rumpsched/internal/scenario"
	"github.com/spf13/cobra"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the built-in scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s %-8s %-7s %s\n", "NAME", "THREADS", "ROUNDS", "DESCRIPTION")
			for _, sc := range scenario.List() {
				fmt.Fprintf(out, "%-12s %-8d %-7d %s\n", sc.Name, sc.Defaults.Threads, sc.Defaults.Rounds, sc.Description)
			}
			return nil
		},
	}
}
