package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the orchestrator summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *runtime) error {
				stats, err := rt.orch.GetStats(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), stats)
				}

				tw := newTable(cmd.OutOrStdout(), "METRIC", "VALUE")
				fmt.Fprintf(tw, "Active executions\t%d\n", stats.ActiveExecutions)
				fmt.Fprintf(tw, "Cached keys\t%d\n", stats.CachedKeys)
				fmt.Fprintf(tw, "DLQ items\t%d\n", stats.DLQItems)
				fmt.Fprintf(tw, "Success rate\t%.1f%%\n", stats.SuccessRate*100)
				fmt.Fprintf(tw, "Open circuits\t%d\n", stats.OpenCircuits)
				return tw.Flush()
			})
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one janitor sweep now",
		Long: `Remove execution records older than the execution retention, expired
idempotency keys and closed breakers idle beyond the circuit retention.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *runtime) error {
				res, err := rt.orch.Sweep(cmd.Context())
				if jsonOutput {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d executions, %d idempotency keys, %d circuit breakers\n",
						res.Executions, res.IdempotencyKeys, res.Circuits)
				}
				return err
			})
		},
	}
}
