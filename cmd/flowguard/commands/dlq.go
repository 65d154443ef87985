package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDLQCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered executions",
		Long: `Executions that exhaust their retry attempts land in the dead letter queue.
Replaying one resets its attempts so the next run starts fresh.`,
	}

	cmd.AddCommand(newDLQListCommand())
	cmd.AddCommand(newDLQReplayCommand())

	return cmd
}

func newDLQListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered executions, most recent first",
		Example: `  flowguard dlq list
  flowguard dlq list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *runtime) error {
				return printExecutions(cmd.OutOrStdout(), rt.orch.ListDLQ())
			})
		},
	}
}

func newDLQReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <executionId> <nodeId>",
		Short: "Reset a dead-lettered execution for another run",
		Example: `  flowguard dlq replay exec-42 send-email`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			executionID, nodeID := args[0], args[1]

			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *runtime) error {
				if err := rt.orch.Replay(cmd.Context(), executionID, nodeID); err != nil {
					return err
				}
				if jsonOutput {
					ex, _ := rt.orch.GetRetryStatus(executionID, nodeID)
					return printJSON(cmd.OutOrStdout(), ex)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Replayed %s/%s, status is now pending\n", executionID, nodeID)
				return nil
			})
		},
	}
}
