package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/flowguard/pkg/engine"
)

func newCircuitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "circuit",
		Short: "Inspect and reset circuit breakers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracked circuit breakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *runtime) error {
				return printCircuits(cmd.OutOrStdout(), rt.orch.ListCircuits())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <connectorId> <nodeId>",
		Short: "Show one circuit breaker",
		Long: `Show the breaker of a (connector, node) pair. Pairs that have never
failed report a closed breaker with the default configuration.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *runtime) error {
				st := rt.orch.GetCircuitState(args[0], args[1])
				return printCircuits(cmd.OutOrStdout(), []engine.CircuitBreakerState{st})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "reset <connectorId> <nodeId>",
		Short:   "Force-close a circuit breaker",
		Example: `  flowguard circuit reset slack post-message`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *runtime) error {
				st, err := rt.orch.ResetCircuit(args[0], args[1])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), st)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Circuit %s is now %s\n", st.Key(), st.State)
				return nil
			})
		},
	})

	return cmd
}
