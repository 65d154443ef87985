package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/flowguard/pkg/stores"
)

func newEventsCommand() *cobra.Command {
	var (
		q     stores.EventQuery
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events persisted by serve",
		Example: `  # Last hour of circuit transitions
  flowguard events --type circuit.state_changed --since 1h

  # Everything that happened to one execution
  flowguard events --execution exec-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}

			return withRuntime(cmd.Context(), runtimeOptions{}, func(rt *runtime) error {
				events, err := rt.store.ListEvents(cmd.Context(), q)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), events)
				}
				if len(events) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No events")
					return nil
				}

				tw := newTable(cmd.OutOrStdout(), "TIME", "LEVEL", "TYPE", "EXECUTION", "NODE", "MESSAGE")
				for _, ev := range events {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						ago(ev.Timestamp), ev.Level, ev.Type, dash(ev.ExecutionID), dash(ev.NodeID), truncate(ev.Message, 70))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&q.ExecutionID, "execution", "", "only events of this execution")
	cmd.Flags().StringVar(&q.Type, "type", "", "only events of this type")
	cmd.Flags().StringVar(&q.Level, "level", "", "only events of this level")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "maximum number of events")

	return cmd
}
