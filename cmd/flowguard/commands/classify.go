package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/flowguard/pkg/config"
	"github.com/openfroyo/flowguard/pkg/engine"
	"github.com/openfroyo/flowguard/pkg/policy"
)

func newClassifyCommand() *cobra.Command {
	var (
		connectorID string
		nodeType    string
	)

	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Show how an error message would be classified",
		Long: `Classify an error message with the configured rules and report whether
the default policy of the connector would retry it.`,
		Example: `  flowguard classify "connect ETIMEDOUT"
  flowguard classify -c flowguard.yaml --connector stripe "quota exceeded"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			classifier, err := policy.NewRegoClassifier(ctx, commandLogger())
			if err != nil {
				return err
			}
			if len(cfg.Classifier.RegoPaths) > 0 {
				if err := classifier.Load(ctx, cfg.Classifier.RegoPaths); err != nil {
					return err
				}
			}

			d := classifier.Explain(ctx, engine.Failure{
				Err:         errors.New(args[0]),
				ConnectorID: connectorID,
				NodeType:    nodeType,
			})

			po, _ := config.NewResolver(cfg).Resolve(connectorID, nodeType)
			retryable := po.Apply(cfg.EngineConfig().DefaultPolicy).IsRetryable(d.Kind)

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"kind":      d.Kind,
					"source":    d.Source,
					"retryable": retryable,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (decided by %s, retryable: %t)\n", d.Kind, d.Source, retryable)
			return nil
		},
	}

	cmd.Flags().StringVar(&connectorID, "connector", "", "connector id passed to the rules")
	cmd.Flags().StringVar(&nodeType, "node-type", "", "node type passed to the rules")

	return cmd
}
