package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/flowguard/pkg/config"
	"github.com/openfroyo/flowguard/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Long: `Validate a flowguard configuration file.

This command checks:
  - YAML syntax and environment expansion
  - Field constraints (attempts, delays, thresholds, backends)
  - Error kind names in retryable lists
  - That classification rules under classifier.rego_paths compile`,
		Example: `  # Validate the file given with --config
  flowguard validate -c flowguard.yaml

  # Validate a specific file
  flowguard validate ./deploy/flowguard.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no configuration file given; pass a path or --config")
			}

			log.Debug().Str("path", path).Msg("Validating configuration")

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			rules := 0
			if len(cfg.Classifier.RegoPaths) > 0 {
				classifier, err := policy.NewRegoClassifier(cmd.Context(), commandLogger())
				if err != nil {
					return err
				}
				if err := classifier.Load(cmd.Context(), cfg.Classifier.RegoPaths); err != nil {
					return fmt.Errorf("classification rules: %w", err)
				}
				rules = len(classifier.Rules()) - 1
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"path":       path,
					"valid":      true,
					"connectors": len(cfg.Connectors),
					"rules":      rules,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (%d connectors, %d classification rules)\n",
				path, len(cfg.Connectors), rules)
			return nil
		},
	}

	return cmd
}
