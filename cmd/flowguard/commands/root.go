package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowguard",
		Short: "Flowguard - resilience core for workflow automation",
		Long: `Flowguard wraps workflow node executions with retries, circuit breakers,
idempotency and a dead letter queue.

Features:
  - Exponential backoff with jitter and per-connector policies
  - Circuit breakers per (connector, node) pair
  - Idempotency cache in memory, SQLite or Redis
  - Dead letter queue with replay
  - Rego classification rules with hot reload`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newDLQCommand())
	rootCmd.AddCommand(newCircuitCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newSweepCommand())
	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newClassifyCommand())
	rootCmd.AddCommand(newEventsCommand())

	return rootCmd
}
