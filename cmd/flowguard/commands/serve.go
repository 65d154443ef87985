package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/flowguard/pkg/config"
	"github.com/openfroyo/flowguard/pkg/engine"
)

func newServeCommand() *cobra.Command {
	var (
		noWatch        bool
		eventRetention time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the janitor, metrics endpoint and hot reload",
		Long: `Open the journal, restore the orchestrator state and keep it maintained
until interrupted.

While running, serve:
  - sweeps expired executions, idempotency keys and idle breakers
  - exposes Prometheus metrics
  - persists published events into the journal
  - reloads the configuration and classification rules on change`,
		Example: `  # Serve with a configuration file
  flowguard serve -c flowguard.yaml

  # Keep a week of events and disable hot reload
  flowguard serve -c flowguard.yaml --event-retention 168h --no-watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, runtimeOptions{telemetry: true}, func(rt *runtime) error {
				return serve(ctx, rt, !noWatch, eventRetention)
			})
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable configuration and rule hot reload")
	cmd.Flags().DurationVar(&eventRetention, "event-retention", 7*24*time.Hour, "delete persisted events older than this on every sweep (0 keeps them)")

	return cmd
}

func serve(ctx context.Context, rt *runtime, watch bool, eventRetention time.Duration) error {
	logger := rt.logger.With().Str("component", "serve").Logger()

	if err := rt.tel.Metrics.StartMetricsServer(ctx, logger); err != nil {
		return err
	}

	var janitor *engine.Janitor
	if rt.cfg.Janitor.Enabled {
		janitor = engine.NewJanitor(rt.orch, rt.cfg.Janitor.Interval, rt.logger)
		if err := janitor.Start(ctx); err != nil {
			return err
		}
		defer janitor.Stop()
	}

	if eventRetention > 0 {
		go pruneEvents(ctx, rt, rt.cfg.Janitor.Interval, eventRetention)
	}

	if watch && configPath != "" {
		watcher := config.NewWatcher(configPath, rt.resolver, rt.logger)
		watcher.OnReload(func(cfg *config.Config) {
			logger.Info().
				Strs("connectors", rt.resolver.Connectors()).
				Msg("Connector policies updated")
		})
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
	}

	if watch && rt.classifier != nil {
		if err := rt.classifier.Watch(ctx, rt.cfg.Classifier.RegoPaths); err != nil {
			return err
		}
	}

	stats, err := rt.orch.GetStats(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to compute stats")
	}
	logger.Info().
		Str("store", rt.cfg.Store.Path).
		Str("idempotency_backend", rt.cfg.Idempotency.Backend).
		Int("dlq_items", stats.DLQItems).
		Int("open_circuits", stats.OpenCircuits).
		Msg("Flowguard serving")

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	return nil
}

// pruneEvents deletes persisted events older than retention every interval.
func pruneEvents(ctx context.Context, rt *runtime, interval, retention time.Duration) {
	if interval <= 0 {
		interval = engine.DefaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.store.DeleteEventsBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				rt.logger.Error().Err(err).Msg("Failed to prune events")
				continue
			}
			if n > 0 {
				rt.logger.Debug().Int64("events", n).Msg("Pruned events")
			}
		}
	}
}
