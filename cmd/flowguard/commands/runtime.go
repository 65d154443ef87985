package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/flowguard/pkg/config"
	"github.com/openfroyo/flowguard/pkg/engine"
	"github.com/openfroyo/flowguard/pkg/policy"
	"github.com/openfroyo/flowguard/pkg/stores"
	"github.com/openfroyo/flowguard/pkg/telemetry"
)

// runtime is the wired set of components a command works with.
type runtime struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      *stores.SQLiteStore
	idem       engine.IdempotencyStore
	redis      *stores.RedisIdempotencyStore
	resolver   *config.Resolver
	classifier *policy.RegoClassifier
	tel        *telemetry.Telemetry
	orch       *engine.Orchestrator
}

type runtimeOptions struct {
	// telemetry enables metrics, tracing and persisted events.
	telemetry bool

	// sleeper replaces the real backoff wait.
	sleeper func(ctx context.Context, d time.Duration) error
}

// loadConfig reads --config, or returns the defaults when it is not set.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// commandLogger returns the global logger, at debug level with --verbose.
func commandLogger() zerolog.Logger {
	if verbose {
		return log.Logger.Level(zerolog.DebugLevel)
	}
	return log.Logger
}

// openRuntime loads the configuration, opens the journal and restores the
// orchestrator from it.
func openRuntime(ctx context.Context, opts runtimeOptions) (rt *runtime, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	rt = &runtime{
		cfg:      cfg,
		logger:   commandLogger(),
		resolver: config.NewResolver(cfg),
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	if opts.telemetry {
		rt.tel, err = telemetry.NewTelemetry(&cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		rt.logger = rt.tel.Logger.Zerolog()
	}

	rt.store, err = stores.NewSQLiteStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := rt.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := rt.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	switch cfg.Idempotency.Backend {
	case config.BackendSQLite:
		rt.idem = rt.store
	case config.BackendRedis:
		rt.redis, err = stores.NewRedisIdempotencyStore(ctx, *cfg.Idempotency.Redis)
		if err != nil {
			return nil, err
		}
		rt.idem = rt.redis
	default:
		rt.idem = engine.NewMemoryIdempotencyCache()
	}

	engineOpts := []engine.Option{
		engine.WithLogger(rt.logger),
		engine.WithJournal(rt.store),
		engine.WithIdempotencyStore(rt.idem),
		engine.WithPolicyResolver(rt.resolver),
	}

	if len(cfg.Classifier.RegoPaths) > 0 {
		rt.classifier, err = policy.NewRegoClassifier(ctx, rt.logger)
		if err != nil {
			return nil, err
		}
		if err := rt.classifier.Load(ctx, cfg.Classifier.RegoPaths); err != nil {
			return nil, fmt.Errorf("failed to load classification rules: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithClassifier(rt.classifier))
	}

	if rt.tel != nil {
		engineOpts = append(engineOpts,
			engine.WithMetrics(rt.tel.Metrics),
			engine.WithTracer(rt.tel.Tracer),
			engine.WithEvents(rt.tel.Events),
		)
		rt.tel.Events.Subscribe(rt.store.EventSink(rt.logger), nil)
	}

	if opts.sleeper != nil {
		engineOpts = append(engineOpts, engine.WithSleeper(opts.sleeper))
	}

	rt.orch = engine.NewOrchestrator(cfg.EngineConfig(), engineOpts...)
	if err := rt.orch.Restore(ctx); err != nil {
		return nil, err
	}

	return rt, nil
}

// Close releases everything openRuntime acquired. Pending events are flushed
// before the journal closes.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.classifier != nil {
		errs = append(errs, rt.classifier.Stop())
	}
	if rt.tel != nil {
		errs = append(errs, rt.tel.Shutdown(ctx))
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}

// withRuntime opens a runtime for the duration of fn.
func withRuntime(ctx context.Context, opts runtimeOptions, fn func(rt *runtime) error) (err error) {
	rt, err := openRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}
