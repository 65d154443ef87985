package telemetry

import (
	"context"
	"errors"
	"fmt"
)

// Telemetry is the observability bundle serve wires into the orchestrator.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry validates cfg and builds every component. Components that
// cfg disables are still returned and do nothing.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{Config: cfg}
	var err error
	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if t.Tracer, err = NewTracer(cfg); err != nil {
		return nil, errors.Join(err, t.Logger.Close())
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create metrics: %w", err), t.Logger.Close())
	}
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create event publisher: %w", err), t.Logger.Close())
	}

	t.Logger.zlog = t.Logger.zlog.With().
		Str("service", cfg.ServiceName).
		Str("version", cfg.ServiceVersion).
		Logger()
	return t, nil
}

// WithContext stores the logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// Shutdown drains queued events before flushing spans. The log output is
// closed last, even if an earlier step fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.Logger.Close(),
	)
}
