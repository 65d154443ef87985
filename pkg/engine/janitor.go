package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultJanitorInterval is how often the janitor sweeps by default.
const DefaultJanitorInterval = time.Hour

// SweepResult counts the entries removed by one sweep.
type SweepResult struct {
	Executions      int `json:"executions"`
	IdempotencyKeys int `json:"idempotency_keys"`
	Circuits        int `json:"circuits"`
}

// Sweep removes execution records older than the execution retention that
// have no run in flight, expired idempotency records, and closed breakers
// idle beyond the circuit retention. A failure in one table does not stop
// the others.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		result SweepResult
		errs   []error
	)
	now := o.now()

	o.executions.Range(func(k, v any) bool {
		e := v.(*executionEntry)
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.removed || e.active > 0 || now.Sub(e.exec.CreatedAt) <= o.config.ExecutionRetention {
			return true
		}
		if o.journal != nil {
			// Delete before unpublishing the entry so a replacement
			// record is never journaled ahead of the delete.
			if err := o.journal.DeleteExecution(ctx, e.exec.ExecutionID, e.exec.NodeID); err != nil {
				errs = append(errs, fmt.Errorf("delete execution %s: %w", k, err))
				return true
			}
		}
		e.removed = true
		o.executions.CompareAndDelete(k, v)
		result.Executions++
		return true
	})

	n, err := o.idempotency.Sweep(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("sweep idempotency keys: %w", err))
	}
	result.IdempotencyKeys = n

	for _, st := range o.circuits.Sweep(now, o.config.CircuitRetention) {
		result.Circuits++
		o.metrics.DeleteCircuitState(st.ConnectorID, st.NodeID)
		if o.journal != nil {
			if err := o.journal.DeleteCircuit(ctx, st.ConnectorID, st.NodeID); err != nil {
				errs = append(errs, fmt.Errorf("delete circuit %s: %w", st.Key(), err))
			}
		}
	}

	o.metrics.RecordJanitorEvictions("executions", result.Executions)
	o.metrics.RecordJanitorEvictions("idempotency_keys", result.IdempotencyKeys)
	o.metrics.RecordJanitorEvictions("circuits", result.Circuits)
	o.metrics.SetDLQItems(o.dlqCount())
	_ = o.events.PublishSweep(result.Executions, result.IdempotencyKeys, result.Circuits)

	o.logger.Debug().
		Int("executions", result.Executions).
		Int("idempotency_keys", result.IdempotencyKeys).
		Int("circuits", result.Circuits).
		Msg("Janitor sweep complete")

	return result, errors.Join(errs...)
}

// Janitor runs Orchestrator.Sweep on a fixed interval.
type Janitor struct {
	orch     *Orchestrator
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a janitor for o. A non-positive interval uses
// DefaultJanitorInterval.
func NewJanitor(o *Orchestrator, interval time.Duration, logger zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &Janitor{
		orch:     o,
		interval: interval,
		logger:   logger.With().Str("component", "janitor").Logger(),
	}
}

// Start launches the sweep loop. It runs until ctx ends or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.done != nil {
		return NewInvalidStateError("janitor already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go j.loop(ctx, j.done)

	j.logger.Info().Dur("interval", j.interval).Msg("Janitor started")
	return nil
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := j.orch.Sweep(ctx); err != nil {
				j.logger.Error().Err(err).Msg("Janitor sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the sweep loop and waits for it to exit. It is a no-op if the
// janitor is not running.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	j.logger.Info().Msg("Janitor stopped")
}
