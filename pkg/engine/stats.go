package engine

import (
	"context"
	"fmt"
)

// GetStats summarizes the orchestrator for dashboards. SuccessRate is the
// fraction of finished records (succeeded, failed or dlq) that succeeded,
// and 0 when none has finished.
func (o *Orchestrator) GetStats(ctx context.Context) (Stats, error) {
	var (
		stats     Stats
		succeeded int
		finished  int
	)

	o.executions.Range(func(_, v any) bool {
		e := v.(*executionEntry)
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.removed {
			return true
		}
		s := e.exec.Status
		if s.IsActive() {
			stats.ActiveExecutions++
		}
		if !s.IsTerminal() {
			return true
		}
		finished++
		switch s {
		case ExecutionStatusDLQ:
			stats.DLQItems++
		case ExecutionStatusSucceeded:
			succeeded++
		}
		return true
	})

	if finished > 0 {
		stats.SuccessRate = float64(succeeded) / float64(finished)
	}
	stats.OpenCircuits = o.circuits.OpenCount()

	cached, err := o.idempotency.Len(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to count idempotency keys: %w", err)
	}
	stats.CachedKeys = cached

	return stats, nil
}
