package engine

import (
	"context"
)

// Journal is a durable write-through copy of execution and breaker records.
// The orchestrator keeps working from memory; journal failures are logged and
// never fail a Run.
type Journal interface {
	// SaveExecution inserts or replaces an execution record.
	SaveExecution(ctx context.Context, exec *RetryableExecution) error

	// DeleteExecution removes an execution record.
	DeleteExecution(ctx context.Context, executionID, nodeID string) error

	// LoadExecutions returns every stored execution record.
	LoadExecutions(ctx context.Context) ([]RetryableExecution, error)

	// SaveCircuit inserts or replaces a breaker record.
	SaveCircuit(ctx context.Context, state *CircuitBreakerState) error

	// DeleteCircuit removes a breaker record.
	DeleteCircuit(ctx context.Context, connectorID, nodeID string) error

	// LoadCircuits returns every stored breaker record.
	LoadCircuits(ctx context.Context) ([]CircuitBreakerState, error)
}

// PolicyResolver supplies per-connector overrides. Either return value may
// be nil. Implementations must be safe for concurrent use.
type PolicyResolver interface {
	Resolve(connectorID, nodeType string) (*PolicyOverride, *CircuitBreakerOverride)
}

// PolicyResolverFunc adapts a function to the PolicyResolver interface.
type PolicyResolverFunc func(connectorID, nodeType string) (*PolicyOverride, *CircuitBreakerOverride)

// Resolve calls f(connectorID, nodeType).
func (f PolicyResolverFunc) Resolve(connectorID, nodeType string) (*PolicyOverride, *CircuitBreakerOverride) {
	return f(connectorID, nodeType)
}
