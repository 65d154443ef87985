package stores

import (
	"context"
	"time"

	"github.com/openfroyo/flowguard/pkg/engine"
	"github.com/openfroyo/flowguard/pkg/telemetry"
)

// EventQuery selects persisted events. Empty fields match everything.
type EventQuery struct {
	ExecutionID string
	Type        string
	Level       string
	Since       time.Time
	Limit       int
	Offset      int
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.Journal
	engine.IdempotencyStore

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Event operations
	AppendEvent(ctx context.Context, event *telemetry.Event) error
	ListEvents(ctx context.Context, q EventQuery) ([]telemetry.Event, error)

	// Inspection
	ListExecutions(ctx context.Context, status engine.ExecutionStatus, limit, offset int) ([]engine.RetryableExecution, error)
	GetExecution(ctx context.Context, executionID, nodeID string) (*engine.RetryableExecution, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var (
	_ Store                   = (*SQLiteStore)(nil)
	_ engine.IdempotencyStore = (*RedisIdempotencyStore)(nil)
)
