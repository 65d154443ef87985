package engine

import (
	"fmt"
)

// ExecutionStatus represents the lifecycle status of a retryable execution.
type ExecutionStatus string

const (
	// ExecutionStatusPending indicates the first attempt is running or about to run.
	ExecutionStatusPending ExecutionStatus = "pending"

	// ExecutionStatusRetrying indicates a second or later attempt is running or scheduled.
	ExecutionStatusRetrying ExecutionStatus = "retrying"

	// ExecutionStatusSucceeded indicates an attempt completed successfully.
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"

	// ExecutionStatusFailed indicates the execution failed with a non-retryable error.
	ExecutionStatusFailed ExecutionStatus = "failed"

	// ExecutionStatusDLQ indicates the execution exhausted its attempts.
	ExecutionStatusDLQ ExecutionStatus = "dlq"
)

// IsTerminal returns true if the status represents a final state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed || s == ExecutionStatusDLQ
}

// IsActive returns true if the execution is pending or retrying.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusRetrying
}

// Validate checks if the execution status is valid.
func (s ExecutionStatus) Validate() error {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRetrying, ExecutionStatusSucceeded,
		ExecutionStatusFailed, ExecutionStatusDLQ:
		return nil
	default:
		return fmt.Errorf("invalid execution status: %s", s)
	}
}

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed admits attempts and counts consecutive failures.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen rejects attempts until the cooldown has elapsed.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen admits a bounded number of probe attempts.
	CircuitHalfOpen CircuitState = "half_open"
)

// Validate checks if the circuit state is valid.
func (s CircuitState) Validate() error {
	switch s {
	case CircuitClosed, CircuitOpen, CircuitHalfOpen:
		return nil
	default:
		return fmt.Errorf("invalid circuit state: %s", s)
	}
}
