package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the classification of a failed attempt used for retry decisions.
type ErrorKind string

const (
	// ErrorKindTimeout indicates the downstream call did not answer in time.
	ErrorKindTimeout ErrorKind = "TIMEOUT"

	// ErrorKindRateLimit indicates the downstream rejected the call for quota reasons.
	ErrorKindRateLimit ErrorKind = "RATE_LIMIT"

	// ErrorKindNetwork indicates a connection-level failure.
	ErrorKindNetwork ErrorKind = "NETWORK_ERROR"

	// ErrorKindServiceUnavailable indicates the downstream reported itself unavailable.
	ErrorKindServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE"

	// ErrorKindServerError indicates the downstream failed internally.
	ErrorKindServerError ErrorKind = "SERVER_ERROR"

	// ErrorKindUnknown is returned when no rule matched.
	ErrorKindUnknown ErrorKind = "UNKNOWN_ERROR"
)

// Validate checks if the error kind is one of the known kinds.
func (k ErrorKind) Validate() error {
	switch k {
	case ErrorKindTimeout, ErrorKindRateLimit, ErrorKindNetwork,
		ErrorKindServiceUnavailable, ErrorKindServerError, ErrorKindUnknown:
		return nil
	default:
		return fmt.Errorf("invalid error kind: %s", k)
	}
}

// Sentinel errors for errors.Is checks.
var (
	ErrCircuitOpen  = errors.New("circuit breaker is open")
	ErrDLQExhausted = errors.New("retry attempts exhausted")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
	ErrCancelled    = errors.New("execution cancelled")

	// ErrProcessRestarted is recorded on executions whose run was in flight
	// when the previous process stopped.
	ErrProcessRestarted = errors.New("process restarted before the execution finished")
)

// Common error codes.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeDLQExhausted = "DLQ_EXHAUSTED"
	ErrCodeCancelled    = "CANCELLED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// EngineError is a terminal error raised by the orchestrator itself rather
// than by the wrapped operation.
// nolint:revive // EngineError is intentionally named to distinguish from operation errors
type EngineError struct {
	// Code is the machine readable error code.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Kind is the classification of the last operation failure, if any.
	Kind ErrorKind `json:"kind,omitempty"`

	// ExecutionID is the workflow execution the error belongs to.
	ExecutionID string `json:"execution_id,omitempty"`

	// NodeID is the workflow node the error belongs to.
	NodeID string `json:"node_id,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.ExecutionID != "" || e.NodeID != "" {
		msg = fmt.Sprintf("%s (execution=%s, node=%s)", msg, e.ExecutionID, e.NodeID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches other EngineErrors by code and the package sentinels.
func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrDLQExhausted:
		return e.Code == ErrCodeDLQExhausted
	case ErrInvalidState:
		return e.Code == ErrCodeInvalidState
	case ErrNotFound:
		return e.Code == ErrCodeNotFound
	case ErrCancelled:
		return e.Code == ErrCodeCancelled
	}
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithExecution adds execution identity to an error.
func (e *EngineError) WithExecution(executionID, nodeID string) *EngineError {
	e.ExecutionID = executionID
	e.NodeID = nodeID
	return e
}

// WithKind records the classification of the failure behind the error.
func (e *EngineError) WithKind(kind ErrorKind) *EngineError {
	e.Kind = kind
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDLQError creates the error returned once an execution has used up its attempts.
func NewDLQError(executionID, nodeID string, attempts int, lastErr error) *EngineError {
	return (&EngineError{
		Code:    ErrCodeDLQExhausted,
		Message: fmt.Sprintf("max retry attempts exceeded after %d attempts, moved to dead-letter queue", attempts),
		Err:     lastErr,
	}).WithExecution(executionID, nodeID).WithDetail("attempts", attempts)
}

// NewInvalidStateError creates an error for an operation not permitted in the current state.
func NewInvalidStateError(message string) *EngineError {
	return &EngineError{Code: ErrCodeInvalidState, Message: message}
}

// NewNotFoundError creates an error for a missing record.
func NewNotFoundError(message string) *EngineError {
	return &EngineError{Code: ErrCodeNotFound, Message: message}
}

// NewValidationError creates an error for invalid caller input.
func NewValidationError(message string) *EngineError {
	return &EngineError{Code: ErrCodeValidation, Message: message}
}

// NewInternalError wraps a failure of the orchestrator's own storage.
func NewInternalError(message string, cause error) *EngineError {
	return &EngineError{Code: ErrCodeInternal, Message: message, Err: cause}
}

// NewCancelledError creates the error returned when a backoff wait is interrupted.
func NewCancelledError(executionID, nodeID string, cause error) *EngineError {
	return (&EngineError{
		Code:    ErrCodeCancelled,
		Message: "execution cancelled while waiting to retry",
		Err:     cause,
	}).WithExecution(executionID, nodeID)
}

// CircuitOpenError is returned when a circuit breaker refuses an attempt. The
// operation was not invoked (or, when Tripped is set, the failure that was
// just recorded opened the breaker).
type CircuitOpenError struct {
	// Snapshot is the breaker state at the time of rejection.
	Snapshot CircuitBreakerState `json:"snapshot"`

	// Tripped is true when the rejection was caused by the attempt that just failed.
	Tripped bool `json:"tripped"`

	// RetryAfter is the remaining cooldown, zero when the breaker is half-open.
	RetryAfter time.Duration `json:"retry_after"`
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	s := e.Snapshot
	msg := fmt.Sprintf("circuit breaker %s for %s (failures=%d)", s.State, s.Key(), s.ConsecutiveFailures)
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s, retry after %s", msg, e.RetryAfter.Round(time.Millisecond))
	}
	if s.LastError != "" {
		msg = fmt.Sprintf("%s: last error: %s", msg, s.LastError)
	}
	return msg
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// KindError attaches an explicit classification to an error. Connectors that
// know the nature of a failure wrap it so classifiers skip message matching.
type KindError struct {
	Kind ErrorKind
	Err  error
}

// WithKind wraps err with an explicit classification.
func WithKind(err error, kind ErrorKind) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *KindError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *KindError) Unwrap() error {
	return e.Err
}

// ErrorKind returns the attached classification.
func (e *KindError) ErrorKind() ErrorKind {
	return e.Kind
}

// IsCircuitOpen returns true if err is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsDLQExhausted returns true if err reports an exhausted retry budget.
func IsDLQExhausted(err error) bool {
	return errors.Is(err, ErrDLQExhausted)
}

// IsCancelled returns true if err reports a cancelled backoff wait.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsInvalidState returns true if err reports an invalid state transition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsNotFound returns true if err reports a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// AsCircuitOpen extracts the breaker rejection from err.
func AsCircuitOpen(err error) (*CircuitOpenError, bool) {
	var e *CircuitOpenError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsValidation returns true if err reports invalid caller input.
func IsValidation(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Code == ErrCodeValidation
}
