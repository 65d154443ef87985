package engine

import (
	"context"
	"slices"
	"time"
)

// Operation is the unit of work executed by the orchestrator. It is usually a
// connector call built by the workflow executor.
type Operation func(ctx context.Context) (any, error)

// RetryPolicy controls how many attempts an execution gets and how long to
// wait between them.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int `json:"max_attempts"`

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay caps the computed delay before jitter.
	MaxDelay time.Duration `json:"max_delay"`

	// BackoffMultiplier is the growth factor between consecutive delays.
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	// JitterEnabled perturbs delays by up to ±25%.
	JitterEnabled bool `json:"jitter_enabled"`

	// RetryableErrorKinds lists the classifications that may be retried.
	RetryableErrorKinds []ErrorKind `json:"retryable_error_kinds"`
}

// DefaultRetryPolicy returns the process-wide default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		JitterEnabled:     true,
		RetryableErrorKinds: []ErrorKind{
			ErrorKindTimeout,
			ErrorKindRateLimit,
			ErrorKindNetwork,
			ErrorKindServiceUnavailable,
		},
	}
}

// IsRetryable returns true if the policy retries errors of the given kind.
func (p RetryPolicy) IsRetryable(kind ErrorKind) bool {
	return slices.Contains(p.RetryableErrorKinds, kind)
}

// Validate checks that the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return NewValidationError("max attempts must be at least 1")
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return NewValidationError("delays must not be negative")
	}
	if p.BackoffMultiplier < 1 {
		return NewValidationError("backoff multiplier must be at least 1")
	}
	for _, k := range p.RetryableErrorKinds {
		if err := k.Validate(); err != nil {
			return NewValidationError(err.Error())
		}
	}
	return nil
}

func (p RetryPolicy) clone() RetryPolicy {
	p.RetryableErrorKinds = slices.Clone(p.RetryableErrorKinds)
	return p
}

// PolicyOverride is a partial RetryPolicy. Nil fields keep the base value.
type PolicyOverride struct {
	MaxAttempts         *int           `json:"max_attempts,omitempty" yaml:"max_attempts" validate:"omitempty,gte=1"`
	InitialDelay        *time.Duration `json:"initial_delay,omitempty" yaml:"initial_delay" validate:"omitempty,gte=0"`
	MaxDelay            *time.Duration `json:"max_delay,omitempty" yaml:"max_delay" validate:"omitempty,gte=0"`
	BackoffMultiplier   *float64       `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier" validate:"omitempty,gte=1"`
	JitterEnabled       *bool          `json:"jitter_enabled,omitempty" yaml:"jitter_enabled"`
	RetryableErrorKinds []ErrorKind    `json:"retryable_error_kinds,omitempty" yaml:"retryable_error_kinds" validate:"omitempty,dive,oneof=TIMEOUT RATE_LIMIT NETWORK_ERROR SERVICE_UNAVAILABLE SERVER_ERROR UNKNOWN_ERROR"`
}

// Apply overlays the override on base and returns a fully populated policy.
func (o *PolicyOverride) Apply(base RetryPolicy) RetryPolicy {
	out := base.clone()
	if o == nil {
		return out
	}
	if o.MaxAttempts != nil {
		out.MaxAttempts = *o.MaxAttempts
	}
	if o.InitialDelay != nil {
		out.InitialDelay = *o.InitialDelay
	}
	if o.MaxDelay != nil {
		out.MaxDelay = *o.MaxDelay
	}
	if o.BackoffMultiplier != nil {
		out.BackoffMultiplier = *o.BackoffMultiplier
	}
	if o.JitterEnabled != nil {
		out.JitterEnabled = *o.JitterEnabled
	}
	if o.RetryableErrorKinds != nil {
		out.RetryableErrorKinds = slices.Clone(o.RetryableErrorKinds)
	}
	return out
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int `json:"failure_threshold"`

	// Cooldown is how long an open breaker waits before admitting probes.
	Cooldown time.Duration `json:"cooldown"`

	// HalfOpenMaxAttempts is the number of probes admitted while half-open.
	HalfOpenMaxAttempts int `json:"half_open_max_attempts"`
}

// DefaultCircuitBreakerConfig returns the process-wide default breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    3,
		Cooldown:            60 * time.Second,
		HalfOpenMaxAttempts: 1,
	}
}

// Validate checks that the configuration is usable.
func (c CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return NewValidationError("failure threshold must be at least 1")
	}
	if c.Cooldown < 0 {
		return NewValidationError("cooldown must not be negative")
	}
	if c.HalfOpenMaxAttempts < 1 {
		return NewValidationError("half-open max attempts must be at least 1")
	}
	return nil
}

// CircuitBreakerOverride is a partial CircuitBreakerConfig.
type CircuitBreakerOverride struct {
	FailureThreshold    *int           `json:"failure_threshold,omitempty" yaml:"failure_threshold" validate:"omitempty,gte=1"`
	Cooldown            *time.Duration `json:"cooldown,omitempty" yaml:"cooldown" validate:"omitempty,gte=0"`
	HalfOpenMaxAttempts *int           `json:"half_open_max_attempts,omitempty" yaml:"half_open_max_attempts" validate:"omitempty,gte=1"`
}

// Apply overlays the override on base and returns a fully populated config.
func (o *CircuitBreakerOverride) Apply(base CircuitBreakerConfig) CircuitBreakerConfig {
	if o == nil {
		return base
	}
	if o.FailureThreshold != nil {
		base.FailureThreshold = *o.FailureThreshold
	}
	if o.Cooldown != nil {
		base.Cooldown = *o.Cooldown
	}
	if o.HalfOpenMaxAttempts != nil {
		base.HalfOpenMaxAttempts = *o.HalfOpenMaxAttempts
	}
	return base
}

// RetryAttempt records a single invocation of an operation.
type RetryAttempt struct {
	AttemptNumber int        `json:"attempt_number"`
	Timestamp     time.Time  `json:"timestamp"`
	Error         string     `json:"error,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
}

// RetryableExecution is the retry record of one node within one workflow execution.
type RetryableExecution struct {
	ExecutionID    string                `json:"execution_id"`
	NodeID         string                `json:"node_id"`
	Attempts       []RetryAttempt        `json:"attempts"`
	Policy         RetryPolicy           `json:"policy"`
	Status         ExecutionStatus       `json:"status"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
	LastError      string                `json:"last_error,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	ConnectorID    string                `json:"connector_id,omitempty"`
	NodeType       string                `json:"node_type,omitempty"`
	NodeLabel      string                `json:"node_label,omitempty"`
	CircuitConfig  *CircuitBreakerConfig `json:"circuit_config,omitempty"`
}

// Key returns the table key of the execution.
func (e *RetryableExecution) Key() string {
	return ExecutionKey(e.ExecutionID, e.NodeID)
}

// clone returns a deep copy safe to hand out of the lock.
func (e *RetryableExecution) clone() RetryableExecution {
	out := *e
	out.Attempts = make([]RetryAttempt, len(e.Attempts))
	for i, a := range e.Attempts {
		if a.NextRetryAt != nil {
			t := *a.NextRetryAt
			a.NextRetryAt = &t
		}
		out.Attempts[i] = a
	}
	out.Policy = e.Policy.clone()
	if e.CircuitConfig != nil {
		cfg := *e.CircuitConfig
		out.CircuitConfig = &cfg
	}
	return out
}

// ExecutionKey joins an execution and node identifier into a table key.
func ExecutionKey(executionID, nodeID string) string {
	return executionID + ":" + nodeID
}

// IdempotencyRecord is a cached result of a successful side-effecting execution.
type IdempotencyRecord struct {
	Key         string    `json:"key"`
	NodeID      string    `json:"node_id"`
	ExecutionID string    `json:"execution_id"`
	Result      any       `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired returns true if the record is no longer valid at now.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// CircuitBreakerState is the state of one (connector, node) breaker.
type CircuitBreakerState struct {
	ConnectorID         string               `json:"connector_id"`
	NodeID              string               `json:"node_id"`
	State               CircuitState         `json:"state"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	OpenedAt            *time.Time           `json:"opened_at,omitempty"`
	LastFailureAt       *time.Time           `json:"last_failure_at,omitempty"`
	LastRecoveryAt      *time.Time           `json:"last_recovery_at,omitempty"`
	LastError           string               `json:"last_error,omitempty"`
	HalfOpenAttempts    int                  `json:"half_open_attempts"`
	Config              CircuitBreakerConfig `json:"config"`
}

// Key returns the registry key of the breaker.
func (s *CircuitBreakerState) Key() string {
	return CircuitKey(s.ConnectorID, s.NodeID)
}

// LastActivity returns the most recent of the failure, recovery and open
// timestamps, or nil if none is set.
func (s *CircuitBreakerState) LastActivity() *time.Time {
	var latest *time.Time
	for _, t := range []*time.Time{s.OpenedAt, s.LastFailureAt, s.LastRecoveryAt} {
		if t != nil && (latest == nil || t.After(*latest)) {
			latest = t
		}
	}
	return latest
}

func (s *CircuitBreakerState) clone() CircuitBreakerState {
	out := *s
	out.OpenedAt = copyTime(s.OpenedAt)
	out.LastFailureAt = copyTime(s.LastFailureAt)
	out.LastRecoveryAt = copyTime(s.LastRecoveryAt)
	return out
}

// CircuitKey joins a connector and node identifier into a registry key.
func CircuitKey(connectorID, nodeID string) string {
	return connectorID + ":" + nodeID
}

// RunOptions are the per-call overrides accepted by Orchestrator.Run.
type RunOptions struct {
	// Policy overrides fields of the resolved retry policy.
	Policy *PolicyOverride

	// IdempotencyKey dedupes side-effecting calls across replays.
	IdempotencyKey string

	// NodeType is the workflow node type, used for policy resolution and labels.
	NodeType string

	// ConnectorID enables circuit breaking for the (connector, node) pair.
	ConnectorID string

	// NodeLabel is a human readable node name for operators.
	NodeLabel string

	// CircuitBreaker overrides fields of the resolved breaker configuration.
	CircuitBreaker *CircuitBreakerOverride
}

// Stats is the dashboard summary returned by Orchestrator.GetStats.
type Stats struct {
	ActiveExecutions int     `json:"active_executions"`
	CachedKeys       int     `json:"cached_keys"`
	DLQItems         int     `json:"dlq_items"`
	SuccessRate      float64 `json:"success_rate"`
	OpenCircuits     int     `json:"open_circuits"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
