package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/flowguard/pkg/telemetry"
)

const (
	// DefaultExecutionRetention is how long execution records are kept.
	DefaultExecutionRetention = 7 * 24 * time.Hour

	// DefaultCircuitRetention is how long an idle closed breaker is kept.
	DefaultCircuitRetention = 7 * 24 * time.Hour
)

// Config holds the process-wide defaults of an Orchestrator.
type Config struct {
	// DefaultPolicy is the retry policy used when nothing overrides it.
	DefaultPolicy RetryPolicy

	// DefaultCircuitBreaker is the breaker configuration used when nothing overrides it.
	DefaultCircuitBreaker CircuitBreakerConfig

	// IdempotencyTTL is the lifetime of cached results.
	IdempotencyTTL time.Duration

	// ExecutionRetention is the age after which idle execution records are swept.
	ExecutionRetention time.Duration

	// CircuitRetention is the idle time after which closed breakers are swept.
	CircuitRetention time.Duration
}

// DefaultConfig returns the built-in orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPolicy:         DefaultRetryPolicy(),
		DefaultCircuitBreaker: DefaultCircuitBreakerConfig(),
		IdempotencyTTL:        DefaultIdempotencyTTL,
		ExecutionRetention:    DefaultExecutionRetention,
		CircuitRetention:      DefaultCircuitRetention,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultPolicy.MaxAttempts == 0 {
		c.DefaultPolicy = def.DefaultPolicy
	}
	if c.DefaultCircuitBreaker.FailureThreshold == 0 {
		c.DefaultCircuitBreaker = def.DefaultCircuitBreaker
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = def.IdempotencyTTL
	}
	if c.ExecutionRetention <= 0 {
		c.ExecutionRetention = def.ExecutionRetention
	}
	if c.CircuitRetention <= 0 {
		c.CircuitRetention = def.CircuitRetention
	}
	return c
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The orchestrator adds a component field.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger.With().Str("component", "orchestrator").Logger()
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer enables OpenTelemetry spans for runs and attempts.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithEvents enables event publishing.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(o *Orchestrator) { o.events = ep }
}

// WithClassifier replaces the heuristic error classifier.
func WithClassifier(c Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithIdempotencyStore replaces the in-memory idempotency cache.
func WithIdempotencyStore(s IdempotencyStore) Option {
	return func(o *Orchestrator) { o.idempotency = s }
}

// WithJournal enables write-through persistence of execution and breaker records.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithPolicyResolver installs per-connector policy overrides.
func WithPolicyResolver(r PolicyResolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleeper replaces the backoff wait. The function must return ctx.Err()
// when ctx ends before d has elapsed.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithRandom sets the jitter source. It must return values in [0, 1).
func WithRandom(rnd func() float64) Option {
	return func(o *Orchestrator) { o.rnd = rnd }
}

// Orchestrator runs operations with retries, circuit breaking and
// idempotency. All methods are safe for concurrent use.
type Orchestrator struct {
	config      Config
	executions  sync.Map // key -> *executionEntry
	circuits    *CircuitBreakerRegistry
	idempotency IdempotencyStore
	classifier  Classifier
	journal     Journal
	resolver    PolicyResolver

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rnd   func() float64
}

// executionEntry guards one RetryableExecution. active counts in-flight Run
// calls; the janitor never removes an entry while it is non-zero.
type executionEntry struct {
	mu      sync.Mutex
	exec    RetryableExecution
	active  int
	cancels map[uint64]context.CancelFunc
	nextID  uint64
	removed bool
}

// NewOrchestrator creates an orchestrator with the given defaults.
func NewOrchestrator(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:     cfg.withDefaults(),
		classifier: HeuristicClassifier{},
		logger:     zerolog.Nop(),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.idempotency == nil {
		o.idempotency = &MemoryIdempotencyCache{now: o.now}
	}

	o.circuits = NewCircuitBreakerRegistry(o.config.DefaultCircuitBreaker)
	o.circuits.now = o.now
	o.circuits.SetHook(o.onCircuitChange)

	return o
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes op for the (executionID, nodeID) pair, retrying classified
// transient failures with backoff until it succeeds, fails permanently, trips
// the connector's circuit breaker or exhausts its attempts.
func (o *Orchestrator) Run(ctx context.Context, nodeID, executionID string, op Operation, opts RunOptions) (result any, err error) {
	if op == nil {
		return nil, NewValidationError("operation is required")
	}
	if nodeID == "" || executionID == "" {
		return nil, NewValidationError("node id and execution id are required")
	}

	logger := telemetry.ExecutionFields(o.logger.With(), executionID, nodeID, opts.ConnectorID).Logger()

	if opts.IdempotencyKey != "" {
		rec, ok, err := o.idempotency.Get(ctx, opts.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup for key %q: %w", opts.IdempotencyKey, err)
		}
		if ok {
			logger.Debug().Str("idempotency_key", opts.IdempotencyKey).Msg("Returning cached result")
			o.metrics.RecordIdempotencyHit()
			return rec.Result, nil
		}
	}

	policy, breaker := o.resolve(opts)
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if opts.ConnectorID != "" {
		if err := breaker.Validate(); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entry, cancelID := o.begin(ctx, executionID, nodeID, opts, policy, breaker, cancel)
	defer o.end(entry, cancelID)

	runCtx, span := o.tracer.StartExecutionSpan(runCtx, executionID, nodeID, opts.ConnectorID)
	defer func() { telemetry.EndSpan(span, err) }()
	if id := telemetry.TraceID(runCtx); id != "" {
		logger = logger.With().Str("trace_id", id).Logger()
	}

	if opts.ConnectorID != "" {
		o.circuits.GetOrCreate(opts.ConnectorID, nodeID, &breaker)
	}

	for {
		attempt, err := o.admit(ctx, entry, opts, policy, logger)
		if err != nil {
			return nil, err
		}

		attemptCtx, attemptSpan := o.tracer.StartAttemptSpan(runCtx, attempt)
		timer := telemetry.NewTimer()
		result, opErr := op(attemptCtx)
		o.metrics.RecordAttempt(opts.ConnectorID, opts.NodeType, timer.Duration(), opErr)
		telemetry.EndSpan(attemptSpan, opErr)

		if opErr == nil {
			o.succeed(ctx, entry, executionID, nodeID, attempt, result, opts, logger)
			return result, nil
		}

		msg := opErr.Error()
		o.update(ctx, entry, func(ex *RetryableExecution) {
			if a := ex.attempt(attempt); a != nil {
				a.Error = msg
			}
			ex.LastError = msg
		})

		if opts.ConnectorID != "" {
			snap, opened := o.circuits.RecordFailure(opts.ConnectorID, nodeID, msg)
			if opened {
				o.update(ctx, entry, func(ex *RetryableExecution) {
					ex.Status = ExecutionStatusFailed
				})
				logger.Warn().
					Int("attempt", attempt).
					Str("circuit_state", string(snap.State)).
					Int("consecutive_failures", snap.ConsecutiveFailures).
					Msg("Circuit breaker opened, aborting retries")
				o.finished(opts, executionID, nodeID, ExecutionStatusFailed, attempt, msg)
				return nil, &CircuitOpenError{Snapshot: snap, Tripped: true}
			}
		}

		kind := ClassifyFailure(o.classifier, Failure{
			Err:         opErr,
			ConnectorID: opts.ConnectorID,
			NodeType:    opts.NodeType,
		})
		o.metrics.RecordErrorKind(string(kind))

		if !policy.IsRetryable(kind) {
			o.update(ctx, entry, func(ex *RetryableExecution) {
				ex.Status = ExecutionStatusFailed
			})
			logger.Warn().Err(opErr).Int("attempt", attempt).Str("error_kind", string(kind)).
				Msg("Non-retryable failure")
			o.finished(opts, executionID, nodeID, ExecutionStatusFailed, attempt, msg)
			return nil, opErr
		}

		if attempt >= policy.MaxAttempts {
			o.update(ctx, entry, func(ex *RetryableExecution) {
				ex.Status = ExecutionStatusDLQ
			})
			logger.Error().Err(opErr).Int("attempts", attempt).Str("error_kind", string(kind)).
				Msg("Retry attempts exhausted, moved to dead-letter queue")
			o.finished(opts, executionID, nodeID, ExecutionStatusDLQ, attempt, msg)
			return nil, NewDLQError(executionID, nodeID, attempt, opErr).WithKind(kind)
		}

		delay := ComputeDelay(attempt, policy, o.rnd)
		next := o.now().Add(delay)
		o.update(ctx, entry, func(ex *RetryableExecution) {
			if a := ex.attempt(attempt); a != nil {
				a.NextRetryAt = &next
			}
			ex.Status = ExecutionStatusRetrying
		})

		logger.Info().Err(opErr).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Str("error_kind", string(kind)).
			Dur("delay", delay).
			Msg("Retrying after failure")
		o.metrics.RecordRetry(opts.ConnectorID, delay)
		telemetry.MarkRetry(span, attempt, string(kind), delay)
		_ = o.events.PublishRetryScheduled(executionID, nodeID, opts.ConnectorID, attempt, string(kind), delay)

		if err := o.sleep(runCtx, delay); err != nil {
			cerr := NewCancelledError(executionID, nodeID, err).WithKind(kind)
			o.update(ctx, entry, func(ex *RetryableExecution) {
				ex.Status = ExecutionStatusFailed
				ex.LastError = cerr.Error()
			})
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Execution cancelled during backoff")
			o.finished(opts, executionID, nodeID, ExecutionStatusFailed, attempt, cerr.Error())
			return nil, cerr
		}
	}
}

// Do runs op through the orchestrator and returns its typed result. Results
// served from a persistent idempotency store arrive as json.RawMessage and
// are decoded into T.
func Do[T any](ctx context.Context, o *Orchestrator, nodeID, executionID string, op func(ctx context.Context) (T, error), opts RunOptions) (T, error) {
	var zero T
	res, err := o.Run(ctx, nodeID, executionID, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, opts)
	if err != nil {
		return zero, err
	}
	return convertResult[T](res)
}

func convertResult[T any](v any) (T, error) {
	var zero T
	switch r := v.(type) {
	case T:
		return r, nil
	case nil:
		return zero, nil
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(r, &out); err != nil {
			return zero, fmt.Errorf("decode cached result: %w", err)
		}
		return out, nil
	}
	return zero, fmt.Errorf("unexpected result type %T", v)
}

// resolve merges defaults, resolver overrides and call options.
func (o *Orchestrator) resolve(opts RunOptions) (RetryPolicy, CircuitBreakerConfig) {
	policy := o.config.DefaultPolicy.clone()
	breaker := o.config.DefaultCircuitBreaker

	if o.resolver != nil {
		po, bo := o.resolver.Resolve(opts.ConnectorID, opts.NodeType)
		policy = po.Apply(policy)
		breaker = bo.Apply(breaker)
	}

	return opts.Policy.Apply(policy), opts.CircuitBreaker.Apply(breaker)
}

// acquire returns the live entry for the pair with its mutex held, creating
// a pending record if none exists.
func (o *Orchestrator) acquire(executionID, nodeID string) *executionEntry {
	key := ExecutionKey(executionID, nodeID)
	for {
		v, ok := o.executions.Load(key)
		if !ok {
			now := o.now()
			v, _ = o.executions.LoadOrStore(key, &executionEntry{
				exec: RetryableExecution{
					ExecutionID: executionID,
					NodeID:      nodeID,
					Attempts:    []RetryAttempt{},
					Status:      ExecutionStatusPending,
					CreatedAt:   now,
					UpdatedAt:   now,
				},
			})
		}
		e := v.(*executionEntry)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		return e
	}
}

// lookup returns the live entry for the pair with its mutex held, or nil.
func (o *Orchestrator) lookup(executionID, nodeID string) *executionEntry {
	v, ok := o.executions.Load(ExecutionKey(executionID, nodeID))
	if !ok {
		return nil
	}
	e := v.(*executionEntry)
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil
	}
	return e
}

// begin registers an in-flight run on the record and applies call metadata.
func (o *Orchestrator) begin(
	ctx context.Context,
	executionID, nodeID string,
	opts RunOptions,
	policy RetryPolicy,
	breaker CircuitBreakerConfig,
	cancel context.CancelFunc,
) (*executionEntry, uint64) {
	e := o.acquire(executionID, nodeID)
	defer e.mu.Unlock()

	ex := &e.exec
	if ex.Status == ExecutionStatusSucceeded {
		// A succeeded node that runs again starts a fresh attempt sequence
		ex.Attempts = []RetryAttempt{}
		ex.LastError = ""
		ex.Status = ExecutionStatusPending
	}
	ex.Policy = policy.clone()
	if opts.IdempotencyKey != "" {
		ex.IdempotencyKey = opts.IdempotencyKey
	}
	if opts.ConnectorID != "" {
		ex.ConnectorID = opts.ConnectorID
		cfg := breaker
		ex.CircuitConfig = &cfg
	}
	if opts.NodeType != "" {
		ex.NodeType = opts.NodeType
	}
	if opts.NodeLabel != "" {
		ex.NodeLabel = opts.NodeLabel
	}
	ex.UpdatedAt = o.now()

	e.active++
	e.nextID++
	if e.cancels == nil {
		e.cancels = make(map[uint64]context.CancelFunc)
	}
	e.cancels[e.nextID] = cancel

	o.persistLocked(ctx, e)
	return e, e.nextID
}

// end unregisters an in-flight run.
func (o *Orchestrator) end(e *executionEntry, cancelID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active--
	delete(e.cancels, cancelID)
}

// admit reserves the next attempt slot. The attempt budget and breaker
// admission are checked under the record lock so concurrent callers on one
// key can neither exceed MaxAttempts nor strand a half-open probe.
func (o *Orchestrator) admit(ctx context.Context, e *executionEntry, opts RunOptions, policy RetryPolicy, logger zerolog.Logger) (int, error) {
	e.mu.Lock()

	ex := &e.exec
	n := len(ex.Attempts) + 1
	if n > policy.MaxAttempts {
		wasDLQ := ex.Status == ExecutionStatusDLQ
		ex.Status = ExecutionStatusDLQ
		ex.UpdatedAt = o.now()
		o.persistLocked(ctx, e)

		attempts, lastError := len(ex.Attempts), ex.LastError
		executionID, nodeID := ex.ExecutionID, ex.NodeID
		e.mu.Unlock()

		var lastErr error
		if lastError != "" {
			lastErr = errors.New(lastError)
		}
		if !wasDLQ {
			logger.Error().Int("attempts", attempts).Msg("Retry attempts exhausted, moved to dead-letter queue")
			o.finished(opts, executionID, nodeID, ExecutionStatusDLQ, attempts, lastError)
		}
		return 0, NewDLQError(executionID, nodeID, attempts, lastErr)
	}
	defer e.mu.Unlock()

	if opts.ConnectorID != "" {
		if _, err := o.circuits.Allow(opts.ConnectorID, ex.NodeID); err != nil {
			ex.Status = ExecutionStatusFailed
			ex.LastError = err.Error()
			ex.UpdatedAt = o.now()
			o.persistLocked(ctx, e)

			if coe, ok := AsCircuitOpen(err); ok {
				logger.Warn().
					Str("circuit_state", string(coe.Snapshot.State)).
					Int("consecutive_failures", coe.Snapshot.ConsecutiveFailures).
					Dur("retry_after", coe.RetryAfter).
					Msg("Circuit breaker rejected attempt")
			}
			o.metrics.RecordCircuitRejection(opts.ConnectorID)
			o.metrics.RecordOutcome(opts.ConnectorID, string(ExecutionStatusFailed))
			_ = o.events.PublishCircuitRejected(ex.ExecutionID, ex.NodeID, opts.ConnectorID)
			return 0, err
		}
	}

	status := ExecutionStatusPending
	if n > 1 {
		status = ExecutionStatusRetrying
	}
	now := o.now()
	ex.Attempts = append(ex.Attempts, RetryAttempt{AttemptNumber: n, Timestamp: now})
	ex.Status = status
	ex.UpdatedAt = now
	o.persistLocked(ctx, e)

	logger.Debug().Int("attempt", n).Int("max_attempts", policy.MaxAttempts).Msg("Starting attempt")
	return n, nil
}

// succeed records a successful attempt and caches the result.
func (o *Orchestrator) succeed(
	ctx context.Context,
	e *executionEntry,
	executionID, nodeID string,
	attempt int,
	result any,
	opts RunOptions,
	logger zerolog.Logger,
) {
	o.update(ctx, e, func(ex *RetryableExecution) {
		ex.Status = ExecutionStatusSucceeded
	})

	if opts.ConnectorID != "" {
		o.circuits.RecordSuccess(opts.ConnectorID, nodeID)
	}

	if opts.IdempotencyKey != "" {
		now := o.now()
		rec := &IdempotencyRecord{
			Key:         opts.IdempotencyKey,
			NodeID:      nodeID,
			ExecutionID: executionID,
			Result:      result,
			CreatedAt:   now,
			ExpiresAt:   now.Add(o.config.IdempotencyTTL),
		}
		if err := o.idempotency.Put(context.WithoutCancel(ctx), rec); err != nil {
			// The side effect already happened; report the cache failure without failing the run.
			logger.Error().Err(err).Str("idempotency_key", opts.IdempotencyKey).Msg("Failed to cache result")
		}
	}

	logger.Debug().Int("attempts", attempt).Msg("Execution succeeded")
	o.finished(opts, executionID, nodeID, ExecutionStatusSucceeded, attempt, "")
}

// update applies fn to the record under its lock and persists the result.
func (o *Orchestrator) update(ctx context.Context, e *executionEntry, fn func(ex *RetryableExecution)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.exec)
	e.exec.UpdatedAt = o.now()
	o.persistLocked(ctx, e)
}

// persistLocked writes the record to the journal. The entry lock must be
// held so writes for one key reach the journal in order.
func (o *Orchestrator) persistLocked(ctx context.Context, e *executionEntry) {
	if o.journal == nil {
		return
	}
	exec := e.exec.clone()
	if err := o.journal.SaveExecution(context.WithoutCancel(ctx), &exec); err != nil {
		o.logger.Error().Err(err).
			Str("execution_id", exec.ExecutionID).
			Str("node_id", exec.NodeID).
			Msg("Failed to journal execution")
	}
}

// finished reports the outcome of a Run call to metrics and events.
func (o *Orchestrator) finished(opts RunOptions, executionID, nodeID string, status ExecutionStatus, attempts int, reason string) {
	o.metrics.RecordOutcome(opts.ConnectorID, string(status))
	_ = o.events.PublishExecutionFinished(executionID, nodeID, opts.ConnectorID, string(status), attempts, reason)
	if status == ExecutionStatusDLQ {
		o.metrics.SetDLQItems(o.dlqCount())
	}
}

// onCircuitChange mirrors breaker mutations into metrics, events and the journal.
func (o *Orchestrator) onCircuitChange(prev CircuitState, next CircuitBreakerState) {
	o.metrics.SetCircuitState(next.ConnectorID, next.NodeID, string(next.State))

	if prev != next.State {
		o.metrics.RecordCircuitTransition(next.ConnectorID, string(prev), string(next.State))
		_ = o.events.PublishCircuitChanged(next.ConnectorID, next.NodeID, string(prev), string(next.State), next.LastError)
		o.logger.Info().
			Str("connector_id", next.ConnectorID).
			Str("node_id", next.NodeID).
			Str("from", string(prev)).
			Str("to", string(next.State)).
			Msg("Circuit breaker state changed")
	}

	if o.journal != nil {
		if err := o.journal.SaveCircuit(context.Background(), &next); err != nil {
			o.logger.Error().Err(err).Str("circuit", next.Key()).Msg("Failed to journal circuit breaker")
		}
	}
}

// CancelExecution cancels every in-flight Run of a workflow execution. Runs
// waiting for a retry end with a CANCELLED error; running operations see
// their context cancelled. It returns the number of runs signalled.
func (o *Orchestrator) CancelExecution(executionID string) int {
	var cancels []context.CancelFunc
	o.executions.Range(func(_, v any) bool {
		e := v.(*executionEntry)
		e.mu.Lock()
		if !e.removed && e.exec.ExecutionID == executionID {
			for _, c := range e.cancels {
				cancels = append(cancels, c)
			}
		}
		e.mu.Unlock()
		return true
	})

	for _, c := range cancels {
		c()
	}
	if len(cancels) > 0 {
		o.logger.Info().Str("execution_id", executionID).Int("runs", len(cancels)).Msg("Cancelled execution")
	}
	return len(cancels)
}

// GetRetryStatus returns a copy of the execution record, if tracked.
func (o *Orchestrator) GetRetryStatus(executionID, nodeID string) (RetryableExecution, bool) {
	e := o.lookup(executionID, nodeID)
	if e == nil {
		return RetryableExecution{}, false
	}
	defer e.mu.Unlock()
	return e.exec.clone(), true
}

// GetCircuitState returns a snapshot of the breaker for the pair. Unknown
// pairs report a closed breaker with the default configuration.
func (o *Orchestrator) GetCircuitState(connectorID, nodeID string) CircuitBreakerState {
	return o.circuits.Snapshot(connectorID, nodeID)
}

// ListCircuits returns all tracked breakers ordered by key.
func (o *Orchestrator) ListCircuits() []CircuitBreakerState {
	return o.circuits.List()
}

// ResetCircuit force-closes a tracked breaker.
func (o *Orchestrator) ResetCircuit(connectorID, nodeID string) (CircuitBreakerState, error) {
	st, ok := o.circuits.Reset(connectorID, nodeID)
	if !ok {
		return CircuitBreakerState{}, NewNotFoundError(fmt.Sprintf("circuit breaker %s not found", CircuitKey(connectorID, nodeID)))
	}
	o.logger.Info().Str("connector_id", connectorID).Str("node_id", nodeID).Msg("Circuit breaker reset")
	return st, nil
}

// Restore loads execution and breaker records from the journal, replacing
// in-memory entries with the same keys. Records with an unknown status or
// state are skipped. Executions that were pending or retrying with attempts
// recorded lost their run with the previous process and are restored as
// failed, keeping their attempts. A replayed execution has no attempts and
// stays pending until its next Run.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.journal == nil {
		return nil
	}

	execs, err := o.journal.LoadExecutions(ctx)
	if err != nil {
		return NewInternalError("failed to load executions", err)
	}
	loaded, err := o.journal.LoadCircuits(ctx)
	if err != nil {
		return NewInternalError("failed to load circuit breakers", err)
	}

	restored, interrupted := 0, 0
	for i := range execs {
		exec := execs[i].clone()
		if err := exec.Status.Validate(); err != nil {
			o.logger.Warn().Err(err).
				Str("execution_id", exec.ExecutionID).
				Str("node_id", exec.NodeID).
				Msg("Skipping journaled execution")
			continue
		}
		if exec.Attempts == nil {
			exec.Attempts = []RetryAttempt{}
		}
		entry := &executionEntry{exec: exec}
		if exec.Status.IsActive() && len(exec.Attempts) > 0 {
			entry.exec.Status = ExecutionStatusFailed
			entry.exec.LastError = ErrProcessRestarted.Error()
			entry.exec.UpdatedAt = o.now()
			o.persistLocked(ctx, entry)
			interrupted++
		}
		old, ok := o.executions.Swap(exec.Key(), entry)
		if ok {
			oe := old.(*executionEntry)
			oe.mu.Lock()
			oe.removed = true
			oe.mu.Unlock()
		}
		restored++
	}

	circuits := make([]CircuitBreakerState, 0, len(loaded))
	for _, st := range loaded {
		if st.State != "" {
			if err := st.State.Validate(); err != nil {
				o.logger.Warn().Err(err).Str("circuit", st.Key()).Msg("Skipping journaled circuit breaker")
				continue
			}
		}
		circuits = append(circuits, st)
	}
	o.circuits.Restore(circuits)

	for _, st := range o.circuits.List() {
		o.metrics.SetCircuitState(st.ConnectorID, st.NodeID, string(st.State))
	}
	o.metrics.SetDLQItems(o.dlqCount())

	o.logger.Info().
		Int("executions", restored).
		Int("interrupted", interrupted).
		Int("circuits", len(circuits)).
		Msg("Restored state from journal")
	return nil
}

// attempt returns the recorded attempt with the given number.
func (e *RetryableExecution) attempt(n int) *RetryAttempt {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if e.Attempts[i].AttemptNumber == n {
			return &e.Attempts[i]
		}
	}
	return nil
}
