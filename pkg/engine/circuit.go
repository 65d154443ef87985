package engine

import (
	"sort"
	"sync"
	"time"
)

// CircuitHook observes breaker mutations. It runs while the breaker's lock is
// held, so calls for one key are ordered; it must not call back into the registry.
type CircuitHook func(prev CircuitState, next CircuitBreakerState)

// CircuitBreakerRegistry holds one breaker per (connector, node) pair.
// Breakers are independent: operations on different keys never contend.
type CircuitBreakerRegistry struct {
	entries  sync.Map // key -> *circuitEntry
	configs  sync.Map // key -> CircuitBreakerConfig last supplied to GetOrCreate or Restore
	defaults CircuitBreakerConfig
	now      func() time.Time
	hook     CircuitHook
}

type circuitEntry struct {
	mu      sync.Mutex
	state   CircuitBreakerState
	removed bool
}

// NewCircuitBreakerRegistry creates a registry that uses defaults for breakers
// created without an explicit configuration.
func NewCircuitBreakerRegistry(defaults CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		defaults: defaults,
		now:      time.Now,
	}
}

// SetHook installs the mutation observer. It must be called before the
// registry is shared.
func (r *CircuitBreakerRegistry) SetHook(hook CircuitHook) {
	r.hook = hook
}

// lock returns the live entry for key with its mutex held, creating a closed
// breaker if none exists. A breaker recreated after a sweep gets the last
// configuration supplied for its key.
func (r *CircuitBreakerRegistry) lock(connectorID, nodeID string) *circuitEntry {
	key := CircuitKey(connectorID, nodeID)
	for {
		v, ok := r.entries.Load(key)
		if !ok {
			st := r.initialState(connectorID, nodeID)
			if cfg, ok := r.configs.Load(key); ok {
				st.Config = cfg.(CircuitBreakerConfig)
			}
			v, _ = r.entries.LoadOrStore(key, &circuitEntry{state: st})
		}
		e := v.(*circuitEntry)
		e.mu.Lock()
		if e.removed {
			// Swept between Load and Lock; fetch or create the replacement.
			e.mu.Unlock()
			continue
		}
		return e
	}
}

func (r *CircuitBreakerRegistry) initialState(connectorID, nodeID string) CircuitBreakerState {
	return CircuitBreakerState{
		ConnectorID: connectorID,
		NodeID:      nodeID,
		State:       CircuitClosed,
		Config:      r.defaults,
	}
}

func (r *CircuitBreakerRegistry) notify(prev CircuitState, e *circuitEntry) {
	if r.hook != nil {
		r.hook(prev, e.state.clone())
	}
}

// GetOrCreate returns the breaker for the pair, creating it if needed. A
// non-nil cfg replaces the stored configuration without touching counters.
func (r *CircuitBreakerRegistry) GetOrCreate(connectorID, nodeID string, cfg *CircuitBreakerConfig) CircuitBreakerState {
	if cfg != nil {
		r.configs.Store(CircuitKey(connectorID, nodeID), *cfg)
	}
	e := r.lock(connectorID, nodeID)
	defer e.mu.Unlock()

	if cfg != nil && *cfg != e.state.Config {
		e.state.Config = *cfg
		r.notify(e.state.State, e)
	}
	return e.state.clone()
}

// Allow decides whether a new attempt may be issued. An open breaker whose
// cooldown has elapsed moves to half-open first. Each admitted half-open
// probe is counted. A rejection returns a *CircuitOpenError.
func (r *CircuitBreakerRegistry) Allow(connectorID, nodeID string) (CircuitBreakerState, error) {
	e := r.lock(connectorID, nodeID)
	defer e.mu.Unlock()

	now := r.now()
	st := &e.state
	prev := st.State

	if st.State == CircuitOpen {
		var elapsed time.Duration
		if st.OpenedAt != nil {
			elapsed = now.Sub(*st.OpenedAt)
		} else {
			elapsed = st.Config.Cooldown
		}
		if elapsed < st.Config.Cooldown {
			return st.clone(), &CircuitOpenError{
				Snapshot:   st.clone(),
				RetryAfter: st.Config.Cooldown - elapsed,
			}
		}
		st.State = CircuitHalfOpen
		st.HalfOpenAttempts = 0
	}

	if st.State == CircuitHalfOpen {
		if st.HalfOpenAttempts >= st.Config.HalfOpenMaxAttempts {
			if prev != st.State {
				r.notify(prev, e)
			}
			return st.clone(), &CircuitOpenError{Snapshot: st.clone()}
		}
		st.HalfOpenAttempts++
		r.notify(prev, e)
	}

	return st.clone(), nil
}

// RecordSuccess records a successful attempt. A half-open breaker closes.
func (r *CircuitBreakerRegistry) RecordSuccess(connectorID, nodeID string) CircuitBreakerState {
	e := r.lock(connectorID, nodeID)
	defer e.mu.Unlock()

	st := &e.state
	prev := st.State

	switch st.State {
	case CircuitHalfOpen:
		now := r.now()
		st.State = CircuitClosed
		st.ConsecutiveFailures = 0
		st.HalfOpenAttempts = 0
		st.LastRecoveryAt = &now
	case CircuitClosed:
		if st.ConsecutiveFailures == 0 {
			return st.clone()
		}
		st.ConsecutiveFailures = 0
	case CircuitOpen:
		// A straggler admitted before the breaker opened; the breaker only
		// closes through a half-open probe.
		return st.clone()
	}

	r.notify(prev, e)
	return st.clone()
}

// RecordFailure records a failed attempt and reports whether this failure
// opened the breaker.
func (r *CircuitBreakerRegistry) RecordFailure(connectorID, nodeID, errMsg string) (CircuitBreakerState, bool) {
	e := r.lock(connectorID, nodeID)
	defer e.mu.Unlock()

	now := r.now()
	st := &e.state
	prev := st.State

	st.ConsecutiveFailures++
	st.LastFailureAt = &now
	st.LastError = errMsg

	opened := false
	switch st.State {
	case CircuitHalfOpen:
		opened = true
	case CircuitClosed:
		opened = st.ConsecutiveFailures >= st.Config.FailureThreshold
	}
	if opened {
		st.State = CircuitOpen
		st.OpenedAt = &now
		st.HalfOpenAttempts = 0
	}

	r.notify(prev, e)
	return st.clone(), opened
}

// Reset force-closes an existing breaker and clears its counters. It reports
// false if no breaker is tracked for the pair.
func (r *CircuitBreakerRegistry) Reset(connectorID, nodeID string) (CircuitBreakerState, bool) {
	v, ok := r.entries.Load(CircuitKey(connectorID, nodeID))
	if !ok {
		return CircuitBreakerState{}, false
	}
	e := v.(*circuitEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return CircuitBreakerState{}, false
	}

	now := r.now()
	prev := e.state.State
	e.state.State = CircuitClosed
	e.state.ConsecutiveFailures = 0
	e.state.HalfOpenAttempts = 0
	e.state.OpenedAt = nil
	e.state.LastRecoveryAt = &now

	r.notify(prev, e)
	return e.state.clone(), true
}

// Snapshot returns the breaker state without creating it. Unknown pairs
// report a closed breaker with the default configuration.
func (r *CircuitBreakerRegistry) Snapshot(connectorID, nodeID string) CircuitBreakerState {
	v, ok := r.entries.Load(CircuitKey(connectorID, nodeID))
	if !ok {
		return r.initialState(connectorID, nodeID)
	}
	e := v.(*circuitEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return r.initialState(connectorID, nodeID)
	}
	return e.state.clone()
}

// List returns all tracked breakers ordered by key.
func (r *CircuitBreakerRegistry) List() []CircuitBreakerState {
	out := make([]CircuitBreakerState, 0)
	r.entries.Range(func(_, v any) bool {
		e := v.(*circuitEntry)
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.state.clone())
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// OpenCount returns the number of breakers currently open.
func (r *CircuitBreakerRegistry) OpenCount() int {
	n := 0
	for _, s := range r.List() {
		if s.State == CircuitOpen {
			n++
		}
	}
	return n
}

// Sweep removes closed breakers whose last activity is older than retention,
// and closed breakers that never recorded any activity. The removed states
// are returned.
func (r *CircuitBreakerRegistry) Sweep(now time.Time, retention time.Duration) []CircuitBreakerState {
	var removed []CircuitBreakerState
	r.entries.Range(func(k, v any) bool {
		e := v.(*circuitEntry)
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.removed || e.state.State != CircuitClosed {
			return true
		}
		last := e.state.LastActivity()
		if last != nil && now.Sub(*last) <= retention {
			return true
		}
		e.removed = true
		r.entries.CompareAndDelete(k, v)
		removed = append(removed, e.state.clone())
		return true
	})
	return removed
}

// Restore loads previously persisted breakers, replacing any existing entry
// for the same key. A half-open breaker was persisted with probes in flight
// that no longer exist, so it comes back open with its original OpenedAt and
// admits fresh probes once the cooldown has elapsed.
func (r *CircuitBreakerRegistry) Restore(states []CircuitBreakerState) {
	for i := range states {
		st := states[i].clone()
		switch st.State {
		case "":
			st.State = CircuitClosed
		case CircuitHalfOpen:
			st.State = CircuitOpen
			st.HalfOpenAttempts = 0
		}
		r.configs.Store(st.Key(), st.Config)
		old, loaded := r.entries.Swap(st.Key(), &circuitEntry{state: st})
		if loaded {
			oe := old.(*circuitEntry)
			oe.mu.Lock()
			oe.removed = true
			oe.mu.Unlock()
		}
	}
}
