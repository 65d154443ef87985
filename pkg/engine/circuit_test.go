package engine

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock shared by the engine tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(cfg CircuitBreakerConfig) (*CircuitBreakerRegistry, *fakeClock) {
	clock := newFakeClock()
	r := NewCircuitBreakerRegistry(cfg)
	r.now = clock.Now
	return r, clock
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	r, _ := newTestRegistry(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute, HalfOpenMaxAttempts: 1})

	for i := 1; i <= 2; i++ {
		st, opened := r.RecordFailure("slack", "post", "503")
		if opened || st.State != CircuitClosed {
			t.Fatalf("failure %d: state = %s, opened = %v", i, st.State, opened)
		}
	}

	st, opened := r.RecordFailure("slack", "post", "503")
	if !opened || st.State != CircuitOpen {
		t.Fatalf("3rd failure: state = %s, opened = %v, want open", st.State, opened)
	}
	if st.OpenedAt == nil || st.ConsecutiveFailures != 3 || st.LastError != "503" {
		t.Errorf("unexpected open snapshot: %+v", st)
	}
	if got := r.OpenCount(); got != 1 {
		t.Errorf("OpenCount() = %d, want 1", got)
	}
}

func TestCircuitSuccessResetsCount(t *testing.T) {
	r, _ := newTestRegistry(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute, HalfOpenMaxAttempts: 1})

	r.RecordFailure("slack", "post", "e")
	r.RecordFailure("slack", "post", "e")
	if st := r.RecordSuccess("slack", "post"); st.ConsecutiveFailures != 0 || st.State != CircuitClosed {
		t.Fatalf("after success: %+v", st)
	}
	r.RecordFailure("slack", "post", "e")
	r.RecordFailure("slack", "post", "e")
	if st := r.Snapshot("slack", "post"); st.State != CircuitClosed {
		t.Errorf("breaker opened after 2 failures following a success: %s", st.State)
	}
}

func TestCircuitCooldownAndHalfOpenProbes(t *testing.T) {
	r, clock := newTestRegistry(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenMaxAttempts: 2})

	r.RecordFailure("crm", "sync", "boom")

	clock.Advance(59 * time.Second)
	_, err := r.Allow("crm", "sync")
	coe, ok := AsCircuitOpen(err)
	if !ok {
		t.Fatalf("Allow() before cooldown error = %v, want circuit open", err)
	}
	if coe.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %s, want 1s", coe.RetryAfter)
	}
	if coe.Snapshot.State != CircuitOpen {
		t.Errorf("snapshot state = %s", coe.Snapshot.State)
	}

	clock.Advance(time.Second)
	for i := 1; i <= 2; i++ {
		st, err := r.Allow("crm", "sync")
		if err != nil {
			t.Fatalf("probe %d rejected: %v", i, err)
		}
		if st.State != CircuitHalfOpen || st.HalfOpenAttempts != i {
			t.Fatalf("probe %d: state = %s, probes = %d", i, st.State, st.HalfOpenAttempts)
		}
	}

	if _, err := r.Allow("crm", "sync"); !IsCircuitOpen(err) {
		t.Fatalf("3rd probe error = %v, want circuit open", err)
	}
}

func TestCircuitHalfOpenTransitions(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute, HalfOpenMaxAttempts: 1}

	t.Run("success closes", func(t *testing.T) {
		r, clock := newTestRegistry(cfg)
		r.RecordFailure("c", "n", "e")
		r.RecordFailure("c", "n", "e")
		clock.Advance(time.Minute)
		if _, err := r.Allow("c", "n"); err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		st := r.RecordSuccess("c", "n")
		if st.State != CircuitClosed || st.ConsecutiveFailures != 0 || st.HalfOpenAttempts != 0 {
			t.Errorf("after probe success: %+v", st)
		}
		if st.LastRecoveryAt == nil || !st.LastRecoveryAt.Equal(clock.Now()) {
			t.Errorf("LastRecoveryAt = %v, want %v", st.LastRecoveryAt, clock.Now())
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		r, clock := newTestRegistry(cfg)
		r.RecordFailure("c", "n", "e")
		r.RecordFailure("c", "n", "e")
		clock.Advance(2 * time.Minute)
		if _, err := r.Allow("c", "n"); err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		st, opened := r.RecordFailure("c", "n", "again")
		if !opened || st.State != CircuitOpen {
			t.Fatalf("after probe failure: state = %s, opened = %v", st.State, opened)
		}
		if !st.OpenedAt.Equal(clock.Now()) {
			t.Errorf("OpenedAt = %v, want %v", st.OpenedAt, clock.Now())
		}
		if _, err := r.Allow("c", "n"); !IsCircuitOpen(err) {
			t.Errorf("Allow() after reopen error = %v, want circuit open", err)
		}
	})
}

func TestCircuitSuccessWhileOpenKeepsOpen(t *testing.T) {
	r, _ := newTestRegistry(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenMaxAttempts: 1})
	r.RecordFailure("c", "n", "e")
	if st := r.RecordSuccess("c", "n"); st.State != CircuitOpen {
		t.Errorf("state = %s, want open", st.State)
	}
}

func TestCircuitGetOrCreateKeepsCounters(t *testing.T) {
	r, _ := newTestRegistry(DefaultCircuitBreakerConfig())
	r.RecordFailure("c", "n", "e")
	r.RecordFailure("c", "n", "e")

	cfg := CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Second, HalfOpenMaxAttempts: 1}
	st := r.GetOrCreate("c", "n", &cfg)
	if st.ConsecutiveFailures != 2 || st.Config != cfg {
		t.Errorf("GetOrCreate() = %+v", st)
	}
}

func TestCircuitSnapshotUnknown(t *testing.T) {
	r, _ := newTestRegistry(DefaultCircuitBreakerConfig())
	st := r.Snapshot("nope", "n")
	if st.State != CircuitClosed || st.Config != DefaultCircuitBreakerConfig() {
		t.Errorf("Snapshot() = %+v", st)
	}
	if len(r.List()) != 0 {
		t.Error("Snapshot() created a breaker")
	}
}

func TestCircuitResetAndSweep(t *testing.T) {
	r, clock := newTestRegistry(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour, HalfOpenMaxAttempts: 1})

	if _, ok := r.Reset("ghost", "n"); ok {
		t.Error("Reset() of unknown breaker reported ok")
	}

	r.RecordFailure("a", "n", "e") // open
	r.RecordFailure("b", "n", "e") // open, then reset
	r.GetOrCreate("c", "n", nil)   // closed, never used

	st, ok := r.Reset("b", "n")
	if !ok || st.State != CircuitClosed || st.ConsecutiveFailures != 0 {
		t.Fatalf("Reset() = %+v, %v", st, ok)
	}

	removed := r.Sweep(clock.Now(), 24*time.Hour)
	if len(removed) != 1 || removed[0].Key() != "c:n" {
		t.Fatalf("Sweep() removed %v, want only c:n", removed)
	}

	clock.Advance(25 * time.Hour)
	removed = r.Sweep(clock.Now(), 24*time.Hour)
	if len(removed) != 1 || removed[0].Key() != "b:n" {
		t.Fatalf("Sweep() removed %v, want only b:n", removed)
	}

	list := r.List()
	if len(list) != 1 || list[0].Key() != "a:n" {
		t.Errorf("List() = %v, want the open breaker only", list)
	}
}

func TestCircuitHook(t *testing.T) {
	r, clock := newTestRegistry(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenMaxAttempts: 1})

	var transitions []string
	r.SetHook(func(prev CircuitState, next CircuitBreakerState) {
		if prev != next.State {
			transitions = append(transitions, string(prev)+">"+string(next.State))
		}
	})

	r.RecordFailure("c", "n", "e")
	clock.Advance(time.Minute)
	_, _ = r.Allow("c", "n")
	r.RecordSuccess("c", "n")

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitRestore(t *testing.T) {
	r, _ := newTestRegistry(DefaultCircuitBreakerConfig())
	r.RecordFailure("c", "n", "old")

	opened := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Restore([]CircuitBreakerState{{
		ConnectorID:         "c",
		NodeID:              "n",
		State:               CircuitOpen,
		ConsecutiveFailures: 5,
		OpenedAt:            &opened,
		Config:              DefaultCircuitBreakerConfig(),
	}})

	st := r.Snapshot("c", "n")
	if st.State != CircuitOpen || st.ConsecutiveFailures != 5 {
		t.Errorf("Snapshot() after Restore = %+v", st)
	}
}

func TestCircuitRestoreHalfOpenReopens(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenMaxAttempts: 1}
	r, clock := newTestRegistry(cfg)

	opened := clock.Now().Add(-2 * time.Minute)
	r.Restore([]CircuitBreakerState{{
		ConnectorID:      "slack",
		NodeID:           "post",
		State:            CircuitHalfOpen,
		OpenedAt:         &opened,
		HalfOpenAttempts: 1,
		Config:           cfg,
	}})

	st := r.Snapshot("slack", "post")
	if st.State != CircuitOpen || st.HalfOpenAttempts != 0 || st.OpenedAt == nil || !st.OpenedAt.Equal(opened) {
		t.Fatalf("Snapshot() after Restore = %+v, want open with the original OpenedAt", st)
	}

	st, err := r.Allow("slack", "post")
	if err != nil {
		t.Fatalf("Allow() after cooldown error = %v", err)
	}
	if st.State != CircuitHalfOpen || st.HalfOpenAttempts != 1 {
		t.Errorf("Allow() = %+v, want one half-open probe", st)
	}
	if st = r.RecordSuccess("slack", "post"); st.State != CircuitClosed {
		t.Errorf("state after probe success = %s, want closed", st.State)
	}
}

func TestCircuitSweepKeepsSuppliedConfig(t *testing.T) {
	r, clock := newTestRegistry(DefaultCircuitBreakerConfig())
	cfg := CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour, HalfOpenMaxAttempts: 1}

	r.GetOrCreate("slack", "post", &cfg)
	if removed := r.Sweep(clock.Now(), 24*time.Hour); len(removed) != 1 {
		t.Fatalf("Sweep() removed %d breakers, want 1", len(removed))
	}

	if _, err := r.Allow("slack", "post"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	st, opened := r.RecordFailure("slack", "post", "503")
	if !opened || st.State != CircuitOpen {
		t.Errorf("RecordFailure() = %+v, %v, want the first failure to open", st, opened)
	}
	if st.Config != cfg {
		t.Errorf("Config = %+v, want %+v", st.Config, cfg)
	}

	// Unknown pairs still report the registry defaults.
	if got := r.Snapshot("other", "post").Config; got != DefaultCircuitBreakerConfig() {
		t.Errorf("Snapshot().Config = %+v, want defaults", got)
	}
}
