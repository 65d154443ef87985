package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/flowguard/pkg/engine"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "flowguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	ec := cfg.EngineConfig()
	want := engine.DefaultRetryPolicy()
	if ec.DefaultPolicy.MaxAttempts != want.MaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", ec.DefaultPolicy.MaxAttempts, want.MaxAttempts)
	}
	if ec.DefaultPolicy.InitialDelay != want.InitialDelay {
		t.Errorf("InitialDelay = %v, want %v", ec.DefaultPolicy.InitialDelay, want.InitialDelay)
	}
	if len(ec.DefaultPolicy.RetryableErrorKinds) != len(want.RetryableErrorKinds) {
		t.Errorf("RetryableErrorKinds = %v, want %v", ec.DefaultPolicy.RetryableErrorKinds, want.RetryableErrorKinds)
	}
	if ec.DefaultCircuitBreaker != engine.DefaultCircuitBreakerConfig() {
		t.Errorf("DefaultCircuitBreaker = %+v", ec.DefaultCircuitBreaker)
	}
	if cfg.Idempotency.Backend != BackendMemory {
		t.Errorf("Backend = %q, want %q", cfg.Idempotency.Backend, BackendMemory)
	}
	if cfg.Store.Path != DefaultStorePath {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, DefaultStorePath)
	}
	if !cfg.Janitor.Enabled || cfg.Janitor.Interval != engine.DefaultJanitorInterval {
		t.Errorf("Janitor = %+v", cfg.Janitor)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	t.Setenv("FLOWGUARD_TEST_ATTEMPTS", "5")

	cfg, err := Parse([]byte(`
defaults:
  policy:
    max_attempts: ${FLOWGUARD_TEST_ATTEMPTS}
    max_delay: 2m
    retryable_error_kinds: [TIMEOUT, SERVER_ERROR]
  circuit_breaker:
    cooldown: 10s
connectors:
  stripe:
    policy:
      initial_delay: 250ms
    node_types:
      refund:
        policy:
          max_attempts: 1
idempotency:
  backend: sqlite
  ttl: 1h
janitor:
  interval: 30s
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	ec := cfg.EngineConfig()
	if ec.DefaultPolicy.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", ec.DefaultPolicy.MaxAttempts)
	}
	if ec.DefaultPolicy.MaxDelay != 2*time.Minute {
		t.Errorf("MaxDelay = %v, want 2m", ec.DefaultPolicy.MaxDelay)
	}
	if ec.DefaultPolicy.InitialDelay != time.Second {
		t.Errorf("InitialDelay = %v, want the 1s default", ec.DefaultPolicy.InitialDelay)
	}
	if !ec.DefaultPolicy.IsRetryable(engine.ErrorKindServerError) || ec.DefaultPolicy.IsRetryable(engine.ErrorKindNetwork) {
		t.Errorf("RetryableErrorKinds = %v", ec.DefaultPolicy.RetryableErrorKinds)
	}
	if ec.DefaultCircuitBreaker.Cooldown != 10*time.Second {
		t.Errorf("Cooldown = %v, want 10s", ec.DefaultCircuitBreaker.Cooldown)
	}
	if ec.DefaultCircuitBreaker.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want the default 3", ec.DefaultCircuitBreaker.FailureThreshold)
	}
	if ec.IdempotencyTTL != time.Hour {
		t.Errorf("IdempotencyTTL = %v, want 1h", ec.IdempotencyTTL)
	}
	if cfg.Janitor.Interval != 30*time.Second {
		t.Errorf("Janitor.Interval = %v, want 30s", cfg.Janitor.Interval)
	}

	stripe, ok := cfg.Connectors["stripe"]
	if !ok {
		t.Fatal("Connector stripe missing")
	}
	if stripe.Policy == nil || stripe.Policy.InitialDelay == nil || *stripe.Policy.InitialDelay != 250*time.Millisecond {
		t.Errorf("stripe policy = %+v", stripe.Policy)
	}
	refund := stripe.NodeTypes["refund"]
	if refund.Policy == nil || refund.Policy.MaxAttempts == nil || *refund.Policy.MaxAttempts != 1 {
		t.Errorf("refund policy = %+v", refund.Policy)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "zero max attempts",
			yaml: "defaults:\n  policy:\n    max_attempts: 0\n",
		},
		{
			name: "negative delay",
			yaml: "defaults:\n  policy:\n    initial_delay: -1s\n",
		},
		{
			name: "multiplier below one",
			yaml: "defaults:\n  policy:\n    backoff_multiplier: 0.5\n",
		},
		{
			name: "unknown error kind",
			yaml: "defaults:\n  policy:\n    retryable_error_kinds: [TIMEOUT, SOMETHING]\n",
		},
		{
			name: "connector threshold zero",
			yaml: "connectors:\n  mail:\n    circuit_breaker:\n      failure_threshold: 0\n",
		},
		{
			name: "node type bad kind",
			yaml: "connectors:\n  mail:\n    node_types:\n      send:\n        policy:\n          retryable_error_kinds: [NOPE]\n",
		},
		{
			name: "unknown backend",
			yaml: "idempotency:\n  backend: memcached\n",
		},
		{
			name: "redis backend without redis",
			yaml: "idempotency:\n  backend: redis\n",
		},
		{
			name: "redis url missing",
			yaml: "idempotency:\n  backend: redis\n  redis:\n    prefix: x\n",
		},
		{
			name: "empty store path",
			yaml: "store:\n  path: \"\"\n",
		},
		{
			name: "bad log level",
			yaml: "telemetry:\n  logging:\n    level: loud\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if !engine.IsValidation(err) {
				t.Errorf("Parse() error = %v, want a validation error", err)
			}
		})
	}
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("defaults: [unclosed"))
	if err == nil {
		t.Fatal("Parse() expected error")
	}
	if engine.IsValidation(err) {
		t.Errorf("malformed YAML reported as validation error: %v", err)
	}
}

func TestParseRedisBackend(t *testing.T) {
	cfg, err := Parse([]byte(`
idempotency:
  backend: redis
  redis:
    url: redis://localhost:6379/0
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Idempotency.Redis == nil || cfg.Idempotency.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis = %+v", cfg.Idempotency.Redis)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	const key = "FLOWGUARD_TEST_DOTENV_ATTEMPTS"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=7\n"), 0o600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	path := writeConfig(t, dir, "defaults:\n  policy:\n    max_attempts: ${"+key+"}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.EngineConfig().DefaultPolicy.MaxAttempts; got != 7 {
		t.Errorf("MaxAttempts = %d, want 7", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}
