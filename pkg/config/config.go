package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/flowguard/pkg/engine"
	"github.com/openfroyo/flowguard/pkg/stores"
	"github.com/openfroyo/flowguard/pkg/telemetry"
)

// Idempotency backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultStorePath is the SQLite journal used when none is configured.
const DefaultStorePath = "flowguard.db"

// Config is the flowguard configuration file.
type Config struct {
	// Defaults apply to every run unless a connector overrides them.
	Defaults DefaultsConfig `yaml:"defaults"`

	// Connectors holds per-connector overrides keyed by connector id.
	Connectors map[string]ConnectorConfig `yaml:"connectors" validate:"omitempty,dive"`

	// Janitor controls the background sweep.
	Janitor JanitorConfig `yaml:"janitor"`

	// Idempotency selects and configures the result cache.
	Idempotency IdempotencyConfig `yaml:"idempotency"`

	// Store configures the SQLite journal.
	Store stores.Config `yaml:"store"`

	// Classifier configures Rego classification overrides.
	Classifier ClassifierConfig `yaml:"classifier"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// DefaultsConfig holds the process-wide policy and breaker overrides.
type DefaultsConfig struct {
	Policy         engine.PolicyOverride         `yaml:"policy"`
	CircuitBreaker engine.CircuitBreakerOverride `yaml:"circuit_breaker"`
}

// ConnectorConfig overrides the defaults for one connector.
type ConnectorConfig struct {
	Policy         *engine.PolicyOverride         `yaml:"policy"`
	CircuitBreaker *engine.CircuitBreakerOverride `yaml:"circuit_breaker"`

	// NodeTypes refines the connector policy for specific node types.
	NodeTypes map[string]NodeTypeConfig `yaml:"node_types" validate:"omitempty,dive"`
}

// NodeTypeConfig overrides the connector policy for one node type.
type NodeTypeConfig struct {
	Policy *engine.PolicyOverride `yaml:"policy"`
}

// JanitorConfig controls the background sweep.
type JanitorConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Interval           time.Duration `yaml:"interval" validate:"gte=0"`
	ExecutionRetention time.Duration `yaml:"execution_retention" validate:"gte=0"`
	CircuitRetention   time.Duration `yaml:"circuit_retention" validate:"gte=0"`
}

// IdempotencyConfig selects the idempotency backend.
type IdempotencyConfig struct {
	Backend string              `yaml:"backend" validate:"oneof=memory sqlite redis"`
	TTL     time.Duration       `yaml:"ttl" validate:"gte=0"`
	Redis   *stores.RedisConfig `yaml:"redis" validate:"required_if=Backend redis"`
}

// ClassifierConfig configures Rego classification overrides.
type ClassifierConfig struct {
	// RegoPaths are .rego files or directories loaded on top of the builtin rules.
	RegoPaths []string `yaml:"rego_paths"`

	// Watch reloads the rules when a file under RegoPaths changes.
	Watch bool `yaml:"watch"`
}

// Default returns the built-in configuration.
func Default() *Config {
	policy := engine.DefaultRetryPolicy()
	breaker := engine.DefaultCircuitBreakerConfig()

	return &Config{
		Defaults: DefaultsConfig{
			Policy: engine.PolicyOverride{
				MaxAttempts:         &policy.MaxAttempts,
				InitialDelay:        &policy.InitialDelay,
				MaxDelay:            &policy.MaxDelay,
				BackoffMultiplier:   &policy.BackoffMultiplier,
				JitterEnabled:       &policy.JitterEnabled,
				RetryableErrorKinds: policy.RetryableErrorKinds,
			},
			CircuitBreaker: engine.CircuitBreakerOverride{
				FailureThreshold:    &breaker.FailureThreshold,
				Cooldown:            &breaker.Cooldown,
				HalfOpenMaxAttempts: &breaker.HalfOpenMaxAttempts,
			},
		},
		Connectors: map[string]ConnectorConfig{},
		Janitor: JanitorConfig{
			Enabled:            true,
			Interval:           engine.DefaultJanitorInterval,
			ExecutionRetention: engine.DefaultExecutionRetention,
			CircuitRetention:   engine.DefaultCircuitRetention,
		},
		Idempotency: IdempotencyConfig{
			Backend: BackendMemory,
			TTL:     engine.DefaultIdempotencyTTL,
		},
		Store: stores.Config{
			Path: DefaultStorePath,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads a YAML configuration file. ${VAR} references are expanded from
// the environment; a .env file next to the configuration is loaded first
// without overriding variables that are already set.
func Load(path string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints and that the resolved default policy
// and breaker configuration are usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return engine.NewValidationError("invalid configuration: " + strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	ec := c.EngineConfig()
	if err := ec.DefaultPolicy.Validate(); err != nil {
		return fmt.Errorf("defaults.policy: %w", err)
	}
	if err := ec.DefaultCircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("defaults.circuit_breaker: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return engine.NewValidationError(fmt.Sprintf("telemetry: %v", err))
	}
	return nil
}

// EngineConfig converts the file configuration into orchestrator defaults.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		DefaultPolicy:         c.Defaults.Policy.Apply(engine.DefaultRetryPolicy()),
		DefaultCircuitBreaker: c.Defaults.CircuitBreaker.Apply(engine.DefaultCircuitBreakerConfig()),
		IdempotencyTTL:        c.Idempotency.TTL,
		ExecutionRetention:    c.Janitor.ExecutionRetention,
		CircuitRetention:      c.Janitor.CircuitRetention,
	}
}
