package config

import (
	"slices"
	"sort"
	"sync/atomic"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// Resolver serves per-connector overrides from a Config. The table can be
// replaced at runtime with Update; in-flight lookups see either the old or
// the new table, never a mix.
type Resolver struct {
	table atomic.Pointer[resolverTable]
}

type resolverTable struct {
	defaults   engine.PolicyOverride
	breaker    engine.CircuitBreakerOverride
	connectors map[string]ConnectorConfig
}

var _ engine.PolicyResolver = (*Resolver)(nil)

// NewResolver creates a resolver for cfg.
func NewResolver(cfg *Config) *Resolver {
	r := &Resolver{}
	r.Update(cfg)
	return r
}

// Update atomically replaces the override table.
func (r *Resolver) Update(cfg *Config) {
	connectors := make(map[string]ConnectorConfig, len(cfg.Connectors))
	for id, c := range cfg.Connectors {
		connectors[id] = c
	}
	r.table.Store(&resolverTable{
		defaults:   cfg.Defaults.Policy,
		breaker:    cfg.Defaults.CircuitBreaker,
		connectors: connectors,
	})
}

// Resolve implements engine.PolicyResolver. The configured defaults are
// overlaid with the connector's overrides, then with its node type's.
func (r *Resolver) Resolve(connectorID, nodeType string) (*engine.PolicyOverride, *engine.CircuitBreakerOverride) {
	t := r.table.Load()

	policy := mergePolicy(nil, &t.defaults)
	breaker := mergeBreaker(nil, &t.breaker)

	c, ok := t.connectors[connectorID]
	if !ok {
		return policy, breaker
	}
	policy = mergePolicy(policy, c.Policy)
	breaker = mergeBreaker(breaker, c.CircuitBreaker)

	if nt, ok := c.NodeTypes[nodeType]; ok {
		policy = mergePolicy(policy, nt.Policy)
	}
	return policy, breaker
}

// Connectors returns the configured connector ids in order.
func (r *Resolver) Connectors() []string {
	t := r.table.Load()
	ids := make([]string, 0, len(t.connectors))
	for id := range t.connectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// mergePolicy applies the fields set in top to base, allocating base when nil.
func mergePolicy(base, top *engine.PolicyOverride) *engine.PolicyOverride {
	out := base
	if out == nil {
		out = &engine.PolicyOverride{}
	}
	if top == nil {
		return out
	}
	if top.MaxAttempts != nil {
		out.MaxAttempts = valueOf(*top.MaxAttempts)
	}
	if top.InitialDelay != nil {
		out.InitialDelay = valueOf(*top.InitialDelay)
	}
	if top.MaxDelay != nil {
		out.MaxDelay = valueOf(*top.MaxDelay)
	}
	if top.BackoffMultiplier != nil {
		out.BackoffMultiplier = valueOf(*top.BackoffMultiplier)
	}
	if top.JitterEnabled != nil {
		out.JitterEnabled = valueOf(*top.JitterEnabled)
	}
	if top.RetryableErrorKinds != nil {
		out.RetryableErrorKinds = slices.Clone(top.RetryableErrorKinds)
	}
	return out
}

// valueOf returns a pointer to a copy of v. Resolved overrides never alias
// the configuration.
func valueOf[T any](v T) *T {
	return &v
}

func mergeBreaker(base, top *engine.CircuitBreakerOverride) *engine.CircuitBreakerOverride {
	out := base
	if out == nil {
		out = &engine.CircuitBreakerOverride{}
	}
	if top == nil {
		return out
	}
	if top.FailureThreshold != nil {
		out.FailureThreshold = valueOf(*top.FailureThreshold)
	}
	if top.Cooldown != nil {
		out.Cooldown = valueOf(*top.Cooldown)
	}
	if top.HalfOpenMaxAttempts != nil {
		out.HalfOpenMaxAttempts = valueOf(*top.HalfOpenMaxAttempts)
	}
	return out
}
