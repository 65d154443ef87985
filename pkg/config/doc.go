// Package config loads the flowguard configuration file and serves
// per-connector retry and circuit breaker overrides to the orchestrator.
//
// # File format
//
// The configuration is YAML. ${VAR} references are expanded from the
// environment, and a .env file next to the configuration is loaded first.
// Durations use Go syntax ("500ms", "1m").
//
//	defaults:
//	  policy:
//	    max_attempts: 3
//	    initial_delay: 1s
//	    max_delay: 30s
//	    backoff_multiplier: 2
//	    jitter_enabled: true
//	  circuit_breaker:
//	    failure_threshold: 3
//	    cooldown: 60s
//	    half_open_max_attempts: 1
//	connectors:
//	  stripe:
//	    policy:
//	      max_attempts: 5
//	    circuit_breaker:
//	      failure_threshold: 10
//	    node_types:
//	      refund:
//	        policy:
//	          max_attempts: 1
//	idempotency:
//	  backend: redis
//	  ttl: 24h
//	  redis:
//	    url: ${REDIS_URL}
//	store:
//	  path: /var/lib/flowguard/flowguard.db
//	classifier:
//	  rego_paths: [/etc/flowguard/classify]
//	  watch: true
//
// Fields left out keep their built-in defaults. Parse and Load validate the
// result with go-playground/validator struct tags and the engine's own
// policy checks.
//
// # Hot reload
//
// Resolver implements engine.PolicyResolver over a table that Watcher swaps
// atomically whenever the file changes. Changes apply to the next Run call;
// runs in flight keep the policy they started with.
package config
