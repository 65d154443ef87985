// Package engine provides the resilience core of flowguard: retries with
// backoff, circuit breaking, idempotency and a dead-letter queue for
// workflow node executions.
//
// # Overview
//
// A workflow executor calls Orchestrator.Run once per node execution with
// the operation to perform. The orchestrator:
//
//  1. Answers from the idempotency cache when the call carries a known key
//  2. Resolves the retry policy (defaults, connector overrides, call options)
//  3. Loops attempts, each gated by the connector's circuit breaker
//  4. Classifies failures and waits with exponential backoff between retries
//  5. Ends in succeeded, failed or dlq
//
// # Error Classification
//
// Failures are mapped to an ErrorKind by a Classifier. The default
// HeuristicClassifier matches the error message:
//
//   - TIMEOUT: "timeout", "timed out", "etimedout"
//   - RATE_LIMIT: "rate limit", "429"
//   - NETWORK_ERROR: "network", "econnreset", "econnrefused"
//   - SERVICE_UNAVAILABLE: "503", "service unavailable"
//   - SERVER_ERROR: "500", "internal server error"
//
// Connectors that know better wrap their errors with WithKind.
//
// # Terminal Errors
//
// Run returns the operation's own error for non-retryable failures. The
// orchestrator's own failures are typed:
//
//	res, err := orch.Run(ctx, "send_email", execID, op, engine.RunOptions{ConnectorID: "smtp"})
//	switch {
//	case engine.IsCircuitOpen(err):
//	    // the dependency is unhealthy
//	case engine.IsDLQExhausted(err):
//	    // parked for operator replay
//	case engine.IsCancelled(err):
//	    // workflow cancelled during backoff
//	}
//
// # Thread Safety
//
// Records live in sync.Maps of entries, each guarded by its own mutex.
// Unrelated keys never contend and no lock is held while an operation runs.
package engine
