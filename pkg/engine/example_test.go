package engine_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// noWait skips backoff waits so Example functions finish instantly.
func noWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Example_retry shows a connector call that times out twice before succeeding.
func Example_retry() {
	orch := engine.NewOrchestrator(engine.DefaultConfig(), engine.WithSleeper(noWait))

	calls := 0
	send := func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("dial tcp: i/o timeout")
		}
		return "202 Accepted", nil
	}

	res, err := orch.Run(context.Background(), "send_email", "exec-1", send, engine.RunOptions{
		ConnectorID:    "sendgrid",
		IdempotencyKey: "welcome-mail-42",
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	exec, _ := orch.GetRetryStatus("exec-1", "send_email")
	fmt.Println(res)
	fmt.Println(exec.Status, len(exec.Attempts))

	// Replaying the node with the same key returns the cached result
	res, _ = orch.Run(context.Background(), "send_email", "exec-2", send, engine.RunOptions{
		IdempotencyKey: "welcome-mail-42",
	})
	fmt.Println(res, calls)

	// Output:
	// 202 Accepted
	// succeeded 3
	// 202 Accepted 3
}

// Example_circuitBreaker shows a failing connector tripping its breaker.
func Example_circuitBreaker() {
	orch := engine.NewOrchestrator(engine.DefaultConfig(), engine.WithSleeper(noWait))
	threshold := 2

	down := func(ctx context.Context) (any, error) {
		return nil, errors.New("503 Service Unavailable")
	}
	opts := engine.RunOptions{
		ConnectorID:    "slack",
		CircuitBreaker: &engine.CircuitBreakerOverride{FailureThreshold: &threshold},
	}

	_, err := orch.Run(context.Background(), "post_message", "exec-1", down, opts)
	if coe, ok := engine.AsCircuitOpen(err); ok {
		fmt.Println("tripped:", coe.Tripped)
	}

	_, err = orch.Run(context.Background(), "post_message", "exec-2", down, opts)
	fmt.Println("rejected:", engine.IsCircuitOpen(err))
	fmt.Println(orch.GetCircuitState("slack", "post_message").State)

	// Output:
	// tripped: true
	// rejected: true
	// open
}

// Example_deadLetterQueue shows an exhausted execution being replayed.
func Example_deadLetterQueue() {
	orch := engine.NewOrchestrator(engine.DefaultConfig(), engine.WithSleeper(noWait))

	flaky := func(ctx context.Context) (any, error) {
		return nil, errors.New("connection reset: ECONNRESET")
	}

	_, err := orch.Run(context.Background(), "sync_crm", "exec-1", flaky, engine.RunOptions{})
	fmt.Println("dlq:", engine.IsDLQExhausted(err))

	for _, item := range orch.ListDLQ() {
		fmt.Println(item.ExecutionID, item.NodeID, len(item.Attempts))
	}

	if err := orch.Replay(context.Background(), "exec-1", "sync_crm"); err != nil {
		fmt.Println("replay failed:", err)
		return
	}
	exec, _ := orch.GetRetryStatus("exec-1", "sync_crm")
	fmt.Println(exec.Status, len(orch.ListDLQ()))

	// Output:
	// dlq: true
	// exec-1 sync_crm 3
	// pending 0
}

// ExampleComputeDelay prints the backoff schedule of a policy without jitter.
func ExampleComputeDelay() {
	policy := engine.DefaultRetryPolicy()
	policy.JitterEnabled = false
	policy.MaxDelay = 5 * time.Second

	for attempt := 1; attempt <= 4; attempt++ {
		fmt.Println(engine.ComputeDelay(attempt, policy, nil))
	}

	// Output:
	// 1s
	// 2s
	// 4s
	// 5s
}

// ExampleClassifyMessage shows how failure messages map to error kinds.
func ExampleClassifyMessage() {
	for _, msg := range []string{
		"context deadline exceeded: request timed out",
		"HTTP 429: rate limit exceeded",
		"502 Bad Gateway",
		"invalid api key",
	} {
		fmt.Println(engine.ClassifyMessage(msg))
	}

	// Output:
	// TIMEOUT
	// RATE_LIMIT
	// UNKNOWN_ERROR
	// UNKNOWN_ERROR
}
