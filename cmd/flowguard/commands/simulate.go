package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// simulation is a scripted operation that fails a fixed number of times.
type simulation struct {
	failures int
	message  string
	result   string

	mu     sync.Mutex
	calls  int
	delays []time.Duration
}

func (s *simulation) run(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failures < 0 || s.calls <= s.failures {
		return "", errors.New(s.message)
	}
	return s.result, nil
}

// sleeper records every backoff delay and waits for it unless noWait is set.
func (s *simulation) sleeper(noWait bool) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		s.mu.Lock()
		s.delays = append(s.delays, d)
		s.mu.Unlock()

		if noWait {
			return ctx.Err()
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}

type simulationReport struct {
	Result    string                      `json:"result,omitempty"`
	Error     string                      `json:"error,omitempty"`
	Calls     int                         `json:"calls"`
	Delays    []string                    `json:"delays"`
	Execution *engine.RetryableExecution  `json:"execution,omitempty"`
	Circuit   *engine.CircuitBreakerState `json:"circuit,omitempty"`
}

func newSimulateCommand() *cobra.Command {
	var (
		executionID    string
		nodeID         string
		nodeType       string
		connectorID    string
		failures       int
		message        string
		result         string
		idempotencyKey string
		maxAttempts    int
		noWait         bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a scripted operation through the orchestrator",
		Long: `Run a fixture operation that fails a number of times with a given message
and then succeeds. The run uses the configured policies, breakers, classifier
and journal, so its effects are visible to the other commands.

Use --fail -1 for an operation that never succeeds.`,
		Example: `  # Two timeouts, then success
  flowguard simulate --fail 2 --message "connect ETIMEDOUT"

  # Trip the slack breaker without waiting for backoff
  flowguard simulate --connector slack --node post --fail -1 --message "HTTP 503" --no-wait

  # A non-retryable failure
  flowguard simulate --fail 1 --message "invalid argument"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if executionID == "" {
				executionID = uuid.NewString()
			}
			sim := &simulation{failures: failures, message: message, result: result}

			ctx := cmd.Context()
			opts := runtimeOptions{sleeper: sim.sleeper(noWait)}
			return withRuntime(ctx, opts, func(rt *runtime) error {
				runOpts := engine.RunOptions{
					IdempotencyKey: idempotencyKey,
					NodeType:       nodeType,
					ConnectorID:    connectorID,
					NodeLabel:      "simulation",
				}
				if maxAttempts > 0 {
					runOpts.Policy = &engine.PolicyOverride{MaxAttempts: &maxAttempts}
				}

				res, runErr := engine.Do(ctx, rt.orch, nodeID, executionID, sim.run, runOpts)

				report := simulationReport{Result: res, Calls: sim.calls, Delays: []string{}}
				for _, d := range sim.delays {
					report.Delays = append(report.Delays, d.String())
				}
				if runErr != nil {
					report.Error = runErr.Error()
				}
				if ex, ok := rt.orch.GetRetryStatus(executionID, nodeID); ok {
					report.Execution = &ex
				}
				if connectorID != "" {
					st := rt.orch.GetCircuitState(connectorID, nodeID)
					report.Circuit = &st
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), report)
				}
				printSimulation(cmd, executionID, nodeID, report)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&executionID, "execution", "", "execution id (default: random)")
	cmd.Flags().StringVar(&nodeID, "node", "node-1", "node id")
	cmd.Flags().StringVar(&nodeType, "node-type", "", "node type used for policy resolution")
	cmd.Flags().StringVar(&connectorID, "connector", "", "connector id; enables circuit breaking")
	cmd.Flags().IntVar(&failures, "fail", 2, "number of failing calls before success (-1 never succeeds)")
	cmd.Flags().StringVar(&message, "message", "connect ETIMEDOUT", "error message of failing calls")
	cmd.Flags().StringVar(&result, "result", "ok", "result returned on success")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override the resolved max attempts")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "skip backoff waits")

	return cmd
}

func printSimulation(cmd *cobra.Command, executionID, nodeID string, r simulationReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Execution %s/%s\n", executionID, nodeID)
	fmt.Fprintf(w, "  Calls:   %d\n", r.Calls)
	fmt.Fprintf(w, "  Delays:  %v\n", r.Delays)
	if r.Execution != nil {
		fmt.Fprintf(w, "  Status:  %s\n", r.Execution.Status)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  Error:   %s\n", r.Error)
	} else {
		fmt.Fprintf(w, "  Result:  %s\n", r.Result)
	}
	if r.Circuit != nil {
		fmt.Fprintf(w, "  Circuit: %s (%d/%d failures)\n", r.Circuit.State, r.Circuit.ConsecutiveFailures, r.Circuit.Config.FailureThreshold)
	}
}
