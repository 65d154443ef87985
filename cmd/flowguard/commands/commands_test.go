package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// testConfig writes a configuration whose journal lives in a temp dir.
func testConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := `defaults:
  policy:
    max_attempts: 2
    initial_delay: 10ms
  circuit_breaker:
    failure_threshold: 3
store:
  path: ` + filepath.Join(dir, "flowguard.db") + `
` + extra
	path := filepath.Join(dir, "flowguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "unknown")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulateRetriesUntilSuccess(t *testing.T) {
	cfg := testConfig(t, "")

	out, err := runCommand(t, "-c", cfg, "--json", "simulate",
		"--execution", "exec-1", "--fail", "1", "--no-wait")
	if err != nil {
		t.Fatalf("simulate error = %v", err)
	}

	var report simulationReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to decode report %q: %v", out, err)
	}
	if report.Result != "ok" || report.Calls != 2 {
		t.Errorf("report = %+v, want ok after 2 calls", report)
	}
	if len(report.Delays) != 1 {
		t.Errorf("len(Delays) = %d, want 1", len(report.Delays))
	}
	if report.Execution == nil || report.Execution.Status != engine.ExecutionStatusSucceeded {
		t.Errorf("Execution = %+v, want succeeded", report.Execution)
	}
}

func TestSimulateDLQAndReplay(t *testing.T) {
	cfg := testConfig(t, "")

	if _, err := runCommand(t, "-c", cfg, "simulate",
		"--execution", "exec-1", "--fail", "-1", "--no-wait"); err != nil {
		t.Fatalf("simulate error = %v", err)
	}

	// A fresh process sees the dead-lettered execution through the journal.
	out, err := runCommand(t, "-c", cfg, "--json", "dlq", "list")
	if err != nil {
		t.Fatalf("dlq list error = %v", err)
	}
	var execs []engine.RetryableExecution
	if err := json.Unmarshal([]byte(out), &execs); err != nil {
		t.Fatalf("failed to decode %q: %v", out, err)
	}
	if len(execs) != 1 || execs[0].ExecutionID != "exec-1" || execs[0].Status != engine.ExecutionStatusDLQ {
		t.Fatalf("dlq list = %+v, want exec-1 in dlq", execs)
	}
	if len(execs[0].Attempts) != 2 {
		t.Errorf("len(Attempts) = %d, want 2", len(execs[0].Attempts))
	}

	out, err = runCommand(t, "-c", cfg, "dlq", "replay", "exec-1", "node-1")
	if err != nil {
		t.Fatalf("dlq replay error = %v", err)
	}
	if !strings.Contains(out, "Replayed exec-1/node-1") {
		t.Errorf("replay output = %q", out)
	}

	out, err = runCommand(t, "-c", cfg, "dlq", "list")
	if err != nil {
		t.Fatalf("dlq list error = %v", err)
	}
	if !strings.Contains(out, "No executions") {
		t.Errorf("dlq list after replay = %q, want empty", out)
	}
}

func TestSimulateTripsCircuit(t *testing.T) {
	cfg := testConfig(t, "")

	for _, exec := range []string{"exec-1", "exec-2"} {
		if _, err := runCommand(t, "-c", cfg, "simulate", "--execution", exec,
			"--connector", "slack", "--node", "post", "--fail", "-1", "--message", "HTTP 503", "--no-wait"); err != nil {
			t.Fatalf("simulate %s error = %v", exec, err)
		}
	}

	out, err := runCommand(t, "-c", cfg, "--json", "circuit", "status", "slack", "post")
	if err != nil {
		t.Fatalf("circuit status error = %v", err)
	}
	var states []engine.CircuitBreakerState
	if err := json.Unmarshal([]byte(out), &states); err != nil {
		t.Fatalf("failed to decode %q: %v", out, err)
	}
	if len(states) != 1 || states[0].State != engine.CircuitOpen {
		t.Fatalf("circuit status = %+v, want one open breaker", states)
	}
	if states[0].ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", states[0].ConsecutiveFailures)
	}

	if _, err := runCommand(t, "-c", cfg, "circuit", "reset", "slack", "post"); err != nil {
		t.Fatalf("circuit reset error = %v", err)
	}
	out, err = runCommand(t, "-c", cfg, "--json", "circuit", "status", "slack", "post")
	if err != nil {
		t.Fatalf("circuit status error = %v", err)
	}
	if err := json.Unmarshal([]byte(out), &states); err != nil {
		t.Fatalf("failed to decode %q: %v", out, err)
	}
	if len(states) != 1 || states[0].State != engine.CircuitClosed {
		t.Errorf("circuit status after reset = %+v, want closed", states)
	}
}

func TestValidateCommand(t *testing.T) {
	cfg := testConfig(t, "")
	out, err := runCommand(t, "validate", cfg)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("validate output = %q", out)
	}

	bad := testConfig(t, "janitor:\n  interval: -1s\n")
	if _, err := runCommand(t, "validate", bad); err == nil {
		t.Error("validate expected error for negative interval")
	}

	if _, err := runCommand(t, "validate"); err == nil {
		t.Error("validate expected error without a path")
	}
}

func TestClassifyCommand(t *testing.T) {
	rules := t.TempDir()
	if err := os.WriteFile(filepath.Join(rules, "quota.json"),
		[]byte(`{"patterns": {"RATE_LIMIT": ["quota exceeded"]}}`), 0o644); err != nil {
		t.Fatalf("failed to write rules: %v", err)
	}
	cfg := testConfig(t, "classifier:\n  rego_paths:\n    - "+rules+"\n")

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"rule", "Quota exceeded", "RATE_LIMIT (decided by rego, retryable: true)"},
		{"heuristic", "connect ETIMEDOUT", "TIMEOUT (decided by heuristic, retryable: true)"},
		{"unknown", "invalid argument", "UNKNOWN_ERROR (decided by heuristic, retryable: false)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCommand(t, "-c", cfg, "classify", tt.message)
			if err != nil {
				t.Fatalf("classify error = %v", err)
			}
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("classify = %q, want %q", strings.TrimSpace(out), tt.want)
			}
		})
	}
}

func TestStatsAndSweep(t *testing.T) {
	cfg := testConfig(t, "")
	if _, err := runCommand(t, "-c", cfg, "simulate", "--execution", "exec-1", "--fail", "0"); err != nil {
		t.Fatalf("simulate error = %v", err)
	}

	out, err := runCommand(t, "-c", cfg, "--json", "stats")
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	var stats engine.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("failed to decode %q: %v", out, err)
	}
	if stats.SuccessRate != 1 || stats.DLQItems != 0 || stats.ActiveExecutions != 0 {
		t.Errorf("stats = %+v, want one succeeded execution", stats)
	}

	if _, err := runCommand(t, "-c", cfg, "sweep"); err != nil {
		t.Fatalf("sweep error = %v", err)
	}
}
