package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func agoPtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return ago(*t)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printExecutions(w io.Writer, execs []engine.RetryableExecution) error {
	if jsonOutput {
		return printJSON(w, execs)
	}
	if len(execs) == 0 {
		fmt.Fprintln(w, "No executions")
		return nil
	}

	tw := newTable(w, "EXECUTION", "NODE", "CONNECTOR", "STATUS", "ATTEMPTS", "UPDATED", "LAST ERROR")
	for _, ex := range execs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			ex.ExecutionID, ex.NodeID, dash(ex.ConnectorID), ex.Status,
			len(ex.Attempts), ex.Policy.MaxAttempts, ago(ex.UpdatedAt), truncate(ex.LastError, 60))
	}
	return tw.Flush()
}

func printCircuits(w io.Writer, states []engine.CircuitBreakerState) error {
	if jsonOutput {
		return printJSON(w, states)
	}
	if len(states) == 0 {
		fmt.Fprintln(w, "No circuit breakers")
		return nil
	}

	tw := newTable(w, "CONNECTOR", "NODE", "STATE", "FAILURES", "THRESHOLD", "OPENED", "LAST FAILURE")
	for _, st := range states {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			st.ConnectorID, st.NodeID, st.State, st.ConsecutiveFailures,
			st.Config.FailureThreshold, agoPtr(st.OpenedAt), agoPtr(st.LastFailureAt))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
