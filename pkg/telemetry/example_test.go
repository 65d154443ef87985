package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/flowguard/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Metrics.Enabled = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx).Component("example")
	execLog := telemetry.ExecutionFields(logger.With(), "exec-1", "node-1", "smtp").Logger()
	execLog.Debug().Msg("Telemetry ready")

	// Output can vary, so we don't specify output for this example
}

// Example_eventFiltering demonstrates synchronous event delivery with a filter.
func Example_eventFiltering() {
	events, _ := telemetry.NewEventPublisher(telemetry.EventsConfig{
		Enabled:    true,
		BufferSize: 10,
	})
	defer events.Shutdown(context.Background())

	events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Level)
	}, telemetry.FilterByType(telemetry.EventTypeExecutionDLQ))

	_ = events.PublishRetryScheduled("exec-1", "send_email", "smtp", 1, "TIMEOUT", time.Second)
	_ = events.PublishExecutionFinished("exec-1", "send_email", "smtp", "dlq", 3, "ETIMEDOUT")

	// Output:
	// execution.dlq error
}
