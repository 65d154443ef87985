// Package telemetry provides the observability stack for flowguard.
//
// Logging uses zerolog and tracing uses OpenTelemetry. Metrics live in a
// private Prometheus registry. Events are published to in-process
// subscribers; serve persists them to the journal.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.Metrics.StartMetricsServer(ctx, tel.Logger.Zerolog()); err != nil {
//	    return err
//	}
//
// The orchestrator takes each piece separately:
//
//	orch := engine.NewOrchestrator(engine.DefaultConfig(),
//	    engine.WithLogger(tel.Logger.Component("engine")),
//	    engine.WithMetrics(tel.Metrics),
//	    engine.WithTracer(tel.Tracer),
//	    engine.WithEvents(tel.Events),
//	)
//
// # Nil Safety
//
// A nil *Metrics, *Tracer or *EventPublisher is valid and does nothing, so
// library users that skip telemetry pay no setup cost.
//
// # Metrics
//
// Key metrics exposed (namespace "flowguard" by default):
//
//   - flowguard_attempts_total{connector,node_type}
//   - flowguard_attempt_duration_seconds{connector,result}
//   - flowguard_execution_outcomes_total{connector,status}
//   - flowguard_retry_delay_seconds{connector}
//   - flowguard_errors_by_kind_total{kind}
//   - flowguard_circuit_transitions_total{connector,from,to}
//   - flowguard_circuit_state{connector,node}
//   - flowguard_circuit_rejections_total{connector}
//   - flowguard_idempotency_hits_total
//   - flowguard_dlq_items
//   - flowguard_dlq_replays_total
//   - flowguard_janitor_evictions_total{table}
//
// # Exporters
//
// Tracing supports "otlp" (OTLP/gRPC), "stdout" and "none". Tracing is off
// by default. Each Run gets a flowguard.run span with one flowguard.attempt
// child per attempt; scheduled retries appear as span events carrying the
// error kind and delay, and the run's log lines carry the trace_id.
//
// # Graceful Shutdown
//
// Shut telemetry down before exit so queued events and spans are flushed:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	_ = tel.Shutdown(ctx)
package telemetry
