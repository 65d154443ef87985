package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is an audit record of something the resilience core did.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// ExecutionID is the associated workflow execution, if applicable.
	ExecutionID string `json:"execution_id,omitempty"`

	// NodeID is the associated workflow node, if applicable.
	NodeID string `json:"node_id,omitempty"`

	// ConnectorID is the associated connector, if applicable.
	ConnectorID string `json:"connector_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants.
const (
	EventTypeRetryScheduled     = "retry.scheduled"
	EventTypeExecutionSucceeded = "execution.succeeded"
	EventTypeExecutionFailed    = "execution.failed"
	EventTypeExecutionDLQ       = "execution.dlq"
	EventTypeExecutionReplayed  = "execution.replayed"
	EventTypeCircuitChanged     = "circuit.state_changed"
	EventTypeCircuitRejected    = "circuit.rejected"
	EventTypeJanitorSweep       = "janitor.sweep"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions. A nil
// *EventPublisher drops every event.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.run()
	}

	return ep, nil
}

// Publish hands event to the subscribers. Synchronous publishers deliver
// before returning. Async ones never block: a full buffer drops the event
// and reports it.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliver(event)
		return nil
	}
	if ep.ctx.Err() != nil {
		return fmt.Errorf("event publisher stopped, %s dropped", event.Type)
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, %s dropped", event.Type)
	}
}

// PublishRetryScheduled publishes a retry scheduled event.
func (ep *EventPublisher) PublishRetryScheduled(executionID, nodeID, connectorID string, attempt int, kind string, delay time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeRetryScheduled,
		Source:      "orchestrator",
		ExecutionID: executionID,
		NodeID:      nodeID,
		ConnectorID: connectorID,
		Message:     fmt.Sprintf("Attempt %d of %s failed (%s), retrying in %s", attempt, nodeID, kind, delay),
		Level:       EventLevelWarning,
		Data: map[string]interface{}{
			"attempt":    attempt,
			"error_kind": kind,
			"delay_ms":   delay.Milliseconds(),
		},
	})
}

// PublishExecutionFinished publishes the terminal outcome of a Run call.
func (ep *EventPublisher) PublishExecutionFinished(executionID, nodeID, connectorID, status string, attempts int, reason string) error {
	event := Event{
		Source:      "orchestrator",
		ExecutionID: executionID,
		NodeID:      nodeID,
		ConnectorID: connectorID,
		Data: map[string]interface{}{
			"status":   status,
			"attempts": attempts,
		},
	}
	switch status {
	case "succeeded":
		event.Type = EventTypeExecutionSucceeded
		event.Level = EventLevelInfo
		event.Message = fmt.Sprintf("Node %s succeeded after %d attempt(s)", nodeID, attempts)
	case "dlq":
		event.Type = EventTypeExecutionDLQ
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Node %s moved to dead letter queue after %d attempt(s): %s", nodeID, attempts, reason)
		event.Data["reason"] = reason
	default:
		event.Type = EventTypeExecutionFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Node %s failed: %s", nodeID, reason)
		event.Data["reason"] = reason
	}
	return ep.Publish(event)
}

// PublishReplay publishes a dead letter queue replay event.
func (ep *EventPublisher) PublishReplay(executionID, nodeID string) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionReplayed,
		Source:      "dlq",
		ExecutionID: executionID,
		NodeID:      nodeID,
		Message:     fmt.Sprintf("Node %s of execution %s reset for replay", nodeID, executionID),
		Level:       EventLevelInfo,
	})
}

// PublishCircuitChanged publishes a circuit breaker state transition.
func (ep *EventPublisher) PublishCircuitChanged(connectorID, nodeID, from, to, lastError string) error {
	level := EventLevelInfo
	if to == "open" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:        EventTypeCircuitChanged,
		Source:      "circuit_breaker",
		NodeID:      nodeID,
		ConnectorID: connectorID,
		Message:     fmt.Sprintf("Circuit %s:%s changed from %s to %s", connectorID, nodeID, from, to),
		Level:       level,
		Data: map[string]interface{}{
			"from":       from,
			"to":         to,
			"last_error": lastError,
		},
	})
}

// PublishCircuitRejected publishes an attempt refused by an open breaker.
func (ep *EventPublisher) PublishCircuitRejected(executionID, nodeID, connectorID string) error {
	return ep.Publish(Event{
		Type:        EventTypeCircuitRejected,
		Source:      "circuit_breaker",
		ExecutionID: executionID,
		NodeID:      nodeID,
		ConnectorID: connectorID,
		Message:     fmt.Sprintf("Circuit %s:%s is open, attempt rejected", connectorID, nodeID),
		Level:       EventLevelWarning,
	})
}

// PublishSweep publishes a janitor pass summary.
func (ep *EventPublisher) PublishSweep(executions, idempotencyKeys, circuits int) error {
	return ep.Publish(Event{
		Type:    EventTypeJanitorSweep,
		Source:  "janitor",
		Message: fmt.Sprintf("Janitor removed %d execution(s), %d idempotency key(s), %d circuit(s)", executions, idempotencyKeys, circuits),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"executions":       executions,
			"idempotency_keys": idempotencyKeys,
			"circuits":         circuits,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// run delivers queued events in publish order. Each wake-up takes up to
// MaxBatchSize events so the subscriber list is read-locked once per batch.
// After Shutdown the buffer is drained before run returns.
func (ep *EventPublisher) run() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch[:0], event)
		fill:
			for len(batch) < ep.config.MaxBatchSize {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					break fill
				}
			}
			ep.deliver(batch...)

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(events ...Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, event := range events {
		for _, entry := range ep.subscribers {
			if entry.filter == nil || entry.filter(event) {
				entry.subscriber(event)
			}
		}
	}
}

// Shutdown stops accepting events and waits until the queued ones have
// been delivered, or ctx ends.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByExecutionID creates a filter that only allows events for one execution.
func FilterByExecutionID(executionID string) EventFilter {
	return func(event Event) bool {
		return event.ExecutionID == executionID
	}
}
