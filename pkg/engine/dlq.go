package engine

import (
	"context"
	"fmt"
	"sort"
)

// ListDLQ returns the executions that exhausted their attempts, most
// recently updated first.
func (o *Orchestrator) ListDLQ() []RetryableExecution {
	out := o.collect(func(ex *RetryableExecution) bool {
		return ex.Status == ExecutionStatusDLQ
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Replay resets a dead-lettered execution so the next Run starts a fresh
// attempt sequence. The operation itself is not invoked; re-executing the
// node is left to the workflow executor.
func (o *Orchestrator) Replay(ctx context.Context, executionID, nodeID string) error {
	e := o.lookup(executionID, nodeID)
	if e == nil {
		return NewNotFoundError(fmt.Sprintf("no retry record for node %s in execution %s", nodeID, executionID)).
			WithExecution(executionID, nodeID)
	}

	if e.exec.Status != ExecutionStatusDLQ {
		status := e.exec.Status
		e.mu.Unlock()
		return NewInvalidStateError(fmt.Sprintf("execution is %s, only dlq executions can be replayed", status)).
			WithExecution(executionID, nodeID)
	}

	e.exec.Attempts = []RetryAttempt{}
	e.exec.LastError = ""
	e.exec.Status = ExecutionStatusPending
	e.exec.UpdatedAt = o.now()
	o.persistLocked(ctx, e)
	e.mu.Unlock()

	o.logger.Info().Str("execution_id", executionID).Str("node_id", nodeID).Msg("Replaying dead-lettered execution")
	o.metrics.RecordReplay()
	o.metrics.SetDLQItems(o.dlqCount())
	_ = o.events.PublishReplay(executionID, nodeID)
	return nil
}

// collect returns copies of the records matching keep.
func (o *Orchestrator) collect(keep func(ex *RetryableExecution) bool) []RetryableExecution {
	out := make([]RetryableExecution, 0)
	o.executions.Range(func(_, v any) bool {
		e := v.(*executionEntry)
		e.mu.Lock()
		if !e.removed && keep(&e.exec) {
			out = append(out, e.exec.clone())
		}
		e.mu.Unlock()
		return true
	})
	return out
}

func (o *Orchestrator) dlqCount() int {
	n := 0
	o.executions.Range(func(_, v any) bool {
		e := v.(*executionEntry)
		e.mu.Lock()
		if !e.removed && e.exec.Status == ExecutionStatusDLQ {
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}
