package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/internal/metrics"
	"github.com/jobflow/orchestrator/types"
)

// ErrExecutionNotFound is returned by GetExecution for an unknown id.
var ErrExecutionNotFound = errors.New("workflow execution not found")

// Dispatcher sends one step call to a downstream agent. Failures are
// encoded in the response, never returned as errors.
type Dispatcher interface {
	Call(ctx context.Context, req types.AgentRequest) types.AgentResponse
}

// Engine drives workflow executions to completion. Each launch owns one
// goroutine running the wave loop: compute the ready frontier, dispatch it
// concurrently, wait for the whole wave to settle, repeat. Executions are
// independent; the only cross-execution shared state is the breaker
// registry inside the dispatcher.
type Engine struct {
	registry   *Registry
	dispatcher Dispatcher
	collector  *metrics.Collector
	logger     *zap.Logger

	mu         sync.RWMutex
	executions map[string]*executionState
	wg         sync.WaitGroup
}

// executionState is the engine-private mutable state for one execution.
type executionState struct {
	mu        sync.Mutex
	exec      *Execution
	def       *Definition
	cancelled bool
}

// NewEngine creates an execution engine. collector may be nil.
func NewEngine(registry *Registry, dispatcher Dispatcher, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:   registry,
		dispatcher: dispatcher,
		collector:  collector,
		logger:     logger.With(zap.String("component", "workflow_engine")),
		executions: make(map[string]*executionState),
	}
}

// Start launches a workflow execution and returns immediately with the
// execution in processing state and every step pending. The wave loop runs
// in the background; its panics are recovered into a terminal failed state.
// The only synchronous error is an unknown workflow type.
func (e *Engine) Start(ctx context.Context, workflowType Type, userID string, params map[string]any) (*Execution, error) {
	def, err := e.registry.Get(workflowType)
	if err != nil {
		return nil, err
	}

	state := &executionState{
		exec: newExecution(def, userID, params),
		def:  def,
	}

	e.mu.Lock()
	e.executions[state.exec.ID] = state
	e.mu.Unlock()

	e.logger.Info("workflow execution started",
		zap.String("execution_id", state.exec.ID),
		zap.String("workflow_type", string(workflowType)),
		zap.String("user_id", userID),
		zap.String("correlation_id", state.exec.Metadata.CorrelationID),
		zap.Int("steps", len(def.Steps)))

	// Snapshot before the wave loop starts so the caller sees the launch
	// state: execution processing, every step pending.
	snap := state.exec.snapshot()

	e.wg.Add(1)
	go e.run(state)

	return snap, nil
}

// GetExecution returns a snapshot of the execution. Snapshots of terminal
// executions are identical across calls.
func (e *Engine) GetExecution(id string) (*Execution, error) {
	e.mu.RLock()
	state, ok := e.executions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.exec.snapshot(), nil
}

// ListExecutions returns snapshots of every execution the process has seen.
func (e *Engine) ListExecutions() []*Execution {
	e.mu.RLock()
	states := make([]*executionState, 0, len(e.executions))
	for _, s := range e.executions {
		states = append(states, s)
	}
	e.mu.RUnlock()

	out := make([]*Execution, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, s.exec.snapshot())
		s.mu.Unlock()
	}
	return out
}

// CancelExecution flips a processing execution to cancelled. In-flight
// dispatches of the current wave are not aborted, but their results are
// discarded. Returns true only if the execution was processing.
func (e *Engine) CancelExecution(id string) bool {
	e.mu.RLock()
	state, ok := e.executions[id]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.exec.Status != StatusProcessing {
		return false
	}
	state.cancelled = true
	now := time.Now()
	state.exec.Status = StatusCancelled
	state.exec.CompletedAt = &now
	state.exec.Error = "execution cancelled"
	state.exec.ErrorCode = types.ErrExecutionCancelled
	// In-flight steps settle as cancelled so the terminal record shows
	// what was still running at the cut.
	for i := range state.exec.Steps {
		if state.exec.Steps[i].Status == StatusProcessing {
			state.exec.Steps[i].Status = StatusCancelled
			state.exec.Steps[i].CompletedAt = &now
		}
	}

	e.logger.Info("workflow execution cancelled",
		zap.String("execution_id", id),
		zap.String("workflow_type", string(state.exec.WorkflowType)))
	e.recordTerminal(state)
	return true
}

// Shutdown waits for in-flight executions to drain, up to the context
// deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: executions still in flight: %w", ctx.Err())
	}
}

// stepResult is one settled dispatch within a wave.
type stepResult struct {
	step Step
	resp types.AgentResponse
}

// run drives one execution through the wave loop.
func (e *Engine) run(state *executionState) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow execution panicked",
				zap.String("execution_id", state.exec.ID),
				zap.Any("panic", r))
			e.finish(state, StatusFailed, types.ErrInternalError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx := context.Background()
	if state.def.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, state.def.MaxDuration)
		defer cancel()
	}

	completed := make(map[string]bool, len(state.def.Steps))
	failed := make(map[string]bool, len(state.def.Steps))

	for len(completed)+len(failed) < len(state.def.Steps) {
		frontier := e.readyFrontier(state.def, completed, failed)
		if len(frontier) == 0 {
			// Unsatisfiable non-optional dependency chain: nothing can
			// run but the DAG is incomplete.
			e.finish(state, StatusFailed, types.ErrExecutionDeadlock, "deadlock: no ready steps remain but workflow is incomplete")
			return
		}

		results := e.dispatchWave(ctx, state, frontier, completed)
		if results == nil {
			// Execution was cancelled mid-wave; results discarded.
			return
		}

		// Settle the whole wave before applying the error policy, so a
		// sibling whose result lands after the failing step's is still
		// recorded in the terminal execution.
		var abort *stepResult
		for i := range results {
			res := &results[i]
			if res.resp.Success {
				completed[res.step.ID] = true
				e.settleStep(state, res.step, StatusCompleted, res.resp)
				continue
			}

			e.settleStep(state, res.step, StatusFailed, res.resp)
			if res.step.Optional {
				// Tolerated failure: the step passes through so its
				// dependents stay schedulable, the error is kept on the
				// step record.
				completed[res.step.ID] = true
				continue
			}

			failed[res.step.ID] = true
			if state.def.OnError == OnErrorAbort && abort == nil {
				abort = res
			}
		}

		if abort != nil {
			// Abandon everything not yet started; untouched steps
			// stay pending.
			e.finish(state, StatusFailed, types.ErrStepFailed,
				fmt.Sprintf("step %s failed: %s", abort.step.ID, abort.resp.Error))
			return
		}

		if ctx.Err() != nil && len(completed)+len(failed) < len(state.def.Steps) {
			e.finish(state, StatusFailed, "",
				fmt.Sprintf("workflow exceeded max duration %v", state.def.MaxDuration))
			return
		}
	}

	if len(failed) > 0 {
		e.finish(state, StatusPartial, "", "")
		return
	}
	e.finish(state, StatusCompleted, "", "")
}

// readyFrontier returns the steps whose dependencies are satisfied: every
// dependency completed, or failed when the dependent step is optional.
func (e *Engine) readyFrontier(def *Definition, completed, failed map[string]bool) []Step {
	var frontier []Step
	for _, step := range def.Steps {
		if completed[step.ID] || failed[step.ID] {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if completed[dep] {
				continue
			}
			if failed[dep] && step.Optional {
				continue
			}
			ready = false
			break
		}
		if ready {
			frontier = append(frontier, step)
		}
	}
	return frontier
}

// dispatchWave fires every frontier step concurrently and waits for all of
// them to settle; one step's failure never cancels its siblings. Returns
// nil when the execution was cancelled while the wave was in flight.
func (e *Engine) dispatchWave(ctx context.Context, state *executionState, frontier []Step, completed map[string]bool) []stepResult {
	state.mu.Lock()
	if state.cancelled {
		state.mu.Unlock()
		return nil
	}
	now := time.Now()
	for _, step := range frontier {
		se := state.exec.step(step.ID)
		se.Status = StatusProcessing
		started := now
		se.StartedAt = &started
	}
	payloadBase := e.buildPayloadBase(state, completed)
	userID := state.exec.UserID
	correlationID := state.exec.Metadata.CorrelationID
	state.mu.Unlock()

	e.logger.Debug("dispatching wave",
		zap.String("execution_id", state.exec.ID),
		zap.Int("steps", len(frontier)))

	results := make([]stepResult, len(frontier))
	var wg sync.WaitGroup
	for i, step := range frontier {
		wg.Add(1)
		go func(i int, step Step) {
			defer wg.Done()
			payload := make(map[string]any, len(step.Params)+len(payloadBase))
			for k, v := range step.Params {
				payload[k] = v
			}
			for k, v := range payloadBase {
				payload[k] = v
			}
			resp := e.dispatcher.Call(ctx, types.AgentRequest{
				AgentType:     step.Agent,
				Action:        step.Action,
				Payload:       payload,
				UserID:        userID,
				CorrelationID: correlationID,
				Timeout:       step.Timeout,
			})
			results[i] = stepResult{step: step, resp: resp}
		}(i, step)
	}
	wg.Wait()

	state.mu.Lock()
	cancelled := state.cancelled
	state.mu.Unlock()
	if cancelled {
		return nil
	}
	return results
}

// buildPayloadBase merges the execution's input parameters with a read-only
// snapshot of all prior step outputs, so later steps can consume earlier
// results (state.mu held).
func (e *Engine) buildPayloadBase(state *executionState, completed map[string]bool) map[string]any {
	base := make(map[string]any, len(state.exec.Metadata.Params)+1)
	for k, v := range state.exec.Metadata.Params {
		base[k] = v
	}
	stepResults := make(map[string]any, len(completed))
	for id := range completed {
		if data, ok := state.exec.Result[id]; ok {
			stepResults[id] = data
		}
	}
	base["step_results"] = stepResults
	return base
}

// settleStep records one step outcome unless the execution already reached
// a terminal state.
func (e *Engine) settleStep(state *executionState, step Step, status Status, resp types.AgentResponse) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.cancelled || state.exec.Status.Terminal() {
		return
	}

	se := state.exec.step(step.ID)
	now := time.Now()
	se.CompletedAt = &now
	se.Status = status
	if resp.Success {
		se.Result = resp.Data
		state.exec.Result[step.ID] = resp.Data
	} else {
		se.Error = resp.Error
		se.ErrorCode = resp.ErrorCode
	}

	if e.collector != nil {
		e.collector.RecordStep(string(state.exec.WorkflowType), step.ID, string(status))
	}
}

// finish moves the execution to a terminal status. CompletedAt is set
// exactly once, at the same transition.
func (e *Engine) finish(state *executionState, status Status, errCode types.ErrorCode, errMsg string) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.exec.Status.Terminal() {
		return
	}

	now := time.Now()
	state.exec.Status = status
	state.exec.CompletedAt = &now
	state.exec.Error = errMsg
	state.exec.ErrorCode = errCode

	e.logger.Info("workflow execution finished",
		zap.String("execution_id", state.exec.ID),
		zap.String("workflow_type", string(state.exec.WorkflowType)),
		zap.String("status", string(status)),
		zap.Duration("duration", now.Sub(state.exec.StartedAt)),
		zap.String("error", errMsg))
	e.recordTerminal(state)
}

// recordTerminal emits terminal execution metrics (state.mu held).
func (e *Engine) recordTerminal(state *executionState) {
	if e.collector == nil || state.exec.CompletedAt == nil {
		return
	}
	e.collector.RecordExecution(
		string(state.exec.WorkflowType),
		string(state.exec.Status),
		state.exec.CompletedAt.Sub(state.exec.StartedAt))
}
