package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jobflow/orchestrator/types"
)

// Status is the lifecycle state of an execution or of a single step.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartial, StatusCancelled:
		return true
	default:
		return false
	}
}

// StepExecution tracks one step for the lifetime of an execution.
type StepExecution struct {
	StepID      string          `json:"step_id"`
	Agent       types.AgentType `json:"agent"`
	Status      Status          `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   types.ErrorCode `json:"error_code,omitempty"`
	RetryCount  int             `json:"retry_count"`
}

// Metadata carries the correlation id and the caller's input parameters.
type Metadata struct {
	CorrelationID string         `json:"correlation_id"`
	Params        map[string]any `json:"params,omitempty"`
}

// Execution is one workflow invocation. It is created when the workflow is
// launched, mutated only by the engine goroutine driving it, and becomes
// immutable once Status reaches a terminal value. Execution state lives in
// memory for the lifetime of the process.
type Execution struct {
	ID           string                     `json:"id"`
	WorkflowType Type                       `json:"workflow_type"`
	UserID       string                     `json:"user_id"`
	Status       Status                     `json:"status"`
	Steps        []StepExecution            `json:"steps"`
	StartedAt    time.Time                  `json:"started_at"`
	CompletedAt  *time.Time                 `json:"completed_at,omitempty"`
	Error        string                     `json:"error,omitempty"`
	ErrorCode    types.ErrorCode            `json:"error_code,omitempty"`
	Result       map[string]json.RawMessage `json:"result,omitempty"`
	Metadata     Metadata                   `json:"metadata"`
}

// newExecution builds the initial execution record for a definition: the
// execution is processing, every step pending.
func newExecution(def *Definition, userID string, params map[string]any) *Execution {
	steps := make([]StepExecution, len(def.Steps))
	for i, step := range def.Steps {
		steps[i] = StepExecution{
			StepID: step.ID,
			Agent:  step.Agent,
			Status: StatusPending,
		}
	}
	return &Execution{
		ID:           uuid.NewString(),
		WorkflowType: def.Type,
		UserID:       userID,
		Status:       StatusProcessing,
		Steps:        steps,
		StartedAt:    time.Now(),
		Result:       make(map[string]json.RawMessage),
		Metadata: Metadata{
			CorrelationID: uuid.NewString(),
			Params:        params,
		},
	}
}

// step returns a pointer into Steps for the given id.
func (e *Execution) step(id string) *StepExecution {
	for i := range e.Steps {
		if e.Steps[i].StepID == id {
			return &e.Steps[i]
		}
	}
	return nil
}

// snapshot returns a deep copy safe to hand to callers while the engine
// goroutine keeps mutating the original.
func (e *Execution) snapshot() *Execution {
	cp := *e
	cp.Steps = make([]StepExecution, len(e.Steps))
	copy(cp.Steps, e.Steps)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Result = make(map[string]json.RawMessage, len(e.Result))
	for k, v := range e.Result {
		cp.Result[k] = v
	}
	return &cp
}
