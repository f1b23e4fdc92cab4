package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/internal/metrics"
	"github.com/jobflow/orchestrator/internal/queue"
	"github.com/jobflow/orchestrator/types"
	"github.com/jobflow/orchestrator/workflow"
)

// ErrTaskNotFound is returned for an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// Launcher is the slice of the workflow engine the front door needs.
type Launcher interface {
	Start(ctx context.Context, workflowType workflow.Type, userID string, params map[string]any) (*workflow.Execution, error)
	GetExecution(id string) (*workflow.Execution, error)
}

// Queue is the external task queue submission contract.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload map[string]any, opts queue.Options) (string, error)
}

// workflowTaskTypes maps external task types onto workflow types. Anything
// not listed here is handed to the background queue instead.
var workflowTaskTypes = map[string]workflow.Type{
	"job_discovery":          workflow.TypeJobDiscovery,
	"application":            workflow.TypeApplication,
	"interview_prep":         workflow.TypeInterviewPrep,
	"analytics_optimization": workflow.TypeAnalyticsOptimization,
}

// executionStatusNames is the fixed projection from execution status to the
// task status vocabulary exposed to callers.
var executionStatusNames = map[workflow.Status]string{
	workflow.StatusPending:    "pending",
	workflow.StatusProcessing: "processing",
	workflow.StatusCompleted:  "completed",
	workflow.StatusPartial:    "completed_with_errors",
	workflow.StatusFailed:     "failed",
	workflow.StatusCancelled:  "cancelled",
}

// StatusQueued marks tasks handed to the background queue.
const StatusQueued = "queued"

// Submission is the immediate answer to a task submission.
type Submission struct {
	TaskID      string    `json:"task_id"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	ExecutionID string    `json:"execution_id,omitempty"`
}

// Status is the answer to a task status query. It is always well-formed,
// even for failed tasks.
type Status struct {
	TaskID      string                     `json:"task_id"`
	TaskType    string                     `json:"task_type"`
	Status      string                     `json:"status"`
	StartedAt   time.Time                  `json:"started_at"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
	Results     map[string]json.RawMessage `json:"results,omitempty"`
	Error       string                     `json:"error,omitempty"`
}

// record is the front door's local bookkeeping for one submitted task.
type record struct {
	taskID      string
	taskType    string
	userID      string
	executionID string
	queueJobID  string
	createdAt   time.Time
}

// Service is the task front door: it maps task requests either directly
// onto a known workflow (synchronous kick-off, asynchronous completion) or
// hands them to the external background queue.
type Service struct {
	engine    Launcher
	queue     Queue
	collector *metrics.Collector
	logger    *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*record
}

// NewService creates a task front door. collector may be nil.
func NewService(engine Launcher, q Queue, collector *metrics.Collector, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:    engine,
		queue:     q,
		collector: collector,
		logger:    logger.With(zap.String("component", "task_front_door")),
		tasks:     make(map[string]*record),
	}
}

// Submit accepts one task request. Task types that map to a workflow are
// launched immediately; everything else is queued with the given priority
// and a standard retry policy.
func (s *Service) Submit(ctx context.Context, userID, taskType string, priority types.Priority, params map[string]any, timeout time.Duration) (Submission, error) {
	if wfType, ok := workflowTaskTypes[taskType]; ok {
		return s.submitWorkflow(ctx, userID, taskType, wfType, params)
	}
	return s.submitQueued(ctx, userID, taskType, priority, params, timeout)
}

func (s *Service) submitWorkflow(ctx context.Context, userID, taskType string, wfType workflow.Type, params map[string]any) (Submission, error) {
	exec, err := s.engine.Start(ctx, wfType, userID, params)
	if err != nil {
		return Submission{}, err
	}

	rec := &record{
		taskID:      uuid.NewString(),
		taskType:    taskType,
		userID:      userID,
		executionID: exec.ID,
		createdAt:   time.Now(),
	}
	s.mu.Lock()
	s.tasks[rec.taskID] = rec
	s.mu.Unlock()

	s.logger.Info("task mapped to workflow",
		zap.String("task_id", rec.taskID),
		zap.String("task_type", taskType),
		zap.String("execution_id", exec.ID),
		zap.String("user_id", userID))

	return Submission{
		TaskID:      rec.taskID,
		Status:      executionStatusNames[exec.Status],
		StartedAt:   exec.StartedAt,
		ExecutionID: exec.ID,
	}, nil
}

func (s *Service) submitQueued(ctx context.Context, userID, taskType string, priority types.Priority, params map[string]any, timeout time.Duration) (Submission, error) {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["user_id"] = userID

	jobID, err := s.queue.Enqueue(ctx, taskType, payload, queue.Options{
		Priority: priority.QueueValue(),
		Attempts: 3,
		Backoff:  30 * time.Second,
		Timeout:  timeout,
	})
	if err != nil {
		return Submission{}, types.NewError(types.ErrQueueUnavailable,
			fmt.Sprintf("enqueue task %s", taskType)).WithCause(err).WithRetryable(true)
	}

	rec := &record{
		taskID:     uuid.NewString(),
		taskType:   taskType,
		userID:     userID,
		queueJobID: jobID,
		createdAt:  time.Now(),
	}
	s.mu.Lock()
	s.tasks[rec.taskID] = rec
	s.mu.Unlock()

	if s.collector != nil {
		s.collector.RecordQueueSubmission(taskType, string(priority))
	}
	s.logger.Info("task queued",
		zap.String("task_id", rec.taskID),
		zap.String("task_type", taskType),
		zap.String("job_id", jobID),
		zap.String("priority", string(priority)))

	return Submission{
		TaskID:    rec.taskID,
		Status:    StatusQueued,
		StartedAt: rec.createdAt,
	}, nil
}

// TaskStatus resolves a task to its current status: workflow-backed tasks
// project the execution's state, queue-only tasks report local bookkeeping.
func (s *Service) TaskStatus(ctx context.Context, taskID string) (Status, error) {
	s.mu.RLock()
	rec, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	if rec.executionID == "" {
		return Status{
			TaskID:    rec.taskID,
			TaskType:  rec.taskType,
			Status:    StatusQueued,
			StartedAt: rec.createdAt,
		}, nil
	}

	exec, err := s.engine.GetExecution(rec.executionID)
	if err != nil {
		return Status{}, err
	}

	return Status{
		TaskID:      rec.taskID,
		TaskType:    rec.taskType,
		Status:      executionStatusNames[exec.Status],
		StartedAt:   exec.StartedAt,
		CompletedAt: exec.CompletedAt,
		Results:     exec.Result,
		Error:       exec.Error,
	}, nil
}
