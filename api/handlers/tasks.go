package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/tasks"
	"github.com/jobflow/orchestrator/types"
	"github.com/jobflow/orchestrator/workflow"
)

// TasksHandler serves task submission and status.
type TasksHandler struct {
	frontdoor *tasks.Service
	logger    *zap.Logger
}

// SubmitTaskRequest is the task submission body.
type SubmitTaskRequest struct {
	UserID         string         `json:"user_id"`
	TaskType       string         `json:"task_type"`
	Priority       string         `json:"priority,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
}

// NewTasksHandler creates a tasks handler.
func NewTasksHandler(frontdoor *tasks.Service, logger *zap.Logger) *TasksHandler {
	return &TasksHandler{frontdoor: frontdoor, logger: logger}
}

// HandleSubmit accepts one task submission
// @Summary Submit task
// @Description Submit a task; workflow-backed types start immediately, others are queued
// @Tags tasks
// @Accept json
// @Produce json
// @Success 202 {object} Response "Task accepted"
// @Failure 400 {object} Response "Invalid request"
// @Router /api/v1/tasks [post]
func (h *TasksHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.UserID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "user_id is required", h.logger)
		return
	}
	if req.TaskType == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task_type is required", h.logger)
		return
	}

	priority, ok := parsePriority(req.Priority)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"priority must be one of urgent, high, normal, low", h.logger)
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second

	sub, err := h.frontdoor.Submit(r.Context(), req.UserID, req.TaskType, priority, req.Params, timeout)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      sub,
		Timestamp: time.Now(),
	})
}

// HandleStatus resolves one task's status
// @Summary Task status
// @Description Get the current status of a submitted task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response "Task status"
// @Failure 404 {object} Response "Task not found"
// @Router /api/v1/tasks/{id} [get]
func (h *TasksHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := extractPathID(r, "/api/v1/tasks/")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task ID is required", h.logger)
		return
	}

	st, err := h.frontdoor.TaskStatus(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	WriteSuccess(w, st)
}

func (h *TasksHandler) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		WriteErrorMessage(w, http.StatusNotFound, types.ErrTaskNotFound, err.Error(), h.logger)
	case errors.Is(err, workflow.ErrDefinitionNotFound):
		WriteErrorMessage(w, http.StatusNotFound, types.ErrWorkflowNotFound, err.Error(), h.logger)
	case errors.Is(err, workflow.ErrExecutionNotFound):
		WriteErrorMessage(w, http.StatusNotFound, types.ErrExecutionNotFound, err.Error(), h.logger)
	default:
		var typed *types.Error
		if errors.As(err, &typed) {
			WriteError(w, typed, h.logger)
			return
		}
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
	}
}

func parsePriority(s string) (types.Priority, bool) {
	switch types.Priority(s) {
	case "":
		return types.PriorityNormal, true
	case types.PriorityUrgent, types.PriorityHigh, types.PriorityNormal, types.PriorityLow:
		return types.Priority(s), true
	default:
		return "", false
	}
}

// extractPathID pulls the trailing id segment from the URL path. Supports
// both Go 1.22+ pattern routing and plain prefix registration.
func extractPathID(r *http.Request, prefix string) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == r.URL.Path {
		return ""
	}
	return strings.SplitN(rest, "/", 2)[0]
}
