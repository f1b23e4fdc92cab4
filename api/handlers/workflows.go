package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/types"
	"github.com/jobflow/orchestrator/workflow"
)

// WorkflowsHandler serves workflow definitions and executions.
type WorkflowsHandler struct {
	registry *workflow.Registry
	engine   *workflow.Engine
	logger   *zap.Logger
}

// DefinitionInfo is the definition summary returned by the list endpoint.
type DefinitionInfo struct {
	Type        workflow.Type `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Steps       int           `json:"steps"`
	OnError     string        `json:"on_error"`
	MaxDuration string        `json:"max_duration,omitempty"`
}

// LaunchRequest is the workflow launch body.
type LaunchRequest struct {
	UserID string         `json:"user_id"`
	Params map[string]any `json:"params,omitempty"`
}

// NewWorkflowsHandler creates a workflows handler.
func NewWorkflowsHandler(registry *workflow.Registry, engine *workflow.Engine, logger *zap.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{registry: registry, engine: engine, logger: logger}
}

// HandleListDefinitions lists the registered workflow definitions
// @Summary List workflows
// @Description List all registered workflow definitions
// @Tags workflows
// @Produce json
// @Success 200 {object} Response{data=[]DefinitionInfo} "Definitions"
// @Router /api/v1/workflows [get]
func (h *WorkflowsHandler) HandleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := h.registry.List()

	result := make([]DefinitionInfo, 0, len(defs))
	for _, def := range defs {
		info := DefinitionInfo{
			Type:        def.Type,
			Name:        def.Name,
			Description: def.Description,
			Steps:       len(def.Steps),
			OnError:     string(def.OnError),
		}
		if def.MaxDuration > 0 {
			info.MaxDuration = def.MaxDuration.String()
		}
		result = append(result, info)
	}

	WriteSuccess(w, result)
}

// HandleLaunch starts one workflow execution
// @Summary Launch workflow
// @Description Start an execution of the named workflow type
// @Tags workflows
// @Accept json
// @Produce json
// @Param type path string true "Workflow type"
// @Success 202 {object} Response "Execution started"
// @Failure 404 {object} Response "Unknown workflow type"
// @Router /api/v1/workflows/{type}/executions [post]
func (h *WorkflowsHandler) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	wfType := r.PathValue("type")
	if wfType == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "workflow type is required", h.logger)
		return
	}

	var req LaunchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.UserID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "user_id is required", h.logger)
		return
	}

	exec, err := h.engine.Start(r.Context(), workflow.Type(wfType), req.UserID, req.Params)
	if err != nil {
		if errors.Is(err, workflow.ErrDefinitionNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrWorkflowNotFound, err.Error(), h.logger)
			return
		}
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
		return
	}

	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      exec,
		Timestamp: time.Now(),
	})
}

// HandleGetExecution returns one execution's current state
// @Summary Get execution
// @Description Poll an execution's status and per-step results
// @Tags workflows
// @Produce json
// @Param id path string true "Execution ID"
// @Success 200 {object} Response "Execution state"
// @Failure 404 {object} Response "Execution not found"
// @Router /api/v1/executions/{id} [get]
func (h *WorkflowsHandler) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := extractPathID(r, "/api/v1/executions/")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "execution ID is required", h.logger)
		return
	}

	exec, err := h.engine.GetExecution(id)
	if err != nil {
		if errors.Is(err, workflow.ErrExecutionNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrExecutionNotFound, err.Error(), h.logger)
			return
		}
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
		return
	}

	WriteSuccess(w, exec)
}

// HandleListExecutions lists all known executions
// @Summary List executions
// @Description List all executions held in memory
// @Tags workflows
// @Produce json
// @Success 200 {object} Response "Executions"
// @Router /api/v1/executions [get]
func (h *WorkflowsHandler) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.engine.ListExecutions())
}

// HandleCancel cancels a processing execution
// @Summary Cancel execution
// @Description Cancel a processing execution; terminal executions are left alone
// @Tags workflows
// @Produce json
// @Param id path string true "Execution ID"
// @Success 200 {object} Response "Cancelled"
// @Failure 404 {object} Response "Execution not found"
// @Failure 409 {object} Response "Execution already terminal"
// @Router /api/v1/executions/{id}/cancel [post]
func (h *WorkflowsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := extractPathID(r, "/api/v1/executions/")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "execution ID is required", h.logger)
		return
	}

	if h.engine.CancelExecution(id) {
		WriteSuccess(w, map[string]string{"id": id, "status": string(workflow.StatusCancelled)})
		return
	}

	// distinguish unknown id from an execution that already finished
	if _, err := h.engine.GetExecution(id); err != nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrExecutionNotFound, err.Error(), h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusConflict, types.ErrExecutionCancelled,
		"execution is not cancellable", h.logger)
}
