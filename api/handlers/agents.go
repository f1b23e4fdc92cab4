package handlers

import (
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/agents"
	"github.com/jobflow/orchestrator/breaker"
	"github.com/jobflow/orchestrator/types"
)

// AgentsHandler serves agent health and breaker administration.
type AgentsHandler struct {
	table    *agents.Table
	breakers *breaker.Registry
	logger   *zap.Logger
}

// AgentHealth is one agent's coarse health in the health report.
type AgentHealth struct {
	Agent  string        `json:"agent"`
	Status string        `json:"status"`
	Stats  breaker.Stats `json:"stats"`
}

// NewAgentsHandler creates an agents handler.
func NewAgentsHandler(table *agents.Table, breakers *breaker.Registry, logger *zap.Logger) *AgentsHandler {
	return &AgentsHandler{table: table, breakers: breakers, logger: logger}
}

// HandleHealth reports per-agent health derived from breaker state
// @Summary Agent health
// @Description Coarse health of every routed agent, derived from its circuit breaker
// @Tags agents
// @Produce json
// @Success 200 {object} Response{data=[]AgentHealth} "Agent health report"
// @Router /api/v1/agents/health [get]
func (h *AgentsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	known := h.table.Agents()
	sort.Slice(known, func(i, j int) bool { return known[i] < known[j] })

	result := make([]AgentHealth, 0, len(known))
	for _, agent := range known {
		stats := h.breakers.Stats(string(agent))
		result = append(result, AgentHealth{
			Agent:  string(agent),
			Status: string(stats.Status),
			Stats:  stats,
		})
	}

	WriteSuccess(w, result)
}

// HandleBreakerStats dumps raw breaker stats for agents that have traffic
// @Summary Breaker stats
// @Description Raw circuit breaker statistics for every agent seen so far
// @Tags agents
// @Produce json
// @Success 200 {object} Response "Breaker stats"
// @Router /api/v1/agents/breakers [get]
func (h *AgentsHandler) HandleBreakerStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.breakers.AllStats())
}

// HandleResetBreaker force-closes one agent's breaker
// @Summary Reset breaker
// @Description Admin reset of an agent's circuit breaker back to closed
// @Tags agents
// @Produce json
// @Param agent path string true "Agent type"
// @Success 200 {object} Response "Breaker reset"
// @Failure 404 {object} Response "Unknown agent"
// @Router /api/v1/agents/{agent}/breaker/reset [post]
func (h *AgentsHandler) HandleResetBreaker(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("agent")
	if agent == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent is required", h.logger)
		return
	}

	if !h.table.Known(types.AgentType(agent)) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrAgentUnknown,
			"unknown agent: "+agent, h.logger)
		return
	}

	h.breakers.Reset(agent)
	h.logger.Info("circuit breaker reset via admin API", zap.String("agent", agent))

	WriteSuccess(w, map[string]string{"agent": agent, "state": "closed"})
}
