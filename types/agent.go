package types

import (
	"encoding/json"
	"time"
)

// AgentType identifies a downstream capability provider.
type AgentType string

// Known downstream agents.
const (
	AgentCompliance    AgentType = "compliance"
	AgentJobDiscovery  AgentType = "job_discovery"
	AgentFraudDetect   AgentType = "fraud_detection"
	AgentJobMatch      AgentType = "job_match"
	AgentCulture       AgentType = "culture_analysis"
	AgentResume        AgentType = "resume"
	AgentCoverLetter   AgentType = "cover_letter"
	AgentApplication   AgentType = "application"
	AgentTiming        AgentType = "timing"
	AgentInterview     AgentType = "interview"
	AgentResearch      AgentType = "research"
	AgentSalary        AgentType = "salary"
	AgentNetworking    AgentType = "networking"
	AgentAnalytics     AgentType = "analytics"
	AgentBrand         AgentType = "brand"
	AgentCompetitive   AgentType = "competitive"
	AgentFollowUp      AgentType = "follow_up"
	AgentNotification  AgentType = "notification"
)

// Priority orders task submissions; lower values are dispatched first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// QueueValue maps a priority to the numeric score used by the task queue.
func (p Priority) QueueValue() int {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 4
	default:
		return 3
	}
}

// AgentRequest is one dispatch call to a downstream agent.
type AgentRequest struct {
	AgentType     AgentType      `json:"agent_type"`
	Action        string         `json:"action"`
	Payload       map[string]any `json:"payload"`
	UserID        string         `json:"user_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Priority      Priority       `json:"priority,omitempty"`
	Timeout       time.Duration  `json:"-"`
}

// AgentResponse is the uniform result of a dispatch call. Failures are
// encoded in Success/Error rather than returned as Go errors so callers
// can treat dispatch outcomes uniformly. ErrorCode classifies the failure
// (unknown agent, timeout, circuit open, upstream) for callers that need
// more than the message.
type AgentResponse struct {
	Success         bool            `json:"success"`
	Data            json.RawMessage `json:"data,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorCode       ErrorCode       `json:"error_code,omitempty"`
	AgentType       AgentType       `json:"agent_type"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	Timestamp       time.Time       `json:"timestamp"`
}
