package agents

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jobflow/orchestrator/types"
)

// Endpoint describes how to reach one downstream agent.
type Endpoint struct {
	// BaseURL is the agent's base endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Timeout is the per-call default for this agent (0 = table default).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Actions maps an action verb to a route suffix. Unmapped actions
	// fall back to "/<action>".
	Actions map[string]string `yaml:"actions" json:"actions"`
}

// TableConfig is the static agent catalogue.
type TableConfig struct {
	// DefaultTimeout applies when neither the request nor the agent
	// endpoint sets one.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`
	// Agents maps agent identities to their endpoints.
	Agents map[types.AgentType]Endpoint `yaml:"agents" json:"agents"`
}

// DefaultTableConfig returns the built-in agent catalogue. Each base URL can
// be overridden with ORCHESTRATOR_AGENT_<NAME>_URL (agent name upper-cased).
func DefaultTableConfig() TableConfig {
	cfg := TableConfig{
		DefaultTimeout: 30 * time.Second,
		Agents: map[types.AgentType]Endpoint{
			types.AgentCompliance: {
				BaseURL: "http://compliance-agent:8100",
				Actions: map[string]string{
					"check_compliance": "/compliance/check",
				},
			},
			types.AgentJobDiscovery: {
				BaseURL: "http://job-discovery-agent:8101",
				Actions: map[string]string{
					"discover_jobs": "/jobs/discover",
				},
			},
			types.AgentFraudDetect: {
				BaseURL: "http://fraud-detection-agent:8102",
				Actions: map[string]string{
					"check_jobs": "/fraud/check",
				},
			},
			types.AgentJobMatch: {
				BaseURL: "http://job-match-agent:8103",
				Actions: map[string]string{
					"match_jobs": "/match",
				},
			},
			types.AgentCulture: {
				BaseURL: "http://culture-agent:8104",
				Actions: map[string]string{
					"analyze_culture": "/culture/analyze",
				},
			},
			types.AgentResume: {
				BaseURL: "http://resume-agent:8105",
				Actions: map[string]string{
					"tailor_resume":  "/resume/tailor",
					"analyze_resume": "/resume/analyze",
				},
			},
			types.AgentCoverLetter: {
				BaseURL: "http://cover-letter-agent:8106",
				Actions: map[string]string{
					"generate_letter": "/letters/generate",
				},
			},
			types.AgentApplication: {
				BaseURL: "http://application-agent:8107",
				Actions: map[string]string{
					"submit_application": "/applications/submit",
				},
			},
			types.AgentTiming: {
				BaseURL: "http://timing-agent:8108",
				Actions: map[string]string{
					"optimize_timing": "/timing/optimize",
				},
			},
			types.AgentInterview: {
				BaseURL: "http://interview-agent:8109",
				Actions: map[string]string{
					"generate_questions": "/interview/questions",
					"simulate_interview": "/interview/simulate",
				},
			},
			types.AgentResearch: {
				BaseURL: "http://research-agent:8110",
				Actions: map[string]string{
					"research_company": "/research/company",
				},
			},
			types.AgentSalary: {
				BaseURL: "http://salary-agent:8111",
				Actions: map[string]string{
					"research_salary": "/salary/research",
				},
			},
			types.AgentNetworking: {
				BaseURL: "http://networking-agent:8112",
				Actions: map[string]string{
					"analyze_network": "/network/analyze",
				},
			},
			types.AgentAnalytics: {
				BaseURL: "http://analytics-agent:8113",
				Actions: map[string]string{
					"get_metrics":       "/metrics",
					"analyze_rejection": "/rejections/analyze",
					"skill_gap":         "/skills/gap",
					"track_application": "/applications/track",
				},
			},
			types.AgentBrand: {
				BaseURL: "http://brand-agent:8114",
				Actions: map[string]string{
					"audit_brand": "/brand/audit",
				},
			},
			types.AgentCompetitive: {
				BaseURL: "http://competitive-agent:8115",
				Actions: map[string]string{
					"analyze_competition": "/competition/analyze",
				},
			},
			types.AgentFollowUp: {
				BaseURL: "http://follow-up-agent:8116",
				Actions: map[string]string{
					"schedule_follow_up": "/follow-ups/schedule",
				},
			},
			types.AgentNotification: {
				BaseURL: "http://notification-agent:8117",
				Actions: map[string]string{
					"send_notification": "/notifications/send",
				},
			},
		},
	}
	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides replaces base URLs from the environment, e.g.
// ORCHESTRATOR_AGENT_JOB_MATCH_URL for the job_match agent.
func (c *TableConfig) applyEnvOverrides() {
	for agent, ep := range c.Agents {
		key := "ORCHESTRATOR_AGENT_" + strings.ToUpper(string(agent)) + "_URL"
		if v := os.Getenv(key); v != "" {
			ep.BaseURL = v
			c.Agents[agent] = ep
		}
	}
}

// Table resolves (agent, action) pairs to concrete URLs and timeouts.
// It is immutable after construction.
type Table struct {
	cfg TableConfig
}

// NewTable builds a route table from the catalogue.
func NewTable(cfg TableConfig) *Table {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Table{cfg: cfg}
}

// Known reports whether the agent exists in the catalogue.
func (t *Table) Known(agent types.AgentType) bool {
	_, ok := t.cfg.Agents[agent]
	return ok
}

// Agents lists every agent in the catalogue.
func (t *Table) Agents() []types.AgentType {
	out := make([]types.AgentType, 0, len(t.cfg.Agents))
	for agent := range t.cfg.Agents {
		out = append(out, agent)
	}
	return out
}

// Resolve returns the full URL and per-agent timeout for an (agent, action)
// pair. An unmapped action falls back to "/<action>" on the agent's base
// endpoint; an unknown agent is the only error.
func (t *Table) Resolve(agent types.AgentType, action string) (string, time.Duration, error) {
	ep, ok := t.cfg.Agents[agent]
	if !ok {
		return "", 0, fmt.Errorf("unknown agent type: %s", agent)
	}

	suffix, ok := ep.Actions[action]
	if !ok {
		suffix = "/" + action
	}

	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = t.cfg.DefaultTimeout
	}

	return strings.TrimRight(ep.BaseURL, "/") + suffix, timeout, nil
}
