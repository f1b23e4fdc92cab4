package workflow

import (
	"fmt"
	"time"

	"github.com/jobflow/orchestrator/types"
)

// Type is the stable key a workflow definition is registered under.
type Type string

// The fixed workflow catalogue.
const (
	TypeJobDiscovery          Type = "job_discovery"
	TypeApplication           Type = "application"
	TypeInterviewPrep         Type = "interview_prep"
	TypeAnalyticsOptimization Type = "analytics_optimization"
)

// ErrorPolicy decides what a required step failure does to the execution.
type ErrorPolicy string

const (
	// OnErrorContinue keeps scheduling the remaining satisfiable steps and
	// finishes the execution as partial.
	OnErrorContinue ErrorPolicy = "continue"
	// OnErrorAbort fails the execution on the first required step failure
	// and abandons every step not yet started.
	OnErrorAbort ErrorPolicy = "abort"
)

// Step is one unit of work in a workflow definition, bound to a single
// agent+action call.
type Step struct {
	// ID is unique within the definition.
	ID string `json:"id"`
	// Agent is the downstream capability that runs this step.
	Agent types.AgentType `json:"agent"`
	// Action is the verb understood by that agent.
	Action string `json:"action"`
	// Params are static parameters merged into the dispatch payload.
	Params map[string]any `json:"params,omitempty"`
	// DependsOn lists step ids that must settle before this step runs.
	// Only earlier-declared ids are allowed.
	DependsOn []string `json:"depends_on,omitempty"`
	// Optional steps may fail without failing the execution.
	Optional bool `json:"optional,omitempty"`
	// Timeout overrides the agent's default per-call timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Definition is an immutable workflow: a DAG of steps with agent bindings
// and a declared failure policy. Definitions are registered once at process
// start and never mutated.
type Definition struct {
	Type        Type          `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Steps       []Step        `json:"steps"`
	OnError     ErrorPolicy   `json:"on_error"`
	MaxDuration time.Duration `json:"max_duration"`
}

// RouteChecker reports whether an agent is present in the dispatch catalogue.
// The registry uses it to reject definitions whose steps could never be
// dispatched, instead of discovering the gap at execution time.
type RouteChecker interface {
	Known(agent types.AgentType) bool
}

// Validate checks the definition's structural invariants. Dependencies may
// only reference earlier-declared steps, which also rules out self references
// and cycles. routes may be nil to skip the agent binding check.
func (d *Definition) Validate(routes RouteChecker) error {
	if d.Type == "" {
		return fmt.Errorf("definition has no type")
	}
	if d.Name == "" {
		return fmt.Errorf("definition %s has no name", d.Type)
	}
	switch d.OnError {
	case OnErrorContinue, OnErrorAbort:
	default:
		return fmt.Errorf("definition %s has invalid error policy %q", d.Type, d.OnError)
	}

	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.ID == "" {
			return fmt.Errorf("definition %s: step %d has no id", d.Type, i)
		}
		if seen[step.ID] {
			return fmt.Errorf("definition %s: duplicate step id %q", d.Type, step.ID)
		}
		if step.Agent == "" || step.Action == "" {
			return fmt.Errorf("definition %s: step %q has no agent binding", d.Type, step.ID)
		}
		if routes != nil && !routes.Known(step.Agent) {
			return fmt.Errorf("definition %s: step %q references unknown agent %q", d.Type, step.ID, step.Agent)
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("definition %s: step %q depends on %q which is not declared earlier", d.Type, step.ID, dep)
			}
		}
		seen[step.ID] = true
	}
	return nil
}

// StepByID returns the step with the given id.
func (d *Definition) StepByID(id string) (Step, bool) {
	for _, step := range d.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}
