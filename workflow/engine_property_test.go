package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jobflow/orchestrator/types"
)

// Under the continue policy the final status is a pure function of the step
// outcomes: completed when every required step succeeds, partial otherwise.
// Every step must settle either way.
func TestProperty_EngineFinalStatusMatchesOutcomes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "steps")

		def := &Definition{Type: "outcomes", Name: "Outcomes", OnError: OnErrorContinue}
		fails := make([]bool, n)
		for i := 0; i < n; i++ {
			fails[i] = rapid.Bool().Draw(rt, fmt.Sprintf("fail_%d", i))
			def.Steps = append(def.Steps, Step{
				ID:       fmt.Sprintf("s%d", i),
				Agent:    types.AgentCompliance,
				Action:   fmt.Sprintf("act%d", i),
				Optional: rapid.Bool().Draw(rt, fmt.Sprintf("optional_%d", i)),
			})
		}

		e, d := newTestEngine(t, def)
		expected := StatusCompleted
		for i := 0; i < n; i++ {
			if !fails[i] {
				continue
			}
			d.failAction(types.AgentCompliance, def.Steps[i].Action, "agent rejected the request")
			if !def.Steps[i].Optional {
				expected = StatusPartial
			}
		}

		exec, err := e.Start(context.Background(), "outcomes", "user-1", nil)
		require.NoError(rt, err)

		final := waitTerminal(t, e, exec.ID)
		require.Equal(rt, expected, final.Status)
		for i := 0; i < n; i++ {
			step := finalStep(t, final, def.Steps[i].ID)
			if fails[i] {
				require.Equal(rt, StatusFailed, step.Status)
			} else {
				require.Equal(rt, StatusCompleted, step.Status)
			}
			require.NotNil(rt, step.CompletedAt)
		}
	})
}

// A step is never dispatched before every one of its dependencies has
// returned, for any dependency graph.
func TestProperty_EngineDispatchRespectsDependencies(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 6).Draw(rt, "steps")

		// Edges only point at earlier steps, so the graph is acyclic by
		// construction.
		def := &Definition{Type: "deps", Name: "Deps", OnError: OnErrorAbort}
		for i := 0; i < n; i++ {
			step := Step{
				ID:     fmt.Sprintf("s%d", i),
				Agent:  types.AgentCompliance,
				Action: fmt.Sprintf("act%d", i),
			}
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(rt, fmt.Sprintf("edge_%d_%d", j, i)) {
					step.DependsOn = append(step.DependsOn, fmt.Sprintf("s%d", j))
				}
			}
			def.Steps = append(def.Steps, step)
		}

		e, d := newTestEngine(t, def)

		var mu sync.Mutex
		returned := make(map[string]bool)
		var early []string
		for i := range def.Steps {
			step := def.Steps[i]
			d.handleAction(types.AgentCompliance, step.Action, func(req types.AgentRequest) types.AgentResponse {
				mu.Lock()
				for _, dep := range step.DependsOn {
					if !returned[dep] {
						early = append(early, fmt.Sprintf("%s before %s", step.ID, dep))
					}
				}
				returned[step.ID] = true
				mu.Unlock()
				return types.AgentResponse{Success: true, AgentType: req.AgentType, Timestamp: time.Now()}
			})
		}

		exec, err := e.Start(context.Background(), "deps", "user-1", nil)
		require.NoError(rt, err)

		final := waitTerminal(t, e, exec.ID)
		require.Equal(rt, StatusCompleted, final.Status)

		mu.Lock()
		defer mu.Unlock()
		require.Empty(rt, early, "steps dispatched before their dependencies returned")
		require.Len(rt, returned, n)
	})
}
