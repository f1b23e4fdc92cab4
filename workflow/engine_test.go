package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/types"
)

// ---------------------------------------------------------------------------
// Mock dispatcher
// ---------------------------------------------------------------------------

// mockDispatcher answers dispatch calls from a per-action handler table.
// Unhandled actions succeed with {"ok":true}.
type mockDispatcher struct {
	mu       sync.Mutex
	calls    []types.AgentRequest
	handlers map[string]func(req types.AgentRequest) types.AgentResponse
	delay    time.Duration
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{
		handlers: make(map[string]func(req types.AgentRequest) types.AgentResponse),
	}
}

func dispatchKey(agent types.AgentType, action string) string {
	return string(agent) + "/" + action
}

func (m *mockDispatcher) failAction(agent types.AgentType, action, errMsg string) {
	m.handlers[dispatchKey(agent, action)] = func(req types.AgentRequest) types.AgentResponse {
		return types.AgentResponse{Success: false, Error: errMsg, AgentType: req.AgentType, Timestamp: time.Now()}
	}
}

func (m *mockDispatcher) handleAction(agent types.AgentType, action string, fn func(req types.AgentRequest) types.AgentResponse) {
	m.handlers[dispatchKey(agent, action)] = fn
}

func (m *mockDispatcher) Call(ctx context.Context, req types.AgentRequest) types.AgentResponse {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return types.AgentResponse{Success: false, Error: ctx.Err().Error(), AgentType: req.AgentType, Timestamp: time.Now()}
		}
	}
	m.mu.Lock()
	m.calls = append(m.calls, req)
	handler := m.handlers[dispatchKey(req.AgentType, req.Action)]
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	return types.AgentResponse{
		Success:   true,
		Data:      json.RawMessage(`{"ok":true}`),
		AgentType: req.AgentType,
		Timestamp: time.Now(),
	}
}

func (m *mockDispatcher) callCount(agent types.AgentType, action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.AgentType == agent && c.Action == action {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestEngine(t *testing.T, defs ...*Definition) (*Engine, *mockDispatcher) {
	t.Helper()
	r := NewRegistry(allowAllRoutes{}, zap.NewNop())
	if len(defs) == 0 {
		require.NoError(t, RegisterCatalog(r))
	}
	for _, def := range defs {
		require.NoError(t, r.Register(def))
	}
	dispatcher := newMockDispatcher()
	return NewEngine(r, dispatcher, nil, zap.NewNop()), dispatcher
}

func waitTerminal(t *testing.T, e *Engine, id string) *Execution {
	t.Helper()
	var exec *Execution
	require.Eventually(t, func() bool {
		var err error
		exec, err = e.GetExecution(id)
		return err == nil && exec.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return exec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestEngineStartReturnsProcessingExecution(t *testing.T) {
	e, d := newTestEngine(t)
	d.delay = 50 * time.Millisecond

	exec, err := e.Start(context.Background(), TypeJobDiscovery, "user-1", map[string]any{"keywords": "go"})
	require.NoError(t, err)

	assert.Equal(t, StatusProcessing, exec.Status)
	assert.Equal(t, TypeJobDiscovery, exec.WorkflowType)
	assert.Equal(t, "user-1", exec.UserID)
	assert.NotEmpty(t, exec.ID)
	assert.NotEmpty(t, exec.Metadata.CorrelationID)
	require.Len(t, exec.Steps, 6)
	for _, step := range exec.Steps {
		assert.Equal(t, StatusPending, step.Status)
	}

	waitTerminal(t, e, exec.ID)
}

func TestEngineUnknownWorkflowType(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Start(context.Background(), "no_such_workflow", "user-1", nil)
	require.ErrorIs(t, err, ErrDefinitionNotFound)
	assert.Empty(t, e.ListExecutions(), "failed launch must not register an execution")
}

func TestEngineAllStepsSucceed(t *testing.T) {
	e, _ := newTestEngine(t)

	exec, err := e.Start(context.Background(), TypeJobDiscovery, "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, e, exec.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Len(t, final.Result, 6, "result holds one entry per step")
	require.NotNil(t, final.CompletedAt)
	assert.Empty(t, final.Error)
	for _, step := range final.Steps {
		assert.Equal(t, StatusCompleted, step.Status, "step %s", step.StepID)
	}
}

func TestEngineOptionalStepFailureStillCompletes(t *testing.T) {
	e, d := newTestEngine(t)
	d.failAction(types.AgentCulture, "analyze_culture", "culture agent timed out")

	exec, err := e.Start(context.Background(), TypeJobDiscovery, "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, e, exec.ID)
	assert.Equal(t, StatusCompleted, final.Status)

	culture := finalStep(t, final, "culture_analysis")
	assert.Equal(t, StatusFailed, culture.Status)
	assert.Equal(t, "culture agent timed out", culture.Error)

	notify := finalStep(t, final, "send_notification")
	assert.Equal(t, StatusCompleted, notify.Status)
}

func TestEngineAbortOnRequiredStepFailure(t *testing.T) {
	e, d := newTestEngine(t)
	d.failAction(types.AgentResume, "tailor_resume", "resume service unavailable")

	exec, err := e.Start(context.Background(), TypeApplication, "user-1", map[string]any{"job_id": "J1"})
	require.NoError(t, err)

	final := waitTerminal(t, e, exec.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, types.ErrStepFailed, final.ErrorCode)
	assert.Contains(t, final.Error, "tailor_resume")
	assert.Contains(t, final.Error, "resume service unavailable")

	// Steps past the abort point never leave pending, and their agents
	// are never called.
	for _, id := range []string{"generate_cover_letter", "submit_application", "track_analytics", "schedule_follow_up", "send_notification"} {
		assert.Equal(t, StatusPending, finalStep(t, final, id).Status, "step %s", id)
	}
	assert.Zero(t, d.callCount(types.AgentApplication, "submit_application"))
	assert.Zero(t, d.callCount(types.AgentNotification, "send_notification"))
}

func TestEngineAbortSettlesWaveSiblings(t *testing.T) {
	// gate and scan run in the same wave; gate fails and aborts the
	// workflow. scan's success must still be recorded, even though its
	// result is applied after gate's.
	def := &Definition{
		Type:    "split",
		Name:    "Split",
		OnError: OnErrorAbort,
		Steps: []Step{
			{ID: "gate", Agent: types.AgentCompliance, Action: "check_compliance"},
			{ID: "scan", Agent: types.AgentJobDiscovery, Action: "scan_jobs"},
			{ID: "rank", Agent: types.AgentJobMatch, Action: "match_jobs", DependsOn: []string{"scan"}},
		},
	}
	e, d := newTestEngine(t, def)
	d.failAction(types.AgentCompliance, "check_compliance", "gate closed")

	exec, err := e.Start(context.Background(), "split", "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, e, exec.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, StatusFailed, finalStep(t, final, "gate").Status)
	assert.Equal(t, StatusCompleted, finalStep(t, final, "scan").Status)
	assert.NotNil(t, finalStep(t, final, "scan").CompletedAt)
	// The never-dispatched dependent stays pending.
	assert.Equal(t, StatusPending, finalStep(t, final, "rank").Status)
	assert.Zero(t, d.callCount(types.AgentJobMatch, "match_jobs"))
}

func TestEngineContinuePolicyEndsPartial(t *testing.T) {
	// Leaf step fails under continue policy: everything else runs, the
	// execution ends partial.
	e, d := newTestEngine(t)
	d.failAction(types.AgentBrand, "audit_brand", "brand audit failed")
	d.failAction(types.AgentCompetitive, "analyze_competition", "competitor scrape failed")

	exec, err := e.Start(context.Background(), TypeAnalyticsOptimization, "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, e, exec.ID)
	assert.Equal(t, StatusPartial, final.Status)

	// brand_audit is optional: failed but tolerated. competitive_analysis
	// is required: its failure is what makes the execution partial.
	assert.Equal(t, StatusFailed, finalStep(t, final, "competitive_analysis").Status)
	assert.Equal(t, StatusCompleted, finalStep(t, final, "skill_gap").Status)
}

func TestEngineDeadlockDetection(t *testing.T) {
	// a fails (continue policy); b requires a, so no frontier remains
	// while the DAG is incomplete.
	def := &Definition{
		Type:    "stranded",
		Name:    "Stranded",
		OnError: OnErrorContinue,
		Steps: []Step{
			{ID: "a", Agent: types.AgentCompliance, Action: "check_compliance"},
			{ID: "b", Agent: types.AgentJobMatch, Action: "match_jobs", DependsOn: []string{"a"}},
		},
	}
	e, d := newTestEngine(t, def)
	d.failAction(types.AgentCompliance, "check_compliance", "gate closed")

	exec, err := e.Start(context.Background(), "stranded", "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, e, exec.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, types.ErrExecutionDeadlock, final.ErrorCode)
	assert.Contains(t, final.Error, "deadlock")
	assert.Equal(t, StatusPending, finalStep(t, final, "b").Status)
	assert.Zero(t, d.callCount(types.AgentJobMatch, "match_jobs"))
}

func TestEngineOptionalStepRunsDespiteFailedDependency(t *testing.T) {
	// b is optional and depends on a; a's required failure under continue
	// policy must not keep b out of the ready frontier.
	def := &Definition{
		Type:    "tolerant",
		Name:    "Tolerant",
		OnError: OnErrorContinue,
		Steps: []Step{
			{ID: "a", Agent: types.AgentCompliance, Action: "check_compliance"},
			{ID: "b", Agent: types.AgentCulture, Action: "analyze_culture", DependsOn: []string{"a"}, Optional: true},
		},
	}
	e, d := newTestEngine(t, def)
	d.failAction(types.AgentCompliance, "check_compliance", "gate closed")

	exec, err := e.Start(context.Background(), "tolerant", "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, e, exec.ID)
	assert.Equal(t, StatusPartial, final.Status)
	assert.Equal(t, 1, d.callCount(types.AgentCulture, "analyze_culture"))
	assert.Equal(t, StatusCompleted, finalStep(t, final, "b").Status)
}

func TestEngineWaveRunsSiblingsConcurrently(t *testing.T) {
	def := &Definition{
		Type:    "fanout",
		Name:    "Fanout",
		OnError: OnErrorContinue,
		Steps: []Step{
			{ID: "left", Agent: types.AgentResearch, Action: "research_company"},
			{ID: "right", Agent: types.AgentCulture, Action: "analyze_culture"},
		},
	}
	e, d := newTestEngine(t, def)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	track := func(req types.AgentRequest) types.AgentResponse {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return types.AgentResponse{Success: true, Data: json.RawMessage(`{}`), AgentType: req.AgentType, Timestamp: time.Now()}
	}
	d.handleAction(types.AgentResearch, "research_company", track)
	d.handleAction(types.AgentCulture, "analyze_culture", track)

	exec, err := e.Start(context.Background(), "fanout", "user-1", nil)
	require.NoError(t, err)
	waitTerminal(t, e, exec.ID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, maxInFlight, "siblings in one wave must overlap")
}

func TestEnginePayloadCarriesPriorStepResults(t *testing.T) {
	def := &Definition{
		Type:    "chained",
		Name:    "Chained",
		OnError: OnErrorAbort,
		Steps: []Step{
			{ID: "first", Agent: types.AgentResume, Action: "tailor_resume", Params: map[string]any{"tone": "formal"}},
			{ID: "second", Agent: types.AgentCoverLetter, Action: "generate_letter", DependsOn: []string{"first"}},
		},
	}
	e, d := newTestEngine(t, def)

	d.handleAction(types.AgentResume, "tailor_resume", func(req types.AgentRequest) types.AgentResponse {
		assert.Equal(t, "formal", req.Payload["tone"])
		assert.Equal(t, "J1", req.Payload["job_id"])
		return types.AgentResponse{Success: true, Data: json.RawMessage(`{"resume":"tailored"}`), AgentType: req.AgentType, Timestamp: time.Now()}
	})

	var letterPayload map[string]any
	d.handleAction(types.AgentCoverLetter, "generate_letter", func(req types.AgentRequest) types.AgentResponse {
		letterPayload = req.Payload
		return types.AgentResponse{Success: true, Data: json.RawMessage(`{}`), AgentType: req.AgentType, Timestamp: time.Now()}
	})

	exec, err := e.Start(context.Background(), "chained", "user-1", map[string]any{"job_id": "J1"})
	require.NoError(t, err)
	final := waitTerminal(t, e, exec.ID)
	require.Equal(t, StatusCompleted, final.Status)

	require.NotNil(t, letterPayload)
	assert.Equal(t, "J1", letterPayload["job_id"])
	stepResults, ok := letterPayload["step_results"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, stepResults, "first")
}

func TestEngineCancelExecution(t *testing.T) {
	e, d := newTestEngine(t)
	d.delay = 100 * time.Millisecond

	exec, err := e.Start(context.Background(), TypeJobDiscovery, "user-1", nil)
	require.NoError(t, err)

	require.True(t, e.CancelExecution(exec.ID))

	final, err := e.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
	assert.Equal(t, types.ErrExecutionCancelled, final.ErrorCode)
	require.NotNil(t, final.CompletedAt)

	// No step is left processing inside a terminal execution; the
	// in-flight wave settles as cancelled.
	for _, s := range final.Steps {
		assert.NotEqual(t, StatusProcessing, s.Status, "step %s", s.StepID)
	}

	// Cancel is a no-op once terminal.
	assert.False(t, e.CancelExecution(exec.ID))

	// In-flight wave results are discarded: state does not change after
	// the pending dispatches resolve.
	time.Sleep(200 * time.Millisecond)
	after, err := e.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, final, after)
}

func TestEngineCancelUnknownExecution(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.False(t, e.CancelExecution("nope"))
}

func TestEngineGetExecutionStableAfterTerminal(t *testing.T) {
	e, _ := newTestEngine(t)

	exec, err := e.Start(context.Background(), TypeAnalyticsOptimization, "user-1", nil)
	require.NoError(t, err)
	waitTerminal(t, e, exec.ID)

	first, err := e.GetExecution(exec.ID)
	require.NoError(t, err)
	second, err := e.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngineGetExecutionNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.GetExecution("missing")
	require.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestEngineRecoversDispatcherPanic(t *testing.T) {
	def := &Definition{
		Type:    "explosive",
		Name:    "Explosive",
		OnError: OnErrorAbort,
		Steps: []Step{
			{ID: "boom", Agent: types.AgentCompliance, Action: "check_compliance"},
		},
	}
	e, d := newTestEngine(t, def)
	d.handleAction(types.AgentCompliance, "check_compliance", func(req types.AgentRequest) types.AgentResponse {
		panic("dispatcher bug")
	})

	exec, err := e.Start(context.Background(), "explosive", "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, e, exec.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "internal error")
}

func TestEngineMaxDurationTimeout(t *testing.T) {
	// Three-step chain where the budget expires during the second wave:
	// the engine must fail the execution instead of grinding on.
	def := &Definition{
		Type:        "slow",
		Name:        "Slow",
		OnError:     OnErrorContinue,
		MaxDuration: 60 * time.Millisecond,
		Steps: []Step{
			{ID: "a", Agent: types.AgentResearch, Action: "research_company"},
			{ID: "b", Agent: types.AgentResearch, Action: "research_company", DependsOn: []string{"a"}},
			{ID: "c", Agent: types.AgentResearch, Action: "research_company", DependsOn: []string{"b"}},
		},
	}
	e, d := newTestEngine(t, def)
	d.delay = 40 * time.Millisecond

	exec, err := e.Start(context.Background(), "slow", "user-1", nil)
	require.NoError(t, err)

	final := waitTerminal(t, e, exec.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "max duration")
	assert.Equal(t, StatusPending, finalStep(t, final, "c").Status)
}

func TestEngineShutdownDrains(t *testing.T) {
	e, d := newTestEngine(t)
	d.delay = 30 * time.Millisecond

	_, err := e.Start(context.Background(), TypeJobDiscovery, "user-1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func finalStep(t *testing.T, exec *Execution, id string) StepExecution {
	t.Helper()
	for _, step := range exec.Steps {
		if step.StepID == id {
			return step
		}
	}
	t.Fatalf("step %s not found", id)
	return StepExecution{}
}
