package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/internal/queue"
	"github.com/jobflow/orchestrator/tasks"
	"github.com/jobflow/orchestrator/workflow"
)

type stubLauncher struct {
	exec *workflow.Execution
}

func (s *stubLauncher) Start(_ context.Context, workflowType workflow.Type, userID string, _ map[string]any) (*workflow.Execution, error) {
	s.exec = &workflow.Execution{
		ID:           "exec-42",
		WorkflowType: workflowType,
		UserID:       userID,
		Status:       workflow.StatusProcessing,
		StartedAt:    time.Now(),
	}
	return s.exec, nil
}

func (s *stubLauncher) GetExecution(id string) (*workflow.Execution, error) {
	if s.exec == nil || s.exec.ID != id {
		return nil, workflow.ErrExecutionNotFound
	}
	return s.exec, nil
}

type stubQueue struct {
	opts queue.Options
	err  error
}

func (s *stubQueue) Enqueue(_ context.Context, _ string, _ map[string]any, opts queue.Options) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.opts = opts
	return "job-9", nil
}

func newTasksMux(launcher *stubLauncher, q *stubQueue) *http.ServeMux {
	svc := tasks.NewService(launcher, q, nil, zap.NewNop())
	h := NewTasksHandler(svc, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", h.HandleSubmit)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleStatus)
	return mux
}

func TestHandleSubmit_WorkflowTask(t *testing.T) {
	mux := newTasksMux(&stubLauncher{}, &stubQueue{})

	body := `{"user_id":"u1","task_type":"job_discovery","params":{"keywords":"golang"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var sub tasks.Submission
	require.NoError(t, json.Unmarshal(data, &sub))
	assert.Equal(t, "processing", sub.Status)
	assert.Equal(t, "exec-42", sub.ExecutionID)
	assert.NotEmpty(t, sub.TaskID)
}

func TestHandleSubmit_QueuedTask(t *testing.T) {
	q := &stubQueue{}
	mux := newTasksMux(&stubLauncher{}, q)

	body := `{"user_id":"u1","task_type":"export_report","priority":"urgent","timeout_seconds":90}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, q.opts.Priority)
	assert.Equal(t, 90*time.Second, q.opts.Timeout)
}

func TestHandleSubmit_Validation(t *testing.T) {
	mux := newTasksMux(&stubLauncher{}, &stubQueue{})

	cases := []struct {
		name string
		body string
	}{
		{"missing user", `{"task_type":"job_discovery"}`},
		{"missing type", `{"user_id":"u1"}`},
		{"bad priority", `{"user_id":"u1","task_type":"x","priority":"asap"}`},
		{"bad json", `{"user_id":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleSubmit_QueueDown(t *testing.T) {
	q := &stubQueue{err: context.DeadlineExceeded}
	mux := newTasksMux(&stubLauncher{}, q)

	body := `{"user_id":"u1","task_type":"export_report"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	launcher := &stubLauncher{}
	mux := newTasksMux(launcher, &stubQueue{})

	body := `{"user_id":"u1","task_type":"application"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeEnvelope(t, rec)
	data, _ := json.Marshal(resp.Data)
	var sub tasks.Submission
	require.NoError(t, json.Unmarshal(data, &sub))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+sub.TaskID, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	statusResp := decodeEnvelope(t, rec)
	data, _ = json.Marshal(statusResp.Data)
	var st tasks.Status
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, "application", st.TaskType)
	assert.Equal(t, "processing", st.Status)
}

func TestHandleStatus_NotFound(t *testing.T) {
	mux := newTasksMux(&stubLauncher{}, &stubQueue{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
