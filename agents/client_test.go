package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/breaker"
	"github.com/jobflow/orchestrator/types"
)

func testBreakerConfig() breaker.Config {
	return breaker.Config{
		Timeout:                  5 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             time.Minute,
		VolumeThreshold:          5,
		WindowSize:               20,
	}
}

// newTestClient points the job_match agent at the given server URL.
func newTestClient(serverURL string) *Client {
	cfg := TableConfig{
		DefaultTimeout: 5 * time.Second,
		Agents: map[types.AgentType]Endpoint{
			types.AgentJobMatch: {
				BaseURL: serverURL,
				Actions: map[string]string{"match_jobs": "/match"},
			},
		},
	}
	breakers := breaker.NewRegistry(testBreakerConfig(), zap.NewNop())
	return NewClient(NewTable(cfg), breakers, nil, zap.NewNop())
}

func TestClientCallSuccess(t *testing.T) {
	var gotPath, gotCorrelation, gotUser atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotCorrelation.Store(r.Header.Get("X-Correlation-ID"))
		gotUser.Store(r.Header.Get("X-User-ID"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "J1", payload["job_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matches": 3}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp := client.Call(context.Background(), types.AgentRequest{
		AgentType: types.AgentJobMatch,
		Action:    "match_jobs",
		Payload:   map[string]any{"job_id": "J1"},
		UserID:    "user-1",
	})

	require.True(t, resp.Success)
	assert.JSONEq(t, `{"matches": 3}`, string(resp.Data))
	assert.Equal(t, types.AgentJobMatch, resp.AgentType)
	assert.GreaterOrEqual(t, resp.ExecutionTimeMS, int64(0))
	assert.False(t, resp.Timestamp.IsZero())

	assert.Equal(t, "/match", gotPath.Load())
	assert.Equal(t, "user-1", gotUser.Load())
	// Correlation id generated when the caller did not supply one.
	assert.NotEmpty(t, gotCorrelation.Load())
}

func TestClientCallKeepsCallerCorrelationID(t *testing.T) {
	var gotCorrelation atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation.Store(r.Header.Get("X-Correlation-ID"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp := client.Call(context.Background(), types.AgentRequest{
		AgentType:     types.AgentJobMatch,
		Action:        "match_jobs",
		CorrelationID: "corr-42",
	})

	require.True(t, resp.Success)
	assert.Equal(t, "corr-42", gotCorrelation.Load())
}

func TestClientCallFallbackRoute(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp := client.Call(context.Background(), types.AgentRequest{
		AgentType: types.AgentJobMatch,
		Action:    "rank_jobs",
	})

	require.True(t, resp.Success)
	assert.Equal(t, "/rank_jobs", gotPath.Load())
}

func TestClientCallUnknownAgent(t *testing.T) {
	client := newTestClient("http://unused")

	resp := client.Call(context.Background(), types.AgentRequest{
		AgentType: "no_such_agent",
		Action:    "anything",
	})

	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown agent type")
	assert.Equal(t, types.ErrAgentUnknown, resp.ErrorCode)
	assert.Zero(t, resp.ExecutionTimeMS)
}

func TestClientCallUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "matcher exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp := client.Call(context.Background(), types.AgentRequest{
		AgentType: types.AgentJobMatch,
		Action:    "match_jobs",
	})

	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "status 500")
	assert.Contains(t, resp.Error, "matcher exploded")
	assert.Equal(t, types.ErrAgentUpstream, resp.ErrorCode)
}

func TestClientCallTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp := client.Call(context.Background(), types.AgentRequest{
		AgentType: types.AgentJobMatch,
		Action:    "match_jobs",
		Timeout:   50 * time.Millisecond,
	})

	require.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, types.ErrAgentTimeout, resp.ErrorCode)
	assert.Less(t, resp.ExecutionTimeMS, int64(1500))
}

func TestClientCallCircuitOpen(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	req := types.AgentRequest{AgentType: types.AgentJobMatch, Action: "match_jobs"}

	for i := 0; i < 5; i++ {
		resp := client.Call(context.Background(), req)
		require.False(t, resp.Success)
	}
	require.True(t, client.Breakers().IsOpen(string(types.AgentJobMatch)))

	before := hits.Load()
	resp := client.Call(context.Background(), req)
	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "circuit breaker open")
	assert.Equal(t, types.ErrCircuitOpen, resp.ErrorCode)
	assert.Equal(t, before, hits.Load(), "open breaker must not reach the network")
}
