package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/breaker"
	"github.com/jobflow/orchestrator/internal/metrics"
	"github.com/jobflow/orchestrator/types"
)

// maxErrorBodyBytes caps how much of an error response body is kept.
const maxErrorBodyBytes = 512

// Client dispatches calls to downstream agents. Every call is resolved
// against the route table, stamped with correlation and user headers, and
// executed through the agent's circuit breaker. Call never returns a Go
// error; all failures are encoded in the AgentResponse.
type Client struct {
	table      *Table
	breakers   *breaker.Registry
	httpClient *http.Client
	collector  *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewClient creates a dispatch client. collector may be nil.
func NewClient(table *Table, breakers *breaker.Registry, collector *metrics.Collector, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		table:    table,
		breakers: breakers,
		httpClient: &http.Client{
			// Per-call deadlines come from the request context; the
			// transport itself has no fixed timeout.
			Timeout: 0,
		},
		collector: collector,
		tracer:    otel.Tracer("orchestrator/agents"),
		logger:    logger.With(zap.String("component", "dispatch")),
	}
}

// WithHTTPClient replaces the underlying HTTP client (used in tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Known reports whether the agent exists in the route table.
func (c *Client) Known(agent types.AgentType) bool {
	return c.table.Known(agent)
}

// Breakers exposes the breaker registry backing this client.
func (c *Client) Breakers() *breaker.Registry {
	return c.breakers
}

// Call dispatches one request to a downstream agent.
func (c *Client) Call(ctx context.Context, req types.AgentRequest) types.AgentResponse {
	start := time.Now()

	url, agentTimeout, err := c.table.Resolve(req.AgentType, req.Action)
	if err != nil {
		// Unknown agent: synthetic failure with zero execution time,
		// no network attempt and no breaker involvement.
		c.logger.Warn("dispatch to unknown agent",
			zap.String("agent", string(req.AgentType)),
			zap.String("action", req.Action))
		c.recordDispatch(req, metrics.OutcomeError, 0)
		return types.AgentResponse{
			Success:   false,
			Error:     err.Error(),
			ErrorCode: types.ErrAgentUnknown,
			AgentType: req.AgentType,
			Timestamp: time.Now(),
		}
	}

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = agentTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "agent.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agent.type", string(req.AgentType)),
			attribute.String("agent.action", req.Action),
			attribute.String("correlation_id", req.CorrelationID),
		))
	defer span.End()

	var data json.RawMessage
	err = c.breakers.Execute(ctx, string(req.AgentType), func(ctx context.Context) error {
		body, postErr := c.post(ctx, url, req)
		if postErr != nil {
			return postErr
		}
		data = body
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		outcome := metrics.OutcomeError
		if breaker.IsOpenError(err) {
			outcome = metrics.OutcomeCircuitOpen
			c.logger.Warn("dispatch short-circuited by open breaker",
				zap.String("agent", string(req.AgentType)),
				zap.String("action", req.Action),
				zap.String("correlation_id", req.CorrelationID))
		} else {
			c.logger.Error("agent dispatch failed",
				zap.String("agent", string(req.AgentType)),
				zap.String("action", req.Action),
				zap.String("correlation_id", req.CorrelationID),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, err.Error())
		c.recordDispatch(req, outcome, elapsed)
		return types.AgentResponse{
			Success:         false,
			Error:           err.Error(),
			ErrorCode:       classifyDispatchError(err),
			AgentType:       req.AgentType,
			ExecutionTimeMS: elapsed.Milliseconds(),
			Timestamp:       time.Now(),
		}
	}

	c.logger.Debug("agent dispatch completed",
		zap.String("agent", string(req.AgentType)),
		zap.String("action", req.Action),
		zap.String("correlation_id", req.CorrelationID),
		zap.Duration("elapsed", elapsed))
	c.recordDispatch(req, metrics.OutcomeSuccess, elapsed)

	return types.AgentResponse{
		Success:         true,
		Data:            data,
		AgentType:       req.AgentType,
		ExecutionTimeMS: elapsed.Milliseconds(),
		Timestamp:       time.Now(),
	}
}

// classifyDispatchError maps a dispatch failure onto the error code the
// response carries: circuit-open rejections and deadline overruns get their
// own codes, everything else is an upstream failure.
func classifyDispatchError(err error) types.ErrorCode {
	switch {
	case breaker.IsOpenError(err):
		return types.ErrCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrAgentTimeout
	default:
		return types.ErrAgentUpstream
	}
}

// post performs the HTTP POST for one dispatch. A 2xx body is returned as
// opaque data; anything else is an error.
func (c *Client) post(ctx context.Context, url string, req types.AgentRequest) (json.RawMessage, error) {
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	if req.UserID != "" {
		httpReq.Header.Set("X-User-ID", req.UserID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s agent: %w", req.AgentType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("%s agent returned status %d: %s", req.AgentType, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

func (c *Client) recordDispatch(req types.AgentRequest, outcome string, elapsed time.Duration) {
	if c.collector == nil {
		return
	}
	c.collector.RecordDispatch(string(req.AgentType), req.Action, outcome, elapsed)
}
