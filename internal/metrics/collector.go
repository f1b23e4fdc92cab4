// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Dispatch outcome labels.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
)

// Collector registers and records the orchestrator's Prometheus metrics.
type Collector struct {
	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Agent dispatch
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	// Workflow engine
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	stepsTotal        *prometheus.CounterVec

	// Circuit breakers
	breakerState *prometheus.GaugeVec

	// Task queue
	queueSubmissionsTotal *prometheus.CounterVec
	queueDepth            *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates a collector with all metric families registered
// under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_dispatch_total",
			Help:      "Total number of agent dispatch calls",
		},
		[]string{"agent", "action", "outcome"},
	)

	c.dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_dispatch_duration_seconds",
			Help:      "Agent dispatch call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent", "action"},
	)

	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"workflow_type", "status"},
	)

	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow_type"},
	)

	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of workflow step outcomes",
		},
		[]string{"workflow_type", "step", "status"},
	)

	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per agent (0=closed, 1=half-open, 2=open)",
		},
		[]string{"agent"},
	)

	c.queueSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_queue_submissions_total",
			Help:      "Total number of tasks handed to the external queue",
		},
		[]string{"job", "priority"},
	)

	c.queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Number of tasks currently waiting in the external queue",
		},
		[]string{"queue"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one inbound HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch records one agent dispatch call. outcome is one of the
// Outcome* constants; circuit-open rejections get their own label so they
// can be triaged separately from real upstream failures.
func (c *Collector) RecordDispatch(agent, action, outcome string, duration time.Duration) {
	c.dispatchTotal.WithLabelValues(agent, action, outcome).Inc()
	c.dispatchDuration.WithLabelValues(agent, action).Observe(duration.Seconds())
}

// RecordExecution records a workflow execution reaching a terminal status.
func (c *Collector) RecordExecution(workflowType, status string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(workflowType, status).Inc()
	c.executionDuration.WithLabelValues(workflowType).Observe(duration.Seconds())
}

// RecordStep records one step outcome.
func (c *Collector) RecordStep(workflowType, step, status string) {
	c.stepsTotal.WithLabelValues(workflowType, step, status).Inc()
}

// SetBreakerState records an agent's breaker state.
func (c *Collector) SetBreakerState(agent string, state int) {
	c.breakerState.WithLabelValues(agent).Set(float64(state))
}

// RecordQueueSubmission records a task handed to the external queue.
func (c *Collector) RecordQueueSubmission(job, priority string) {
	c.queueSubmissionsTotal.WithLabelValues(job, priority).Inc()
}

// SetQueueDepth records the current queue depth.
func (c *Collector) SetQueueDepth(queue string, depth int64) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// statusCode buckets an HTTP status code for the status label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
