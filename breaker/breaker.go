package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed allows calls through and counts outcomes.
	StateClosed State = iota
	// StateOpen rejects calls without reaching the network.
	StateOpen
	// StateHalfOpen allows a single probe call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Status is the coarse agent health derived from breaker state. It is
// reporting-only and never gates the state machine.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Config controls when a breaker trips and recovers.
type Config struct {
	// Timeout is the per-call budget; a call exceeding it counts as a
	// failure and trips the breaker immediately.
	Timeout time.Duration `json:"timeout"`
	// ErrorThresholdPercentage trips the breaker when the failure share
	// of the rolling window meets or exceeds it.
	ErrorThresholdPercentage int `json:"error_threshold_percentage"`
	// ResetTimeout is how long an open breaker waits before allowing a probe.
	ResetTimeout time.Duration `json:"reset_timeout"`
	// VolumeThreshold is the minimum number of windowed calls before the
	// error percentage is evaluated.
	VolumeThreshold int `json:"volume_threshold"`
	// WindowSize caps how many recent call outcomes the rolling window holds.
	WindowSize int `json:"window_size"`
}

// DefaultConfig returns the breaker defaults applied to lazily created breakers.
func DefaultConfig() Config {
	return Config{
		Timeout:                  30 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		VolumeThreshold:          5,
		WindowSize:               20,
	}
}

// OpenError is returned when a call is rejected without a network attempt.
type OpenError struct {
	Agent      string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for agent %s: retry after %v", e.Agent, e.RetryAfter.Round(time.Millisecond))
}

// IsOpenError reports whether err is a circuit-open rejection, so callers
// can distinguish short-circuited calls from real dispatch failures.
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}

// Stats is a point-in-time snapshot of one agent's breaker.
type Stats struct {
	Agent        string    `json:"agent"`
	Status       Status    `json:"status"`
	State        string    `json:"state"`
	IsOpen       bool      `json:"is_open"`
	ErrorCount   int       `json:"error_count"`
	SuccessCount int       `json:"success_count"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitzero"`
	LastSuccess  time.Time `json:"last_success,omitzero"`
}

// StateListener observes breaker state transitions, e.g. to export a
// per-agent state gauge. Called with the breaker lock held; listeners must
// not call back into the breaker.
type StateListener func(agentID string, state State)

// Breaker is the per-agent circuit breaker state machine.
type Breaker struct {
	agentID  string
	cfg      Config
	logger   *zap.Logger
	listener StateListener

	mu           sync.Mutex
	state        State
	window       []bool // true = failure
	windowIdx    int
	windowFilled int
	errorCount   int
	successCount int
	lastError    string
	lastErrorAt  time.Time
	lastSuccess  time.Time
	openedAt     time.Time
	probing      bool
}

// New creates a breaker for one agent.
func New(agentID string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowSize < cfg.VolumeThreshold {
		cfg.WindowSize = cfg.VolumeThreshold
	}
	return &Breaker{
		agentID: agentID,
		cfg:     cfg,
		state:   StateClosed,
		window:  make([]bool, cfg.WindowSize),
		logger:  logger.With(zap.String("agent", agentID)),
	}
}

// Execute runs fn under the breaker. When the breaker is open the call is
// rejected with *OpenError before fn runs. The per-call timeout is the
// smaller of the breaker timeout and any deadline already on ctx.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	elapsed := time.Since(start)

	if err != nil || elapsed >= b.cfg.Timeout {
		if err == nil {
			err = fmt.Errorf("call exceeded breaker timeout %v", b.cfg.Timeout)
		}
		b.recordFailure(err, elapsed >= b.cfg.Timeout)
		return err
	}
	b.recordSuccess()
	return nil
}

// allow decides whether a call may proceed and handles the open to
// half-open transition.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		waited := time.Since(b.openedAt)
		if waited >= b.cfg.ResetTimeout {
			b.transitionTo(StateHalfOpen, "reset timeout elapsed")
			b.probing = true
			return nil
		}
		return &OpenError{Agent: b.agentID, RetryAfter: b.cfg.ResetTimeout - waited}

	case StateHalfOpen:
		if b.probing {
			return &OpenError{Agent: b.agentID, RetryAfter: b.cfg.ResetTimeout}
		}
		b.probing = true
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %d", b.state)
	}
}

// RecordSuccess counts a successful call and closes a half-open breaker.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.lastSuccess = time.Now()

	switch b.state {
	case StateClosed:
		b.pushOutcome(false)
	case StateHalfOpen:
		b.probing = false
		b.resetWindow()
		b.transitionTo(StateClosed, "probe succeeded")
	}
}

// recordFailure counts a failed call and trips the breaker when the rolling
// window crosses the error threshold or the call timed out.
func (b *Breaker) recordFailure(err error, timedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorCount++
	b.lastError = err.Error()
	b.lastErrorAt = time.Now()

	switch b.state {
	case StateClosed:
		b.pushOutcome(true)
		if timedOut {
			b.trip("call timeout")
			return
		}
		if b.windowFilled >= b.cfg.VolumeThreshold && b.failurePercentage() >= b.cfg.ErrorThresholdPercentage {
			b.trip(fmt.Sprintf("%d%% failures over last %d calls", b.failurePercentage(), b.windowFilled))
		}

	case StateHalfOpen:
		b.probing = false
		b.trip("probe failed")
	}
}

// trip opens the breaker (must be called with the lock held).
func (b *Breaker) trip(reason string) {
	b.openedAt = time.Now()
	b.transitionTo(StateOpen, reason)
}

// pushOutcome records one call outcome in the rolling window (lock held).
func (b *Breaker) pushOutcome(failure bool) {
	b.window[b.windowIdx] = failure
	b.windowIdx = (b.windowIdx + 1) % len(b.window)
	if b.windowFilled < len(b.window) {
		b.windowFilled++
	}
}

// failurePercentage returns the failure share of the window (lock held).
func (b *Breaker) failurePercentage() int {
	if b.windowFilled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.windowFilled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return failures * 100 / b.windowFilled
}

func (b *Breaker) resetWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.windowIdx = 0
	b.windowFilled = 0
}

// transitionTo changes state, logs the transition, and notifies the state
// listener (lock held).
func (b *Breaker) transitionTo(newState State, reason string) {
	oldState := b.state
	b.state = newState

	b.logger.Info("circuit breaker state change",
		zap.String("old_state", oldState.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("error_count", b.errorCount))

	if b.listener != nil {
		b.listener(b.agentID, newState)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker currently rejects calls.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Reset forces the breaker closed and zeroes all counters. Administrative
// override used for incident recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.errorCount = 0
	b.successCount = 0
	b.lastError = ""
	b.lastErrorAt = time.Time{}
	b.lastSuccess = time.Time{}
	b.probing = false
	b.resetWindow()

	if oldState != StateClosed {
		b.transitionTo(StateClosed, "manual reset")
	}
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Agent:        b.agentID,
		Status:       b.status(),
		State:        b.state.String(),
		IsOpen:       b.state == StateOpen,
		ErrorCount:   b.errorCount,
		SuccessCount: b.successCount,
		LastError:    b.lastError,
		LastErrorAt:  b.lastErrorAt,
		LastSuccess:  b.lastSuccess,
	}
}

// status derives the coarse reporting status (lock held).
func (b *Breaker) status() Status {
	switch b.state {
	case StateOpen:
		return StatusUnhealthy
	case StateHalfOpen:
		return StatusDegraded
	case StateClosed:
		if b.successCount == 0 && b.errorCount == 0 {
			return StatusUnknown
		}
		return StatusHealthy
	default:
		return StatusUnknown
	}
}
