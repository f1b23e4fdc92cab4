package breaker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Registry manages one breaker per agent identity. Breakers are created
// lazily on first use with the registry's default config. The registry is
// the single piece of cross-execution shared state: concurrent dispatches
// to the same agent from different workflow executions update the same
// breaker counters, so the breaker sees global traffic to that agent.
type Registry struct {
	breakers map[string]*Breaker
	cfg      Config
	logger   *zap.Logger
	listener StateListener
	mu       sync.RWMutex
}

// NewRegistry creates a breaker registry with the given defaults.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		logger:   logger,
	}
}

// WithStateListener installs a listener that observes every breaker state
// transition, including the initial closed state when a breaker is created.
// Must be called before traffic flows.
func (r *Registry) WithStateListener(listener StateListener) *Registry {
	r.listener = listener
	return r
}

// GetOrCreate returns the breaker for an agent, creating it on demand.
func (r *Registry) GetOrCreate(agentID string) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[agentID]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[agentID]; ok {
		return b
	}

	b := New(agentID, r.cfg, r.logger)
	b.listener = r.listener
	r.breakers[agentID] = b
	if r.listener != nil {
		r.listener(agentID, StateClosed)
	}
	return b
}

// Execute runs fn under the breaker for agentID, creating it on demand.
func (r *Registry) Execute(ctx context.Context, agentID string, fn func(ctx context.Context) error) error {
	return r.GetOrCreate(agentID).Execute(ctx, fn)
}

// IsOpen reports whether the agent's breaker currently rejects calls.
// An agent with no breaker yet has never been called and is not open.
func (r *Registry) IsOpen(agentID string) bool {
	r.mu.RLock()
	b, ok := r.breakers[agentID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return b.IsOpen()
}

// Stats returns the snapshot for one agent. Agents never dispatched to
// report StatusUnknown.
func (r *Registry) Stats(agentID string) Stats {
	r.mu.RLock()
	b, ok := r.breakers[agentID]
	r.mu.RUnlock()
	if !ok {
		return Stats{Agent: agentID, Status: StatusUnknown, State: StateClosed.String()}
	}
	return b.Stats()
}

// AllStats returns snapshots for every breaker that has seen traffic.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for id, b := range r.breakers {
		stats[id] = b.Stats()
	}
	return stats
}

// Reset forces the agent's breaker closed and zeroes its counters.
// Resetting an agent with no breaker is a no-op.
func (r *Registry) Reset(agentID string) {
	r.mu.RLock()
	b, ok := r.breakers[agentID]
	r.mu.RUnlock()
	if ok {
		b.Reset()
	}
}

// ResetAll resets every breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}
