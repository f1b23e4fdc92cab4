package workflow

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jobflow/orchestrator/types"
)

// ErrDefinitionNotFound is returned by Get for an unknown workflow type.
// It is the registry's only error condition and is distinguishable from a
// registered definition that happens to have no steps.
var ErrDefinitionNotFound = errors.New("workflow definition not found")

// Registry is the immutable catalogue of named workflow definitions.
// Registration happens once at process start; there is no update or delete.
type Registry struct {
	defs   map[Type]*Definition
	routes RouteChecker
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewRegistry creates a definition registry. routes may be nil to skip
// agent binding validation (tests).
func NewRegistry(routes RouteChecker, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		defs:   make(map[Type]*Definition),
		routes: routes,
		logger: logger.With(zap.String("component", "workflow_registry")),
	}
}

// Register validates and stores a definition. Malformed DAGs fail here,
// never at execution time.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(r.routes); err != nil {
		return types.NewError(types.ErrInvalidDefinition, "register workflow").WithCause(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("register workflow: type %q already registered", def.Type)
	}
	r.defs[def.Type] = def

	r.logger.Info("workflow registered",
		zap.String("type", string(def.Type)),
		zap.Int("steps", len(def.Steps)),
		zap.String("on_error", string(def.OnError)))
	return nil
}

// Get returns the definition for a workflow type.
func (r *Registry) Get(t Type) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, t)
	}
	return def, nil
}

// List returns all registered definitions ordered by type.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Type < defs[j].Type })
	return defs
}
