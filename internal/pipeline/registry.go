// -----------------------------------------------------------------------
// Step Registry - Factory table for pipeline step implementations
// -----------------------------------------------------------------------

package pipeline

import (
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// StepDefaults is implemented by steps that declare default parameters.
// The default keys double as the set of recognized parameter names:
// submissions carrying unknown keys are rejected fail-closed.
type StepDefaults interface {
	DefaultParams() map[string]any
}

// Registry holds a factory per step name. It is populated once at process
// init from configuration; factories construct a fresh step instance per run
// so instances are never shared across concurrent runs.
type Registry struct {
	factories map[string]interfaces.StepFactory
	logger    arbor.ILogger
}

// NewRegistry creates an empty step registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		factories: make(map[string]interfaces.StepFactory),
		logger:    logger,
	}
}

// Register adds a step factory. The factory is invoked once immediately to
// validate that the produced step reports the registered name.
func (r *Registry) Register(name string, factory interfaces.StepFactory) error {
	if name == "" {
		return fmt.Errorf("step name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("step factory cannot be nil for %s", name)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("step %s is already registered", name)
	}

	probe := factory()
	if probe == nil {
		return fmt.Errorf("factory for %s produced nil step", name)
	}
	if probe.Name() != name {
		return fmt.Errorf("factory for %s produced step named %s", name, probe.Name())
	}

	r.factories[name] = factory
	r.logger.Debug().Str("step", name).Msg("Pipeline step registered")
	return nil
}

// Has reports whether a step name is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Create constructs a fresh step instance
func (r *Registry) Create(name string) (interfaces.Step, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, models.Errorf(models.ErrInvalidPipeline, name, "unknown step: %s", name)
	}
	return factory(), nil
}

// Names returns the registered step names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultParams returns the default parameter map of a registered step, or
// an empty map when the step declares none.
func (r *Registry) DefaultParams(name string) (map[string]any, error) {
	step, err := r.Create(name)
	if err != nil {
		return nil, err
	}
	if defaults, ok := step.(StepDefaults); ok {
		return defaults.DefaultParams(), nil
	}
	return map[string]any{}, nil
}
