// Package registry holds the action handler registry mapping action kinds to
// their factories.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/leadwell/drip/pkg/protocol"
)

// Registry maps action kinds to handler factories. The action kind set is
// open: built-in kinds are registered at startup and plugins can add more.
type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// CreateAction instantiates a handler for the given kind.
func (r *Registry) CreateAction(kind string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[kind]
	if !ok {
		return nil, fmt.Errorf("action kind %q not registered", kind)
	}

	return factory.Create(config)
}

// HasAction reports whether the kind is registered.
func (r *Registry) HasAction(kind string) bool {
	_, ok := r.actionFactories[kind]

	return ok
}

// ActionKinds returns the registered kinds, sorted.
func (r *Registry) ActionKinds() []string {
	kinds := make([]string, 0, len(r.actionFactories))
	for kind := range r.actionFactories {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)

	return kinds
}

// ValidateParameters checks step parameters against the action kind's JSON
// schema. Called at definition time so bad parameters never reach dispatch.
func (r *Registry) ValidateParameters(kind string, parameters map[string]any) error {
	factory, ok := r.actionFactories[kind]
	if !ok {
		return fmt.Errorf("action kind %q not registered", kind)
	}

	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if parameters == nil {
		parameters = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(parameters)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("validating parameters for action %q: %w", kind, err)
	}

	if !result.Valid() {
		first := result.Errors()[0]

		return fmt.Errorf("invalid parameters for action %q: %s", kind, first.String())
	}

	return nil
}
