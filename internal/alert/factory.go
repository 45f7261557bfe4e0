package alert

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Constructor builds one condition variant from validated spec.
type Constructor func(spec Spec, deps Deps) (Condition, error)

// Factory maps condition type tags to constructors.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	newID        func() string
}

// NewFactory builds factory with the built-in condition types registered.
// Params: none.
// Returns: factory ready for Create.
func NewFactory() *Factory {
	f := &Factory{
		constructors: make(map[string]Constructor),
		newID:        uuid.NewString,
	}
	f.Register(TypeFieldContentValue, NewFieldContentValue)
	f.Register(TypeMessageCount, NewMessageCount)
	return f
}

// Register adds or replaces constructor for type tag.
func (f *Factory) Register(conditionType string, constructor Constructor) {
	f.mu.Lock()
	f.constructors[strings.ToLower(conditionType)] = constructor
	f.mu.Unlock()
}

// Types returns registered type tags sorted by name.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Create builds condition from persisted spec.
// Params: spec with registered type and process deps; empty id gets a UUID.
// Returns: condition or validation/unknown-type error.
func (f *Factory) Create(spec Spec, deps Deps) (Condition, error) {
	spec.Type = strings.ToLower(strings.TrimSpace(spec.Type))
	f.mu.RLock()
	constructor, ok := f.constructors[spec.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown condition type %q", spec.Type)}
	}
	if strings.TrimSpace(spec.ID) == "" {
		spec.ID = f.newID()
	}
	condition, err := constructor(spec, deps)
	if err != nil {
		return nil, fmt.Errorf("create condition %q: %w", spec.ID, err)
	}
	return condition, nil
}
