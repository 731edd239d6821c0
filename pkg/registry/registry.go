package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Operation is a named kind of governed work. Bind turns call arguments into the
// procedures of a new span.
type Operation struct {
	Type        domain.SpanType
	Description string
	Bind        func(args map[string]any) (domain.Binding, error)
}

// Registry manages the available operations.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ops: make(map[string]Operation),
	}
}

// Register adds an operation to the registry.
// If an operation with the same name exists, it is overwritten.
func (r *Registry) Register(name string, op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[name] = op
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (Operation, error) {
	r.mu.RLock()
	op, ok := r.ops[name]
	r.mu.RUnlock()

	if !ok {
		return Operation{}, fmt.Errorf("operation %s: %w", name, domain.ErrNotFound)
	}
	return op, nil
}

// Bind resolves name and binds args, returning the span type and procedures.
func (r *Registry) Bind(name string, args map[string]any) (domain.SpanType, domain.Binding, error) {
	op, err := r.Lookup(name)
	if err != nil {
		return "", domain.Binding{}, err
	}
	b, err := op.Bind(args)
	if err != nil {
		return "", domain.Binding{}, fmt.Errorf("%s: %w", name, err)
	}
	return op.Type, b, nil
}

// Names lists registered operations in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for n := range r.ops {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// decodeArgs narrows a free-form argument map into a typed struct.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSpan, err)
	}
	return nil
}
