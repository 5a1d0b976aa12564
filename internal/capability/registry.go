package capability

import (
	"context"
	"fmt"
	"sort"
)

// Handler executes a capability. Handlers are stateless with respect to the
// session: they receive validated arguments and return a result, nothing else.
type Handler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// Descriptor is the registry metadata for one capability. Immutable after
// registration.
type Descriptor struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	InputSchema  map[string]interface{} `json:"input_schema"`
	OutputSchema map[string]interface{} `json:"output_schema"`
	Idempotent   bool                   `json:"idempotent"`
	// MaxRetry caps total invocation attempts per dispatch; 0 means a
	// single attempt.
	MaxRetry int `json:"max_retry"`
}

// Attempts returns the effective attempt cap for one dispatch.
func (d Descriptor) Attempts() int {
	if d.MaxRetry < 1 {
		return 1
	}
	return d.MaxRetry
}

// ErrUnknownCapability indicates the oracle requested a name that was never
// registered.
var ErrUnknownCapability = fmt.Errorf("unknown capability")

// ErrDuplicateCapability indicates a startup configuration error: two
// registrations under the same name.
var ErrDuplicateCapability = fmt.Errorf("duplicate capability registration")

type entry struct {
	desc    Descriptor
	handler Handler
}

// Registry maps capability names to validated handlers. Registration happens
// once at process start; the registry is read-only afterwards, so lookups
// need no locking.
type Registry struct {
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a capability. Duplicate names and malformed schemas are
// startup errors; the process must refuse to serve rather than run with a
// broken registry.
func (r *Registry) Register(desc Descriptor, h Handler) error {
	if desc.Name == "" {
		return fmt.Errorf("capability name is empty")
	}
	if h == nil {
		return fmt.Errorf("capability %s: nil handler", desc.Name)
	}
	if _, ok := r.entries[desc.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, desc.Name)
	}
	if err := CheckSchema(desc.InputSchema); err != nil {
		return fmt.Errorf("capability %s: input schema: %w", desc.Name, err)
	}
	if err := CheckSchema(desc.OutputSchema); err != nil {
		return fmt.Errorf("capability %s: output schema: %w", desc.Name, err)
	}
	r.entries[desc.Name] = entry{desc: desc, handler: h}
	return nil
}

// Lookup returns the descriptor and handler for a name.
func (r *Registry) Lookup(name string) (Descriptor, Handler, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, nil, false
	}
	return e.desc, e.handler, true
}

// Descriptors returns all registered descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
