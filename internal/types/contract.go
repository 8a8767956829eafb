package types

import (
	"fmt"
	"sort"
	"sync"
)

// Hashable computes the content hash of a type's materialized data.
type Hashable interface {
	Hash(data any) (string, error)
}

// Sizable reports the byte size of a type's materialized data.
type Sizable interface {
	Size(data any) (int64, error)
}

// Validatable checks that data satisfies the type's constraints.
type Validatable interface {
	Validate(data any) error
}

// Serializable converts between in-memory data and its persisted byte
// form. Encode output is deterministic: identical data encodes to
// identical bytes, so Hash can be derived from Encode.
type Serializable interface {
	Encode(data any) ([]byte, error)
	Decode(b []byte) (any, error)
}

// Characteristics describes a data type's static traits. Explicit
// struct fields, not introspected attributes.
type Characteristics struct {
	// IsScalar marks single-datum types (string, integer, boolean).
	// The data registry prefers scalar values when breaking dedup ties.
	IsScalar bool
}

// DataType is the full contract a registered type plugin implements.
type DataType interface {
	Hashable
	Sizable
	Validatable
	Serializable

	Name() string
	Characteristics() Characteristics

	// Parse converts raw input into the type's in-memory form.
	// Returns an error for input the type cannot represent.
	Parse(raw any) (any, error)
}

// Registry is a process-wide registry of data types, populated
// explicitly at startup. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]DataType
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]DataType)}
}

// NewBuiltinRegistry creates a registry pre-populated with the built-in
// types: string, integer, boolean, bytes, object.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, dt := range []DataType{
		StringType{}, IntegerType{}, BooleanType{}, BytesType{}, ObjectType{},
	} {
		if err := r.Register(dt); err != nil {
			panic(err) // built-in names are unique
		}
	}
	return r
}

// Register adds a data type. Registering a name twice is an error.
func (r *Registry) Register(dt DataType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := dt.Name()
	if name == "" {
		return fmt.Errorf("register data type: empty name")
	}
	if _, exists := r.types[name]; exists {
		return fmt.Errorf("register data type: %q already registered", name)
	}
	r.types[name] = dt
	return nil
}

// Get returns the data type registered under name.
func (r *Registry) Get(name string) (DataType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("unknown data type %q", name)
	}
	return dt, nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
