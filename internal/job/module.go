package job

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/data"
	"github.com/lodeworks/lode/internal/value"
)

// Characteristics describes a module's static traits, declared
// explicitly by the module implementation.
type Characteristics struct {
	// Idempotent marks modules whose outputs depend only on their
	// inputs. Matching is skipped entirely for non-idempotent modules.
	Idempotent bool

	// Internal marks infrastructure modules (loaders, savers). Internal
	// modules are exempt from result matching so side-effecting plumbing
	// is never reused by content.
	Internal bool
}

// Request carries everything a module execution may need: the job id,
// the module configuration, the resolved input values, and the data
// registry for materializing input data and inspecting types.
type Request struct {
	JobID  string
	Config canon.Object
	Inputs map[string]*value.Value
	Data   *data.Registry
}

// Input materializes the data behind a named input.
func (r *Request) Input(ctx context.Context, field string) (any, error) {
	v, ok := r.Inputs[field]
	if !ok {
		return nil, fmt.Errorf("job %s: no input %q", r.JobID, field)
	}
	return r.Data.RetrieveValueData(ctx, v.ID)
}

// Output is one named result of a module execution: raw data plus the
// schema it should be registered under.
type Output struct {
	Data   any
	Schema value.Schema
}

// Module is the execution contract. The registry resolves inputs,
// invokes Execute, and registers each returned output as a Value with
// the job's pedigree attached.
type Module interface {
	Name() string
	Characteristics() Characteristics
	Execute(ctx context.Context, req *Request) (map[string]Output, error)
}

// ModuleRegistry holds the modules available for execution, populated
// explicitly at startup. Safe for concurrent use.
type ModuleRegistry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewModuleRegistry creates an empty module registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: make(map[string]Module)}
}

// Register adds a module. Registering a name twice is an error.
func (r *ModuleRegistry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := m.Name()
	if name == "" {
		return fmt.Errorf("register module: empty name")
	}
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("register module: %q already registered", name)
	}
	r.modules[name] = m
	return nil
}

// Get returns the module registered under name.
func (r *ModuleRegistry) Get(name string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("unknown module %q", name)
	}
	return m, nil
}

// Has reports whether a module is registered under name.
func (r *ModuleRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[name]
	return ok
}

// Names returns the registered module names, sorted.
func (r *ModuleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
