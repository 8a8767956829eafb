package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/types"
	"github.com/lodeworks/lode/internal/value"
)

// ErrLoaderUnavailable is returned by a JobRunner when the module type
// named in a load config is not registered. The registry converts it
// into an Unloadable placeholder instead of failing the read.
var ErrLoaderUnavailable = errors.New("loader module unavailable")

// ErrSaverUnavailable is returned when a value cannot be serialized
// because no job runner is wired or the save module is not registered.
// Unlike reads, persistence fails loudly.
var ErrSaverUnavailable = errors.New("saver module unavailable")

// JobRunner executes loads and saves as ordinary jobs: RunLoad replays
// a load config and returns the reconstituted data, RunSave serializes
// a value's materialized data and returns the payload. Implemented by
// the job registry; injected after construction to break the data/job
// dependency cycle.
type JobRunner interface {
	RunLoad(ctx context.Context, lc *value.LoadConfig) (any, error)
	RunSave(ctx context.Context, id value.ID) ([]byte, error)
}

// Unloadable is the placeholder returned for a value whose load recipe
// cannot be replayed (loader module unavailable). Listing and metadata
// display still function; only the bytes are missing.
type Unloadable struct {
	ValueID value.ID
	Reason  string
}

// IsUnloadable reports whether data is the unloadable placeholder.
func IsUnloadable(data any) bool {
	_, ok := data.(Unloadable)
	return ok
}

// CreateHook observes newly minted values.
type CreateHook func(*value.Value)

// Registry is the Data Registry. Safe for concurrent use; archive
// lookups and load replay run outside the registry lock.
type Registry struct {
	log   *slog.Logger
	types *types.Registry
	idgen value.IDGenerator

	mu           sync.RWMutex
	values       map[value.ID]*value.Value
	data         map[value.ID]any
	hashIndex    map[string]map[value.ID]struct{} // dataType+"\x00"+hash -> ids
	owner        map[value.ID]string              // id -> archive that holds it
	archives     map[string]archive.Archive
	mountOrder   []string
	defaultStore string
	environments map[string]canon.Object // env type -> details
	envHashes    map[string]string       // env type -> hash
	hooks        []CreateHook

	runnerMu sync.RWMutex
	runner   JobRunner

	notSet *value.Value
	none   *value.Value
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New creates a Data Registry over the given type registry.
func New(typeReg *types.Registry, idgen value.IDGenerator, opts ...Option) *Registry {
	r := &Registry{
		log:          slog.Default(),
		types:        typeReg,
		idgen:        idgen,
		values:       make(map[value.ID]*value.Value),
		data:         make(map[value.ID]any),
		hashIndex:    make(map[string]map[value.ID]struct{}),
		owner:        make(map[value.ID]string),
		archives:     make(map[string]archive.Archive),
		environments: make(map[string]canon.Object),
		envHashes:    make(map[string]string),
		notSet:       value.NewNotSetValue(),
		none:         value.NewNoneValue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mount adds an archive under its id. The first writable archive
// mounted becomes the default store unless overridden.
func (r *Registry) Mount(a archive.Archive) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := a.ID()
	if _, exists := r.archives[id]; exists {
		return fmt.Errorf("mount archive: %q already mounted", id)
	}
	r.archives[id] = a
	r.mountOrder = append(r.mountOrder, id)
	if r.defaultStore == "" {
		if _, writable := a.(archive.Store); writable {
			r.defaultStore = id
		}
	}
	return nil
}

// SetDefaultStore names the writable archive unqualified stores go to.
func (r *Registry) SetDefaultStore(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.archives[id]
	if !ok {
		return fmt.Errorf("set default store: %q not mounted", id)
	}
	if _, writable := a.(archive.Store); !writable {
		return fmt.Errorf("set default store: %q is read-only", id)
	}
	r.defaultStore = id
	return nil
}

// SetJobRunner injects the job-side load/save collaborator.
func (r *Registry) SetJobRunner(runner JobRunner) {
	r.runnerMu.Lock()
	defer r.runnerMu.Unlock()
	r.runner = runner
}

// OnCreate registers a hook observing newly minted values.
func (r *Registry) OnCreate(hook CreateHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Archive returns a mounted archive by id.
func (r *Registry) Archive(id string) (archive.Archive, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.archives[id]
	if !ok {
		return nil, fmt.Errorf("archive %q not mounted", id)
	}
	return a, nil
}

// OwnerArchive returns the id of the archive holding the value, or
// the empty string for values that only live in memory.
func (r *Registry) OwnerArchive(id value.ID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner[id]
}

// TypeRegistry returns the data type registry the values resolve
// their contracts against.
func (r *Registry) TypeRegistry() *types.Registry { return r.types }

// Archives returns all mounted archives in mount order. Job matchers
// search these for memoization records.
func (r *Registry) Archives() []archive.Archive { return r.snapshotArchives() }

// StoreArchive resolves a writable archive by id, the default store
// when id is empty.
func (r *Registry) StoreArchive(id string) (archive.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.defaultStore
	}
	a, ok := r.archives[id]
	if !ok {
		return nil, fmt.Errorf("no writable archive %q mounted", id)
	}
	store, ok := a.(archive.Store)
	if !ok {
		return nil, fmt.Errorf("archive %q is read-only", id)
	}
	return store, nil
}

// NotSetValue returns the per-runtime NOT_SET sentinel.
func (r *Registry) NotSetValue() *value.Value { return r.notSet }

// NoneValue returns the per-runtime NONE sentinel.
func (r *Registry) NoneValue() *value.Value { return r.none }

// RegisterEnvironment records a runtime environment descriptor and
// returns its hash. Registering the same type again replaces it.
func (r *Registry) RegisterEnvironment(envType string, details canon.Object) (string, error) {
	hash, err := canon.EnvironmentHash(envType, details)
	if err != nil {
		return "", fmt.Errorf("register environment %q: %w", envType, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.environments[envType] = details
	r.envHashes[envType] = hash
	return hash, nil
}

// CurrentEnvironments returns the env type -> hash map stamped onto
// pedigrees of newly produced values.
func (r *Registry) CurrentEnvironments() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.envHashes))
	for k, v := range r.envHashes {
		out[k] = v
	}
	return out
}

func hashKey(dataType, hash string) string {
	return dataType + "\x00" + hash
}

// snapshotArchives returns the mounted archives in mount order.
func (r *Registry) snapshotArchives() []archive.Archive {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]archive.Archive, 0, len(r.mountOrder))
	for _, id := range r.mountOrder {
		out = append(out, r.archives[id])
	}
	return out
}
