package alias

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lodeworks/lode/internal/value"
)

// ReverseLookuper is implemented by dynamic stores that can search by
// target value id. Probing these is expensive and opt-in.
type ReverseLookuper interface {
	FindRefs(ctx context.Context, id value.ID) ([]Ref, error)
}

// Registry resolves alias strings across one or more mounted stores.
// Enumerable stores feed an eager full index; dynamic stores fall back
// to per-store lookups whose results are cached.
type Registry struct {
	log *slog.Logger

	mu           sync.Mutex
	stores       map[string]Store
	defaultStore string
	indexed      bool
	byName       map[string][]Entry  // mount "#" name -> versions ascending
	reverse      map[value.ID][]Ref  // target -> refs, enumerable stores only
	dynCache     map[string]value.ID // canonical ref string -> resolved target
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates an empty alias registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		log:      slog.Default(),
		stores:   make(map[string]Store),
		byName:   make(map[string][]Entry),
		reverse:  make(map[value.ID][]Ref),
		dynCache: make(map[string]value.ID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mount adds a store under its mountpoint id. The first store mounted
// becomes the default; unqualified names resolve there.
func (r *Registry) Mount(s Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.ID()
	if _, exists := r.stores[id]; exists {
		return fmt.Errorf("mount alias store: %q already mounted", id)
	}
	r.stores[id] = s
	if r.defaultStore == "" {
		r.defaultStore = id
	}
	r.indexed = false
	return nil
}

// SetDefaultStore names the store unqualified aliases resolve against.
func (r *Registry) SetDefaultStore(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[id]; !ok {
		return fmt.Errorf("set default alias store: %q not mounted", id)
	}
	r.defaultStore = id
	return nil
}

// RegisterAliases records a value under one or more alias names.
// Versions are assigned by the registry, never by the caller: each new
// target gets version max+1. Re-registering a name's current target is
// a no-op. Moving an existing tag to a different target requires
// allowOverwrite.
func (r *Registry) RegisterAliases(ctx context.Context, id value.ID, aliases []string, allowOverwrite bool) error {
	if id.IsSentinel() {
		return fmt.Errorf("register aliases: sentinel value %s cannot be aliased", id)
	}
	for _, s := range aliases {
		if err := r.registerOne(ctx, id, s, allowOverwrite); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerOne(ctx context.Context, id value.ID, aliasStr string, allowOverwrite bool) error {
	ref, err := Parse(aliasStr)
	if err != nil {
		return err
	}
	if ref.Version > 0 {
		return fmt.Errorf("register alias %q: versions are assigned by the registry", aliasStr)
	}
	if ref.Tag == TagLatest {
		return fmt.Errorf("register alias %q: tag %q is reserved", aliasStr, TagLatest)
	}

	store, err := r.writableStore(ref.Mount)
	if err != nil {
		return fmt.Errorf("register alias %q: %w", aliasStr, err)
	}

	latest, err := store.Lookup(ctx, Ref{Name: ref.Name})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("register alias %q: %w", aliasStr, err)
	}
	haveLatest := err == nil

	if ref.Tag != "" {
		if tagged, terr := store.Lookup(ctx, Ref{Name: ref.Name, Tag: ref.Tag}); terr == nil {
			if tagged == id {
				return nil
			}
			if !allowOverwrite {
				return fmt.Errorf("register alias %q: tag %q already points elsewhere (overwrite not allowed)", aliasStr, ref.Tag)
			}
		}
	} else if haveLatest && latest == id {
		return nil
	}

	versions, err := store.Versions(ctx, ref.Name)
	if err != nil {
		return fmt.Errorf("register alias %q: %w", aliasStr, err)
	}
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}
	// A new tag for the value that is already the latest version
	// attaches to that version in place; two identical versions are
	// never recorded for one name.
	if ref.Tag != "" && haveLatest && latest == id {
		next = versions[len(versions)-1]
	}

	entry := Entry{Name: ref.Name, Version: next, Tag: ref.Tag, ValueID: id}
	if err := store.Put(ctx, entry); err != nil {
		return fmt.Errorf("register alias %q: %w", aliasStr, err)
	}

	r.mu.Lock()
	if r.indexed && store.Enumerable() {
		key := store.ID() + MountSeparator + ref.Name
		r.byName[key] = insertEntry(r.byName[key], entry)
		newRef := Ref{Mount: store.ID(), Name: ref.Name, Version: next, Tag: ref.Tag}
		refs := r.reverse[id]
		replaced := false
		for i := range refs {
			if refs[i].Mount == newRef.Mount && refs[i].Name == newRef.Name && refs[i].Version == newRef.Version {
				refs[i] = newRef
				replaced = true
			}
		}
		if !replaced {
			r.reverse[id] = append(refs, newRef)
		}
	}
	r.mu.Unlock()
	r.log.Debug("alias registered", "name", ref.Name, "version", next, "mount", store.ID(), "value", id)
	return nil
}

// Resolve maps an alias string to a value id. Enumerable stores answer
// from the cached full index; dynamic stores answer per lookup, with
// the result cached.
func (r *Registry) Resolve(ctx context.Context, aliasStr string) (value.ID, error) {
	ref, err := Parse(aliasStr)
	if err != nil {
		return "", err
	}
	store, err := r.store(ref.Mount)
	if err != nil {
		return "", fmt.Errorf("resolve alias %q: %w", aliasStr, err)
	}

	if store.Enumerable() {
		if err := r.ensureIndex(ctx); err != nil {
			return "", err
		}
		r.mu.Lock()
		entries := r.byName[store.ID()+MountSeparator+ref.Name]
		r.mu.Unlock()
		id, err := lookupEntries(entries, ref)
		if err != nil {
			return "", fmt.Errorf("resolve alias %q: %w", aliasStr, err)
		}
		return id, nil
	}

	key := Ref{Mount: store.ID(), Name: ref.Name, Version: ref.Version, Tag: ref.Tag}.String()
	r.mu.Lock()
	cached, ok := r.dynCache[key]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}
	id, err := store.Lookup(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve alias %q: %w", aliasStr, err)
	}
	r.mu.Lock()
	r.dynCache[key] = id
	r.mu.Unlock()
	return id, nil
}

// VersionsForAlias returns the version numbers recorded for a name,
// ascending.
func (r *Registry) VersionsForAlias(ctx context.Context, aliasStr string) ([]int, error) {
	ref, err := Parse(aliasStr)
	if err != nil {
		return nil, err
	}
	store, err := r.store(ref.Mount)
	if err != nil {
		return nil, fmt.Errorf("versions for alias %q: %w", aliasStr, err)
	}
	return store.Versions(ctx, ref.Name)
}

// FindAliasesForValue returns every alias string pointing at a value,
// from the reverse index over enumerable stores. With probeDynamic set,
// dynamic stores implementing ReverseLookuper are searched too.
func (r *Registry) FindAliasesForValue(ctx context.Context, id value.ID, probeDynamic bool) ([]string, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	refs := append([]Ref(nil), r.reverse[id]...)
	var dynamic []ReverseLookuper
	if probeDynamic {
		for _, s := range r.stores {
			if s.Enumerable() {
				continue
			}
			if rl, ok := s.(ReverseLookuper); ok {
				dynamic = append(dynamic, rl)
			}
		}
	}
	r.mu.Unlock()

	for _, rl := range dynamic {
		found, err := rl.FindRefs(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("probe dynamic alias store: %w", err)
		}
		refs = append(refs, found...)
	}

	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.String())
	}
	sort.Strings(out)
	return out, nil
}

// ensureIndex builds the forward and reverse indices over every
// enumerable store. Cheap to call; rebuilt only after a new mount.
func (r *Registry) ensureIndex(ctx context.Context) error {
	r.mu.Lock()
	if r.indexed {
		r.mu.Unlock()
		return nil
	}
	stores := make([]Store, 0, len(r.stores))
	for _, s := range r.stores {
		if s.Enumerable() {
			stores = append(stores, s)
		}
	}
	r.mu.Unlock()

	byName := make(map[string][]Entry)
	reverse := make(map[value.ID][]Ref)
	for _, s := range stores {
		entries, err := s.List(ctx)
		if err != nil {
			return fmt.Errorf("index alias store %q: %w", s.ID(), err)
		}
		for _, e := range entries {
			key := s.ID() + MountSeparator + e.Name
			byName[key] = insertEntry(byName[key], e)
			reverse[e.ValueID] = append(reverse[e.ValueID], Ref{Mount: s.ID(), Name: e.Name, Version: e.Version, Tag: e.Tag})
		}
	}

	r.mu.Lock()
	r.byName = byName
	r.reverse = reverse
	r.indexed = true
	r.mu.Unlock()
	return nil
}

func (r *Registry) store(mount string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mount == "" {
		mount = r.defaultStore
	}
	s, ok := r.stores[mount]
	if !ok {
		return nil, fmt.Errorf("no alias store mounted at %q", mount)
	}
	return s, nil
}

func (r *Registry) writableStore(mount string) (WritableStore, error) {
	s, err := r.store(mount)
	if err != nil {
		return nil, err
	}
	ws, ok := s.(WritableStore)
	if !ok {
		return nil, fmt.Errorf("alias store %q is read-only", s.ID())
	}
	return ws, nil
}
