package alias

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/lodeworks/lode/internal/value"
)

// ErrNotFound is returned when no alias entry satisfies a lookup.
var ErrNotFound = errors.New("alias not found")

// ErrNotEnumerable is returned by List on dynamic stores.
var ErrNotEnumerable = errors.New("alias store is not enumerable")

// Entry is one stored alias version: a name, its assigned version
// number, an optional tag, and the target value id.
type Entry struct {
	Name    string   `yaml:"name"`
	Version int      `yaml:"version"`
	Tag     string   `yaml:"tag,omitempty"`
	ValueID value.ID `yaml:"value_id"`
}

// Store is the read contract of one alias namespace. Static stores are
// enumerable and feed the registry's eager index; dynamic stores
// (aliases computed on demand) only answer per-name lookups.
type Store interface {
	// ID is the mountpoint identifier of this store instance.
	ID() string

	// Enumerable reports whether List is supported.
	Enumerable() bool

	// Lookup resolves one ref within this store: version when
	// Version > 0, tag when Tag is set, otherwise the latest version.
	Lookup(ctx context.Context, ref Ref) (value.ID, error)

	// Versions returns the version numbers recorded for a name,
	// ascending. A name with no entries yields an empty slice.
	Versions(ctx context.Context, name string) ([]int, error)

	// List returns every entry, or ErrNotEnumerable.
	List(ctx context.Context) ([]Entry, error)
}

// WritableStore is a Store that accepts new alias versions.
type WritableStore interface {
	Store

	// Put appends an entry. The registry assigns version numbers;
	// stores only persist them.
	Put(ctx context.Context, entry Entry) error
}

// MemStore is an in-memory writable, enumerable alias store.
type MemStore struct {
	id string

	mu      sync.RWMutex
	entries map[string][]Entry // name -> versions ascending
}

// NewMemStore creates an empty in-memory store under the given
// mountpoint id.
func NewMemStore(id string) *MemStore {
	return &MemStore{id: id, entries: make(map[string][]Entry)}
}

func (s *MemStore) ID() string       { return s.id }
func (s *MemStore) Enumerable() bool { return true }

func (s *MemStore) Lookup(_ context.Context, ref Ref) (value.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookupEntries(s.entries[ref.Name], ref)
}

func (s *MemStore) Versions(_ context.Context, name string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryVersions(s.entries[name]), nil
}

func (s *MemStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, versions := range s.entries {
		out = append(out, versions...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (s *MemStore) Put(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Name] = insertEntry(s.entries[entry.Name], entry)
	return nil
}

// lookupEntries resolves a ref against one name's version history.
func lookupEntries(versions []Entry, ref Ref) (value.ID, error) {
	if len(versions) == 0 {
		return "", ErrNotFound
	}
	switch {
	case ref.Version > 0:
		for _, e := range versions {
			if e.Version == ref.Version {
				return e.ValueID, nil
			}
		}
	case ref.Tag != "" && ref.Tag != TagLatest:
		// Newest entry carrying the tag wins.
		for i := len(versions) - 1; i >= 0; i-- {
			if versions[i].Tag == ref.Tag {
				return versions[i].ValueID, nil
			}
		}
	default:
		return versions[len(versions)-1].ValueID, nil
	}
	return "", ErrNotFound
}

// insertEntry keeps a name's history ordered by version. Re-putting an
// existing version replaces it (tag moves use this).
func insertEntry(versions []Entry, entry Entry) []Entry {
	for i, e := range versions {
		if e.Version == entry.Version {
			versions[i] = entry
			return versions
		}
	}
	versions = append(versions, entry)
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions
}

func entryVersions(versions []Entry) []int {
	out := make([]int, 0, len(versions))
	for _, e := range versions {
		out = append(out, e.Version)
	}
	return out
}
