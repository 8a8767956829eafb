package alias

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/lodeworks/lode/internal/value"
)

// FileStore is a writable, enumerable alias store persisted as one
// YAML file. The whole file is rewritten atomically on every Put;
// alias histories are small, so the rewrite stays cheap.
type FileStore struct {
	id   string
	path string

	mu      sync.RWMutex
	entries map[string][]Entry
}

// fileDoc is the on-disk YAML layout.
type fileDoc struct {
	Aliases []Entry `yaml:"aliases"`
}

// OpenFileStore loads (or creates) a YAML-backed alias store at path
// under the given mountpoint id.
func OpenFileStore(id, path string) (*FileStore, error) {
	s := &FileStore{id: id, path: path, entries: make(map[string][]Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alias store %q: read %s: %w", id, path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("alias store %q: decode %s: %w", id, path, err)
	}
	for _, e := range doc.Aliases {
		s.entries[e.Name] = insertEntry(s.entries[e.Name], e)
	}
	return s, nil
}

func (s *FileStore) ID() string       { return s.id }
func (s *FileStore) Enumerable() bool { return true }

func (s *FileStore) Lookup(_ context.Context, ref Ref) (value.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookupEntries(s.entries[ref.Name], ref)
}

func (s *FileStore) Versions(_ context.Context, name string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryVersions(s.entries[name]), nil
}

func (s *FileStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

func (s *FileStore) Put(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Name] = insertEntry(s.entries[entry.Name], entry)
	return s.flushLocked()
}

// flushLocked rewrites the backing file atomically. Caller holds the
// write lock.
func (s *FileStore) flushLocked() error {
	doc := fileDoc{Aliases: s.snapshotLocked()}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("alias store %q: encode: %w", s.id, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("alias store %q: create dir: %w", s.id, err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("alias store %q: write %s: %w", s.id, s.path, err)
	}
	return nil
}

func (s *FileStore) snapshotLocked() []Entry {
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
	return out
}
