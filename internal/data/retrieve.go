package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/value"
)

// GetValue resolves a value id to its metadata. The in-memory arena is
// consulted first; on a miss every mounted archive is asked, and
// exactly one must claim the id. More than one claimant is a storage
// invariant violation and fatal.
func (r *Registry) GetValue(ctx context.Context, id value.ID) (*value.Value, error) {
	switch id {
	case value.NotSetID:
		return r.notSet, nil
	case value.NoneID:
		return r.none, nil
	}

	r.mu.RLock()
	v, ok := r.values[id]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	var (
		found     *value.Value
		claimants []string
	)
	for _, a := range r.snapshotArchives() {
		has, err := a.HasValue(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("probe archive %q for %s: %w", a.ID(), id, err)
		}
		if !has {
			continue
		}
		claimants = append(claimants, a.ID())
		if found == nil {
			found, err = a.RetrieveValueDetails(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("retrieve %s from archive %q: %w", id, a.ID(), err)
			}
		}
	}
	switch len(claimants) {
	case 0:
		return nil, newNotFoundError(id)
	case 1:
		r.adopt(found, claimants[0])
		return found, nil
	default:
		return nil, newAmbiguityError(id, claimants)
	}
}

// RetrieveValueData returns the materialized data behind a value.
// Cached data is returned as-is; otherwise the value's load config is
// resolved from its owning archive and replayed as a job. A missing
// loader module degrades to an Unloadable placeholder instead of an
// error so listing and metadata display keep working.
func (r *Registry) RetrieveValueData(ctx context.Context, id value.ID) (any, error) {
	if id.IsSentinel() {
		return nil, nil
	}

	r.mu.RLock()
	data, cached := r.data[id]
	r.mu.RUnlock()
	if cached {
		return data, nil
	}

	v, err := r.GetValue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.IsSet() {
		return nil, nil
	}

	r.mu.RLock()
	ownerID := r.owner[id]
	r.mu.RUnlock()
	if ownerID == "" {
		return nil, newNotFoundError(id)
	}
	a, err := r.Archive(ownerID)
	if err != nil {
		return nil, err
	}
	lc, err := a.RetrieveLoadConfig(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load config for %s from archive %q: %w", id, ownerID, err)
	}

	r.runnerMu.RLock()
	runner := r.runner
	r.runnerMu.RUnlock()
	if runner == nil {
		r.log.Warn("no job runner configured", "id", id)
		return Unloadable{ValueID: id, Reason: "no job runner configured"}, nil
	}

	data, err = runner.RunLoad(ctx, lc)
	if errors.Is(err, ErrLoaderUnavailable) {
		r.log.Warn("loader module unavailable", "id", id, "module", lc.Manifest.ModuleType)
		return Unloadable{ValueID: id, Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("replay load for %s: %w", id, err)
	}

	r.mu.Lock()
	r.data[id] = data
	r.mu.Unlock()
	return data, nil
}

// FindValuesForHash returns the ids of all known values with the given
// (dataType, hash), merging the in-memory index with every mounted
// archive's dedup index. Archive hits are adopted into the arena so
// repeated lookups stay cheap.
func (r *Registry) FindValuesForHash(ctx context.Context, dataType, hash string) ([]value.ID, error) {
	key := hashKey(dataType, hash)

	seen := make(map[value.ID]struct{})
	r.mu.RLock()
	for id := range r.hashIndex[key] {
		seen[id] = struct{}{}
	}
	r.mu.RUnlock()

	for _, a := range r.snapshotArchives() {
		ids, err := a.FindValuesWithHash(ctx, dataType, hash)
		if err != nil {
			return nil, fmt.Errorf("hash lookup in archive %q: %w", a.ID(), err)
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			v, err := a.RetrieveValueDetails(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("hash lookup fetch %s from %q: %w", id, a.ID(), err)
			}
			r.adopt(v, a.ID())
			seen[id] = struct{}{}
		}
	}

	out := make([]value.ID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// EnvironmentDetails resolves an environment descriptor, consulting the
// in-process registrations first and then the mounted archives.
func (r *Registry) EnvironmentDetails(ctx context.Context, envType, envHash string) (any, error) {
	r.mu.RLock()
	details, ok := r.environments[envType]
	currentHash := r.envHashes[envType]
	r.mu.RUnlock()
	if ok && currentHash == envHash {
		return details, nil
	}
	for _, a := range r.snapshotArchives() {
		obj, err := a.RetrieveEnvironmentDetails(ctx, envType, envHash)
		if err == nil {
			return obj, nil
		}
		if !errors.Is(err, archive.ErrNotFound) {
			return nil, fmt.Errorf("environment %s/%s from archive %q: %w", envType, envHash, a.ID(), err)
		}
	}
	return nil, fmt.Errorf("environment %s/%s: %w", envType, envHash, archive.ErrNotFound)
}
