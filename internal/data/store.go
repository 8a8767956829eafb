package data

import (
	"context"
	"fmt"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/value"
)

// StoreValue persists a value to a writable archive. An empty storeID
// selects the default store. Every pedigree input is persisted first,
// transitively, so a stored value never references an unpersisted
// input. Storing an already persisted value is a no-op.
func (r *Registry) StoreValue(ctx context.Context, id value.ID, storeID string) error {
	if id.IsSentinel() {
		return newValidationError("sentinel values are never persisted")
	}

	store, err := r.StoreArchive(storeID)
	if err != nil {
		return fmt.Errorf("store value %s: %w", id, err)
	}
	return r.storeRecursive(ctx, id, store, make(map[value.ID]bool))
}

func (r *Registry) storeRecursive(ctx context.Context, id value.ID, store archive.Store, visiting map[value.ID]bool) error {
	if id.IsSentinel() {
		return nil
	}
	if visiting[id] {
		return fmt.Errorf("store value %s: pedigree cycle detected", id)
	}

	r.mu.RLock()
	_, stored := r.owner[id]
	r.mu.RUnlock()
	if stored {
		return nil
	}

	v, err := r.GetValue(ctx, id)
	if err != nil {
		return err
	}

	visiting[id] = true
	defer delete(visiting, id)
	for _, inputID := range v.Pedigree.Inputs {
		if err := r.storeRecursive(ctx, inputID, store, visiting); err != nil {
			return fmt.Errorf("store pedigree input of %s: %w", id, err)
		}
	}

	if err := r.persistEnvironments(ctx, store, v.Pedigree.Environments); err != nil {
		return fmt.Errorf("store environments of %s: %w", id, err)
	}

	if !v.IsSet() {
		return newValidationError(fmt.Sprintf("value %s has no materialized data (status %s)", id, v.Status))
	}
	payload, err := r.encodePayload(ctx, v)
	if err != nil {
		return err
	}

	if _, err := store.StoreValue(ctx, v, payload); err != nil {
		return fmt.Errorf("store value %s in archive %q: %w", id, store.ID(), err)
	}

	r.mu.Lock()
	r.owner[id] = store.ID()
	r.mu.Unlock()
	r.log.Debug("value stored", "id", id, "archive", store.ID(), "size", v.Size)
	return nil
}

// encodePayload serializes a value through the save job. Saves run as
// ordinary jobs, the same path loads take; the registry never encodes
// inline.
func (r *Registry) encodePayload(ctx context.Context, v *value.Value) ([]byte, error) {
	r.runnerMu.RLock()
	runner := r.runner
	r.runnerMu.RUnlock()
	if runner == nil {
		return nil, fmt.Errorf("encode value %s: no job runner configured: %w", v.ID, ErrSaverUnavailable)
	}
	payload, err := runner.RunSave(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("encode value %s as %q: %w", v.ID, v.Schema.TypeName, err)
	}
	return payload, nil
}

// persistEnvironments writes the environment descriptors referenced by
// a pedigree, for those the current process registered. Descriptors
// from other processes are assumed already persisted where they were
// produced.
func (r *Registry) persistEnvironments(ctx context.Context, store archive.Store, envs map[string]string) error {
	for envType, envHash := range envs {
		r.mu.RLock()
		details, known := r.environments[envType]
		currentHash := r.envHashes[envType]
		r.mu.RUnlock()
		if !known || currentHash != envHash {
			continue
		}
		if err := store.StoreEnvironment(ctx, envType, envHash, details); err != nil {
			return fmt.Errorf("environment %s/%s: %w", envType, envHash, err)
		}
	}
	return nil
}
