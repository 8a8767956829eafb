package data

import (
	"context"
	"fmt"
	"sort"

	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/types"
	"github.com/lodeworks/lode/internal/value"
)

// RegisterData examines raw input and produces a Value. The status
// transition happens exactly once, here: the Unset marker yields the
// NOT_SET sentinel; nil yields DEFAULT (schema default materialized),
// the NONE sentinel (optional slot), or a validation error (required
// slot); anything else is parsed and validated by the type contract
// and becomes SET.
//
// When reuseExisting is true and a valid hash was produced, an already
// known value with identical (type, hash) is returned instead of
// minting a new id. Ties between multiple matches prefer scalar types,
// then orphan pedigrees, so the most canonical prior instance wins.
func (r *Registry) RegisterData(ctx context.Context, raw any, schema value.Schema, pedigree value.Pedigree, outputName string, reuseExisting bool) (*value.Value, error) {
	if value.IsUnset(raw) {
		return r.notSet, nil
	}

	status := value.StatusSet
	if raw == nil {
		switch {
		case schema.Default != nil:
			raw = canon.ToGo(schema.Default)
			status = value.StatusDefault
		case schema.Optional:
			return r.none, nil
		default:
			return nil, newValidationError(fmt.Sprintf("required field of type %q has no input", schema.TypeName))
		}
	}

	dt, err := r.types.Get(schema.TypeName)
	if err != nil {
		return nil, newTypeError(err.Error())
	}
	parsed, err := dt.Parse(raw)
	if err != nil {
		return nil, newTypeError(fmt.Sprintf("parse %q input: %v", schema.TypeName, err))
	}
	if err := dt.Validate(parsed); err != nil {
		return nil, newValidationError(fmt.Sprintf("validate %q input: %v", schema.TypeName, err))
	}
	hash, err := dt.Hash(parsed)
	if err != nil {
		return nil, fmt.Errorf("hash %q input: %w", schema.TypeName, err)
	}
	size, err := dt.Size(parsed)
	if err != nil {
		return nil, fmt.Errorf("size %q input: %w", schema.TypeName, err)
	}

	if reuseExisting && hash != canon.InvalidHash {
		match, err := r.findReusable(ctx, schema.TypeName, hash)
		if err != nil {
			return nil, err
		}
		if match != nil {
			// The parsed data is content-identical to the match's, so
			// cache it under the match. A replayed load that dedups to
			// the value it was loading materializes it this way.
			r.mu.Lock()
			if _, cached := r.data[match.ID]; !cached {
				r.data[match.ID] = parsed
			}
			r.mu.Unlock()
			r.log.Debug("value dedup hit", "id", match.ID, "type", schema.TypeName, "hash", hash)
			return match, nil
		}
	}

	v := &value.Value{
		ID:                 r.idgen.NewID(),
		Schema:             schema,
		Status:             status,
		Size:               size,
		Hash:               hash,
		Pedigree:           pedigree,
		PedigreeOutputName: outputName,
	}

	r.mu.Lock()
	r.values[v.ID] = v
	r.data[v.ID] = parsed
	r.indexHashLocked(v)
	hooks := make([]CreateHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()

	r.log.Debug("value created", "id", v.ID, "type", schema.TypeName, "status", v.Status, "size", v.Size)
	for _, hook := range hooks {
		hook(v)
	}
	return v, nil
}

// indexHashLocked adds v to the (type, hash) dedup index. Caller holds
// the write lock.
func (r *Registry) indexHashLocked(v *value.Value) {
	if !v.HasValidHash() {
		return
	}
	key := hashKey(v.Schema.TypeName, v.Hash)
	ids, ok := r.hashIndex[key]
	if !ok {
		ids = make(map[value.ID]struct{})
		r.hashIndex[key] = ids
	}
	ids[v.ID] = struct{}{}
}

// findReusable looks for an already known value with the same
// (dataType, hash), searching the in-memory index first and then every
// mounted archive. Archive hits are adopted into the in-memory arena.
func (r *Registry) findReusable(ctx context.Context, dataType, hash string) (*value.Value, error) {
	key := hashKey(dataType, hash)

	candidates := make(map[value.ID]*value.Value)
	r.mu.RLock()
	for id := range r.hashIndex[key] {
		candidates[id] = r.values[id]
	}
	r.mu.RUnlock()

	for _, a := range r.snapshotArchives() {
		ids, err := a.FindValuesWithHash(ctx, dataType, hash)
		if err != nil {
			return nil, fmt.Errorf("dedup scan of archive %q: %w", a.ID(), err)
		}
		for _, id := range ids {
			if _, known := candidates[id]; known {
				continue
			}
			v, err := a.RetrieveValueDetails(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("dedup fetch %s from archive %q: %w", id, a.ID(), err)
			}
			r.adopt(v, a.ID())
			candidates[id] = v
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	return pickCanonical(candidates, r.types), nil
}

// adopt caches a value discovered in an archive into the arena and
// records which archive owns it. A value already in the arena wins.
func (r *Registry) adopt(v *value.Value, archiveID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.values[v.ID]; exists {
		return
	}
	r.values[v.ID] = v
	r.owner[v.ID] = archiveID
	r.indexHashLocked(v)
}

// pickCanonical breaks dedup ties: scalar types beat non-scalar, orphan
// pedigrees beat derived, and the lexicographically smallest id decides
// the rest so the choice is deterministic.
func pickCanonical(candidates map[value.ID]*value.Value, typeReg *types.Registry) *value.Value {
	list := make([]*value.Value, 0, len(candidates))
	for _, v := range candidates {
		list = append(list, v)
	}
	isScalar := func(v *value.Value) bool {
		dt, err := typeReg.Get(v.Schema.TypeName)
		return err == nil && dt.Characteristics().IsScalar
	}
	sort.Slice(list, func(i, j int) bool {
		si, sj := isScalar(list[i]), isScalar(list[j])
		if si != sj {
			return si
		}
		oi, oj := list[i].Pedigree.IsOrphan(), list[j].Pedigree.IsOrphan()
		if oi != oj {
			return oi
		}
		return list[i].ID < list[j].ID
	})
	return list[0]
}
