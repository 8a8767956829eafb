package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/data"
	"github.com/lodeworks/lode/internal/value"
)

// Matcher decides whether a prior job's recorded outputs may be reused
// for a new request. Returns nil when no prior job applies.
type Matcher interface {
	Name() string
	FindExistingJob(ctx context.Context, cfg *Config) (*value.JobRecord, error)
}

// NoMatch never matches; every request re-executes. Used for debugging
// and for pipelines that must not reuse prior results.
type NoMatch struct{}

func (NoMatch) Name() string { return "none" }

func (NoMatch) FindExistingJob(context.Context, *Config) (*value.JobRecord, error) {
	return nil, nil
}

// ValueIDMatcher looks up the exact job hash (manifest plus input value
// ids) in every mounted archive. Fast and exact, but misses cross-run
// matches where inputs are content-identical under different ids.
type ValueIDMatcher struct {
	Data *data.Registry
}

func (ValueIDMatcher) Name() string { return "value-id" }

func (m ValueIDMatcher) FindExistingJob(ctx context.Context, cfg *Config) (*value.JobRecord, error) {
	_, jobHash, err := cfg.Hashes()
	if err != nil {
		return nil, err
	}
	for _, a := range m.Data.Archives() {
		rec, err := a.FindJobRecord(ctx, jobHash)
		if errors.Is(err, archive.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("value-id match in archive %q: %w", a.ID(), err)
		}
		return rec, nil
	}
	return nil, nil
}

// DataHashMatcher first tries the exact value-id match, then falls back
// to scanning records under the same manifest hash for one whose
// recorded inputs-data hash matches. Catches reuse across value ids at
// the cost of hashing inputs. Internal modules are exempt from the
// fallback scan.
type DataHashMatcher struct {
	Data    *data.Registry
	Modules *ModuleRegistry
}

func (DataHashMatcher) Name() string { return "data-hash" }

func (m DataHashMatcher) FindExistingJob(ctx context.Context, cfg *Config) (*value.JobRecord, error) {
	exact := ValueIDMatcher{Data: m.Data}
	rec, err := exact.FindExistingJob(ctx, cfg)
	if err != nil || rec != nil {
		return rec, err
	}

	if mod, err := m.Modules.Get(cfg.ModuleType); err == nil && mod.Characteristics().Internal {
		return nil, nil
	}

	manifestHash, _, err := cfg.Hashes()
	if err != nil {
		return nil, err
	}
	want, err := inputsDataHash(ctx, m.Data, cfg, manifestHash)
	if err != nil {
		return nil, err
	}

	var (
		match  *value.JobRecord
		hashes []string
	)
	for _, a := range m.Data.Archives() {
		records, err := a.FindJobRecordsForManifest(ctx, manifestHash)
		if err != nil {
			return nil, fmt.Errorf("data-hash scan in archive %q: %w", a.ID(), err)
		}
		for _, rec := range records {
			if rec.InputsDataHash == "" || rec.InputsDataHash != want {
				continue
			}
			if match != nil && match.JobHash == rec.JobHash {
				continue
			}
			match = rec
			hashes = append(hashes, rec.JobHash)
		}
	}
	if len(hashes) > 1 {
		return nil, &AmbiguityError{
			Message:   fmt.Sprintf("inputs manifest %s matched by multiple job records", manifestHash),
			JobHashes: hashes,
		}
	}
	return match, nil
}

// inputsDataHash computes the content-based job identity: a hash over
// the resolved data hashes of all inputs. Values carry their content
// hash, so no payload needs rereading here.
func inputsDataHash(ctx context.Context, reg *data.Registry, cfg *Config, manifestHash string) (string, error) {
	hashes := make(map[string]string, len(cfg.Inputs))
	for field, id := range cfg.Inputs {
		v, err := reg.GetValue(ctx, id)
		if err != nil {
			return "", fmt.Errorf("inputs data hash: resolve %q: %w", field, err)
		}
		hashes[field] = v.Hash
	}
	return canon.InputsDataHash(manifestHash, hashes)
}
