package job

import (
	"fmt"

	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/value"
)

// Config is one concrete computation request: a module type, its
// normalized configuration, and the resolved input value ids keyed by
// input field name.
type Config struct {
	ModuleType   string
	ModuleConfig canon.Object
	Inputs       map[string]value.ID
}

// Manifest returns the reusable computation definition part of the
// config.
func (c *Config) Manifest() value.Manifest {
	return value.Manifest{ModuleType: c.ModuleType, ModuleConfig: c.ModuleConfig}
}

// Hashes computes the config's manifest hash and job hash. Identical
// requests hash identically regardless of submission order or process.
func (c *Config) Hashes() (manifestHash, jobHash string, err error) {
	manifestHash, err = canon.ManifestHash(c.ModuleType, c.ModuleConfig)
	if err != nil {
		return "", "", fmt.Errorf("job config manifest hash: %w", err)
	}
	inputs := make(map[string]string, len(c.Inputs))
	for field, id := range c.Inputs {
		inputs[field] = string(id)
	}
	jobHash, err = canon.JobHash(manifestHash, inputs)
	if err != nil {
		return "", "", fmt.Errorf("job config job hash: %w", err)
	}
	return manifestHash, jobHash, nil
}

// Pedigree builds the provenance record stamped onto every output of a
// job executed from this config.
func (c *Config) Pedigree(environments map[string]string) value.Pedigree {
	return value.Pedigree{
		Manifest:     c.Manifest(),
		Inputs:       c.Inputs,
		Environments: environments,
	}
}
