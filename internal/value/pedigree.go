package value

import (
	"fmt"

	"github.com/lodeworks/lode/internal/canon"
)

// OrphanModuleType marks a pedigree with no computational origin:
// the value was raw user input, not the output of a job.
const OrphanModuleType = "orphan"

// Manifest identifies a reusable computation definition: a module type
// plus its normalized configuration.
type Manifest struct {
	ModuleType   string       `json:"module_type"`
	ModuleConfig canon.Object `json:"module_config,omitempty"`
}

// Hash computes the manifest's content-addressed identity.
func (m Manifest) Hash() (string, error) {
	return canon.ManifestHash(m.ModuleType, m.ModuleConfig)
}

// Pedigree records what produced a value: the manifest of the producing
// job, the mapping from input field name to upstream value id, and the
// environment hashes captured at execution time. It captures "what
// produced this data", not just "what it is", so provenance can be
// displayed or the computation replayed.
type Pedigree struct {
	Manifest     Manifest          `json:"manifest"`
	Inputs       map[string]ID     `json:"inputs,omitempty"`
	Environments map[string]string `json:"environments,omitempty"`
}

// Orphan returns the distinguished pedigree for values with no
// computational origin.
func Orphan() Pedigree {
	return Pedigree{Manifest: Manifest{ModuleType: OrphanModuleType}}
}

// IsOrphan reports whether the pedigree marks raw, underived input.
func (p Pedigree) IsOrphan() bool {
	return p.Manifest.ModuleType == OrphanModuleType
}

// JobHash computes the job identity of the producing computation:
// manifest hash plus resolved input value ids. Returns the manifest
// hash as well since callers usually need both for index linkage.
func (p Pedigree) JobHash() (manifestHash, jobHash string, err error) {
	manifestHash, err = p.Manifest.Hash()
	if err != nil {
		return "", "", fmt.Errorf("pedigree manifest hash: %w", err)
	}
	inputs := make(map[string]string, len(p.Inputs))
	for field, id := range p.Inputs {
		inputs[field] = string(id)
	}
	jobHash, err = canon.JobHash(manifestHash, inputs)
	if err != nil {
		return "", "", fmt.Errorf("pedigree job hash: %w", err)
	}
	return manifestHash, jobHash, nil
}

// JobRecord binds a job hash to its named output value ids. It is the
// durable memoization record: a matcher that finds one may reuse the
// outputs instead of re-executing the job.
type JobRecord struct {
	JobHash        string            `json:"job_hash"`
	ManifestHash   string            `json:"manifest_hash"`
	InputsDataHash string            `json:"inputs_data_hash,omitempty"`
	Manifest       Manifest          `json:"manifest"`
	Inputs         map[string]ID     `json:"inputs,omitempty"`
	Outputs        map[string]ID     `json:"outputs"`
	Environments   map[string]string `json:"environments,omitempty"`
}

// LoadModuleType is the module type of the built-in loader that both
// backends record in the load configs they produce. The loader reads a
// value's payload back from its owning archive and decodes it.
const LoadModuleType = "lode.load"

// SaveModuleType is the module type of the built-in serializer. Saves
// run as ordinary jobs, mirroring loads: the module encodes a value's
// materialized data through its type contract and emits the payload.
const SaveModuleType = "lode.save"

// LoadConfig is a replayable recipe for reconstituting a value's bytes
// on demand: the loader module, its configuration and inputs, and the
// name of the output field that carries the reconstituted data. Stored
// alongside persisted values so data can stay unmaterialized until read.
type LoadConfig struct {
	Manifest   Manifest     `json:"manifest"`
	Inputs     canon.Object `json:"inputs,omitempty"`
	OutputName string       `json:"output_name"`
}
