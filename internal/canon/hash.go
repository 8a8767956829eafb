package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration without colliding with old hashes.
const (
	DomainData        = "lode/data/v1"
	DomainManifest    = "lode/manifest/v1"
	DomainJob         = "lode/job/v1"
	DomainInputsData  = "lode/inputs-data/v1"
	DomainEnvironment = "lode/environment/v1"
)

// InvalidHash is the sentinel for a hash that could not be computed
// (value status NOT_SET or NONE, or a type without hash support).
// It never collides with a real hash: real hashes are hex strings.
const InvalidHash = "!invalid"

// hashStructured computes SHA-256 over domain + 0x00 + canonical JSON.
// The null separator prevents domain/payload boundary ambiguity.
func hashStructured(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DataHash computes the content hash of a value's materialized byte
// form. BLAKE3 keeps hashing large payloads cheap; the domain prefix
// keeps data hashes disjoint from the structured hash families.
func DataHash(payload []byte) string {
	h := blake3.New()
	h.Write([]byte(DomainData))
	h.Write([]byte{0x00})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ManifestHash computes the content-addressed identity of a computation
// definition: module type plus its normalized configuration.
// Stable across process restarts given the same inputs.
func ManifestHash(moduleType string, moduleConfig Object) (string, error) {
	if moduleConfig == nil {
		moduleConfig = Object{}
	}
	obj := Object{
		"module_type":   String(moduleType),
		"module_config": moduleConfig,
	}
	id, err := hashStructured(DomainManifest, obj)
	if err != nil {
		return "", fmt.Errorf("manifest hash: %w", err)
	}
	return id, nil
}

// JobHash computes the identity of one concrete computation request:
// the manifest hash plus the resolved input value ids, keyed by input
// field name. Two requests with identical manifest and inputs hash
// identically regardless of submission order or process.
func JobHash(manifestHash string, inputs map[string]string) (string, error) {
	inputObj := make(Object, len(inputs))
	for field, valueID := range inputs {
		inputObj[field] = String(valueID)
	}
	obj := Object{
		"manifest_hash": String(manifestHash),
		"inputs":        inputObj,
	}
	id, err := hashStructured(DomainJob, obj)
	if err != nil {
		return "", fmt.Errorf("job hash: %w", err)
	}
	return id, nil
}

// InputsDataHash computes a hash over the resolved data hashes of all
// inputs rather than their value ids. Used by the data-hash job matcher
// to find prior jobs whose inputs were content-identical even though
// the value ids differ.
func InputsDataHash(manifestHash string, inputHashes map[string]string) (string, error) {
	inputObj := make(Object, len(inputHashes))
	for field, dataHash := range inputHashes {
		inputObj[field] = String(dataHash)
	}
	obj := Object{
		"manifest_hash": String(manifestHash),
		"input_hashes":  inputObj,
	}
	id, err := hashStructured(DomainInputsData, obj)
	if err != nil {
		return "", fmt.Errorf("inputs data hash: %w", err)
	}
	return id, nil
}

// EnvironmentHash computes the identity of a runtime environment
// descriptor (library versions, platform, type plugin set).
func EnvironmentHash(envType string, details Object) (string, error) {
	if details == nil {
		details = Object{}
	}
	obj := Object{
		"environment_type": String(envType),
		"details":          details,
	}
	id, err := hashStructured(DomainEnvironment, obj)
	if err != nil {
		return "", fmt.Errorf("environment hash: %w", err)
	}
	return id, nil
}
