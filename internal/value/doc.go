// Package value defines the shared model types of the lode runtime: the
// content-immutable Value, its status state machine, pedigree (provenance),
// manifests, load configs, and durable job records.
//
// This package contains type definitions and their identity computations
// only. It imports canon and nothing else internal, so every other internal
// package can depend on it without cycles.
package value
