// Package archive defines the pluggable persistence contracts for values,
// job records, and environment records.
//
// An Archive is read-only; a Store is a capability-extended Archive that
// also accepts writes. Both backend implementations (filesystem tree and
// embedded SQL) satisfy the same contracts so the data registry stays
// backend-agnostic.
//
// Write atomicity contract: a store writes payload and metadata before
// publishing the hash-index entry, so a crash leaves either the old state
// or a fully indexed new entry. Readers never observe a partially indexed
// value.
package archive
