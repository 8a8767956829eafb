// Package data implements the Data Registry: the in-process authority for
// creating, deduplicating, resolving, and persisting Values.
//
// The registry owns all Values in an arena keyed by id; Values hold no
// back-pointer to the registry. Identity and reuse are derived from
// content hashes, never from object identity. One or more archives may be
// mounted simultaneously (for example a read-only shared archive plus a
// local writable store); the registry is backend-agnostic.
package data
