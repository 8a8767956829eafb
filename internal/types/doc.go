// Package types defines the data type contract the Value model delegates
// to: per-type parse, validate, hash, size, and byte serialization, plus a
// characteristics descriptor. The core never inspects type-specific bytes
// directly; it calls through these interfaces.
//
// Type plugins are registered explicitly on a Registry at startup. There is
// no scanning or discovery mechanism.
package types
