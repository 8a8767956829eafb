// Package canon provides the constrained structured-data universe and the
// deterministic serialization that all content-addressed identity in lode is
// derived from.
//
// Every hash in the system (data, manifest, job, inputs, environment) is
// computed over RFC 8785 canonical JSON of canon values, with a domain
// prefix separating the hash families. canon imports nothing internal; all
// other internal packages may import canon.
//
// Key constraints:
//   - No float types anywhere - numbers are int64 (floats break determinism)
//   - Object keys are ordered by UTF-16 code units, never insertion order
//   - Strings are NFC normalized at the serialization boundary
package canon
