// Package fsarchive implements the archive contracts over a filesystem
// tree.
//
// Layout under the root directory:
//
//	values/<value_id>/value.json      value metadata
//	values/<value_id>/load.json       load config (replay recipe)
//	values/<value_id>/data/payload.zst  zstd-compressed payload bytes
//	index/<data_type>.<hash>          dedup index: one value id per line
//	jobs/<manifest_hash>/manifest.json
//	jobs/<manifest_hash>/<job_hash>.inputs.json
//	jobs/<manifest_hash>/<job_hash>.record.json
//	jobs/<manifest_hash>/<job_hash>.output.<name>   marker: value id
//	jobindex/<job_hash>               manifest hash for direct job lookup
//	environments/<env_type>/<env_hash>.json
//
// Indices are plain files mapping content hash to id, not symlinks, to
// avoid symlink portability and permission issues. All writes go through
// renameio, and the hash-index entry is published only after payload and
// metadata have landed, so readers never observe a partially indexed
// value. One writer per backend instance is assumed.
package fsarchive
