// Package sqlarchive implements the archive contracts over an embedded
// SQLite database.
//
// Tables: "values" (metadata, load config, payload), value_hashes (the
// dedup index, UNIQUE over type/hash/id), job_records, environments,
// metadata_schemas, metadata, metadata_references. Uniqueness constraints
// enforce the dedup invariant; writes use ON CONFLICT DO NOTHING so
// repeated stores are idempotent.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// StoreValue runs in a single transaction with the hash-index row
// inserted last, preserving the write-then-publish atomicity contract.
package sqlarchive
