package archive

import (
	"context"
	"errors"

	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/value"
)

// ErrNotFound is returned when a value, payload, load config, job
// record, or environment record does not exist in an archive.
var ErrNotFound = errors.New("not found in archive")

// ErrReadOnly is returned by every write-contract call on a read-only
// backend.
var ErrReadOnly = errors.New("archive is read-only")

// Archive is the read contract every backend satisfies.
type Archive interface {
	// ID is the mount identifier of this archive instance.
	ID() string

	// HasValue reports whether the archive holds the value's metadata.
	HasValue(ctx context.Context, id value.ID) (bool, error)

	// RetrieveValueDetails returns the persisted value metadata.
	RetrieveValueDetails(ctx context.Context, id value.ID) (*value.Value, error)

	// RetrieveLoadConfig returns the replay recipe stored for a value.
	RetrieveLoadConfig(ctx context.Context, id value.ID) (*value.LoadConfig, error)

	// RetrievePayload returns the persisted byte form of a value.
	RetrievePayload(ctx context.Context, id value.ID) ([]byte, error)

	// RetrieveEnvironmentDetails returns the environment descriptor
	// persisted under (envType, envHash).
	RetrieveEnvironmentDetails(ctx context.Context, envType, envHash string) (canon.Object, error)

	// FindValuesWithHash returns the ids of all values whose content
	// hash matches, via the (data_type, hash) dedup index.
	FindValuesWithHash(ctx context.Context, dataType, hash string) ([]value.ID, error)

	// FindJobRecord returns the job record stored under jobHash, or
	// ErrNotFound.
	FindJobRecord(ctx context.Context, jobHash string) (*value.JobRecord, error)

	// FindJobRecordsForManifest returns all job records sharing a
	// manifest hash. Used by the data-hash matcher's scan.
	FindJobRecordsForManifest(ctx context.Context, manifestHash string) ([]*value.JobRecord, error)
}

// Metadata is a named, schema-described annotation attached to a
// persisted value.
type Metadata struct {
	SchemaName string       `json:"schema_name"`
	Data       canon.Object `json:"data"`
}

// Annotator is an optional capability: backends that can attach named
// metadata blobs to persisted values implement it. Callers discover
// support by type assertion on a mounted archive.
type Annotator interface {
	// AttachMetadata links a metadata blob to a value. Identical
	// blobs attached to many values share one stored copy.
	AttachMetadata(ctx context.Context, id value.ID, schemaName string, schema, data canon.Object) error

	// MetadataForValue returns all metadata blobs linked to a value,
	// in a deterministic order.
	MetadataForValue(ctx context.Context, id value.ID) ([]Metadata, error)
}

// Store is the write contract: an Archive that also persists values,
// job records, and environment records.
type Store interface {
	Archive

	// StoreValue persists value metadata and its serialized payload,
	// records the (data_type, hash) dedup index entry, links the
	// pedigree's manifest/job hashes to the value, and returns the
	// load config under which the value can be reconstituted.
	//
	// Sentinel values are rejected. The call is atomic per value:
	// payload and metadata land before the index entry is published.
	StoreValue(ctx context.Context, v *value.Value, payload []byte) (*value.LoadConfig, error)

	// StoreJobRecord persists a finished job's memoization record.
	// Idempotent: storing the same job hash twice is a no-op.
	StoreJobRecord(ctx context.Context, rec *value.JobRecord) error

	// StoreEnvironment persists an environment descriptor once per
	// distinct hash. Idempotent.
	StoreEnvironment(ctx context.Context, envType, envHash string, details canon.Object) error
}
