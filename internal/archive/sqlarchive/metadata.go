package sqlarchive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/value"
)

var _ archive.Annotator = (*Archive)(nil)

// AttachMetadata stores a metadata blob and links it to a value. The
// schema and the blob are each persisted once per distinct content
// hash; attaching identical metadata to many values shares one row.
func (a *Archive) AttachMetadata(ctx context.Context, id value.ID, schemaName string, schema, data canon.Object) error {
	if !a.writable {
		return fmt.Errorf("sql archive %q: attach metadata: %w", a.id, archive.ErrReadOnly)
	}

	schemaHash, err := canon.EnvironmentHash("metadata-schema/"+schemaName, schema)
	if err != nil {
		return fmt.Errorf("sql archive %q: metadata schema hash: %w", a.id, err)
	}
	dataHash, err := canon.EnvironmentHash("metadata/"+schemaName, data)
	if err != nil {
		return fmt.Errorf("sql archive %q: metadata hash: %w", a.id, err)
	}

	schemaJSON, err := json.Marshal(archive.Metadata{SchemaName: schemaName, Data: schema})
	if err != nil {
		return fmt.Errorf("sql archive %q: encode metadata schema: %w", a.id, err)
	}
	dataJSON, err := json.Marshal(archive.Metadata{SchemaName: schemaName, Data: data})
	if err != nil {
		return fmt.Errorf("sql archive %q: encode metadata: %w", a.id, err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql archive %q: begin metadata tx: %w", a.id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO metadata_schemas (schema_hash, schema) VALUES (?, ?)
		ON CONFLICT(schema_hash) DO NOTHING
	`, schemaHash, string(schemaJSON)); err != nil {
		return fmt.Errorf("sql archive %q: insert metadata schema: %w", a.id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (metadata_hash, schema_hash, data) VALUES (?, ?, ?)
		ON CONFLICT(metadata_hash) DO NOTHING
	`, dataHash, schemaHash, string(dataJSON)); err != nil {
		return fmt.Errorf("sql archive %q: insert metadata: %w", a.id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO metadata_references (metadata_hash, value_id) VALUES (?, ?)
		ON CONFLICT(metadata_hash, value_id) DO NOTHING
	`, dataHash, string(id)); err != nil {
		return fmt.Errorf("sql archive %q: insert metadata reference: %w", a.id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql archive %q: commit metadata: %w", a.id, err)
	}
	return nil
}

// MetadataForValue returns all metadata blobs linked to a value,
// ordered by metadata hash for deterministic results.
func (a *Archive) MetadataForValue(ctx context.Context, id value.ID) ([]archive.Metadata, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT m.data
		FROM metadata m
		JOIN metadata_references r ON r.metadata_hash = m.metadata_hash
		WHERE r.value_id = ?
		ORDER BY m.metadata_hash ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: metadata for %s: %w", a.id, id, err)
	}
	defer rows.Close()

	var out []archive.Metadata
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sql archive %q: scan metadata: %w", a.id, err)
		}
		var md archive.Metadata
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			return nil, fmt.Errorf("sql archive %q: decode metadata: %w", a.id, err)
		}
		out = append(out, md)
	}
	return out, rows.Err()
}
