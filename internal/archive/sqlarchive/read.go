package sqlarchive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/value"
)

// HasValue reports whether the archive holds metadata for the value.
func (a *Archive) HasValue(ctx context.Context, id value.ID) (bool, error) {
	if id.IsSentinel() {
		return false, nil
	}
	var count int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM "values" WHERE id = ?`, string(id)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sql archive %q: has value %s: %w", a.id, id, err)
	}
	return count > 0, nil
}

// RetrieveValueDetails returns the persisted value metadata.
func (a *Archive) RetrieveValueDetails(ctx context.Context, id value.ID) (*value.Value, error) {
	var details string
	err := a.db.QueryRowContext(ctx,
		`SELECT details FROM "values" WHERE id = ?`, string(id)).Scan(&details)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sql archive %q: value %s: %w", a.id, id, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: read value %s: %w", a.id, id, err)
	}
	var v value.Value
	if err := json.Unmarshal([]byte(details), &v); err != nil {
		return nil, fmt.Errorf("sql archive %q: decode value %s: %w", a.id, id, err)
	}
	return &v, nil
}

// RetrieveLoadConfig returns the replay recipe stored for a value.
func (a *Archive) RetrieveLoadConfig(ctx context.Context, id value.ID) (*value.LoadConfig, error) {
	var raw string
	err := a.db.QueryRowContext(ctx,
		`SELECT load_config FROM "values" WHERE id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sql archive %q: load config for %s: %w", a.id, id, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: read load config %s: %w", a.id, id, err)
	}
	var lc value.LoadConfig
	if err := json.Unmarshal([]byte(raw), &lc); err != nil {
		return nil, fmt.Errorf("sql archive %q: decode load config %s: %w", a.id, id, err)
	}
	return &lc, nil
}

// RetrievePayload returns the persisted byte form of a value.
func (a *Archive) RetrievePayload(ctx context.Context, id value.ID) ([]byte, error) {
	var payload []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT payload FROM "values" WHERE id = ?`, string(id)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sql archive %q: payload for %s: %w", a.id, id, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: read payload %s: %w", a.id, id, err)
	}
	return payload, nil
}

// RetrieveEnvironmentDetails returns the environment descriptor
// persisted under (envType, envHash).
func (a *Archive) RetrieveEnvironmentDetails(ctx context.Context, envType, envHash string) (canon.Object, error) {
	var raw string
	err := a.db.QueryRowContext(ctx,
		`SELECT details FROM environments WHERE env_type = ? AND env_hash = ?`,
		envType, envHash).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sql archive %q: environment %s/%s: %w", a.id, envType, envHash, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: read environment %s/%s: %w", a.id, envType, envHash, err)
	}
	var details canon.Object
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, fmt.Errorf("sql archive %q: decode environment %s/%s: %w", a.id, envType, envHash, err)
	}
	return details, nil
}

// FindValuesWithHash resolves the dedup index to value ids.
// Ordered by value_id so results are deterministic across calls.
func (a *Archive) FindValuesWithHash(ctx context.Context, dataType, hash string) ([]value.ID, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT value_id FROM value_hashes
		WHERE type_name = ? AND hash = ?
		ORDER BY value_id ASC
	`, dataType, hash)
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: hash lookup %s.%s: %w", a.id, dataType, hash, err)
	}
	defer rows.Close()

	var ids []value.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sql archive %q: scan hash lookup: %w", a.id, err)
		}
		ids = append(ids, value.ID(id))
	}
	return ids, rows.Err()
}

// FindJobRecord returns the job record stored under jobHash.
func (a *Archive) FindJobRecord(ctx context.Context, jobHash string) (*value.JobRecord, error) {
	var raw string
	err := a.db.QueryRowContext(ctx,
		`SELECT record FROM job_records WHERE job_hash = ?`, jobHash).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sql archive %q: job %s: %w", a.id, jobHash, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: read job record %s: %w", a.id, jobHash, err)
	}
	return decodeRecord(a.id, raw)
}

// FindJobRecordsForManifest returns all job records sharing a manifest
// hash, ordered by job hash for deterministic scans.
func (a *Archive) FindJobRecordsForManifest(ctx context.Context, manifestHash string) ([]*value.JobRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT record FROM job_records
		WHERE manifest_hash = ?
		ORDER BY job_hash ASC
	`, manifestHash)
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: manifest scan %s: %w", a.id, manifestHash, err)
	}
	defer rows.Close()

	var records []*value.JobRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sql archive %q: scan manifest records: %w", a.id, err)
		}
		rec, err := decodeRecord(a.id, raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func decodeRecord(archiveID, raw string) (*value.JobRecord, error) {
	var rec value.JobRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("sql archive %q: decode job record: %w", archiveID, err)
	}
	return &rec, nil
}
