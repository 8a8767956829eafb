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

// StoreValue persists a value in a single transaction: metadata,
// payload, and load config first, pedigree linkage next, and the
// dedup-index row last. A crash mid-transaction leaves no trace.
func (a *Archive) StoreValue(ctx context.Context, v *value.Value, payload []byte) (*value.LoadConfig, error) {
	if !a.writable {
		return nil, fmt.Errorf("sql archive %q: store value: %w", a.id, archive.ErrReadOnly)
	}
	if v.ID.IsSentinel() {
		return nil, fmt.Errorf("sql archive %q: sentinel value %s cannot be persisted", a.id, v.ID)
	}
	if !v.IsSet() {
		return nil, fmt.Errorf("sql archive %q: value %s has no materialized data (status %s)", a.id, v.ID, v.Status)
	}

	lc := &value.LoadConfig{
		Manifest: value.Manifest{ModuleType: value.LoadModuleType},
		Inputs: canon.Object{
			"archive_id": canon.String(a.id),
			"value_id":   canon.String(string(v.ID)),
			"data_type":  canon.String(v.Schema.TypeName),
		},
		OutputName: "data",
	}

	details, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: encode value %s: %w", a.id, v.ID, err)
	}
	lcJSON, err := json.Marshal(lc)
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: encode load config %s: %w", a.id, v.ID, err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: begin tx: %w", a.id, err)
	}
	defer tx.Rollback() // no-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO "values" (id, type_name, status, size, hash, details, load_config, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, string(v.ID), v.Schema.TypeName, string(v.Status), v.Size, v.Hash,
		string(details), string(lcJSON), payload)
	if err != nil {
		return nil, fmt.Errorf("sql archive %q: insert value %s: %w", a.id, v.ID, err)
	}

	if !v.Pedigree.IsOrphan() && v.PedigreeOutputName != "" {
		if err := linkPedigree(ctx, tx, v); err != nil {
			return nil, fmt.Errorf("sql archive %q: %w", a.id, err)
		}
	}

	if v.HasValidHash() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO value_hashes (type_name, hash, value_id)
			VALUES (?, ?, ?)
			ON CONFLICT(type_name, hash, value_id) DO NOTHING
		`, v.Schema.TypeName, v.Hash, string(v.ID))
		if err != nil {
			return nil, fmt.Errorf("sql archive %q: insert hash index %s: %w", a.id, v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sql archive %q: commit value %s: %w", a.id, v.ID, err)
	}
	return lc, nil
}

// linkPedigree merges the stored value into the job record under its
// pedigree's job hash, creating the record if this is the first output.
func linkPedigree(ctx context.Context, tx *sql.Tx, v *value.Value) error {
	manifestHash, jobHash, err := v.Pedigree.JobHash()
	if err != nil {
		return fmt.Errorf("link pedigree for %s: %w", v.ID, err)
	}

	rec := &value.JobRecord{
		JobHash:      jobHash,
		ManifestHash: manifestHash,
		Manifest:     v.Pedigree.Manifest,
		Inputs:       v.Pedigree.Inputs,
		Environments: v.Pedigree.Environments,
	}

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT record FROM job_records WHERE job_hash = ?`, jobHash).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first output of this job
	case err != nil:
		return fmt.Errorf("read job record %s: %w", jobHash, err)
	default:
		if err := json.Unmarshal([]byte(raw), rec); err != nil {
			return fmt.Errorf("decode job record %s: %w", jobHash, err)
		}
	}

	if rec.Outputs == nil {
		rec.Outputs = make(map[string]value.ID)
	}
	rec.Outputs[v.PedigreeOutputName] = v.ID

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job record %s: %w", jobHash, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_records (job_hash, manifest_hash, inputs_data_hash, record)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_hash) DO UPDATE SET record = excluded.record
	`, jobHash, manifestHash, nullable(rec.InputsDataHash), string(encoded))
	if err != nil {
		return fmt.Errorf("upsert job record %s: %w", jobHash, err)
	}
	return nil
}

// StoreJobRecord persists a memoization record. Re-storing the same job
// hash replaces the record, so a record enriched with an input-data
// hash supersedes the bare pedigree linkage written by StoreValue.
func (a *Archive) StoreJobRecord(ctx context.Context, rec *value.JobRecord) error {
	if !a.writable {
		return fmt.Errorf("sql archive %q: store job record: %w", a.id, archive.ErrReadOnly)
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sql archive %q: encode job record %s: %w", a.id, rec.JobHash, err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO job_records (job_hash, manifest_hash, inputs_data_hash, record)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_hash) DO UPDATE SET
			inputs_data_hash = excluded.inputs_data_hash,
			record = excluded.record
	`, rec.JobHash, rec.ManifestHash, nullable(rec.InputsDataHash), string(encoded))
	if err != nil {
		return fmt.Errorf("sql archive %q: insert job record %s: %w", a.id, rec.JobHash, err)
	}
	return nil
}

// StoreEnvironment persists an environment descriptor once per distinct
// hash. Idempotent via the uniqueness constraint.
func (a *Archive) StoreEnvironment(ctx context.Context, envType, envHash string, details canon.Object) error {
	if !a.writable {
		return fmt.Errorf("sql archive %q: store environment: %w", a.id, archive.ErrReadOnly)
	}

	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("sql archive %q: encode environment %s/%s: %w", a.id, envType, envHash, err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO environments (env_type, env_hash, details)
		VALUES (?, ?, ?)
		ON CONFLICT(env_type, env_hash) DO NOTHING
	`, envType, envHash, string(encoded))
	if err != nil {
		return fmt.Errorf("sql archive %q: insert environment %s/%s: %w", a.id, envType, envHash, err)
	}
	return nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
