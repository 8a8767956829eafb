package fsarchive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/renameio"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/value"
)

// StoreValue persists a value: compressed payload and metadata first,
// dedup index entry last. Returns the load config under which the
// payload can be reconstituted.
func (a *Archive) StoreValue(ctx context.Context, v *value.Value, payload []byte) (*value.LoadConfig, error) {
	if !a.writable {
		return nil, fmt.Errorf("archive %q: store value: %w", a.id, archive.ErrReadOnly)
	}
	if v.ID.IsSentinel() {
		return nil, fmt.Errorf("archive %q: sentinel value %s cannot be persisted", a.id, v.ID)
	}
	if !v.IsSet() {
		return nil, fmt.Errorf("archive %q: value %s has no materialized data (status %s)", a.id, v.ID, v.Status)
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

	// 1. Payload.
	if err := os.MkdirAll(filepath.Dir(a.payloadPath(v.ID)), 0o755); err != nil {
		return nil, fmt.Errorf("archive %q: create value dir: %w", a.id, err)
	}
	compressed := a.enc.EncodeAll(payload, nil)
	if err := renameio.WriteFile(a.payloadPath(v.ID), compressed, 0o644); err != nil {
		return nil, fmt.Errorf("archive %q: write payload %s: %w", a.id, v.ID, err)
	}

	// 2. Load config and metadata.
	if err := a.writeJSON(a.loadConfigPath(v.ID), lc); err != nil {
		return nil, err
	}
	if err := a.writeJSON(a.valuePath(v.ID), v); err != nil {
		return nil, err
	}

	// 3. Pedigree linkage, so a later job match resolves from storage.
	if !v.Pedigree.IsOrphan() && v.PedigreeOutputName != "" {
		if err := a.linkPedigree(v); err != nil {
			return nil, err
		}
	}

	// 4. Publish the dedup index entry. This is last: once the entry
	// is visible the value must be fully readable.
	if v.HasValidHash() {
		if err := a.appendIndexLine(a.indexPath(v.Schema.TypeName, v.Hash), v.ID); err != nil {
			return nil, err
		}
	}

	return lc, nil
}

// StoreJobRecord persists a memoization record under its manifest
// directory: manifest file, inputs file, one output marker per named
// output, the record itself, and finally the flat jobindex entry.
func (a *Archive) StoreJobRecord(ctx context.Context, rec *value.JobRecord) error {
	if !a.writable {
		return fmt.Errorf("archive %q: store job record: %w", a.id, archive.ErrReadOnly)
	}

	dir := a.manifestDir(rec.ManifestHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive %q: create manifest dir: %w", a.id, err)
	}

	if err := a.writeJSON(filepath.Join(dir, "manifest.json"), rec.Manifest); err != nil {
		return err
	}
	if err := a.writeJSON(filepath.Join(dir, rec.JobHash+".inputs.json"), rec.Inputs); err != nil {
		return err
	}
	for name, outID := range rec.Outputs {
		marker := filepath.Join(dir, rec.JobHash+".output."+name)
		if err := renameio.WriteFile(marker, []byte(string(outID)+"\n"), 0o644); err != nil {
			return fmt.Errorf("archive %q: write output marker %s: %w", a.id, name, err)
		}
	}
	if err := a.writeJSON(filepath.Join(dir, rec.JobHash+".record.json"), rec); err != nil {
		return err
	}

	// Publish last: FindJobRecord goes through the jobindex.
	if err := renameio.WriteFile(a.jobIndexPath(rec.JobHash), []byte(rec.ManifestHash+"\n"), 0o644); err != nil {
		return fmt.Errorf("archive %q: write job index %s: %w", a.id, rec.JobHash, err)
	}
	return nil
}

// StoreEnvironment persists an environment descriptor once per distinct
// hash. Re-storing an existing hash is a no-op.
func (a *Archive) StoreEnvironment(ctx context.Context, envType, envHash string, details canon.Object) error {
	if !a.writable {
		return fmt.Errorf("archive %q: store environment: %w", a.id, archive.ErrReadOnly)
	}
	path := a.environmentPath(envType, envHash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive %q: create environment dir: %w", a.id, err)
	}
	return a.writeJSON(path, details)
}

// linkPedigree records the producing manifest, inputs, and an output
// marker for the stored value, and merges the output into the job
// record under the pedigree's job hash. A later job match can then be
// resolved purely from storage, without the producing process.
func (a *Archive) linkPedigree(v *value.Value) error {
	manifestHash, jobHash, err := v.Pedigree.JobHash()
	if err != nil {
		return fmt.Errorf("archive %q: link pedigree for %s: %w", a.id, v.ID, err)
	}

	dir := a.manifestDir(manifestHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive %q: create manifest dir: %w", a.id, err)
	}
	if err := a.writeJSON(filepath.Join(dir, "manifest.json"), v.Pedigree.Manifest); err != nil {
		return err
	}
	if err := a.writeJSON(filepath.Join(dir, jobHash+".inputs.json"), v.Pedigree.Inputs); err != nil {
		return err
	}
	marker := filepath.Join(dir, jobHash+".output."+v.PedigreeOutputName)
	if err := renameio.WriteFile(marker, []byte(string(v.ID)+"\n"), 0o644); err != nil {
		return fmt.Errorf("archive %q: write output marker for %s: %w", a.id, v.ID, err)
	}

	// Merge this output into the job record. Jobs with several named
	// outputs store their values one at a time.
	rec, err := a.readJobRecord(manifestHash, jobHash)
	if errors.Is(err, archive.ErrNotFound) {
		rec = &value.JobRecord{
			JobHash:      jobHash,
			ManifestHash: manifestHash,
			Manifest:     v.Pedigree.Manifest,
			Inputs:       v.Pedigree.Inputs,
			Environments: v.Pedigree.Environments,
		}
	} else if err != nil {
		return err
	}
	if rec.Outputs == nil {
		rec.Outputs = make(map[string]value.ID)
	}
	rec.Outputs[v.PedigreeOutputName] = v.ID
	if err := a.writeJSON(filepath.Join(dir, jobHash+".record.json"), rec); err != nil {
		return err
	}
	if err := renameio.WriteFile(a.jobIndexPath(jobHash), []byte(manifestHash+"\n"), 0o644); err != nil {
		return fmt.Errorf("archive %q: write job index %s: %w", a.id, jobHash, err)
	}
	return nil
}

// appendIndexLine adds an id to a hash-index file if not already
// present. Single-writer per backend instance is assumed, so the
// read-modify-write does not race.
func (a *Archive) appendIndexLine(path string, id value.ID) error {
	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		lines = strings.Fields(string(data))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("archive %q: read hash index: %w", a.id, err)
	}
	if slices.Contains(lines, string(id)) {
		return nil
	}
	lines = append(lines, string(id))
	content := strings.Join(lines, "\n") + "\n"
	if err := renameio.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("archive %q: write hash index: %w", a.id, err)
	}
	return nil
}

// writeJSON atomically writes v as indented JSON.
func (a *Archive) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("archive %q: encode %s: %w", a.id, filepath.Base(path), err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("archive %q: write %s: %w", a.id, filepath.Base(path), err)
	}
	return nil
}
