package fsarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/value"
)

// HasValue reports whether the archive holds metadata for the value.
func (a *Archive) HasValue(_ context.Context, id value.ID) (bool, error) {
	if id.IsSentinel() {
		return false, nil
	}
	_, err := os.Stat(a.valuePath(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("archive %q: stat value %s: %w", a.id, id, err)
	}
	return true, nil
}

// RetrieveValueDetails reads the persisted value metadata.
func (a *Archive) RetrieveValueDetails(_ context.Context, id value.ID) (*value.Value, error) {
	data, err := os.ReadFile(a.valuePath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("archive %q: value %s: %w", a.id, id, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("archive %q: read value %s: %w", a.id, id, err)
	}
	var v value.Value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("archive %q: decode value %s: %w", a.id, id, err)
	}
	return &v, nil
}

// RetrieveLoadConfig reads the replay recipe stored next to the value.
func (a *Archive) RetrieveLoadConfig(_ context.Context, id value.ID) (*value.LoadConfig, error) {
	data, err := os.ReadFile(a.loadConfigPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("archive %q: load config for %s: %w", a.id, id, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("archive %q: read load config %s: %w", a.id, id, err)
	}
	var lc value.LoadConfig
	if err := json.Unmarshal(data, &lc); err != nil {
		return nil, fmt.Errorf("archive %q: decode load config %s: %w", a.id, id, err)
	}
	return &lc, nil
}

// RetrievePayload reads and decompresses the value's byte form.
func (a *Archive) RetrievePayload(_ context.Context, id value.ID) ([]byte, error) {
	compressed, err := os.ReadFile(a.payloadPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("archive %q: payload for %s: %w", a.id, id, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("archive %q: read payload %s: %w", a.id, id, err)
	}
	payload, err := a.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("archive %q: decompress payload %s: %w", a.id, id, err)
	}
	return payload, nil
}

// RetrieveEnvironmentDetails reads the environment descriptor persisted
// under (envType, envHash).
func (a *Archive) RetrieveEnvironmentDetails(_ context.Context, envType, envHash string) (canon.Object, error) {
	data, err := os.ReadFile(a.environmentPath(envType, envHash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("archive %q: environment %s/%s: %w", a.id, envType, envHash, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("archive %q: read environment %s/%s: %w", a.id, envType, envHash, err)
	}
	var details canon.Object
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("archive %q: decode environment %s/%s: %w", a.id, envType, envHash, err)
	}
	return details, nil
}

// FindValuesWithHash resolves the (data_type, hash) dedup index file to
// value ids. A missing index file is an empty result, not an error.
func (a *Archive) FindValuesWithHash(_ context.Context, dataType, hash string) ([]value.ID, error) {
	data, err := os.ReadFile(a.indexPath(dataType, hash))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive %q: read hash index %s.%s: %w", a.id, dataType, hash, err)
	}
	var ids []value.ID
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, value.ID(line))
		}
	}
	return ids, nil
}

// FindJobRecord resolves a job hash through the flat jobindex and reads
// the record file from the manifest directory.
func (a *Archive) FindJobRecord(_ context.Context, jobHash string) (*value.JobRecord, error) {
	mh, err := os.ReadFile(a.jobIndexPath(jobHash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("archive %q: job %s: %w", a.id, jobHash, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("archive %q: read job index %s: %w", a.id, jobHash, err)
	}
	manifestHash := strings.TrimSpace(string(mh))
	return a.readJobRecord(manifestHash, jobHash)
}

// FindJobRecordsForManifest reads every job record stored under one
// manifest hash. A missing manifest directory is an empty result.
func (a *Archive) FindJobRecordsForManifest(_ context.Context, manifestHash string) ([]*value.JobRecord, error) {
	entries, err := os.ReadDir(a.manifestDir(manifestHash))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive %q: read manifest dir %s: %w", a.id, manifestHash, err)
	}

	var records []*value.JobRecord
	for _, entry := range entries {
		name := entry.Name()
		jobHash, ok := strings.CutSuffix(name, ".record.json")
		if !ok {
			continue
		}
		rec, err := a.readJobRecord(manifestHash, jobHash)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (a *Archive) readJobRecord(manifestHash, jobHash string) (*value.JobRecord, error) {
	path := filepath.Join(a.manifestDir(manifestHash), jobHash+".record.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("archive %q: job record %s: %w", a.id, jobHash, archive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("archive %q: read job record %s: %w", a.id, jobHash, err)
	}
	var rec value.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("archive %q: decode job record %s: %w", a.id, jobHash, err)
	}
	return &rec, nil
}
