package job

import (
	"context"
	"fmt"
	"sort"

	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/data"
	"github.com/lodeworks/lode/internal/value"
)

var _ data.JobRunner = (*Registry)(nil)

// LoadModule is the builtin loader: it reads a value's payload back
// from its owning archive and decodes it through the type contract.
// Internal, so result matching never binds a load to a prior job; the
// in-flight dedup still collapses concurrent loads of the same value.
type LoadModule struct{}

func (LoadModule) Name() string { return value.LoadModuleType }

func (LoadModule) Characteristics() Characteristics {
	return Characteristics{Idempotent: true, Internal: true}
}

func (LoadModule) Execute(ctx context.Context, req *Request) (map[string]Output, error) {
	archiveID, err := stringInput(ctx, req, "archive_id")
	if err != nil {
		return nil, err
	}
	valueID, err := stringInput(ctx, req, "value_id")
	if err != nil {
		return nil, err
	}
	dataType, err := stringInput(ctx, req, "data_type")
	if err != nil {
		return nil, err
	}

	a, err := req.Data.Archive(archiveID)
	if err != nil {
		return nil, err
	}
	payload, err := a.RetrievePayload(ctx, value.ID(valueID))
	if err != nil {
		return nil, err
	}
	dt, err := req.Data.TypeRegistry().Get(dataType)
	if err != nil {
		return nil, err
	}
	decoded, err := dt.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload of %s as %q: %w", valueID, dataType, err)
	}
	return map[string]Output{
		"data": {Data: decoded, Schema: value.Schema{TypeName: dataType}},
	}, nil
}

func stringInput(ctx context.Context, req *Request, field string) (string, error) {
	raw, err := req.Input(ctx, field)
	if err != nil {
		return "", err
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("job %s: input %q is %T, expected string", req.JobID, field, raw)
	}
	return s, nil
}

// RunLoad implements the Data Registry's load half of the JobRunner: a
// load config is replayed as an ordinary job, not through a separate
// code path. Its scalar fields are registered as input values first;
// the raw output of the execution is returned.
func (r *Registry) RunLoad(ctx context.Context, lc *value.LoadConfig) (any, error) {
	if !r.modules.Has(lc.Manifest.ModuleType) {
		return nil, fmt.Errorf("module %q: %w", lc.Manifest.ModuleType, data.ErrLoaderUnavailable)
	}

	fields := make([]string, 0, len(lc.Inputs))
	for field := range lc.Inputs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	inputs := make(map[string]value.ID, len(lc.Inputs))
	for _, field := range fields {
		v, err := r.data.RegisterData(ctx, canon.ToGo(lc.Inputs[field]), schemaFor(lc.Inputs[field]), value.Orphan(), "", true)
		if err != nil {
			return nil, fmt.Errorf("register load input %q: %w", field, err)
		}
		inputs[field] = v.ID
	}

	cfg := &Config{
		ModuleType:   lc.Manifest.ModuleType,
		ModuleConfig: lc.Manifest.ModuleConfig,
		Inputs:       inputs,
	}
	jobID, err := r.ExecuteJob(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.WaitFor(ctx, jobID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	st := r.byID[jobID]
	r.mu.Unlock()
	if st.status == StatusFailed {
		return nil, &FailedError{JobID: jobID, Cause: st.cause}
	}
	out, ok := st.raw[lc.OutputName]
	if !ok {
		return nil, fmt.Errorf("load job %s produced no output %q", jobID, lc.OutputName)
	}
	return out.Data, nil
}

// schemaFor maps a load config field to the builtin type that carries
// it.
func schemaFor(v canon.Value) value.Schema {
	switch v.(type) {
	case canon.Int:
		return value.Schema{TypeName: "integer"}
	case canon.Bool:
		return value.Schema{TypeName: "boolean"}
	case canon.Object:
		return value.Schema{TypeName: "object"}
	default:
		return value.Schema{TypeName: "string"}
	}
}
