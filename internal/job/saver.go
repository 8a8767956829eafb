package job

import (
	"context"
	"fmt"

	"github.com/lodeworks/lode/internal/data"
	"github.com/lodeworks/lode/internal/value"
)

// SaveModule is the builtin serializer: it encodes a value's
// materialized data through its type contract and emits the payload.
// Internal like the loader, so result matching never binds a save to a
// prior job.
type SaveModule struct{}

func (SaveModule) Name() string { return value.SaveModuleType }

func (SaveModule) Characteristics() Characteristics {
	return Characteristics{Idempotent: true, Internal: true}
}

func (SaveModule) Execute(ctx context.Context, req *Request) (map[string]Output, error) {
	valueID, err := stringInput(ctx, req, "value_id")
	if err != nil {
		return nil, err
	}
	id := value.ID(valueID)

	v, err := req.Data.GetValue(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := req.Data.RetrieveValueData(ctx, id)
	if err != nil {
		return nil, err
	}
	if data.IsUnloadable(raw) {
		return nil, fmt.Errorf("save %s: data cannot be materialized: %s", id, raw.(data.Unloadable).Reason)
	}
	dt, err := req.Data.TypeRegistry().Get(v.Schema.TypeName)
	if err != nil {
		return nil, err
	}
	payload, err := dt.Encode(raw)
	if err != nil {
		return nil, fmt.Errorf("encode %s as %q: %w", id, v.Schema.TypeName, err)
	}
	return map[string]Output{
		"payload": {Data: payload, Schema: value.Schema{TypeName: "bytes"}},
	}, nil
}

// RunSave implements the Data Registry's save half of the JobRunner: a
// value is serialized by executing the builtin save module as an
// ordinary job, never by an inline encode path.
func (r *Registry) RunSave(ctx context.Context, id value.ID) ([]byte, error) {
	if !r.modules.Has(value.SaveModuleType) {
		return nil, fmt.Errorf("module %q: %w", value.SaveModuleType, data.ErrSaverUnavailable)
	}

	idVal, err := r.data.RegisterData(ctx, string(id), value.Schema{TypeName: "string"}, value.Orphan(), "", true)
	if err != nil {
		return nil, fmt.Errorf("register save input for %s: %w", id, err)
	}

	cfg := &Config{
		ModuleType: value.SaveModuleType,
		Inputs:     map[string]value.ID{"value_id": idVal.ID},
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
	out, ok := st.raw["payload"]
	if !ok {
		return nil, fmt.Errorf("save job %s produced no payload output", jobID)
	}
	payload, ok := out.Data.([]byte)
	if !ok {
		return nil, fmt.Errorf("save job %s: payload is %T, expected bytes", jobID, out.Data)
	}
	return payload, nil
}
