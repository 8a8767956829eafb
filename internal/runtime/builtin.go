package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/job"
	"github.com/lodeworks/lode/internal/value"
)

// ConstantModule emits a literal from its config as a single output
// named "value". It gives pipelines a way to introduce fixed data
// without pre-registering values.
type ConstantModule struct{}

func (ConstantModule) Name() string { return "lode.constant" }

func (ConstantModule) Characteristics() job.Characteristics {
	return job.Characteristics{Idempotent: true}
}

func (ConstantModule) Execute(ctx context.Context, req *job.Request) (map[string]job.Output, error) {
	raw, ok := req.Config["value"]
	if !ok {
		return nil, fmt.Errorf("job %s: lode.constant requires a \"value\" config field", req.JobID)
	}
	typeName := "string"
	if t, ok := req.Config["type"]; ok {
		s, ok := t.(canon.String)
		if !ok {
			return nil, fmt.Errorf("job %s: lode.constant \"type\" must be a string", req.JobID)
		}
		typeName = string(s)
	}
	return map[string]job.Output{
		"value": {Data: canon.ToGo(raw), Schema: value.Schema{TypeName: typeName}},
	}, nil
}

// ConcatModule joins its string inputs in sorted input-name order into
// one output named "result". The separator comes from the "separator"
// config field and defaults to empty.
type ConcatModule struct{}

func (ConcatModule) Name() string { return "lode.concat" }

func (ConcatModule) Characteristics() job.Characteristics {
	return job.Characteristics{Idempotent: true}
}

func (ConcatModule) Execute(ctx context.Context, req *job.Request) (map[string]job.Output, error) {
	sep := ""
	if s, ok := req.Config["separator"]; ok {
		cs, ok := s.(canon.String)
		if !ok {
			return nil, fmt.Errorf("job %s: lode.concat \"separator\" must be a string", req.JobID)
		}
		sep = string(cs)
	}

	names := make([]string, 0, len(req.Inputs))
	for name := range req.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := req.Input(ctx, name)
		if err != nil {
			return nil, err
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("job %s: input %q is %T, expected string", req.JobID, name, raw)
		}
		parts = append(parts, s)
	}
	return map[string]job.Output{
		"result": {Data: strings.Join(parts, sep), Schema: value.Schema{TypeName: "string"}},
	}, nil
}
