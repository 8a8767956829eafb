package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/data"
	"github.com/lodeworks/lode/internal/job"
	"github.com/lodeworks/lode/internal/value"
)

// StepResult is one finished step: its job id and the named output
// values it produced.
type StepResult struct {
	JobID   string
	Outputs map[string]*value.Value
}

// Result maps step names to their results.
type Result struct {
	Pipeline string
	Steps    map[string]*StepResult
}

// Controller executes pipeline definitions. Stateless; one controller
// may run many pipelines.
type Controller struct {
	log  *slog.Logger
	jobs *job.Registry
	data *data.Registry
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// NewController creates a pipeline controller over the given
// registries.
func NewController(jobs *job.Registry, dataReg *data.Registry, opts ...Option) *Controller {
	c := &Controller{log: slog.Default(), jobs: jobs, data: dataReg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes a definition stage by stage. Each stage is a barrier:
// every job in it is submitted, then awaited, before the next stage
// starts. A failed step aborts the run with the failure attached.
func (c *Controller) Run(ctx context.Context, def *Definition) (*Result, error) {
	stages, err := Stages(def)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", def.Name, err)
	}

	results := make(map[string]*StepResult, len(def.Steps))
	for n, stage := range stages {
		jobIDs := make(map[string]string, len(stage))
		for _, step := range stage {
			cfg, err := c.jobConfig(ctx, step, results)
			if err != nil {
				return nil, fmt.Errorf("pipeline %q: step %q: %w", def.Name, step.Name, err)
			}
			id, err := c.jobs.ExecuteJob(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("pipeline %q: step %q: %w", def.Name, step.Name, err)
			}
			jobIDs[step.Name] = id
		}
		c.log.Debug("pipeline stage submitted", "pipeline", def.Name, "stage", n, "jobs", len(jobIDs))

		ids := make([]string, 0, len(jobIDs))
		for _, id := range jobIDs {
			ids = append(ids, id)
		}
		if err := c.jobs.WaitFor(ctx, ids...); err != nil {
			return nil, fmt.Errorf("pipeline %q: stage %d: %w", def.Name, n, err)
		}
		for _, step := range stage {
			out, err := c.jobs.RetrieveResult(ctx, jobIDs[step.Name])
			if err != nil {
				return nil, fmt.Errorf("pipeline %q: step %q: %w", def.Name, step.Name, err)
			}
			results[step.Name] = &StepResult{JobID: jobIDs[step.Name], Outputs: out}
		}
	}
	return &Result{Pipeline: def.Name, Steps: results}, nil
}

// jobConfig builds a step's job config, registering literal inputs and
// resolving references against earlier stages' results.
func (c *Controller) jobConfig(ctx context.Context, step *Step, results map[string]*StepResult) (*job.Config, error) {
	var moduleConfig canon.Object
	if step.Config != nil {
		cv, err := canon.FromGo(step.Config)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		obj, ok := cv.(canon.Object)
		if !ok {
			return nil, fmt.Errorf("config: expected an object, got %T", cv)
		}
		moduleConfig = obj
	}

	inputs := make(map[string]value.ID, len(step.Inputs))
	for field, in := range step.Inputs {
		if in.From != "" {
			depStep, depOutput, err := splitRef(in.From)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", field, err)
			}
			res, ok := results[depStep]
			if !ok {
				return nil, fmt.Errorf("input %q: step %q has not run", field, depStep)
			}
			v, ok := res.Outputs[depOutput]
			if !ok {
				return nil, fmt.Errorf("input %q: step %q produced no output %q", field, depStep, depOutput)
			}
			inputs[field] = v.ID
			continue
		}

		typeName := in.Type
		if typeName == "" {
			typeName = "string"
		}
		v, err := c.data.RegisterData(ctx, in.Value, value.Schema{TypeName: typeName}, value.Orphan(), "", true)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", field, err)
		}
		inputs[field] = v.ID
	}

	return &job.Config{
		ModuleType:   step.Module,
		ModuleConfig: moduleConfig,
		Inputs:       inputs,
	}, nil
}
