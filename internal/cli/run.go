package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lodeworks/lode/internal/job"
	"github.com/lodeworks/lode/internal/pipeline"
)

// RunStepResult is one step's entry in the run command's JSON payload.
type RunStepResult struct {
	Step    string            `json:"step"`
	JobID   string            `json:"job_id"`
	Outputs map[string]string `json:"outputs"`
}

// RunResult is the JSON payload for a successful run command.
type RunResult struct {
	Pipeline string          `json:"pipeline"`
	Steps    []RunStepResult `json:"steps"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var record bool

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Execute a pipeline definition",
		Long: `Execute a YAML pipeline definition stage by stage.

Steps with satisfied inputs run concurrently; each stage completes
before the next starts. With --record, every step's job record and
output values are persisted to the local store, so later runs of the
same steps resolve from the record instead of re-executing.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(rootOpts, args[0], record, cmd)
		},
	}

	cmd.Flags().BoolVar(&record, "record", false, "persist job records and outputs to the store")

	return cmd
}

func runPipeline(opts *RootOptions, path string, record bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	src, err := os.ReadFile(path)
	if err != nil {
		return outputCommandError(formatter, ErrCodePipeline, err)
	}
	def, err := pipeline.ParseDefinition(path, src)
	if err != nil {
		return outputCommandError(formatter, ErrCodePipeline, err)
	}

	rt, err := openRuntime(opts)
	if err != nil {
		return outputCommandError(formatter, ErrCodePipeline, err)
	}

	ctx := cmd.Context()
	formatter.VerboseLog("running pipeline %q (%d steps)", def.Name, len(def.Steps))
	result, err := rt.Pipelines.Run(ctx, def)
	if err != nil {
		if job.IsFailed(err) {
			return outputFailure(formatter, ErrCodePipeline, err)
		}
		return outputCommandError(formatter, ErrCodePipeline, err)
	}

	if record {
		for name, step := range result.Steps {
			if err := rt.Jobs.StoreJobRecord(ctx, step.JobID, ""); err != nil {
				return outputCommandError(formatter, ErrCodePipeline,
					fmt.Errorf("record step %q: %w", name, err))
			}
		}
	}

	out := RunResult{Pipeline: result.Pipeline}
	for name, step := range result.Steps {
		entry := RunStepResult{Step: name, JobID: step.JobID, Outputs: make(map[string]string, len(step.Outputs))}
		for outName, v := range step.Outputs {
			entry.Outputs[outName] = string(v.ID)
		}
		out.Steps = append(out.Steps, entry)
	}
	sort.Slice(out.Steps, func(i, j int) bool { return out.Steps[i].Step < out.Steps[j].Step })

	if formatter.Format == "json" {
		return formatter.Success(out)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s pipeline %q", color.GreenString("ok"), out.Pipeline)
	for _, step := range out.Steps {
		fmt.Fprintf(&b, "\n%s (job %s)", step.Step, step.JobID)
		outNames := make([]string, 0, len(step.Outputs))
		for n := range step.Outputs {
			outNames = append(outNames, n)
		}
		sort.Strings(outNames)
		for _, n := range outNames {
			fmt.Fprintf(&b, "\n  %s: %s", n, step.Outputs[n])
		}
	}
	return formatter.Success(b.String())
}
