package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/runtime"
	"github.com/lodeworks/lode/internal/value"
)

// JobRecordResult is the JSON payload for jobs show and jobs for.
type JobRecordResult struct {
	JobHash      string            `json:"job_hash"`
	ManifestHash string            `json:"manifest_hash"`
	Module       string            `json:"module"`
	Inputs       map[string]string `json:"inputs,omitempty"`
	Outputs      map[string]string `json:"outputs"`
}

// NewJobsCommand creates the jobs command group.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect persisted job records",
	}

	cmd.AddCommand(newJobsShowCommand(rootOpts))
	cmd.AddCommand(newJobsForCommand(rootOpts))

	return cmd
}

func newJobsShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-hash>",
		Short: "Show a stored job record by its job hash",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts)
			if err != nil {
				return outputCommandError(formatter, ErrCodeGeneric, err)
			}
			rec, err := findJobRecord(cmd.Context(), rt, args[0])
			if err != nil {
				return outputFailure(formatter, ErrCodeGeneric, err)
			}
			return outputJobRecord(formatter, rec)
		},
	}
	return cmd
}

func newJobsForCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "for <value-id>",
		Short: "Show the job record that produced a value",
		Long: `Show the stored record of the job that produced a value.

The value's pedigree determines the job hash; the record is looked up
in the mounted archives. Orphan values have no producing job.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts)
			if err != nil {
				return outputCommandError(formatter, ErrCodeGeneric, err)
			}
			ctx := cmd.Context()
			v, err := rt.Data.GetValue(ctx, value.ID(args[0]))
			if err != nil {
				return outputFailure(formatter, ErrCodeGeneric, err)
			}
			if v.Pedigree.IsOrphan() {
				return outputFailure(formatter, ErrCodeGeneric,
					fmt.Errorf("value %s is raw input with no producing job", v.ID))
			}
			_, jobHash, err := v.Pedigree.JobHash()
			if err != nil {
				return outputFailure(formatter, ErrCodeGeneric, err)
			}
			rec, err := findJobRecord(ctx, rt, jobHash)
			if err != nil {
				return outputFailure(formatter, ErrCodeGeneric, err)
			}
			return outputJobRecord(formatter, rec)
		},
	}
	return cmd
}

// findJobRecord searches all mounted archives for a job record.
func findJobRecord(ctx context.Context, rt *runtime.Runtime, jobHash string) (*value.JobRecord, error) {
	for _, a := range rt.Data.Archives() {
		rec, err := a.FindJobRecord(ctx, jobHash)
		if errors.Is(err, archive.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, fmt.Errorf("no record for job hash %s", jobHash)
}

func outputJobRecord(formatter *OutputFormatter, rec *value.JobRecord) error {
	result := JobRecordResult{
		JobHash:      rec.JobHash,
		ManifestHash: rec.ManifestHash,
		Module:       rec.Manifest.ModuleType,
		Outputs:      idMap(rec.Outputs),
	}
	if len(rec.Inputs) > 0 {
		result.Inputs = idMap(rec.Inputs)
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "job %s\n", result.JobHash)
	fmt.Fprintf(&b, "  module:   %s\n", result.Module)
	fmt.Fprintf(&b, "  manifest: %s", result.ManifestHash)
	for _, name := range sortedKeys(result.Inputs) {
		fmt.Fprintf(&b, "\n  input %s: %s", name, result.Inputs[name])
	}
	for _, name := range sortedKeys(result.Outputs) {
		fmt.Fprintf(&b, "\n  output %s: %s", name, result.Outputs[name])
	}
	return formatter.Success(b.String())
}

func idMap(m map[string]value.ID) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = string(v)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
