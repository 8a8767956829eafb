package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/data"
	"github.com/lodeworks/lode/internal/runtime"
	"github.com/lodeworks/lode/internal/value"
)

// GetResult is the JSON payload for a successful get command.
type GetResult struct {
	ValueID  string             `json:"value_id"`
	Type     string             `json:"type"`
	Status   string             `json:"status"`
	Hash     string             `json:"hash"`
	Size     int64              `json:"size"`
	Module   string             `json:"module"`
	Inputs   map[string]string  `json:"inputs,omitempty"`
	Aliases  []string           `json:"aliases,omitempty"`
	Metadata []archive.Metadata `json:"metadata,omitempty"`
	Data     any                `json:"data,omitempty"`
	Degraded string             `json:"degraded,omitempty"`
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var withData bool

	cmd := &cobra.Command{
		Use:   "get <value-id|alias>",
		Short: "Show a stored value by id or alias",
		Long: `Resolve a value by id or by alias and print its metadata.

Arguments containing an alias separator ("#" or "@") resolve through
the alias registry; anything else is treated as a value id. With
--data the value's content is materialized and printed too.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], withData, cmd)
		},
	}

	cmd.Flags().BoolVar(&withData, "data", false, "retrieve and print the value's data")

	return cmd
}

func runGet(opts *RootOptions, target string, withData bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	rt, err := openRuntime(opts)
	if err != nil {
		return outputCommandError(formatter, ErrCodeResolve, err)
	}

	ctx := cmd.Context()
	id, err := resolveTarget(ctx, rt, target)
	if err != nil {
		return outputFailure(formatter, ErrCodeResolve, err)
	}

	v, err := rt.Data.GetValue(ctx, id)
	if err != nil {
		return outputFailure(formatter, ErrCodeResolve, err)
	}

	aliases, err := rt.Aliases.FindAliasesForValue(ctx, v.ID, false)
	if err != nil {
		return outputFailure(formatter, ErrCodeResolve, err)
	}

	metadata, err := rt.Data.MetadataForValue(ctx, v.ID)
	if err != nil {
		return outputFailure(formatter, ErrCodeResolve, err)
	}

	result := GetResult{
		ValueID:  string(v.ID),
		Type:     v.Schema.TypeName,
		Status:   string(v.Status),
		Hash:     v.Hash,
		Size:     v.Size,
		Module:   v.Pedigree.Manifest.ModuleType,
		Aliases:  aliases,
		Metadata: metadata,
	}
	if len(v.Pedigree.Inputs) > 0 {
		result.Inputs = make(map[string]string, len(v.Pedigree.Inputs))
		for name, in := range v.Pedigree.Inputs {
			result.Inputs[name] = string(in)
		}
	}

	if withData {
		raw, err := rt.Data.RetrieveValueData(ctx, v.ID)
		if err != nil {
			return outputFailure(formatter, ErrCodeResolve, err)
		}
		if data.IsUnloadable(raw) {
			u := raw.(data.Unloadable)
			result.Degraded = u.Reason
			formatter.VerboseLog("value %s is unloadable: %s", v.ID, u.Reason)
		} else {
			result.Data = raw
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(formatGetText(result))
}

// resolveTarget maps a CLI argument to a value id. Alias syntax wins
// when the argument carries a separator.
func resolveTarget(ctx context.Context, rt *runtime.Runtime, target string) (value.ID, error) {
	if strings.ContainsAny(target, "#@") {
		return rt.Aliases.Resolve(ctx, target)
	}
	// Bare names may still be aliases; fall back to the id only when
	// no alias matches.
	if id, err := rt.Aliases.Resolve(ctx, target); err == nil {
		return id, nil
	}
	return value.ID(target), nil
}

func formatGetText(r GetResult) string {
	statusColor := color.YellowString
	switch value.Status(r.Status) {
	case value.StatusSet, value.StatusDefault:
		statusColor = color.GreenString
	case value.StatusNotSet:
		statusColor = color.RedString
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.ValueID)
	fmt.Fprintf(&b, "  type:   %s\n", r.Type)
	fmt.Fprintf(&b, "  status: %s\n", statusColor(r.Status))
	fmt.Fprintf(&b, "  hash:   %s\n", r.Hash)
	fmt.Fprintf(&b, "  size:   %d\n", r.Size)
	fmt.Fprintf(&b, "  module: %s", r.Module)
	names := make([]string, 0, len(r.Inputs))
	for name := range r.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n  input %s: %s", name, r.Inputs[name])
	}
	for _, a := range r.Aliases {
		fmt.Fprintf(&b, "\n  alias: %s", a)
	}
	for _, m := range r.Metadata {
		blob, err := json.Marshal(m.Data)
		if err != nil {
			blob = []byte(fmt.Sprintf("%v", m.Data))
		}
		fmt.Fprintf(&b, "\n  meta %s: %s", m.SchemaName, blob)
	}
	if r.Degraded != "" {
		fmt.Fprintf(&b, "\n  data: %s (%s)", color.YellowString("unavailable"), r.Degraded)
	} else if r.Data != nil {
		fmt.Fprintf(&b, "\n  data: %v", r.Data)
	}
	return b.String()
}
