package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lode/internal/value"
)

// AliasSetResult is the JSON payload for alias set.
type AliasSetResult struct {
	ValueID string   `json:"value_id"`
	Aliases []string `json:"aliases"`
}

// AliasResolveResult is the JSON payload for alias resolve.
type AliasResolveResult struct {
	Alias   string `json:"alias"`
	ValueID string `json:"value_id"`
}

// AliasVersionsResult is the JSON payload for alias versions.
type AliasVersionsResult struct {
	Alias    string `json:"alias"`
	Versions []int  `json:"versions"`
}

// AliasListResult is the JSON payload for alias for.
type AliasListResult struct {
	ValueID string   `json:"value_id"`
	Aliases []string `json:"aliases"`
}

// NewAliasCommand creates the alias command group.
func NewAliasCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Manage versioned aliases for stored values",
	}

	cmd.AddCommand(newAliasSetCommand(rootOpts))
	cmd.AddCommand(newAliasResolveCommand(rootOpts))
	cmd.AddCommand(newAliasVersionsCommand(rootOpts))
	cmd.AddCommand(newAliasForCommand(rootOpts))

	return cmd
}

func newAliasSetCommand(rootOpts *RootOptions) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "set <value-id> <alias>...",
		Short: "Register aliases for a value",
		Long: `Register one or more aliases for a stored value.

Bare names get the next free version. Tagged names ("name|tag") move
the tag only with --overwrite; explicit versions cannot be assigned.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts)
			if err != nil {
				return outputCommandError(formatter, ErrCodeAlias, err)
			}
			ctx := cmd.Context()
			id := value.ID(args[0])
			if _, err := rt.Data.GetValue(ctx, id); err != nil {
				return outputFailure(formatter, ErrCodeAlias, err)
			}
			if err := rt.Aliases.RegisterAliases(ctx, id, args[1:], overwrite); err != nil {
				return outputFailure(formatter, ErrCodeAlias, err)
			}
			if formatter.Format == "json" {
				return formatter.Success(AliasSetResult{ValueID: args[0], Aliases: args[1:]})
			}
			return formatter.Success(fmt.Sprintf("aliased %s as %s", args[0], strings.Join(args[1:], ", ")))
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "allow moving an existing tag")

	return cmd
}

func newAliasResolveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <alias>",
		Short: "Resolve an alias to a value id",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts)
			if err != nil {
				return outputCommandError(formatter, ErrCodeAlias, err)
			}
			id, err := rt.Aliases.Resolve(cmd.Context(), args[0])
			if err != nil {
				return outputFailure(formatter, ErrCodeAlias, err)
			}
			if formatter.Format == "json" {
				return formatter.Success(AliasResolveResult{Alias: args[0], ValueID: string(id)})
			}
			return formatter.Success(string(id))
		},
	}
	return cmd
}

func newAliasVersionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions <alias>",
		Short: "List registered versions of an alias name",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts)
			if err != nil {
				return outputCommandError(formatter, ErrCodeAlias, err)
			}
			versions, err := rt.Aliases.VersionsForAlias(cmd.Context(), args[0])
			if err != nil {
				return outputFailure(formatter, ErrCodeAlias, err)
			}
			if formatter.Format == "json" {
				return formatter.Success(AliasVersionsResult{Alias: args[0], Versions: versions})
			}
			parts := make([]string, len(versions))
			for i, v := range versions {
				parts[i] = fmt.Sprintf("%s@%d", args[0], v)
			}
			return formatter.Success(strings.Join(parts, "\n"))
		},
	}
	return cmd
}

func newAliasForCommand(rootOpts *RootOptions) *cobra.Command {
	var probeDynamic bool

	cmd := &cobra.Command{
		Use:   "for <value-id>",
		Short: "List aliases pointing at a value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts)
			if err != nil {
				return outputCommandError(formatter, ErrCodeAlias, err)
			}
			aliases, err := rt.Aliases.FindAliasesForValue(cmd.Context(), value.ID(args[0]), probeDynamic)
			if err != nil {
				return outputFailure(formatter, ErrCodeAlias, err)
			}
			if formatter.Format == "json" {
				return formatter.Success(AliasListResult{ValueID: args[0], Aliases: aliases})
			}
			if len(aliases) == 0 {
				return formatter.Success("no aliases")
			}
			return formatter.Success(strings.Join(aliases, "\n"))
		},
	}

	cmd.Flags().BoolVar(&probeDynamic, "probe-dynamic", false, "query non-enumerable alias stores too")

	return cmd
}

// newFormatter builds the per-command output formatter from the
// global options and the command's writers.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
