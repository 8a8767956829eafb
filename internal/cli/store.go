package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/value"
)

// Error codes reported in CLI error envelopes.
const (
	ErrCodeGeneric  = "E000"
	ErrCodeStore    = "E101"
	ErrCodeResolve  = "E102"
	ErrCodeAlias    = "E103"
	ErrCodePipeline = "E104"
)

// StoreResult is the JSON payload for a successful store command.
type StoreResult struct {
	ValueID string   `json:"value_id"`
	Hash    string   `json:"hash"`
	Size    int64    `json:"size"`
	Reused  bool     `json:"reused"`
	Aliases []string `json:"aliases,omitempty"`
}

// NewStoreCommand creates the store command.
func NewStoreCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dataType string
		aliases  []string
		metas    []string
	)

	cmd := &cobra.Command{
		Use:   "store <data>",
		Short: "Register a value and persist it to the local store",
		Long: `Register a literal as a new value, persist it, and optionally alias it.

The literal is interpreted according to --type: integers and booleans
are parsed, objects are decoded as JSON, and strings are taken as-is.
Identical content registers to the existing value instead of a new one.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(rootOpts, args[0], dataType, aliases, metas, cmd)
		},
	}

	cmd.Flags().StringVar(&dataType, "type", "string", "data type of the literal")
	cmd.Flags().StringSliceVar(&aliases, "alias", nil, "alias to register for the value (repeatable)")
	cmd.Flags().StringArrayVar(&metas, "meta", nil, "metadata to attach as name=<json object> (repeatable; requires a metadata-capable backend)")

	return cmd
}

func runStore(opts *RootOptions, literal, dataType string, aliases, metas []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	rt, err := openRuntime(opts)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err)
	}

	raw, err := parseLiteral(literal, dataType)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err)
	}

	ctx := cmd.Context()
	schema := value.Schema{TypeName: dataType}
	v, err := rt.Data.RegisterData(ctx, raw, schema, value.Orphan(), "", true)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err)
	}
	formatter.VerboseLog("registered value %s (hash %s)", v.ID, v.Hash)

	reused := rt.Data.OwnerArchive(v.ID) != ""

	if err := rt.Data.StoreValue(ctx, v.ID, ""); err != nil {
		return outputCommandError(formatter, ErrCodeStore, err)
	}

	if len(aliases) > 0 {
		if err := rt.Aliases.RegisterAliases(ctx, v.ID, aliases, false); err != nil {
			return outputCommandError(formatter, ErrCodeAlias, err)
		}
	}

	for _, m := range metas {
		name, schema, obj, err := parseMetaFlag(m)
		if err != nil {
			return outputCommandError(formatter, ErrCodeStore, err)
		}
		if err := rt.Data.AttachMetadata(ctx, v.ID, name, schema, obj); err != nil {
			return outputCommandError(formatter, ErrCodeStore, err)
		}
		formatter.VerboseLog("attached metadata %q to %s", name, v.ID)
	}

	result := StoreResult{
		ValueID: string(v.ID),
		Hash:    v.Hash,
		Size:    v.Size,
		Reused:  reused,
		Aliases: aliases,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "stored %s\n", v.ID)
	fmt.Fprintf(&b, "  hash: %s\n", v.Hash)
	fmt.Fprintf(&b, "  size: %d", v.Size)
	for _, a := range aliases {
		fmt.Fprintf(&b, "\n  alias: %s", a)
	}
	return formatter.Success(b.String())
}

// parseMetaFlag splits a --meta argument into a schema name, a schema
// describing the field types, and the metadata object itself.
func parseMetaFlag(arg string) (string, canon.Object, canon.Object, error) {
	name, raw, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return "", nil, nil, fmt.Errorf("invalid --meta %q: expected name=<json object>", arg)
	}
	var obj canon.Object
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", nil, nil, fmt.Errorf("parse --meta %q: %w", name, err)
	}
	schema := make(canon.Object, len(obj))
	for field, val := range obj {
		schema[field] = canon.String(fieldTypeName(val))
	}
	return name, schema, obj, nil
}

func fieldTypeName(v canon.Value) string {
	switch v.(type) {
	case canon.String:
		return "string"
	case canon.Int:
		return "integer"
	case canon.Bool:
		return "boolean"
	case canon.Array:
		return "array"
	case canon.Object:
		return "object"
	default:
		return "null"
	}
}

// parseLiteral converts a command-line literal into the raw form the
// named data type expects.
func parseLiteral(literal, dataType string) (any, error) {
	switch dataType {
	case "integer":
		n, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse integer literal %q: %w", literal, err)
		}
		return n, nil
	case "boolean":
		b, err := strconv.ParseBool(literal)
		if err != nil {
			return nil, fmt.Errorf("parse boolean literal %q: %w", literal, err)
		}
		return b, nil
	case "object":
		var obj map[string]any
		if err := json.Unmarshal([]byte(literal), &obj); err != nil {
			return nil, fmt.Errorf("parse object literal: %w", err)
		}
		return obj, nil
	case "bytes":
		return []byte(literal), nil
	default:
		return literal, nil
	}
}

// outputCommandError prints the error envelope and returns a
// command-level ExitError.
func outputCommandError(formatter *OutputFormatter, code string, err error) error {
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, code, err)
}

// outputFailure prints the error envelope and returns an
// operation-level ExitError.
func outputFailure(formatter *OutputFormatter, code string, err error) error {
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitFailure, code, err)
}
