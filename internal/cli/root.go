package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lodeworks/lode/internal/alias"
	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/archive/fsarchive"
	"github.com/lodeworks/lode/internal/archive/sqlarchive"
	"github.com/lodeworks/lode/internal/runtime"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	StoreDir  string
	Backend   string // "fs" | "sqlite"
	AliasFile string
	Matcher   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ValidBackends defines the allowed store backends.
var ValidBackends = []string{"fs", "sqlite"}

// NewRootCommand creates the root command for the lode CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "lode",
		Short: "lode - content-addressed data with provenance",
		Long:  "A content-addressable value store with job-level memoization and versioned aliases.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !isValidBackend(opts.Backend) {
				return fmt.Errorf("invalid backend %q: must be one of %v", opts.Backend, ValidBackends)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.StoreDir, "store", ".lode", "path to the local data store")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "fs", "store backend (fs|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.AliasFile, "aliases", "", "path to the alias file (default <store>/aliases.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Matcher, "matcher", runtime.MatcherValueID, "job matching strategy (none|value-id|data-hash)")

	cmd.AddCommand(NewStoreCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewAliasCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewJobsCommand(opts))

	return cmd
}

// openRuntime constructs a runtime with the selected store backend and
// the YAML alias store mounted.
func openRuntime(opts *RootOptions) (*runtime.Runtime, error) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rt, err := runtime.New(
		runtime.WithLogger(log),
		runtime.WithMatcher(opts.Matcher),
	)
	if err != nil {
		return nil, err
	}

	store, err := openStore(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open data store", err)
	}
	if err := rt.MountArchive(store); err != nil {
		return nil, err
	}

	aliasFile := opts.AliasFile
	if aliasFile == "" {
		aliasFile = filepath.Join(opts.StoreDir, "aliases.yaml")
	}
	aliasStore, err := alias.OpenFileStore("local", aliasFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open alias store", err)
	}
	if err := rt.MountAliasStore(aliasStore); err != nil {
		return nil, err
	}
	return rt, nil
}

// openStore opens the configured store backend under the store
// directory. The sqlite backend additionally supports value metadata.
func openStore(opts *RootOptions) (archive.Store, error) {
	if opts.Backend == "sqlite" {
		if err := os.MkdirAll(opts.StoreDir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		return sqlarchive.Open("local", filepath.Join(opts.StoreDir, "lode.db"))
	}
	return fsarchive.Open("local", opts.StoreDir)
}

// isValidBackend checks if the backend name is one of the allowed
// values.
func isValidBackend(backend string) bool {
	for _, b := range ValidBackends {
		if b == backend {
			return true
		}
	}
	return false
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
