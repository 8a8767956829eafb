// Package runtime wires the registries into one explicit context
// object. Nothing here is a global: callers construct a Runtime, mount
// backends onto it, and pass it down.
package runtime

import (
	"fmt"
	"log/slog"

	"github.com/lodeworks/lode/internal/alias"
	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/data"
	"github.com/lodeworks/lode/internal/job"
	"github.com/lodeworks/lode/internal/pipeline"
	"github.com/lodeworks/lode/internal/types"
	"github.com/lodeworks/lode/internal/value"
)

// Matcher strategy names accepted by WithMatcher.
const (
	MatcherNone     = "none"
	MatcherValueID  = "value-id"
	MatcherDataHash = "data-hash"
)

// Runtime is the explicit context object: every registry the system
// consists of, wired together once at construction.
type Runtime struct {
	Log       *slog.Logger
	Types     *types.Registry
	Modules   *job.ModuleRegistry
	Data      *data.Registry
	Jobs      *job.Registry
	Aliases   *alias.Registry
	Pipelines *pipeline.Controller
}

type config struct {
	log     *slog.Logger
	idgen   value.IDGenerator
	matcher string
}

// Option configures a Runtime.
type Option func(*config)

// WithLogger sets the logger shared by all registries.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithIDGenerator overrides the id generator (deterministic ids in
// tests).
func WithIDGenerator(g value.IDGenerator) Option {
	return func(c *config) { c.idgen = g }
}

// WithMatcher selects the job matching strategy by name.
func WithMatcher(name string) Option {
	return func(c *config) { c.matcher = name }
}

// New constructs a fully wired Runtime with the builtin data types and
// the builtin modules (loader, saver, constant, concat) registered. The
// default matcher is value-id.
func New(opts ...Option) (*Runtime, error) {
	cfg := config{
		log:     slog.Default(),
		idgen:   value.UUIDv7Generator{},
		matcher: MatcherValueID,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	typeReg := types.NewBuiltinRegistry()
	modules := job.NewModuleRegistry()
	for _, m := range []job.Module{job.LoadModule{}, job.SaveModule{}, ConstantModule{}, ConcatModule{}} {
		if err := modules.Register(m); err != nil {
			return nil, err
		}
	}
	dataReg := data.New(typeReg, cfg.idgen, data.WithLogger(cfg.log))

	var matcher job.Matcher
	switch cfg.matcher {
	case MatcherNone:
		matcher = job.NoMatch{}
	case MatcherValueID:
		matcher = job.ValueIDMatcher{Data: dataReg}
	case MatcherDataHash:
		matcher = job.DataHashMatcher{Data: dataReg, Modules: modules}
	default:
		return nil, fmt.Errorf("unknown matcher strategy %q", cfg.matcher)
	}

	jobs := job.New(dataReg, modules, matcher, cfg.idgen, job.WithLogger(cfg.log))
	dataReg.SetJobRunner(jobs)

	aliases := alias.NewRegistry(alias.WithLogger(cfg.log))

	return &Runtime{
		Log:       cfg.log,
		Types:     typeReg,
		Modules:   modules,
		Data:      dataReg,
		Jobs:      jobs,
		Aliases:   aliases,
		Pipelines: pipeline.NewController(jobs, dataReg, pipeline.WithLogger(cfg.log)),
	}, nil
}

// MountArchive mounts a storage backend on the data registry.
func (rt *Runtime) MountArchive(a archive.Archive) error {
	return rt.Data.Mount(a)
}

// MountAliasStore mounts an alias namespace.
func (rt *Runtime) MountAliasStore(s alias.Store) error {
	return rt.Aliases.Mount(s)
}
