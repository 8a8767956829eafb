package job

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lodeworks/lode/internal/data"
	"github.com/lodeworks/lode/internal/value"
)

// Status is the lifecycle state of a job as seen by callers.
type Status string

const (
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// jobState is the registry's bookkeeping for one job. All fields other
// than done are guarded by the registry mutex until done is closed;
// after that they are read-only.
type jobState struct {
	id      string
	hash    string
	cfg     *Config
	status  Status
	matched bool
	record  *value.JobRecord
	raw     map[string]Output
	cause   error
	done    chan struct{}
}

// ctxJobKey carries the executing job's id through its context so a
// module that transitively waits on itself is detected.
type ctxJobKey struct{}

func withJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxJobKey{}, id)
}

func jobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxJobKey{}).(string)
	return id
}

// Registry orchestrates job execution with memoization. Active,
// finished, and failed bookkeeping lives behind one mutex so concurrent
// callers with an identical job hash observe exactly one execution.
type Registry struct {
	log     *slog.Logger
	data    *data.Registry
	modules *ModuleRegistry
	matcher Matcher
	idgen   value.IDGenerator

	mu       sync.Mutex
	byID     map[string]*jobState
	active   map[string]*jobState // job hash -> in-flight job
	finished map[string]*jobState // job hash -> session cache
	failed   map[string]*jobState // job hash -> failed-jobs index
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New creates a Job Registry. A nil matcher disables result matching.
func New(dataReg *data.Registry, modules *ModuleRegistry, matcher Matcher, idgen value.IDGenerator, opts ...Option) *Registry {
	r := &Registry{
		log:      slog.Default(),
		data:     dataReg,
		modules:  modules,
		matcher:  matcher,
		idgen:    idgen,
		byID:     make(map[string]*jobState),
		active:   make(map[string]*jobState),
		finished: make(map[string]*jobState),
		failed:   make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExecuteJob submits a computation request and returns its job id.
// Identical in-flight requests collapse to one execution; requests
// already finished in this session return the cached id; otherwise the
// matcher may bind the request to a prior job's record without
// executing. Failed jobs never satisfy any of these paths.
func (r *Registry) ExecuteJob(ctx context.Context, cfg *Config) (string, error) {
	mod, err := r.modules.Get(cfg.ModuleType)
	if err != nil {
		return "", err
	}
	_, jobHash, err := cfg.Hashes()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if st, ok := r.active[jobHash]; ok {
		r.mu.Unlock()
		return st.id, nil
	}
	if st, ok := r.finished[jobHash]; ok {
		r.mu.Unlock()
		return st.id, nil
	}
	r.mu.Unlock()

	// Matching runs outside the lock: it reads archives. Non-idempotent
	// and internal modules always re-execute.
	chars := mod.Characteristics()
	if r.matcher != nil && chars.Idempotent && !chars.Internal {
		rec, err := r.matcher.FindExistingJob(ctx, cfg)
		if err != nil {
			return "", err
		}
		if rec != nil {
			return r.bindMatched(jobHash, cfg, rec), nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check: another caller may have won while the matcher ran.
	if st, ok := r.active[jobHash]; ok {
		return st.id, nil
	}
	if st, ok := r.finished[jobHash]; ok {
		return st.id, nil
	}

	st := &jobState{
		id:     string(r.idgen.NewID()),
		hash:   jobHash,
		cfg:    cfg,
		status: StatusActive,
		done:   make(chan struct{}),
	}
	r.byID[st.id] = st
	r.active[jobHash] = st
	r.log.Debug("job started", "id", st.id, "module", cfg.ModuleType, "job_hash", jobHash)

	// Cancellation is not supported once a job is handed to the
	// processor, so the execution context outlives the caller's.
	go r.run(withJobID(context.WithoutCancel(ctx), st.id), st, mod)
	return st.id, nil
}

// bindMatched synthesizes a finished job bound to a found record.
func (r *Registry) bindMatched(jobHash string, cfg *Config, rec *value.JobRecord) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.active[jobHash]; ok {
		return st.id
	}
	if st, ok := r.finished[jobHash]; ok {
		return st.id
	}
	st := &jobState{
		id:      string(r.idgen.NewID()),
		hash:    jobHash,
		cfg:     cfg,
		status:  StatusFinished,
		matched: true,
		record:  rec,
		done:    make(chan struct{}),
	}
	close(st.done)
	r.byID[st.id] = st
	r.finished[jobHash] = st
	r.log.Debug("job matched", "id", st.id, "module", cfg.ModuleType, "matched_job_hash", rec.JobHash)
	return st.id
}

// run executes a job: resolve inputs, invoke the module, register the
// outputs under the job's pedigree, and record the result.
func (r *Registry) run(ctx context.Context, st *jobState, mod Module) {
	record, raw, err := r.execute(ctx, st, mod)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, st.hash)
	if err != nil {
		st.status = StatusFailed
		st.cause = err
		r.failed[st.hash] = st
		r.log.Error("job failed", "id", st.id, "module", st.cfg.ModuleType, "error", err)
	} else {
		st.status = StatusFinished
		st.record = record
		st.raw = raw
		r.finished[st.hash] = st
		r.log.Debug("job finished", "id", st.id, "module", st.cfg.ModuleType)
	}
	close(st.done)
}

func (r *Registry) execute(ctx context.Context, st *jobState, mod Module) (*value.JobRecord, map[string]Output, error) {
	cfg := st.cfg

	inputs := make(map[string]*value.Value, len(cfg.Inputs))
	for field, id := range cfg.Inputs {
		v, err := r.data.GetValue(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve input %q: %w", field, err)
		}
		inputs[field] = v
	}

	req := &Request{
		JobID:  st.id,
		Config: cfg.ModuleConfig,
		Inputs: inputs,
		Data:   r.data,
	}
	outputs, err := mod.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	pedigree := cfg.Pedigree(r.data.CurrentEnvironments())
	outputIDs := make(map[string]value.ID, len(outputs))
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out := outputs[name]
		v, err := r.data.RegisterData(ctx, out.Data, out.Schema, pedigree, name, true)
		if err != nil {
			return nil, nil, fmt.Errorf("register output %q: %w", name, err)
		}
		outputIDs[name] = v.ID
	}

	manifestHash, jobHash, err := cfg.Hashes()
	if err != nil {
		return nil, nil, err
	}
	idh, err := inputsDataHash(ctx, r.data, cfg, manifestHash)
	if err != nil {
		return nil, nil, err
	}
	record := &value.JobRecord{
		JobHash:        jobHash,
		ManifestHash:   manifestHash,
		InputsDataHash: idh,
		Manifest:       cfg.Manifest(),
		Inputs:         cfg.Inputs,
		Outputs:        outputIDs,
		Environments:   pedigree.Environments,
	}
	return record, outputs, nil
}

// GetJobStatus returns the lifecycle state of a job.
func (r *Registry) GetJobStatus(jobID string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byID[jobID]
	if !ok {
		return "", fmt.Errorf("job %s: %w", jobID, ErrUnknownJob)
	}
	return st.status, nil
}

// WaitFor blocks until each named job leaves the active set. Waiting
// for the calling job's own id is rejected instead of deadlocking.
func (r *Registry) WaitFor(ctx context.Context, jobIDs ...string) error {
	self := jobIDFromContext(ctx)
	for _, id := range jobIDs {
		if id == self {
			return fmt.Errorf("job %s: %w", id, ErrSelfWait)
		}
		r.mu.Lock()
		st, ok := r.byID[id]
		r.mu.Unlock()
		if !ok {
			return fmt.Errorf("job %s: %w", id, ErrUnknownJob)
		}
		select {
		case <-st.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RetrieveResult waits for a job and resolves its named outputs through
// the Data Registry. A failed job surfaces its original cause.
func (r *Registry) RetrieveResult(ctx context.Context, jobID string) (map[string]*value.Value, error) {
	if err := r.WaitFor(ctx, jobID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	st := r.byID[jobID]
	r.mu.Unlock()

	if st.status == StatusFailed {
		return nil, &FailedError{JobID: jobID, Cause: st.cause}
	}
	out := make(map[string]*value.Value, len(st.record.Outputs))
	for name, id := range st.record.Outputs {
		v, err := r.data.GetValue(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve output %q of job %s: %w", name, jobID, err)
		}
		out[name] = v
	}
	return out, nil
}

// StoreJobRecord persists a finished job's memoization record, and the
// output values it references, to a writable archive. Explicit opt-in;
// nothing is persisted as a side effect of execution.
func (r *Registry) StoreJobRecord(ctx context.Context, jobID, storeID string) error {
	if err := r.WaitFor(ctx, jobID); err != nil {
		return err
	}
	r.mu.Lock()
	st := r.byID[jobID]
	r.mu.Unlock()

	if st.status == StatusFailed {
		return &FailedError{JobID: jobID, Cause: st.cause}
	}
	store, err := r.data.StoreArchive(storeID)
	if err != nil {
		return fmt.Errorf("store job record %s: %w", jobID, err)
	}
	// Outputs first: a stored record must never reference unpersisted
	// values.
	for _, id := range st.record.Outputs {
		if err := r.data.StoreValue(ctx, id, store.ID()); err != nil {
			return fmt.Errorf("store job record %s: %w", jobID, err)
		}
	}
	if err := store.StoreJobRecord(ctx, st.record); err != nil {
		return fmt.Errorf("store job record %s: %w", jobID, err)
	}
	r.log.Debug("job record stored", "id", jobID, "archive", store.ID(), "job_hash", st.record.JobHash)
	return nil
}
