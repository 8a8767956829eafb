package job

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/lode/internal/archive/fsarchive"
	"github.com/lodeworks/lode/internal/data"
	"github.com/lodeworks/lode/internal/types"
	"github.com/lodeworks/lode/internal/value"
)

// testModule runs a closure with declared characteristics.
type testModule struct {
	name  string
	chars Characteristics
	fn    func(ctx context.Context, req *Request) (map[string]Output, error)
}

func (m *testModule) Name() string                     { return m.name }
func (m *testModule) Characteristics() Characteristics { return m.chars }
func (m *testModule) Execute(ctx context.Context, req *Request) (map[string]Output, error) {
	return m.fn(ctx, req)
}

type fixture struct {
	data    *data.Registry
	modules *ModuleRegistry
	store   *fsarchive.Archive
	root    string
}

func newFixture(t *testing.T, root string) *fixture {
	t.Helper()
	dataReg := data.New(types.NewBuiltinRegistry(), &value.SequenceGenerator{})
	store, err := fsarchive.Open("local", root)
	require.NoError(t, err)
	require.NoError(t, dataReg.Mount(store))
	return &fixture{
		data:    dataReg,
		modules: NewModuleRegistry(),
		store:   store,
		root:    root,
	}
}

func (f *fixture) registry(t *testing.T, matcher Matcher) *Registry {
	t.Helper()
	// Persistence serializes through the save job, so every fixture
	// carries the builtin saver and a wired runner.
	if !f.modules.Has(value.SaveModuleType) {
		require.NoError(t, f.modules.Register(SaveModule{}))
	}
	reg := New(f.data, f.modules, matcher, &value.SequenceGenerator{})
	f.data.SetJobRunner(reg)
	return reg
}

// concatModule joins its two string inputs. The counter observes real
// executions, so memoization tests can tell a cache hit from a re-run.
func concatModule(counter *int) *testModule {
	var mu sync.Mutex
	return &testModule{
		name:  "test.concat",
		chars: Characteristics{Idempotent: true},
		fn: func(ctx context.Context, req *Request) (map[string]Output, error) {
			mu.Lock()
			*counter++
			mu.Unlock()
			a, err := req.Input(ctx, "a")
			if err != nil {
				return nil, err
			}
			b, err := req.Input(ctx, "b")
			if err != nil {
				return nil, err
			}
			return map[string]Output{
				"joined": {Data: a.(string) + b.(string), Schema: value.Schema{TypeName: "string"}},
			}, nil
		},
	}
}

func (f *fixture) registerString(t *testing.T, s string, reuse bool) value.ID {
	t.Helper()
	v, err := f.data.RegisterData(context.Background(), s, value.Schema{TypeName: "string"}, value.Orphan(), "", reuse)
	require.NoError(t, err)
	return v.ID
}

func TestExecuteJobSessionCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, t.TempDir())
	var count int
	require.NoError(t, f.modules.Register(concatModule(&count)))
	reg := f.registry(t, ValueIDMatcher{Data: f.data})

	cfg := &Config{
		ModuleType: "test.concat",
		Inputs: map[string]value.ID{
			"a": f.registerString(t, "foo", true),
			"b": f.registerString(t, "bar", true),
		},
	}

	first, err := reg.ExecuteJob(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, reg.WaitFor(ctx, first))

	second, err := reg.ExecuteJob(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical request must return the cached job id")
	assert.Equal(t, 1, count, "execution side effect must fire exactly once")

	out, err := reg.RetrieveResult(ctx, second)
	require.NoError(t, err)
	joined, err := f.data.RetrieveValueData(ctx, out["joined"].ID)
	require.NoError(t, err)
	assert.Equal(t, "foobar", joined)
}

func TestValueIDMatcherAcrossSessions(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	var count int
	f1 := newFixture(t, root)
	require.NoError(t, f1.modules.Register(concatModule(&count)))
	reg1 := f1.registry(t, ValueIDMatcher{Data: f1.data})

	cfg1 := &Config{
		ModuleType: "test.concat",
		Inputs: map[string]value.ID{
			"a": f1.registerString(t, "foo", true),
			"b": f1.registerString(t, "bar", true),
		},
	}
	id1, err := reg1.ExecuteJob(ctx, cfg1)
	require.NoError(t, err)
	require.NoError(t, reg1.StoreJobRecord(ctx, id1, ""))
	assert.Equal(t, 1, count)

	// Fresh registries over the same root. Registering the same input
	// content dedups to the stored ids, so the job hash lines up.
	f2 := newFixture(t, root)
	require.NoError(t, f2.modules.Register(concatModule(&count)))
	reg2 := f2.registry(t, ValueIDMatcher{Data: f2.data})

	cfg2 := &Config{
		ModuleType: "test.concat",
		Inputs: map[string]value.ID{
			"a": f2.registerString(t, "foo", true),
			"b": f2.registerString(t, "bar", true),
		},
	}
	id2, err := reg2.ExecuteJob(ctx, cfg2)
	require.NoError(t, err)
	status, err := reg2.GetJobStatus(id2)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status, "matched job is finished without executing")
	assert.Equal(t, 1, count, "matched job must not re-execute")

	out, err := reg2.RetrieveResult(ctx, id2)
	require.NoError(t, err)
	assert.NotEmpty(t, out["joined"])
}

func TestDataHashMatcherCatchesContentIdenticalInputs(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, matcher func(f *fixture) Matcher) (executions int, sameOutputs bool) {
		var count int
		f := newFixture(t, t.TempDir())
		require.NoError(t, f.modules.Register(concatModule(&count)))
		reg := f.registry(t, matcher(f))

		cfg1 := &Config{
			ModuleType: "test.concat",
			Inputs: map[string]value.ID{
				"a": f.registerString(t, "foo", true),
				"b": f.registerString(t, "bar", true),
			},
		}
		id1, err := reg.ExecuteJob(ctx, cfg1)
		require.NoError(t, err)
		require.NoError(t, reg.StoreJobRecord(ctx, id1, ""))

		// Content-identical inputs under fresh value ids, so the job
		// hash differs while the inputs-data hash does not.
		cfg2 := &Config{
			ModuleType: "test.concat",
			Inputs: map[string]value.ID{
				"a": f.registerString(t, "foo", false),
				"b": f.registerString(t, "bar", false),
			},
		}
		id2, err := reg.ExecuteJob(ctx, cfg2)
		require.NoError(t, err)

		out1, err := reg.RetrieveResult(ctx, id1)
		require.NoError(t, err)
		out2, err := reg.RetrieveResult(ctx, id2)
		require.NoError(t, err)
		return count, out1["joined"].ID == out2["joined"].ID
	}

	t.Run("value-id matcher misses", func(t *testing.T) {
		executions, _ := run(t, func(f *fixture) Matcher { return ValueIDMatcher{Data: f.data} })
		assert.Equal(t, 2, executions)
	})

	t.Run("data-hash matcher hits", func(t *testing.T) {
		executions, sameOutputs := run(t, func(f *fixture) Matcher {
			return DataHashMatcher{Data: f.data, Modules: f.modules}
		})
		assert.Equal(t, 1, executions)
		assert.True(t, sameOutputs, "matched job must reuse the recorded outputs")
	})
}

func TestInFlightDedup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, t.TempDir())

	release := make(chan struct{})
	var count int
	var mu sync.Mutex
	blocking := &testModule{
		name:  "test.block",
		chars: Characteristics{Idempotent: true},
		fn: func(ctx context.Context, req *Request) (map[string]Output, error) {
			mu.Lock()
			count++
			mu.Unlock()
			<-release
			return map[string]Output{
				"out": {Data: "done", Schema: value.Schema{TypeName: "string"}},
			}, nil
		},
	}
	require.NoError(t, f.modules.Register(blocking))
	reg := f.registry(t, NoMatch{})

	cfg := &Config{ModuleType: "test.block", Inputs: map[string]value.ID{}}
	first, err := reg.ExecuteJob(ctx, cfg)
	require.NoError(t, err)
	second, err := reg.ExecuteJob(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second, "concurrent identical requests collapse to one job")

	close(release)
	require.NoError(t, reg.WaitFor(ctx, first))
	assert.Equal(t, 1, count)
}

func TestFailedJobNeverMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, t.TempDir())

	var count int
	boom := &testModule{
		name:  "test.boom",
		chars: Characteristics{Idempotent: true},
		fn: func(ctx context.Context, req *Request) (map[string]Output, error) {
			count++
			return nil, assert.AnError
		},
	}
	require.NoError(t, f.modules.Register(boom))
	reg := f.registry(t, ValueIDMatcher{Data: f.data})

	cfg := &Config{ModuleType: "test.boom", Inputs: map[string]value.ID{}}
	first, err := reg.ExecuteJob(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, reg.WaitFor(ctx, first))

	status, err := reg.GetJobStatus(first)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	_, err = reg.RetrieveResult(ctx, first)
	require.Error(t, err)
	assert.True(t, IsFailed(err))
	assert.ErrorIs(t, err, assert.AnError, "original cause must be attached")

	// The failure is not a cache entry: resubmission executes again.
	second, err := reg.ExecuteJob(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, reg.WaitFor(ctx, second))
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, count)
}

func TestSelfWaitRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, t.TempDir())

	var reg *Registry
	var waitErr error
	selfish := &testModule{
		name:  "test.selfish",
		chars: Characteristics{Idempotent: true},
		fn: func(ctx context.Context, req *Request) (map[string]Output, error) {
			waitErr = reg.WaitFor(ctx, req.JobID)
			return map[string]Output{
				"out": {Data: "ok", Schema: value.Schema{TypeName: "string"}},
			}, nil
		},
	}
	require.NoError(t, f.modules.Register(selfish))
	reg = f.registry(t, NoMatch{})

	id, err := reg.ExecuteJob(ctx, &Config{ModuleType: "test.selfish", Inputs: map[string]value.ID{}})
	require.NoError(t, err)
	require.NoError(t, reg.WaitFor(ctx, id))
	assert.ErrorIs(t, waitErr, ErrSelfWait)
}

func TestLoadReplayRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writer := newFixture(t, root)
	writer.registry(t, NoMatch{})
	v, err := writer.data.RegisterData(ctx, "persisted", value.Schema{TypeName: "string"}, value.Orphan(), "", true)
	require.NoError(t, err)
	require.NoError(t, writer.data.StoreValue(ctx, v.ID, ""))

	// A fresh process: the loader replays the stored load config as an
	// ordinary job and the data dedups back onto the original value.
	reader := newFixture(t, root)
	require.NoError(t, reader.modules.Register(LoadModule{}))
	reader.registry(t, ValueIDMatcher{Data: reader.data})

	got, err := reader.data.RetrieveValueData(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got)
}

func TestStoreValueRunsSaveAsJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, t.TempDir())

	// A counting wrapper registered under the saver's name proves
	// serialization flows through the job registry, not an inline path.
	executions := 0
	var mu sync.Mutex
	saver := &testModule{
		name:  value.SaveModuleType,
		chars: Characteristics{Idempotent: true, Internal: true},
		fn: func(ctx context.Context, req *Request) (map[string]Output, error) {
			mu.Lock()
			executions++
			mu.Unlock()
			return SaveModule{}.Execute(ctx, req)
		},
	}
	require.NoError(t, f.modules.Register(saver))
	f.registry(t, NoMatch{})

	id := f.registerString(t, "persisted", true)
	require.NoError(t, f.data.StoreValue(ctx, id, ""))
	assert.Equal(t, 1, executions)

	// The payload the save job produced is what landed in the archive.
	payload, err := f.store.RetrievePayload(ctx, id)
	require.NoError(t, err)
	dt, err := f.data.TypeRegistry().Get("string")
	require.NoError(t, err)
	decoded, err := dt.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "persisted", decoded)
}

func TestLoadWithoutLoaderModuleDegrades(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writer := newFixture(t, root)
	writer.registry(t, NoMatch{})
	v, err := writer.data.RegisterData(ctx, "persisted", value.Schema{TypeName: "string"}, value.Orphan(), "", true)
	require.NoError(t, err)
	require.NoError(t, writer.data.StoreValue(ctx, v.ID, ""))

	reader := newFixture(t, root)
	reader.registry(t, NoMatch{})

	got, err := reader.data.RetrieveValueData(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, data.IsUnloadable(got))
}
