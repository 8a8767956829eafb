package data

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/archive/fsarchive"
	"github.com/lodeworks/lode/internal/archive/sqlarchive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/types"
	"github.com/lodeworks/lode/internal/value"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(types.NewBuiltinRegistry(), &value.SequenceGenerator{})
	r.SetJobRunner(&archiveRunner{reg: r})
	return r
}

func stringSchema() value.Schema {
	return value.Schema{TypeName: "string"}
}

// archiveRunner stands in for the job registry: it replays load
// configs by reading payloads back from their archives and serializes
// values through their type contracts, the way the builtin loader and
// saver modules do.
type archiveRunner struct {
	reg *Registry
}

func (l *archiveRunner) RunLoad(ctx context.Context, lc *value.LoadConfig) (any, error) {
	archiveID := string(lc.Inputs["archive_id"].(canon.String))
	id := value.ID(lc.Inputs["value_id"].(canon.String))
	typeName := string(lc.Inputs["data_type"].(canon.String))

	a, err := l.reg.Archive(archiveID)
	if err != nil {
		return nil, err
	}
	payload, err := a.RetrievePayload(ctx, id)
	if err != nil {
		return nil, err
	}
	dt, err := l.reg.TypeRegistry().Get(typeName)
	if err != nil {
		return nil, err
	}
	return dt.Decode(payload)
}

func (l *archiveRunner) RunSave(ctx context.Context, id value.ID) ([]byte, error) {
	v, err := l.reg.GetValue(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := l.reg.RetrieveValueData(ctx, id)
	if err != nil {
		return nil, err
	}
	dt, err := l.reg.TypeRegistry().Get(v.Schema.TypeName)
	if err != nil {
		return nil, err
	}
	return dt.Encode(raw)
}

func TestRegisterDataStateMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("unset marker yields the NOT_SET sentinel", func(t *testing.T) {
		r := newTestRegistry(t)
		v, err := r.RegisterData(ctx, value.Unset, stringSchema(), value.Orphan(), "", true)
		require.NoError(t, err)
		assert.Equal(t, value.NotSetID, v.ID)
		assert.Equal(t, value.StatusNotSet, v.Status)
	})

	t.Run("nil on an optional slot yields the NONE sentinel", func(t *testing.T) {
		r := newTestRegistry(t)
		schema := stringSchema()
		schema.Optional = true
		v, err := r.RegisterData(ctx, nil, schema, value.Orphan(), "", true)
		require.NoError(t, err)
		assert.Equal(t, value.NoneID, v.ID)
		assert.Equal(t, value.StatusNone, v.Status)
	})

	t.Run("nil on a required slot is a validation error", func(t *testing.T) {
		r := newTestRegistry(t)
		_, err := r.RegisterData(ctx, nil, stringSchema(), value.Orphan(), "", true)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("nil with a schema default materializes the default", func(t *testing.T) {
		r := newTestRegistry(t)
		schema := stringSchema()
		schema.Default = canon.String("fallback")
		v, err := r.RegisterData(ctx, nil, schema, value.Orphan(), "", true)
		require.NoError(t, err)
		assert.Equal(t, value.StatusDefault, v.Status)
		assert.True(t, v.HasValidHash())

		data, err := r.RetrieveValueData(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, "fallback", data)
	})

	t.Run("unknown type name is a type error", func(t *testing.T) {
		r := newTestRegistry(t)
		_, err := r.RegisterData(ctx, "x", value.Schema{TypeName: "nonesuch"}, value.Orphan(), "", true)
		require.Error(t, err)
		assert.True(t, IsTypeError(err))
	})

	t.Run("unparseable input is a type error", func(t *testing.T) {
		r := newTestRegistry(t)
		_, err := r.RegisterData(ctx, struct{}{}, stringSchema(), value.Orphan(), "", true)
		require.Error(t, err)
		assert.True(t, IsTypeError(err))
	})
}

func TestRegisterDataDedup(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	a, err := r.RegisterData(ctx, "x", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)
	b, err := r.RegisterData(ctx, "x", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "identical content must reuse the existing value")

	c, err := r.RegisterData(ctx, "x", stringSchema(), value.Orphan(), "", false)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID, "reuse disabled must mint a fresh id")

	// Immutability: repeated reads never change hash or size.
	for range 3 {
		got, err := r.GetValue(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Hash, got.Hash)
		assert.Equal(t, a.Size, got.Size)
	}
}

func TestDedupTieBreakPrefersOrphan(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	derived := value.Pedigree{
		Manifest: value.Manifest{ModuleType: "example.make"},
		Inputs:   map[string]value.ID{},
	}
	// The derived copy gets the lexicographically smaller id, so a win
	// for the orphan proves the pedigree preference, not id ordering.
	first, err := r.RegisterData(ctx, "x", stringSchema(), derived, "out", false)
	require.NoError(t, err)
	orphan, err := r.RegisterData(ctx, "x", stringSchema(), value.Orphan(), "", false)
	require.NoError(t, err)
	require.Less(t, string(first.ID), string(orphan.ID))

	reused, err := r.RegisterData(ctx, "x", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)
	assert.Equal(t, orphan.ID, reused.ID)
}

func TestGetValueNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetValue(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetValueAmbiguity(t *testing.T) {
	ctx := context.Background()

	// Persist the same value id into two separate archives.
	seed := newTestRegistry(t)
	storeA, err := fsarchive.Open("a", t.TempDir())
	require.NoError(t, err)
	storeB, err := fsarchive.Open("b", t.TempDir())
	require.NoError(t, err)

	v, err := seed.RegisterData(ctx, "dup", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)
	payload, err := seed.encodePayload(ctx, v)
	require.NoError(t, err)
	_, err = storeA.StoreValue(ctx, v, payload)
	require.NoError(t, err)
	_, err = storeB.StoreValue(ctx, v, payload)
	require.NoError(t, err)

	r := newTestRegistry(t)
	require.NoError(t, r.Mount(storeA))
	require.NoError(t, r.Mount(storeB))
	_, err = r.GetValue(ctx, v.ID)
	require.Error(t, err)
	assert.True(t, IsAmbiguityError(err))
}

func TestStoreValueWithoutRunnerFails(t *testing.T) {
	ctx := context.Background()
	r := New(types.NewBuiltinRegistry(), &value.SequenceGenerator{})
	store, err := fsarchive.Open("local", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Mount(store))

	v, err := r.RegisterData(ctx, "hello", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)

	// Serialization happens through the save job; with no runner wired
	// persistence fails loudly instead of encoding inline.
	err = r.StoreValue(ctx, v.ID, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSaverUnavailable)
}

func TestStoreValueRejectsSentinels(t *testing.T) {
	r := newTestRegistry(t)
	store, err := fsarchive.Open("local", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Mount(store))

	err = r.StoreValue(context.Background(), value.NotSetID, "")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writer := newTestRegistry(t)
	store, err := fsarchive.Open("local", root)
	require.NoError(t, err)
	require.NoError(t, writer.Mount(store))

	v, err := writer.RegisterData(ctx, "hello", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)
	require.NoError(t, writer.StoreValue(ctx, v.ID, ""))

	// Fresh registry over the same root, simulating a new process.
	reader := newTestRegistry(t)
	reopened, err := fsarchive.OpenReadOnly("local", root)
	require.NoError(t, err)
	require.NoError(t, reader.Mount(reopened))

	got, err := reader.GetValue(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Hash, got.Hash)
	assert.Equal(t, v.Size, got.Size)

	data, err := reader.RetrieveValueData(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", data)

	// The dedup index round-trips too.
	ids, err := reader.FindValuesForHash(ctx, "string", v.Hash)
	require.NoError(t, err)
	assert.Equal(t, []value.ID{v.ID}, ids)
}

func TestMetadataThroughOwningArchive(t *testing.T) {
	ctx := context.Background()

	r := newTestRegistry(t)
	store, err := sqlarchive.Open("local", filepath.Join(t.TempDir(), "lode.db"))
	require.NoError(t, err)
	require.NoError(t, r.Mount(store))

	v, err := r.RegisterData(ctx, "annotated", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)

	// Metadata attaches to persisted values only.
	err = r.AttachMetadata(ctx, v.ID, "note", canon.Object{}, canon.Object{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not persisted")

	require.NoError(t, r.StoreValue(ctx, v.ID, ""))

	schema := canon.Object{"comment": canon.String("string")}
	blob := canon.Object{"comment": canon.String("imported batch")}
	require.NoError(t, r.AttachMetadata(ctx, v.ID, "note", schema, blob))

	md, err := r.MetadataForValue(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, md, 1)
	assert.Equal(t, "note", md[0].SchemaName)
	assert.Equal(t, blob, md[0].Data)
}

func TestMetadataUnsupportedByArchive(t *testing.T) {
	ctx := context.Background()

	r := newTestRegistry(t)
	store, err := fsarchive.Open("local", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Mount(store))

	v, err := r.RegisterData(ctx, "plain", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)
	require.NoError(t, r.StoreValue(ctx, v.ID, ""))

	err = r.AttachMetadata(ctx, v.ID, "note", canon.Object{}, canon.Object{"k": canon.String("v")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support metadata")

	// Reads stay quiet on metadata-less backends.
	md, err := r.MetadataForValue(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestRetrieveValueDataUnloadable(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writer := newTestRegistry(t)
	store, err := fsarchive.Open("local", root)
	require.NoError(t, err)
	require.NoError(t, writer.Mount(store))
	v, err := writer.RegisterData(ctx, "hello", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)
	require.NoError(t, writer.StoreValue(ctx, v.ID, ""))

	reader := New(types.NewBuiltinRegistry(), &value.SequenceGenerator{})
	reopened, err := fsarchive.OpenReadOnly("local", root)
	require.NoError(t, err)
	require.NoError(t, reader.Mount(reopened))

	// No job runner configured: reads degrade instead of failing.
	data, err := reader.RetrieveValueData(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, IsUnloadable(data))
	assert.Equal(t, v.ID, data.(Unloadable).ValueID)
}

func TestPedigreeClosure(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	store, err := fsarchive.Open("local", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Mount(store))

	left, err := r.RegisterData(ctx, "left", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)
	right, err := r.RegisterData(ctx, "right", stringSchema(), value.Orphan(), "", true)
	require.NoError(t, err)

	derived := value.Pedigree{
		Manifest: value.Manifest{ModuleType: "example.concat"},
		Inputs:   map[string]value.ID{"a": left.ID, "b": right.ID},
	}
	out, err := r.RegisterData(ctx, "leftright", stringSchema(), derived, "joined", true)
	require.NoError(t, err)

	require.NoError(t, r.StoreValue(ctx, out.ID, ""))

	for _, id := range []value.ID{left.ID, right.ID, out.ID} {
		has, err := store.HasValue(ctx, id)
		require.NoError(t, err)
		assert.True(t, has, "value %s must be persisted", id)
	}

	// Pedigree linkage lands a job record resolvable purely from storage.
	_, jobHash, err := derived.JobHash()
	require.NoError(t, err)
	rec, err := store.FindJobRecord(ctx, jobHash)
	require.NoError(t, err)
	assert.Equal(t, out.ID, rec.Outputs["joined"])
}

func TestEnvironmentPersistence(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	store, err := fsarchive.Open("local", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Mount(store))

	details := canon.Object{"runtime": canon.String("go1.25")}
	envHash, err := r.RegisterEnvironment("toolchain", details)
	require.NoError(t, err)

	pedigree := value.Pedigree{
		Manifest:     value.Manifest{ModuleType: "example.make"},
		Inputs:       map[string]value.ID{},
		Environments: r.CurrentEnvironments(),
	}
	v, err := r.RegisterData(ctx, "payload", stringSchema(), pedigree, "out", true)
	require.NoError(t, err)
	require.NoError(t, r.StoreValue(ctx, v.ID, ""))

	stored, err := store.RetrieveEnvironmentDetails(ctx, "toolchain", envHash)
	require.NoError(t, err)
	assert.Equal(t, details, stored)
}

var _ archive.Store = (*fsarchive.Archive)(nil)
