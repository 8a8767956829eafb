package fsarchive

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/types"
	"github.com/lodeworks/lode/internal/value"
)

func testValue(t *testing.T, id value.ID, data string) (*value.Value, []byte) {
	t.Helper()
	dt := types.StringType{}
	payload, err := dt.Encode(data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	hash, err := dt.Hash(data)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &value.Value{
		ID:       id,
		Schema:   value.Schema{TypeName: "string"},
		Status:   value.StatusSet,
		Size:     int64(len(payload)),
		Hash:     hash,
		Pedigree: value.Orphan(),
	}, payload
}

func TestStoreValueRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, err := Open("local", t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	v, payload := testValue(t, "val-1", "hello archive")

	lc, err := a.StoreValue(ctx, v, payload)
	if err != nil {
		t.Fatalf("StoreValue() failed: %v", err)
	}
	if lc.Manifest.ModuleType != value.LoadModuleType {
		t.Errorf("load config module = %q, want %q", lc.Manifest.ModuleType, value.LoadModuleType)
	}
	if lc.OutputName != "data" {
		t.Errorf("load config output = %q, want %q", lc.OutputName, "data")
	}

	ok, err := a.HasValue(ctx, v.ID)
	if err != nil || !ok {
		t.Fatalf("HasValue() = %v, %v; want true", ok, err)
	}

	got, err := a.RetrieveValueDetails(ctx, v.ID)
	if err != nil {
		t.Fatalf("RetrieveValueDetails() failed: %v", err)
	}
	if got.Hash != v.Hash || got.Size != v.Size || got.Status != v.Status {
		t.Errorf("retrieved value mismatch: %+v vs %+v", got, v)
	}

	back, err := a.RetrievePayload(ctx, v.ID)
	if err != nil {
		t.Fatalf("RetrievePayload() failed: %v", err)
	}
	if string(back) != string(payload) {
		t.Errorf("payload round trip mismatch")
	}

	gotLC, err := a.RetrieveLoadConfig(ctx, v.ID)
	if err != nil {
		t.Fatalf("RetrieveLoadConfig() failed: %v", err)
	}
	if gotLC.Inputs["value_id"] != canon.String("val-1") {
		t.Errorf("load config inputs = %v", gotLC.Inputs)
	}
}

func TestHashIndexPublication(t *testing.T) {
	ctx := context.Background()
	a, err := Open("local", t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	v, payload := testValue(t, "val-1", "indexed")
	if _, err := a.StoreValue(ctx, v, payload); err != nil {
		t.Fatalf("StoreValue() failed: %v", err)
	}

	ids, err := a.FindValuesWithHash(ctx, "string", v.Hash)
	if err != nil {
		t.Fatalf("FindValuesWithHash() failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != v.ID {
		t.Errorf("FindValuesWithHash() = %v, want [%s]", ids, v.ID)
	}

	// Storing a second value with identical content adds a second
	// index line, not a duplicate of the first.
	v2, payload2 := testValue(t, "val-2", "indexed")
	if _, err := a.StoreValue(ctx, v2, payload2); err != nil {
		t.Fatalf("StoreValue() second failed: %v", err)
	}
	ids, err = a.FindValuesWithHash(ctx, "string", v.Hash)
	if err != nil {
		t.Fatalf("FindValuesWithHash() failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("index lines = %v, want 2 entries", ids)
	}

	// Unknown hash is an empty result, not an error.
	ids, err = a.FindValuesWithHash(ctx, "string", "feedfeed")
	if err != nil || ids != nil {
		t.Errorf("unknown hash = %v, %v; want nil, nil", ids, err)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	w, err := Open("shared", root)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	v, payload := testValue(t, "val-1", "shared data")
	if _, err := w.StoreValue(ctx, v, payload); err != nil {
		t.Fatalf("StoreValue() failed: %v", err)
	}

	ro, err := OpenReadOnly("shared", root)
	if err != nil {
		t.Fatalf("OpenReadOnly() failed: %v", err)
	}

	// Reads work.
	ok, err := ro.HasValue(ctx, v.ID)
	if err != nil || !ok {
		t.Fatalf("HasValue() on read-only = %v, %v", ok, err)
	}

	// Every write-contract call is rejected.
	if _, err := ro.StoreValue(ctx, v, payload); !errors.Is(err, archive.ErrReadOnly) {
		t.Errorf("StoreValue() err = %v, want ErrReadOnly", err)
	}
	if err := ro.StoreJobRecord(ctx, &value.JobRecord{JobHash: "j", ManifestHash: "m"}); !errors.Is(err, archive.ErrReadOnly) {
		t.Errorf("StoreJobRecord() err = %v, want ErrReadOnly", err)
	}
	if err := ro.StoreEnvironment(ctx, "rt", "h", canon.Object{}); !errors.Is(err, archive.ErrReadOnly) {
		t.Errorf("StoreEnvironment() err = %v, want ErrReadOnly", err)
	}
}

func TestSentinelAndUnsetRejected(t *testing.T) {
	ctx := context.Background()
	a, err := Open("local", t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if _, err := a.StoreValue(ctx, value.NewNoneValue(), nil); err == nil {
		t.Error("storing a sentinel value must fail")
	}

	unset := &value.Value{ID: "v", Status: value.StatusNotSet, Hash: canon.InvalidHash}
	if _, err := a.StoreValue(ctx, unset, nil); err == nil {
		t.Error("storing a NOT_SET value must fail")
	}
}

func TestJobRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, err := Open("local", t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	manifest := value.Manifest{ModuleType: "concat", ModuleConfig: canon.Object{"sep": canon.String("-")}}
	mh, err := manifest.Hash()
	if err != nil {
		t.Fatalf("manifest hash: %v", err)
	}
	jh, err := canon.JobHash(mh, map[string]string{"left": "id-1", "right": "id-2"})
	if err != nil {
		t.Fatalf("job hash: %v", err)
	}

	rec := &value.JobRecord{
		JobHash:      jh,
		ManifestHash: mh,
		Manifest:     manifest,
		Inputs:       map[string]value.ID{"left": "id-1", "right": "id-2"},
		Outputs:      map[string]value.ID{"result": "id-3"},
	}
	if err := a.StoreJobRecord(ctx, rec); err != nil {
		t.Fatalf("StoreJobRecord() failed: %v", err)
	}

	got, err := a.FindJobRecord(ctx, jh)
	if err != nil {
		t.Fatalf("FindJobRecord() failed: %v", err)
	}
	if got.Outputs["result"] != "id-3" {
		t.Errorf("record outputs = %v", got.Outputs)
	}

	recs, err := a.FindJobRecordsForManifest(ctx, mh)
	if err != nil {
		t.Fatalf("FindJobRecordsForManifest() failed: %v", err)
	}
	if len(recs) != 1 || recs[0].JobHash != jh {
		t.Errorf("manifest scan = %v records", len(recs))
	}

	// Idempotent re-store.
	if err := a.StoreJobRecord(ctx, rec); err != nil {
		t.Fatalf("StoreJobRecord() second failed: %v", err)
	}

	if _, err := a.FindJobRecord(ctx, "ffff"); !errors.Is(err, archive.ErrNotFound) {
		t.Errorf("unknown job err = %v, want ErrNotFound", err)
	}
}

func TestEnvironmentIdempotent(t *testing.T) {
	ctx := context.Background()
	a, err := Open("local", t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	details := canon.Object{"go": canon.String("1.25")}
	hash, err := canon.EnvironmentHash("go-runtime", details)
	if err != nil {
		t.Fatalf("environment hash: %v", err)
	}

	if err := a.StoreEnvironment(ctx, "go-runtime", hash, details); err != nil {
		t.Fatalf("StoreEnvironment() failed: %v", err)
	}
	if err := a.StoreEnvironment(ctx, "go-runtime", hash, details); err != nil {
		t.Fatalf("StoreEnvironment() repeat failed: %v", err)
	}

	got, err := a.RetrieveEnvironmentDetails(ctx, "go-runtime", hash)
	if err != nil {
		t.Fatalf("RetrieveEnvironmentDetails() failed: %v", err)
	}
	if got["go"] != canon.String("1.25") {
		t.Errorf("environment details = %v", got)
	}
}

// TestLayoutGolden pins the on-disk tree shape. Content hashes are
// redacted so the golden file stays readable.
func TestLayoutGolden(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a, err := Open("local", root)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	v, payload := testValue(t, "test-id-1", "golden")
	if _, err := a.StoreValue(ctx, v, payload); err != nil {
		t.Fatalf("StoreValue() failed: %v", err)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		rel = strings.ReplaceAll(rel, v.Hash, "HASH")
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}

	g := goldie.New(t)
	g.Assert(t, "layout", []byte(strings.Join(paths, "\n")+"\n"))
}
