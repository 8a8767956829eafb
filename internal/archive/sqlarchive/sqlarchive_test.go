package sqlarchive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lodeworks/lode/internal/archive"
	"github.com/lodeworks/lode/internal/canon"
	"github.com/lodeworks/lode/internal/types"
	"github.com/lodeworks/lode/internal/value"
)

func openTest(t *testing.T) *Archive {
	t.Helper()
	a, err := Open("sql-local", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

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
	a := openTest(t)

	v, payload := testValue(t, "val-1", "hello sql")
	lc, err := a.StoreValue(ctx, v, payload)
	if err != nil {
		t.Fatalf("StoreValue() failed: %v", err)
	}
	if lc.Manifest.ModuleType != value.LoadModuleType {
		t.Errorf("load config module = %q", lc.Manifest.ModuleType)
	}

	ok, err := a.HasValue(ctx, v.ID)
	if err != nil || !ok {
		t.Fatalf("HasValue() = %v, %v; want true", ok, err)
	}

	got, err := a.RetrieveValueDetails(ctx, v.ID)
	if err != nil {
		t.Fatalf("RetrieveValueDetails() failed: %v", err)
	}
	if got.Hash != v.Hash || got.Status != value.StatusSet {
		t.Errorf("retrieved = %+v", got)
	}

	back, err := a.RetrievePayload(ctx, v.ID)
	if err != nil {
		t.Fatalf("RetrievePayload() failed: %v", err)
	}
	if string(back) != string(payload) {
		t.Error("payload round trip mismatch")
	}

	ids, err := a.FindValuesWithHash(ctx, "string", v.Hash)
	if err != nil {
		t.Fatalf("FindValuesWithHash() failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != v.ID {
		t.Errorf("FindValuesWithHash() = %v", ids)
	}
}

func TestStoreValueIdempotent(t *testing.T) {
	ctx := context.Background()
	a := openTest(t)

	v, payload := testValue(t, "val-1", "again")
	if _, err := a.StoreValue(ctx, v, payload); err != nil {
		t.Fatalf("first StoreValue() failed: %v", err)
	}
	if _, err := a.StoreValue(ctx, v, payload); err != nil {
		t.Fatalf("second StoreValue() failed: %v", err)
	}

	ids, err := a.FindValuesWithHash(ctx, "string", v.Hash)
	if err != nil {
		t.Fatalf("FindValuesWithHash() failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("dedup index rows = %d, want 1", len(ids))
	}
}

func TestPedigreeLinkage(t *testing.T) {
	ctx := context.Background()
	a := openTest(t)

	pedigree := value.Pedigree{
		Manifest: value.Manifest{ModuleType: "concat"},
		Inputs:   map[string]value.ID{"left": "in-1", "right": "in-2"},
	}
	v, payload := testValue(t, "out-1", "derived")
	v.Pedigree = pedigree
	v.PedigreeOutputName = "result"

	if _, err := a.StoreValue(ctx, v, payload); err != nil {
		t.Fatalf("StoreValue() failed: %v", err)
	}

	// The pedigree must now resolve as a job record from storage alone.
	_, jobHash, err := pedigree.JobHash()
	if err != nil {
		t.Fatalf("pedigree job hash: %v", err)
	}
	rec, err := a.FindJobRecord(ctx, jobHash)
	if err != nil {
		t.Fatalf("FindJobRecord() failed: %v", err)
	}
	if rec.Outputs["result"] != "out-1" {
		t.Errorf("record outputs = %v", rec.Outputs)
	}
}

func TestJobRecordsForManifest(t *testing.T) {
	ctx := context.Background()
	a := openTest(t)

	manifest := value.Manifest{ModuleType: "concat"}
	mh, err := manifest.Hash()
	if err != nil {
		t.Fatalf("manifest hash: %v", err)
	}

	for i, inputs := range []map[string]value.ID{
		{"x": "a"}, {"x": "b"},
	} {
		strInputs := map[string]string{}
		for k, id := range inputs {
			strInputs[k] = string(id)
		}
		jh, err := canon.JobHash(mh, strInputs)
		if err != nil {
			t.Fatalf("job hash: %v", err)
		}
		rec := &value.JobRecord{
			JobHash:        jh,
			ManifestHash:   mh,
			InputsDataHash: "idh",
			Manifest:       manifest,
			Inputs:         inputs,
			Outputs:        map[string]value.ID{"out": value.ID(rune('A' + i))},
		}
		if err := a.StoreJobRecord(ctx, rec); err != nil {
			t.Fatalf("StoreJobRecord() failed: %v", err)
		}
	}

	recs, err := a.FindJobRecordsForManifest(ctx, mh)
	if err != nil {
		t.Fatalf("FindJobRecordsForManifest() failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("manifest scan = %d records, want 2", len(recs))
	}

	if _, err := a.FindJobRecord(ctx, "missing"); !errors.Is(err, archive.ErrNotFound) {
		t.Errorf("unknown job err = %v, want ErrNotFound", err)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	w, err := Open("shared", path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	v, payload := testValue(t, "val-1", "shared")
	if _, err := w.StoreValue(ctx, v, payload); err != nil {
		t.Fatalf("StoreValue() failed: %v", err)
	}
	w.Close()

	ro, err := OpenReadOnly("shared", path)
	if err != nil {
		t.Fatalf("OpenReadOnly() failed: %v", err)
	}
	defer ro.Close()

	ok, err := ro.HasValue(ctx, v.ID)
	if err != nil || !ok {
		t.Fatalf("HasValue() on read-only = %v, %v", ok, err)
	}
	if _, err := ro.StoreValue(ctx, v, payload); !errors.Is(err, archive.ErrReadOnly) {
		t.Errorf("StoreValue() err = %v, want ErrReadOnly", err)
	}
	if err := ro.StoreJobRecord(ctx, &value.JobRecord{JobHash: "j"}); !errors.Is(err, archive.ErrReadOnly) {
		t.Errorf("StoreJobRecord() err = %v, want ErrReadOnly", err)
	}
}

func TestEnvironments(t *testing.T) {
	ctx := context.Background()
	a := openTest(t)

	details := canon.Object{"platform": canon.String("linux/amd64")}
	hash, err := canon.EnvironmentHash("platform", details)
	if err != nil {
		t.Fatalf("environment hash: %v", err)
	}

	if err := a.StoreEnvironment(ctx, "platform", hash, details); err != nil {
		t.Fatalf("StoreEnvironment() failed: %v", err)
	}
	if err := a.StoreEnvironment(ctx, "platform", hash, details); err != nil {
		t.Fatalf("StoreEnvironment() repeat failed: %v", err)
	}

	got, err := a.RetrieveEnvironmentDetails(ctx, "platform", hash)
	if err != nil {
		t.Fatalf("RetrieveEnvironmentDetails() failed: %v", err)
	}
	if got["platform"] != canon.String("linux/amd64") {
		t.Errorf("details = %v", got)
	}
}

func TestMetadataSharedAcrossValues(t *testing.T) {
	ctx := context.Background()
	a := openTest(t)

	for _, id := range []value.ID{"val-1", "val-2"} {
		v, payload := testValue(t, id, "metadata target "+string(id))
		if _, err := a.StoreValue(ctx, v, payload); err != nil {
			t.Fatalf("StoreValue() failed: %v", err)
		}
	}

	schema := canon.Object{"comment": canon.String("string")}
	data := canon.Object{"comment": canon.String("imported batch")}
	for _, id := range []value.ID{"val-1", "val-2"} {
		if err := a.AttachMetadata(ctx, id, "note", schema, data); err != nil {
			t.Fatalf("AttachMetadata(%s) failed: %v", id, err)
		}
	}

	md, err := a.MetadataForValue(ctx, "val-2")
	if err != nil {
		t.Fatalf("MetadataForValue() failed: %v", err)
	}
	if len(md) != 1 || md[0].SchemaName != "note" {
		t.Fatalf("metadata = %+v", md)
	}

	// Shared blob: exactly one metadata row despite two references.
	var count int
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM metadata`).Scan(&count); err != nil {
		t.Fatalf("count metadata: %v", err)
	}
	if count != 1 {
		t.Errorf("metadata rows = %d, want 1", count)
	}
}
