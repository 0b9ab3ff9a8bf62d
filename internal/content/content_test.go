package content

import (
	"context"
	"testing"

	"github.com/findingstore/findingstore/internal/storage/memory"
)

func TestPut_Idempotent(t *testing.T) {
	st := memory.New()
	cs := New(st)
	ctx := context.Background()

	data := []byte("int main() { return 0; }\n")
	h := Hash(data)

	for i := 0; i < 3; i++ {
		if err := cs.Put(ctx, h, data, nil); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	got, err := cs.Get(ctx, h)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Bytes) != string(data) {
		t.Error("stored bytes differ")
	}

	missing, err := cs.MissingHashes(ctx, []string{h, "feedface"})
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	if len(missing) != 1 || missing[0] != "feedface" {
		t.Errorf("missing = %v, want [feedface]", missing)
	}
}

func TestBlameBackfill(t *testing.T) {
	st := memory.New()
	cs := New(st)
	ctx := context.Background()

	data := []byte("x\n")
	h := Hash(data)
	if err := cs.Put(ctx, h, data, nil); err != nil {
		t.Fatalf("put: %v", err)
	}

	missing, err := cs.MissingBlameHashes(ctx, []string{h})
	if err != nil {
		t.Fatalf("missing blame: %v", err)
	}
	if len(missing) != 1 {
		t.Fatal("blame-less blob not reported as missing blame")
	}

	if err := cs.Put(ctx, h, data, []byte(`{"commits":[]}`)); err != nil {
		t.Fatalf("blame backfill: %v", err)
	}
	missing, err = cs.MissingBlameHashes(ctx, []string{h})
	if err != nil {
		t.Fatalf("missing blame: %v", err)
	}
	if len(missing) != 0 {
		t.Error("backfilled blame still reported missing")
	}
}

func TestReferenceCounting(t *testing.T) {
	st := memory.New()
	cs := New(st)
	ctx := context.Background()

	data := []byte("y\n")
	h := Hash(data)
	if err := cs.Put(ctx, h, data, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := cs.Acquire(ctx, h); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := cs.Acquire(ctx, h); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := cs.Release(ctx, h); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := cs.Get(ctx, h); err != nil {
		t.Fatal("blob collected while still referenced")
	}
	if err := cs.Release(ctx, h); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := cs.Get(ctx, h); err == nil {
		t.Error("unreferenced blob survived garbage collection")
	}
}
