package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/nounverb/nvdb/pkg/adapter"
	"github.com/nounverb/nvdb/pkg/model"
	"github.com/nounverb/nvdb/pkg/storage"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := Open(ctx, Config{Dim: 3, M: 4, EfConstruction: 16, EfSearch: 8, Seed: 1}, storage.NewMemory(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestEngineInsertGetSearch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if err := e.Insert(ctx, "a", []float32{1, 0, 0}, model.Metadata{"noun": "doc"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Insert(ctx, "b", []float32{0, 1, 0}, model.Metadata{"noun": "image"}); err != nil {
		t.Fatal(err)
	}

	n, err := e.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if n == nil || n.NounType != "doc" {
		t.Fatalf("Get(a) = %+v", n)
	}

	matches, err := e.Search([]float32{1, 0, 0}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Fatalf("Search = %v, want [a]", matches)
	}
}

func TestEngineDeleteRemovesFromSearch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_ = e.Insert(ctx, "a", []float32{1, 0, 0}, nil)
	_ = e.Insert(ctx, "b", []float32{0, 1, 0}, nil)

	if err := e.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	n, err := e.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if n != nil {
		t.Fatal("expected nil after delete")
	}

	matches, err := e.Search([]float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range matches {
		if m.ID == "a" {
			t.Error("deleted noun 'a' still appears in search results")
		}
	}
}

func TestEngineFindSimilarExcludesSelf(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_ = e.Insert(ctx, "a", []float32{1, 0, 0}, nil)
	_ = e.Insert(ctx, "b", []float32{0.9, 0.1, 0}, nil)
	_ = e.Insert(ctx, "c", []float32{0, 0, 1}, nil)

	matches, err := e.FindSimilar(ctx, "a", 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range matches {
		if m.ID == "a" {
			t.Error("FindSimilar should exclude the query noun itself")
		}
	}
}

func TestEngineAddAndDeleteVerb(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_ = e.Insert(ctx, "a", []float32{1, 0, 0}, nil)
	_ = e.Insert(ctx, "b", []float32{0, 1, 0}, nil)

	id, err := e.AddVerb(ctx, "a", "b", "likes", 0, []float32{0.5, 0.5, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected non-empty verb id")
	}

	page, err := e.ListVerbs(ctx, adapter.Pagination{Limit: 100}, adapter.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("ListVerbs = %d items, want 1", len(page.Items))
	}

	if err := e.DeleteVerb(ctx, id); err != nil {
		t.Fatal(err)
	}
	page, err = e.ListVerbs(ctx, adapter.Pagination{Limit: 100}, adapter.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("ListVerbs after delete = %d items, want 0", len(page.Items))
	}
}

func TestEngineStatusAndClear(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_ = e.Insert(ctx, "a", []float32{1, 0, 0}, nil)
	_, _ = e.AddVerb(ctx, "a", "a", "self", 0, []float32{1, 0, 0}, nil)

	status, err := e.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.NounCount != 1 || status.VerbCount != 1 {
		t.Fatalf("Status = %+v, want 1 noun, 1 verb", status)
	}

	e.Clear()
	status, err = e.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.NounCount != 0 || status.VerbCount != 0 {
		t.Fatalf("Status after Clear = %+v, want zeroes", status)
	}
}

// failingPutBackend fails the Nth call to Put and succeeds otherwise, so
// tests can exercise the crash-safe-insert rollback path.
type failingPutBackend struct {
	storage.Backend
	failOn int
	calls  int
}

func (f *failingPutBackend) Put(ctx context.Context, ns, id string, blob []byte) error {
	f.calls++
	if f.calls == f.failOn {
		return &storage.Error{Kind: storage.KindTransient, Op: "put", Ns: ns, ID: id, Err: errors.New("injected failure")}
	}
	return f.Backend.Put(ctx, ns, id, blob)
}

func TestEngineInsertRollsBackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	backend := &failingPutBackend{Backend: storage.NewMemory(), failOn: 1}
	e, err := Open(ctx, Config{Dim: 3, M: 4, EfConstruction: 16, EfSearch: 8, Seed: 1}, backend, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if err := e.Insert(ctx, "a", []float32{1, 0, 0}, nil); err == nil {
		t.Fatal("expected insert to fail when storage Put fails")
	}

	matches, err := e.Search([]float32{1, 0, 0}, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("Search after rolled-back insert = %v, want empty", matches)
	}
	if e.nouns.Len() != 0 {
		t.Fatalf("graph Len() = %d, want 0 after rollback", e.nouns.Len())
	}
}
