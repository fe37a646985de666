package query

import (
	"context"
	"testing"

	"github.com/nounverb/nvdb/pkg/config"
)

func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	ctx := context.Background()
	cfg, err := config.FromYAML([]byte(`
dimensions: 3
hnsw:
  M: 4
  efConstruction: 16
  efSearch: 8
  seed: 1
storage:
  kind: memory
`))
	if err != nil {
		t.Fatal(err)
	}
	db, err := Open(ctx, cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Shutdown(context.Background()) })
	return db
}

func TestDBInsertGetSearch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	id, err := db.Insert(ctx, []float32{1, 0, 0}, map[string]any{"noun": "doc", "lang": "en"})
	if err != nil {
		t.Fatal(err)
	}

	n, err := db.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n == nil || n.NounType != "doc" {
		t.Fatalf("Get = %+v", n)
	}

	results, err := db.Search(ctx, []float32{1, 0, 0}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("Search = %+v, want [%s]", results, id)
	}
	if results[0].Metadata["lang"] != "en" {
		t.Errorf("Search result metadata = %v, want lang=en", results[0].Metadata)
	}
}

func TestDBInsertRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if _, err := db.Insert(ctx, []float32{1, 0}, nil); err == nil {
		t.Fatal("expected dimension mismatch error")
	} else if qe, ok := err.(*Error); !ok || qe.Kind != KindInvalidInput {
		t.Fatalf("err = %v, want KindInvalidInput", err)
	}
}

func TestDBReadOnlyRejectsMutation(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.FromYAML([]byte(`
dimensions: 3
storage:
  kind: memory
readOnly: true
`))
	if err != nil {
		t.Fatal(err)
	}
	db, err := Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Shutdown(ctx)

	_, err = db.Insert(ctx, []float32{1, 0, 0}, nil)
	if err == nil {
		t.Fatal("expected readonly error")
	}
	if qe, ok := err.(*Error); !ok || qe.Kind != KindReadOnly {
		t.Fatalf("err = %v, want KindReadOnly", err)
	}
}

func TestDBSearchFiltersByNounType(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.Insert(ctx, []float32{1, 0, 0}, map[string]any{"noun": "doc"})
	if err != nil {
		t.Fatal(err)
	}
	idImg, err := db.Insert(ctx, []float32{0.9, 0.1, 0}, map[string]any{"noun": "image"})
	if err != nil {
		t.Fatal(err)
	}

	results, err := db.Search(ctx, []float32{1, 0, 0}, 5, &Filter{NounType: "image"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != idImg {
		t.Fatalf("Search with filter = %+v, want [%s]", results, idImg)
	}
}

func TestDBAddVerbAveragesEndpointVectors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a, err := db.Insert(ctx, []float32{1, 0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := db.Insert(ctx, []float32{0, 1, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}

	verbID, err := db.AddVerb(ctx, a, b, "likes", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	page, err := db.ListVerbs(ctx, Pagination{Limit: 10}, VerbFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != verbID {
		t.Fatalf("ListVerbs = %+v", page.Items)
	}
	want := []float32{0.5, 0.5, 0}
	got := page.Items[0].Vector
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("verb vector = %v, want %v", got, want)
		}
	}
	if page.Items[0].Weight != 1.0 {
		t.Errorf("verb weight = %v, want default 1.0", page.Items[0].Weight)
	}

	if err := db.DeleteVerb(ctx, verbID); err != nil {
		t.Fatal(err)
	}
	page, err = db.ListVerbs(ctx, Pagination{Limit: 10}, VerbFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("ListVerbs after delete = %+v, want empty", page.Items)
	}
}

func TestDBFindSimilarExcludesSelf(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a, err := db.Insert(ctx, []float32{1, 0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Insert(ctx, []float32{0.9, 0.1, 0}, nil); err != nil {
		t.Fatal(err)
	}

	results, err := db.FindSimilar(ctx, a, 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID == a {
			t.Error("FindSimilar should exclude the query noun itself")
		}
	}
}

func TestDBSearchTextFailsWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.SearchText(ctx, "hello", 5, nil)
	if err == nil {
		t.Fatal("expected error when no embedder is configured")
	}
}

type stubEmbedder struct{ vector []float32 }

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) { return s.vector, nil }
func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}
func (s stubEmbedder) Dimension() int { return len(s.vector) }

func TestDBSearchTextUsesEmbedder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, WithEmbedder(stubEmbedder{vector: []float32{1, 0, 0}}))

	id, err := db.Insert(ctx, []float32{1, 0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchText(ctx, "anything", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("SearchText = %+v, want [%s]", results, id)
	}
}

func TestDBStatusAndClear(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a, err := db.Insert(ctx, []float32{1, 0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := db.Insert(ctx, []float32{0, 1, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddVerb(ctx, a, b, "likes", nil, nil); err != nil {
		t.Fatal(err)
	}

	status, err := db.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Size != 3 {
		t.Errorf("Status.Size = %d, want 3 (2 nouns + 1 verb)", status.Size)
	}
	if status.StorageType != config.StorageMemory {
		t.Errorf("Status.StorageType = %q, want memory", status.StorageType)
	}

	if err := db.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	status, err = db.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Size != 0 {
		t.Errorf("Status.Size after Clear = %d, want 0", status.Size)
	}
}
