package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/nounverb/nvdb/pkg/model"
	"github.com/nounverb/nvdb/pkg/storage"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New(storage.NewMemory())
	t.Cleanup(func() { a.Close() })
	return a
}

func TestPutGetDeleteNoun(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	n := &model.Noun{ID: "n1", Vector: []float32{1, 2, 3}, Metadata: model.Metadata{"noun": "doc"}}
	if err := a.PutNoun(ctx, n); err != nil {
		t.Fatal(err)
	}

	got, err := a.GetNoun(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.NounType != "doc" {
		t.Fatalf("GetNoun = %+v, want NounType doc", got)
	}

	if err := a.DeleteNoun(ctx, "n1"); err != nil {
		t.Fatal(err)
	}
	got, err = a.GetNoun(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil after delete")
	}
}

func TestListNounsByType(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	for i := 0; i < 5; i++ {
		typ := "doc"
		if i%2 == 0 {
			typ = "image"
		}
		n := &model.Noun{ID: idFor(i), Vector: []float32{1}, Metadata: model.Metadata{"noun": typ}}
		if err := a.PutNoun(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	page, err := a.ListNouns(ctx, Pagination{Limit: 10}, Filter{NounType: "doc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("ListNouns(doc) = %d items, want 2", len(page.Items))
	}
	for _, item := range page.Items {
		if item.NounType != "doc" {
			t.Fatalf("unexpected noun type %q", item.NounType)
		}
	}
}

func idFor(i int) string {
	return string(rune('a' + i))
}

func TestListNounsPagination(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	for i := 0; i < 10; i++ {
		n := &model.Noun{ID: string(rune('a' + i)), Vector: []float32{1}}
		if err := a.PutNoun(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	page, err := a.ListNouns(ctx, Pagination{Limit: 4, Offset: 0}, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 4 || !page.HasMore {
		t.Fatalf("page 1 = %d items, hasMore=%v", len(page.Items), page.HasMore)
	}

	page2, err := a.ListNouns(ctx, Pagination{Limit: 4, Offset: 8}, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Items) != 2 || page2.HasMore {
		t.Fatalf("page 3 = %d items, hasMore=%v", len(page2.Items), page2.HasMore)
	}
}

func TestPutGetDeleteVerb(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	v := &model.Verb{ID: "v1", SourceID: "a", TargetID: "b", Type: "likes", Weight: model.DefaultWeight}
	if err := a.PutVerb(ctx, v); err != nil {
		t.Fatal(err)
	}

	got, err := a.GetVerb(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.SourceID != "a" {
		t.Fatalf("GetVerb = %+v", got)
	}

	byA, err := a.VerbsBySource(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(byA) != 1 || byA[0].ID != "v1" {
		t.Fatalf("VerbsBySource = %v", byA)
	}

	if err := a.DeleteVerb(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	got, err = a.GetVerb(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil after delete")
	}
}

func TestStatisticsCoalescing(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	for i := 0; i < 1000; i++ {
		a.IncrementStatistic("noun", "svcA")
	}

	stats, err := a.GetStatistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.NounCount["svcA"] != 1000 {
		t.Fatalf("NounCount[svcA] = %d, want 1000", stats.NounCount["svcA"])
	}
}

func TestGetNounFallsBackToLegacyShardedLayout(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := New(backend)
	t.Cleanup(func() { a.Close() })

	legacyBlob := []byte(`{"id":"n1","vector":[1,2,3],"connections":{},"metadata":{"noun":"document"}}`)
	if err := backend.Put(ctx, nsNouns, "document/n1", legacyBlob); err != nil {
		t.Fatal(err)
	}

	got, err := a.GetNoun(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "n1" || got.NounType != "document" {
		t.Fatalf("GetNoun = %+v, want id n1, NounType document", got)
	}
}

func TestStatisticsDecrementNeverNegative(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	a.IncrementStatistic("noun", "svcA")
	a.DecrementStatistic("noun", "svcA")
	a.DecrementStatistic("noun", "svcA")
	a.DecrementStatistic("noun", "svcA")

	stats, err := a.GetStatistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.NounCount["svcA"] != 0 {
		t.Fatalf("NounCount[svcA] = %d, want 0", stats.NounCount["svcA"])
	}
}

func TestStatisticsIncrementDecrementRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	for i := 0; i < 10; i++ {
		a.IncrementStatistic("verb", "svcB")
	}
	for i := 0; i < 4; i++ {
		a.DecrementStatistic("verb", "svcB")
	}

	stats, err := a.GetStatistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.VerbCount["svcB"] != 6 {
		t.Fatalf("VerbCount[svcB] = %d, want 6", stats.VerbCount["svcB"])
	}
}

func TestStatisticsFlushOnClose(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	a := New(backend)

	a.IncrementStatistic("verb", "svcB")
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	key := statsKeyFor(time.Now())
	blob, err := backend.Get(ctx, nsIndex, key)
	if err != nil {
		t.Fatal(err)
	}
	if blob == nil {
		t.Fatal("expected statistics snapshot to be flushed on close")
	}
}
