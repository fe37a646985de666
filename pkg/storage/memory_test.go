package storage

import (
	"context"
	"testing"
)

func TestMemoryGetReturnsDefensiveCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	original := []byte("hello")
	if err := m.Put(ctx, "nouns", "n1", original); err != nil {
		t.Fatal(err)
	}
	original[0] = 'X' // mutate caller's slice after Put

	got, err := m.Get(ctx, "nouns", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("Put did not defensively copy: got %q", got)
	}

	got[0] = 'Y' // mutate returned slice
	got2, _ := m.Get(ctx, "nouns", "n1")
	if string(got2) != "hello" {
		t.Fatalf("Get did not defensively copy: got %q", got2)
	}
}

func TestMemoryEstimateUsageSumsAllNamespaces(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "nouns", "n1", []byte("12345")); err != nil {
		t.Fatal(err)
	}
	if err := m.Put(ctx, "verbs", "v1", []byte("1234567890")); err != nil {
		t.Fatal(err)
	}

	usage, err := m.EstimateUsage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if usage.UsedBytes != 15 {
		t.Fatalf("UsedBytes = %d, want 15", usage.UsedBytes)
	}
	if usage.QuotaBytes != UnknownQuota {
		t.Fatalf("QuotaBytes = %d, want UnknownQuota", usage.QuotaBytes)
	}
}

var _ Backend = (*Memory)(nil)
