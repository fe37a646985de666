package storage

import (
	"context"
	"testing"
)

func TestOPFSQuotaEnforced(t *testing.T) {
	o := NewOPFS("https://example.test", 16)
	ctx := context.Background()

	if err := o.Put(ctx, "nouns", "n1", []byte("0123456789")); err != nil {
		t.Fatalf("Put within quota: %v", err)
	}

	err := o.Put(ctx, "nouns", "n2", []byte("0123456789"))
	if err == nil {
		t.Fatal("expected quota exceeded error")
	}
	se, ok := err.(*Error)
	if !ok || se.Kind != KindQuotaExceeded {
		t.Fatalf("expected KindQuotaExceeded, got %v", err)
	}
}

func TestOPFSQuotaAccountsOverwrites(t *testing.T) {
	o := NewOPFS("https://example.test", 16)
	ctx := context.Background()

	if err := o.Put(ctx, "nouns", "n1", []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	// Shrinking an existing key frees space for the new write to fit.
	if err := o.Put(ctx, "nouns", "n1", []byte("ab")); err != nil {
		t.Fatalf("overwrite with smaller blob should fit: %v", err)
	}
	usage, err := o.EstimateUsage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if usage.UsedBytes != 2 {
		t.Fatalf("UsedBytes = %d, want 2", usage.UsedBytes)
	}
}

func TestOPFSUnboundedQuotaReportsUnknown(t *testing.T) {
	o := NewOPFS("https://example.test", 0)
	ctx := context.Background()

	usage, err := o.EstimateUsage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if usage.QuotaBytes != UnknownQuota {
		t.Fatalf("QuotaBytes = %d, want UnknownQuota", usage.QuotaBytes)
	}
}

func TestOPFSDeleteFreesQuota(t *testing.T) {
	o := NewOPFS("https://example.test", 16)
	ctx := context.Background()

	if err := o.Put(ctx, "nouns", "n1", []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if err := o.Delete(ctx, "nouns", "n1"); err != nil {
		t.Fatal(err)
	}
	if err := o.Put(ctx, "nouns", "n2", []byte("0123456789abcdef")); err != nil {
		t.Fatalf("expected space freed after delete: %v", err)
	}
}

var _ Backend = (*OPFS)(nil)
