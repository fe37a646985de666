package kv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nounverb/nvdb/pkg/kv"
)

func newTestStore(t *testing.T) kv.Store {
	t.Helper()
	s := kv.NewMemory()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := kv.Key{Namespace: "warm:nouns", ID: "n1"}
	val := []byte("hello")

	if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, key, val); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(val) {
		t.Fatalf("Get = %q, want %q", got, val)
	}

	val2 := []byte("world")
	if err := s.Set(ctx, key, val2); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err = s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if string(got) != string(val2) {
		t.Fatalf("Get = %q, want %q", got, val2)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	if err := s.Delete(ctx, kv.Key{Namespace: "warm:nouns", ID: "ghost"}); err != nil {
		t.Fatalf("Delete non-existent: %v", err)
	}
}

func TestDistinctNamespacesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	nounKey := kv.Key{Namespace: "warm:nouns", ID: "shared-id"}
	verbKey := kv.Key{Namespace: "warm:verbs", ID: "shared-id"}

	if err := s.Set(ctx, nounKey, []byte("noun")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, verbKey, []byte("verb")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, nounKey)
	if err != nil || string(got) != "noun" {
		t.Fatalf("Get(nounKey) = %q, %v, want noun", got, err)
	}
	got, err = s.Get(ctx, verbKey)
	if err != nil || string(got) != "verb" {
		t.Fatalf("Get(verbKey) = %q, %v, want verb", got, err)
	}

	if err := s.Delete(ctx, nounKey); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, verbKey); err != nil {
		t.Fatalf("deleting nounKey should not affect verbKey: %v", err)
	}
}

func TestValueIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := kv.Key{Namespace: "warm:nouns", ID: "iso"}
	original := []byte("original")

	if err := s.Set(ctx, key, original); err != nil {
		t.Fatalf("Set: %v", err)
	}

	original[0] = 'X'

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got[0] != 'o' {
		t.Fatal("store value was mutated via original slice")
	}

	got[0] = 'Y'
	got2, _ := s.Get(ctx, key)
	if got2[0] != 'o' {
		t.Fatal("store value was mutated via returned slice")
	}
}
