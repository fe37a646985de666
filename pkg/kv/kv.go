// Package kv is the warm (L2) cache tier's storage abstraction: a small
// key-value interface addressed by the same (namespace, id) pair
// pkg/storage.Backend uses for L3, so a warm-tier entry and its
// storage-backed original name the same entity the same way. A
// BadgerDB-backed implementation serves production use; an in-memory
// one serves tests.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Key addresses a warm-cache entry by the namespace and id it was
// promoted under.
type Key struct {
	Namespace string
	ID        string
}

// encode packs a Key into the flat byte string the underlying stores
// index on. Namespace and ID are never split back out of it: callers
// that need to enumerate entries read through pkg/storage.Backend.List
// instead, since the warm tier only ever serves point lookups.
func (k Key) encode() []byte {
	return []byte(k.Namespace + "\x00" + k.ID)
}

// Store is the warm cache tier's persistence interface. It intentionally
// exposes only point operations: the L2 tier never lists or batches,
// so there is nothing here beyond what pkg/cache/l2.go actually calls.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair. Overwrites any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error

	// Close releases any resources held by the store.
	Close() error
}
