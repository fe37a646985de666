// Package cache implements the L1/L2/L3 read-through, write-through
// cache that sits between the query engine and durable storage. L1 is an
// in-process map; L2 is a TTL-bearing warm tier backed by pkg/kv; L3 is
// the authoritative pkg/storage.Backend.
package cache

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// envelope is the on-disk shape of an L2 entry: payload plus enough
// bookkeeping to expire and account for it without touching L3.
type envelope struct {
	Value      []byte    `msgpack:"v"`
	ExpiresAt  time.Time `msgpack:"e"`
	LastAccess int64     `msgpack:"a"`
}

func (e envelope) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

func encodeEnvelope(e envelope) ([]byte, error) {
	return msgpack.Marshal(e)
}

func decodeEnvelope(b []byte) (envelope, error) {
	var e envelope
	err := msgpack.Unmarshal(b, &e)
	return e, err
}
