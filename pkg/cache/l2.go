package cache

import (
	"context"
	"errors"
	"time"

	"github.com/nounverb/nvdb/pkg/kv"
)

// l2 is the warm tier: a kv.Store holding msgpack envelopes under a
// dedicated key prefix, each carrying its own TTL. Any kv.Store works;
// the default wiring uses kv.Badger so the same embedded engine can also
// back a storage backend's index accelerator.
type l2 struct {
	store kv.Store
	ns    string
	ttl   time.Duration
}

func newL2(store kv.Store, ns string, ttl time.Duration) *l2 {
	return &l2{store: store, ns: ns, ttl: ttl}
}

func (c *l2) key(id string) kv.Key {
	return kv.Key{Namespace: "warm:" + c.ns, ID: id}
}

func (c *l2) get(ctx context.Context, id string) ([]byte, bool, error) {
	raw, err := c.store.Get(ctx, c.key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, false, err
	}
	if env.expired(time.Now()) {
		_ = c.store.Delete(ctx, c.key(id))
		return nil, false, nil
	}
	return env.Value, true, nil
}

func (c *l2) set(ctx context.Context, id string, value []byte) error {
	env := envelope{Value: value, LastAccess: time.Now().UnixNano()}
	if c.ttl > 0 {
		env.ExpiresAt = time.Now().Add(c.ttl)
	}
	blob, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.key(id), blob)
}

func (c *l2) delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.key(id))
}

func (c *l2) setTTL(ttl time.Duration) {
	c.ttl = ttl
}
