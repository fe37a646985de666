package cache

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nounverb/nvdb/pkg/kv"
	"github.com/nounverb/nvdb/pkg/storage"
)

// Cache is the L1/L2/L3 read-through, write-through layer sitting in
// front of a storage.Backend. L3 is always the backend itself; L1 and L2
// are purely accelerators and are never the source of truth.
type Cache struct {
	ns      string
	backend storage.Backend

	l1 *l1
	l2 *l2

	mu     sync.Mutex // guards tuner + counters read/reset
	tuner  *tuner
	counts Counters

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New builds a Cache fronting backend under namespace ns. warm may be nil
// to run without an L2 tier. initial seeds the knobs the cache starts
// with (and the knobs it stays pinned to when autoTune is false); a zero
// Knobs is replaced with the documented defaults.
func New(ns string, backend storage.Backend, warm kv.Store, initial Knobs, autoTune bool) *Cache {
	if initial == (Knobs{}) {
		initial = defaultKnobs()
	}
	c := &Cache{
		ns:      ns,
		backend: backend,
		l1:      newL1(),
		tuner:   newTuner(0, initial, autoTune), // 0 -> default 5 minute tune_interval
	}
	if warm != nil {
		c.l2 = newL2(warm, ns, initial.WarmTTL)
	}
	return c
}

// Get implements the read path: L1 -> L2 (promotes to L1) -> L3
// (promotes to L2 and L1). Returns (nil, false, nil) on a clean miss.
func (c *Cache) Get(ctx context.Context, id string) ([]byte, bool, error) {
	c.knobsTick()

	if v, ok := c.l1.get(id); ok {
		c.hits.Add(1)
		return v, true, nil
	}

	if c.l2 != nil {
		v, ok, err := c.l2.get(ctx, id)
		if err != nil {
			log.Printf("cache: l2 get %s/%s failed: %v", c.ns, id, err)
		} else if ok {
			c.hits.Add(1)
			c.promoteL1(id, v)
			return v, true, nil
		}
	}

	blob, err := c.backend.Get(ctx, c.ns, id)
	if err != nil {
		return nil, false, err
	}
	if blob == nil {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	c.promoteL2(ctx, id, blob)
	c.promoteL1(id, blob)
	return blob, true, nil
}

// GetMany runs Get concurrently for every id, in batches sized by the
// tuned batch_size knob, returning a map of found values. Missing ids
// are simply absent from the result.
func (c *Cache) GetMany(ctx context.Context, ids []string) (map[string][]byte, error) {
	knobs := c.knobsTick()
	out := make(map[string][]byte, len(ids))
	var mu sync.Mutex

	for start := 0; start < len(ids); start += knobs.BatchSize {
		end := min(start+knobs.BatchSize, len(ids))
		batch := ids[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range batch {
			id := id
			g.Go(func() error {
				v, ok, err := c.Get(gctx, id)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					out[id] = v
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Put implements the write path: store to L3 first; only on success does
// it write through to L2 and L1. L2/L1 write failures are logged and
// swallowed since the cache is a best-effort layer.
func (c *Cache) Put(ctx context.Context, id string, blob []byte) error {
	if err := c.backend.Put(ctx, c.ns, id, blob); err != nil {
		return err
	}
	c.promoteL2(ctx, id, blob)
	c.promoteL1(id, blob)
	return nil
}

// Delete removes the entry from all tiers. L3 failures are surfaced; L1/L2
// failures are logged and swallowed.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.backend.Delete(ctx, c.ns, id); err != nil {
		return err
	}
	c.l1.delete(id)
	if c.l2 != nil {
		if err := c.l2.delete(ctx, id); err != nil {
			log.Printf("cache: l2 delete %s/%s failed: %v", c.ns, id, err)
		}
	}
	return nil
}

// Prefetch partitions ids into tuned batch_size chunks and warms L1/L2
// for each through the ordinary read path. Errors are logged, never
// surfaced, per the bulk-operation contract.
func (c *Cache) Prefetch(ctx context.Context, ids []string) {
	knobs := c.knobsTick()
	for start := 0; start < len(ids); start += knobs.BatchSize {
		end := min(start+knobs.BatchSize, len(ids))
		batch := ids[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range batch {
			id := id
			g.Go(func() error {
				if _, _, err := c.Get(gctx, id); err != nil {
					log.Printf("cache: prefetch %s/%s failed: %v", c.ns, id, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
}

// Clear drops L1 only. L2 entries are left in place until their TTL
// expires, and L3 is not touched.
func (c *Cache) Clear() {
	c.l1.clear()
}

// Stats returns a snapshot of hit/miss/eviction counters since startup.
func (c *Cache) Stats() Counters {
	return Counters{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Tune forces a recompute of the self-tuning knobs using the given
// workload statistics, bypassing the rate limiter's "before every
// get/getMany/prefetch" opportunistic path. Intended for callers that
// want to drive tuning directly off a periodic storage statistics poll.
// A no-op when the cache was built with autoTune disabled: knobs stay
// pinned at their configured values.
func (c *Cache) Tune(w WorkloadStats) Knobs {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tuner.autoTune {
		return c.tuner.knobs
	}
	knobs := compute(c.tuner.knobs, c.Stats(), w)
	c.tuner.knobs = knobs
	c.applyKnobs(knobs)
	return knobs
}

func (c *Cache) knobsTick() Knobs {
	c.mu.Lock()
	defer c.mu.Unlock()
	knobs := c.tuner.maybeTune(c.Stats(), WorkloadStats{})
	c.applyKnobs(knobs)
	return knobs
}

func (c *Cache) applyKnobs(knobs Knobs) {
	if c.l2 != nil {
		c.l2.setTTL(knobs.WarmTTL)
	}
	evicted := c.l1.evictIfNeeded(knobs.MaxSize, knobs.EvictionThreshold)
	if evicted > 0 {
		c.evictions.Add(uint64(evicted))
	}
}

func (c *Cache) promoteL1(id string, blob []byte) {
	c.l1.set(id, blob)
}

func (c *Cache) promoteL2(ctx context.Context, id string, blob []byte) {
	if c.l2 == nil {
		return
	}
	if err := c.l2.set(ctx, id, blob); err != nil {
		log.Printf("cache: l2 set %s/%s failed: %v", c.ns, id, err)
	}
}
