// Package engine ties the HNSW index, the multi-level cache, and the
// storage adapter into the operations a noun-and-verb database actually
// needs: insert, delete, search, and verb management with persistence
// driven on every structural mutation.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nounverb/nvdb/pkg/adapter"
	"github.com/nounverb/nvdb/pkg/cache"
	"github.com/nounverb/nvdb/pkg/distance"
	"github.com/nounverb/nvdb/pkg/hnsw"
	"github.com/nounverb/nvdb/pkg/kv"
	"github.com/nounverb/nvdb/pkg/model"
	"github.com/nounverb/nvdb/pkg/storage"
)

// Config configures an Engine's dimensionality, HNSW tuning, and cache
// behavior. Both noun and verb indexes share the same dimension and
// distance metric, and the noun and verb caches share the same knobs.
type Config struct {
	Dim            int
	Distance       distance.Kind
	M              int
	MMax0          int
	EfConstruction int
	EfSearch       int
	Seed           uint64
	ServiceTag     string

	// CacheMaxSize, CacheEvictionThreshold, CacheWarmTTL, and
	// CacheBatchSize seed the cache's self-tuning controller (or pin it,
	// when CacheAutoTune is false). If any of the four is zero, all four
	// are ignored and the controller's own documented defaults are used.
	CacheMaxSize           int
	CacheEvictionThreshold float64
	CacheWarmTTL           time.Duration
	CacheBatchSize         int
	CacheAutoTune          bool
}

func (c Config) cacheKnobs() cache.Knobs {
	k := cache.Knobs{
		MaxSize:           c.CacheMaxSize,
		EvictionThreshold: c.CacheEvictionThreshold,
		WarmTTL:           c.CacheWarmTTL,
		BatchSize:         c.CacheBatchSize,
	}
	if k.MaxSize <= 0 || k.EvictionThreshold <= 0 || k.WarmTTL <= 0 || k.BatchSize <= 0 {
		return cache.Knobs{}
	}
	return k
}

// Engine owns the in-memory noun and verb HNSW graphs and keeps them
// synchronized with storage through an adapter and a read/write-through
// cache.
type Engine struct {
	cfg Config

	adapter *adapter.Adapter

	// writeMu serializes structural mutations (insert/delete) so an
	// in-memory graph edit and its storage persistence happen as one
	// unit; concurrent searches are unaffected since hnsw.Graph guards
	// its own reads independently.
	writeMu sync.Mutex

	nouns     *hnsw.Graph
	verbs     *hnsw.Graph
	nounCache *cache.Cache
	verbCache *cache.Cache
}

// Open constructs an Engine backed by backend, optionally accelerating
// its warm cache tier with warm (nil disables L2). It loads every
// persisted noun and verb and rebuilds both HNSW graphs via Restore
// rather than replaying inserts, so startup topology matches the last
// persisted snapshot exactly.
func Open(ctx context.Context, cfg Config, backend storage.Backend, warm kv.Store) (*Engine, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("engine: Config.Dim must be positive")
	}
	if cfg.ServiceTag == "" {
		cfg.ServiceTag = "default"
	}

	a := adapter.New(backend)

	nounVecs, nounConns, err := loadNouns(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("engine: loading nouns: %w", err)
	}
	verbVecs, verbConns, err := loadVerbs(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("engine: loading verbs: %w", err)
	}

	hcfg := hnsw.Config{
		Dim: cfg.Dim, Distance: cfg.Distance, M: cfg.M, MMax0: cfg.MMax0,
		EfConstruction: cfg.EfConstruction, EfSearch: cfg.EfSearch, Seed: cfg.Seed,
	}
	nounGraph, err := hnsw.Restore(hcfg, nounVecs, nounConns)
	if err != nil {
		return nil, fmt.Errorf("engine: restoring noun index: %w", err)
	}
	verbGraph, err := hnsw.Restore(hcfg, verbVecs, verbConns)
	if err != nil {
		return nil, fmt.Errorf("engine: restoring verb index: %w", err)
	}

	knobs := cfg.cacheKnobs()
	return &Engine{
		cfg:       cfg,
		adapter:   a,
		nouns:     nounGraph,
		verbs:     verbGraph,
		nounCache: cache.New("nouns", backend, warm, knobs, cfg.CacheAutoTune),
		verbCache: cache.New("verbs", backend, warm, knobs, cfg.CacheAutoTune),
	}, nil
}

func loadNouns(ctx context.Context, a *adapter.Adapter) (map[string][]float32, map[string]model.Connections, error) {
	vecs := make(map[string][]float32)
	conns := make(map[string]model.Connections)
	offset := 0
	for {
		page, err := a.ListNouns(ctx, adapter.Pagination{Offset: offset, Limit: 500}, adapter.Filter{})
		if err != nil {
			return nil, nil, err
		}
		for _, n := range page.Items {
			vecs[n.ID] = n.Vector
			conns[n.ID] = n.Connections
		}
		if !page.HasMore {
			break
		}
		offset += len(page.Items)
		if len(page.Items) == 0 {
			break
		}
	}
	return vecs, conns, nil
}

func loadVerbs(ctx context.Context, a *adapter.Adapter) (map[string][]float32, map[string]model.Connections, error) {
	vecs := make(map[string][]float32)
	conns := make(map[string]model.Connections)
	offset := 0
	for {
		page, err := a.ListVerbs(ctx, adapter.Pagination{Offset: offset, Limit: 500}, adapter.Filter{})
		if err != nil {
			return nil, nil, err
		}
		for _, v := range page.Items {
			vecs[v.ID] = v.Vector
			conns[v.ID] = v.Connections
		}
		if !page.HasMore {
			break
		}
		offset += len(page.Items)
		if len(page.Items) == 0 {
			break
		}
	}
	return vecs, conns, nil
}

// Insert adds or replaces a noun's vector and metadata. Every node whose
// neighbor list the in-memory insert touched is re-persisted in the same
// call, so a reader hitting storage mid-update never sees a torn graph
// spread across two inconsistent writes for the same insert.
//
// If persistence fails the in-memory insert is rolled back (the node is
// tombstoned and immediately repaired out) before the error is returned,
// so a subsequent search behaves as if the insert had never happened.
func (e *Engine) Insert(ctx context.Context, id string, vector []float32, metadata model.Metadata) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	touched, err := e.nouns.Insert(id, vector)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	self := &model.Noun{ID: id, Vector: vector, Metadata: metadata, NounType: metadata.NounType()}
	if err := e.persistNouns(ctx, self, touched); err != nil {
		_ = e.nouns.Delete(id)
		e.nouns.Repair()
		return fmt.Errorf("engine: persisting noun %s: %w", id, err)
	}

	e.adapter.IncrementStatistic("noun", e.cfg.ServiceTag)
	return nil
}

// persistNouns rewrites self (the node that was just inserted or whose
// connections were just repaired) plus every other touched node's
// stored connections, leaving their vector/metadata untouched.
func (e *Engine) persistNouns(ctx context.Context, self *model.Noun, touched []string) error {
	snapshot := e.nouns.Snapshot()
	for _, id := range touched {
		if self != nil && id == self.ID {
			self.Connections = snapshot[id]
			if err := e.adapter.PutNoun(ctx, self); err != nil {
				return err
			}
			e.invalidateNoun(ctx, id)
			continue
		}
		existing, err := e.adapter.GetNoun(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}
		existing.Connections = snapshot[id]
		if err := e.adapter.PutNoun(ctx, existing); err != nil {
			return err
		}
		e.invalidateNoun(ctx, id)
	}
	return nil
}

func (e *Engine) invalidateNoun(ctx context.Context, id string) {
	if err := e.nounCache.Delete(ctx, id); err != nil {
		log.Printf("engine: invalidate noun cache %s: %v", id, err)
	}
}

// Delete removes a noun. Its node is tombstoned and immediately
// repaired so the stored connections of its former neighbors are
// rewritten before Delete returns, matching the no-dangling-reference
// invariant.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.nouns.Delete(id); err != nil {
		return err
	}
	touched := e.nouns.Repair()

	if err := e.adapter.DeleteNoun(ctx, id); err != nil {
		return fmt.Errorf("engine: deleting noun %s: %w", id, err)
	}
	e.invalidateNoun(ctx, id)

	if err := e.persistNouns(ctx, nil, touched); err != nil {
		return fmt.Errorf("engine: repersisting neighbors of deleted noun %s: %w", id, err)
	}
	e.adapter.DecrementStatistic("noun", e.cfg.ServiceTag)
	return nil
}

// Search runs a k-nearest-neighbor query against the noun index,
// applying filter at admission time only.
func (e *Engine) Search(query []float32, topK int, filter hnsw.Filter) ([]hnsw.Match, error) {
	return e.nouns.Search(query, topK, filter)
}

// Get fetches a noun by id, consulting the cache before storage.
func (e *Engine) Get(ctx context.Context, id string) (*model.Noun, error) {
	if blob, ok, err := e.nounCache.Get(ctx, id); err == nil && ok {
		n, decodeErr := decodeNoun(blob)
		if decodeErr == nil {
			return n, nil
		}
	}
	n, err := e.adapter.GetNoun(ctx, id)
	if err != nil || n == nil {
		return n, err
	}
	if blob, encErr := encodeNoun(n); encErr == nil {
		_ = e.nounCache.Put(ctx, id, blob)
	}
	return n, nil
}

// FindSimilar returns the k nearest nouns to an already-indexed noun,
// excluding the noun itself.
func (e *Engine) FindSimilar(ctx context.Context, id string, k int) ([]hnsw.Match, error) {
	n, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("engine: noun %s not found", id)
	}
	matches, err := e.nouns.Search(n.Vector, k+1, func(candidateID string) bool { return candidateID != id })
	if err != nil {
		return nil, err
	}
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// AddVerb creates a typed, independently-vectorized edge between two
// nouns and returns its generated id. Verbs are tolerated dangling; this
// engine does not validate that sourceID/targetID refer to live nouns.
func (e *Engine) AddVerb(ctx context.Context, sourceID, targetID, verbType string, weight float64, vector []float32, metadata map[string]any) (string, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	id := uuid.NewString()
	if weight == 0 {
		weight = model.DefaultWeight
	}

	touched, err := e.verbs.Insert(id, vector)
	if err != nil {
		return "", fmt.Errorf("engine: %w", err)
	}

	v := &model.Verb{
		ID: id, SourceID: sourceID, TargetID: targetID, Type: verbType,
		Weight: weight, Vector: vector, Metadata: metadata,
	}
	if err := e.persistVerb(ctx, v, touched); err != nil {
		_ = e.verbs.Delete(id)
		e.verbs.Repair()
		return "", fmt.Errorf("engine: persisting verb: %w", err)
	}

	e.adapter.IncrementStatistic("verb", e.cfg.ServiceTag)
	return id, nil
}

func (e *Engine) persistVerb(ctx context.Context, v *model.Verb, touched []string) error {
	snapshot := e.verbs.Snapshot()
	if v != nil {
		v.Connections = snapshot[v.ID]
		if err := e.adapter.PutVerb(ctx, v); err != nil {
			return err
		}
	}
	for _, id := range touched {
		if v != nil && id == v.ID {
			continue
		}
		existing, err := e.adapter.GetVerb(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}
		existing.Connections = snapshot[id]
		if err := e.adapter.PutVerb(ctx, existing); err != nil {
			return err
		}
	}
	return nil
}

// DeleteVerb removes a verb edge. Deleting a verb never cascades to the
// nouns it connects. Any verb whose neighbor list the repair pass rewrote
// is re-persisted before DeleteVerb returns, matching the noun delete path.
func (e *Engine) DeleteVerb(ctx context.Context, id string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.verbs.Delete(id); err != nil {
		return err
	}
	touched := e.verbs.Repair()

	if err := e.adapter.DeleteVerb(ctx, id); err != nil {
		return fmt.Errorf("engine: deleting verb %s: %w", id, err)
	}

	if err := e.persistVerb(ctx, nil, touched); err != nil {
		return fmt.Errorf("engine: repersisting neighbors of deleted verb %s: %w", id, err)
	}
	e.adapter.DecrementStatistic("verb", e.cfg.ServiceTag)
	return nil
}

// ListNouns and ListVerbs delegate to the storage adapter's paginated,
// filtered listing.
func (e *Engine) ListNouns(ctx context.Context, p adapter.Pagination, f adapter.Filter) (adapter.Page[*model.Noun], error) {
	return e.adapter.ListNouns(ctx, p, f)
}

func (e *Engine) ListVerbs(ctx context.Context, p adapter.Pagination, f adapter.Filter) (adapter.Page[*model.Verb], error) {
	return e.adapter.ListVerbs(ctx, p, f)
}

// Status reports index sizes and accumulated statistics.
type Status struct {
	NounCount      int
	VerbCount      int
	NounTombstones int
	VerbTombstones int
	Statistics     model.Statistics
}

// CacheStats reports hit/miss/eviction counters for the noun and verb
// caches, for callers building a status readout.
func (e *Engine) CacheStats() (noun, verb cache.Counters) {
	return e.nounCache.Stats(), e.verbCache.Stats()
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	stats, err := e.adapter.GetStatistics(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		NounCount:      e.nouns.Len(),
		VerbCount:      e.verbs.Len(),
		NounTombstones: e.nouns.Tombstones(),
		VerbTombstones: e.verbs.Tombstones(),
		Statistics:     stats,
	}, nil
}

// Clear drops both in-memory indexes and the L1 tier of both caches. It
// does not touch
// storage; callers that want a durable wipe issue deletes through the
// adapter first.
func (e *Engine) Clear() {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	hcfg := hnsw.Config{
		Dim: e.cfg.Dim, Distance: e.cfg.Distance, M: e.cfg.M, MMax0: e.cfg.MMax0,
		EfConstruction: e.cfg.EfConstruction, EfSearch: e.cfg.EfSearch, Seed: e.cfg.Seed,
	}
	e.nouns = hnsw.New(hcfg)
	e.verbs = hnsw.New(hcfg)
	e.nounCache.Clear()
	e.verbCache.Clear()
}

// Shutdown flushes pending statistics and releases the adapter.
func (e *Engine) Shutdown() error {
	return e.adapter.Close()
}
