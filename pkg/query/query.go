// Package query is the top-level, language-neutral database facade:
// Open/Insert/Delete/Search/SearchText/Get/FindSimilar/AddVerb/
// DeleteVerb/ListNouns/ListVerbs/Status/Clear/Shutdown, implemented as
// idiomatic Go methods on DB over pkg/engine.
package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nounverb/nvdb/pkg/adapter"
	"github.com/nounverb/nvdb/pkg/cache"
	"github.com/nounverb/nvdb/pkg/config"
	"github.com/nounverb/nvdb/pkg/embed"
	"github.com/nounverb/nvdb/pkg/engine"
	"github.com/nounverb/nvdb/pkg/hnsw"
	"github.com/nounverb/nvdb/pkg/kv"
	"github.com/nounverb/nvdb/pkg/model"
	"github.com/nounverb/nvdb/pkg/storage"
)

// DB is a single nvdb instance: one noun index, one verb index, and the
// caches and storage backend they share.
type DB struct {
	cfg      config.Config
	engine   *engine.Engine
	embedder embed.Embedder
}

// Option configures optional collaborators at Open time.
type Option func(*openOptions)

type openOptions struct {
	embedder embed.Embedder
	warm     kv.Store
}

// WithEmbedder wires the collaborator SearchText delegates text-to-vector
// translation to. Without it, SearchText always fails with
// embed.ErrNotConfigured.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *openOptions) { o.embedder = e }
}

// WithWarmCache wires a kv.Store as the cache's L2 tier. Without it, the
// cache runs with only its in-process L1 tier over L3 storage.
func WithWarmCache(store kv.Store) Option {
	return func(o *openOptions) { o.warm = store }
}

// Open validates cfg, materializes its configured storage backend, and
// restores both HNSW indexes from it.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: "open", Err: err}
	}

	o := &openOptions{embedder: embed.Unconfigured()}
	for _, opt := range opts {
		opt(o)
	}

	backend, err := config.BuildStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: "open", Err: err}
	}
	backend = storage.WithRetry(backend)

	ecfg := engine.Config{
		Dim:            int(cfg.Dimensions),
		Distance:       cfg.Distance,
		M:              cfg.HNSW.M,
		MMax0:          cfg.HNSW.MMax0,
		EfConstruction: cfg.HNSW.EfConstruction,
		EfSearch:       cfg.HNSW.EfSearch,
		Seed:           cfg.HNSW.Seed,

		CacheMaxSize:           cfg.Cache.HotMaxSize,
		CacheEvictionThreshold: cfg.Cache.EvictionThreshold,
		CacheWarmTTL:           cfg.Cache.WarmTTL(),
		CacheBatchSize:         cfg.Cache.BatchSize,
		CacheAutoTune:          cfg.Cache.AutoTune,
	}
	eng, err := engine.Open(ctx, ecfg, backend, o.warm)
	if err != nil {
		return nil, &Error{Kind: KindInternalConsistency, Op: "open", Err: err}
	}

	return &DB{cfg: cfg, engine: eng, embedder: o.embedder}, nil
}

func (db *DB) checkWritable(op string) error {
	if db.cfg.ReadOnly {
		return readOnlyErr(op)
	}
	return nil
}

func (db *DB) checkDimension(op string, vector []float32) error {
	if len(vector) != int(db.cfg.Dimensions) {
		return invalidInput(op, fmt.Sprintf("vector has %d dims, want %d", len(vector), db.cfg.Dimensions))
	}
	return nil
}

// Insert adds vector with optional metadata under a generated id.
func (db *DB) Insert(ctx context.Context, vector []float32, metadata map[string]any) (string, error) {
	if err := db.checkWritable("insert"); err != nil {
		return "", err
	}
	if err := db.checkDimension("insert", vector); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := db.engine.Insert(ctx, id, vector, model.Metadata(metadata)); err != nil {
		return "", classifyStorageErr(ctx, "insert", err)
	}
	return id, nil
}

// Delete removes a noun by id. Deletion is idempotent: deleting an id
// that does not exist is not an error.
func (db *DB) Delete(ctx context.Context, id string) error {
	if err := db.checkWritable("delete"); err != nil {
		return err
	}
	if err := db.engine.Delete(ctx, id); err != nil {
		return classifyStorageErr(ctx, "delete", err)
	}
	return nil
}

// Search runs a k-nearest-neighbor query, optionally restricted by
// filter, and attaches each hit's stored metadata.
func (db *DB) Search(ctx context.Context, vector []float32, k int, filter *Filter) ([]Result, error) {
	if err := db.checkDimension("search", vector); err != nil {
		return nil, err
	}
	matches, err := db.engine.Search(vector, k, db.admissionFilter(ctx, filter))
	if err != nil {
		return nil, classifyStorageErr(ctx, "search", err)
	}
	return db.attachMetadata(ctx, matches)
}

// SearchText embeds text via the configured Embedder and runs Search
// against the resulting vector.
func (db *DB) SearchText(ctx context.Context, text string, k int, filter *Filter) ([]Result, error) {
	vector, err := db.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: "searchText", Err: err}
	}
	return db.Search(ctx, vector, k, filter)
}

// admissionFilter builds the hnsw.Filter closure Search passes to the
// graph, consulting the cache-backed noun record for each
// candidate the traversal admits.
func (db *DB) admissionFilter(ctx context.Context, filter *Filter) hnsw.Filter {
	if filter == nil {
		return nil
	}
	return func(id string) bool {
		n, err := db.engine.Get(ctx, id)
		if err != nil || n == nil {
			return false
		}
		return filter.matches(n.Metadata)
	}
}

func (db *DB) attachMetadata(ctx context.Context, matches []hnsw.Match) ([]Result, error) {
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		n, err := db.engine.Get(ctx, m.ID)
		if err != nil {
			return nil, classifyStorageErr(ctx, "search", err)
		}
		var meta map[string]any
		if n != nil {
			meta = n.Metadata
		}
		results = append(results, Result{ID: m.ID, Distance: m.Distance, Metadata: meta})
	}
	return results, nil
}

// Get fetches a noun by id, or (nil, nil) if it does not exist.
func (db *DB) Get(ctx context.Context, id string) (*model.Noun, error) {
	n, err := db.engine.Get(ctx, id)
	if err != nil {
		return nil, classifyStorageErr(ctx, "get", err)
	}
	return n, nil
}

// FindSimilar returns the k nearest nouns to an already-indexed noun,
// excluding the noun itself.
func (db *DB) FindSimilar(ctx context.Context, id string, k int) ([]Result, error) {
	matches, err := db.engine.FindSimilar(ctx, id, k)
	if err != nil {
		return nil, classifyStorageErr(ctx, "findSimilar", err)
	}
	return db.attachMetadata(ctx, matches)
}

// AddVerb creates a typed, independently-vectorized edge between two
// nouns. A nil weight defaults to model.DefaultWeight.
//
// The public API takes no vector for a verb, yet a verb is itself
// vectorized so it can be searched and ranked on its own; this facade
// derives it as the componentwise mean of its endpoints' vectors,
// falling back to whichever endpoint resolved (or the zero vector, for
// a verb dangling on both ends).
func (db *DB) AddVerb(ctx context.Context, sourceID, targetID, verbType string, weight *float64, metadata map[string]any) (string, error) {
	if err := db.checkWritable("addVerb"); err != nil {
		return "", err
	}
	w := 0.0
	if weight != nil {
		w = *weight
	}
	vector, err := db.verbVector(ctx, sourceID, targetID)
	if err != nil {
		return "", err
	}
	id, err := db.engine.AddVerb(ctx, sourceID, targetID, verbType, w, vector, metadata)
	if err != nil {
		return "", classifyStorageErr(ctx, "addVerb", err)
	}
	return id, nil
}

func (db *DB) verbVector(ctx context.Context, sourceID, targetID string) ([]float32, error) {
	src, err := db.engine.Get(ctx, sourceID)
	if err != nil {
		return nil, classifyStorageErr(ctx, "addVerb", err)
	}
	tgt, err := db.engine.Get(ctx, targetID)
	if err != nil {
		return nil, classifyStorageErr(ctx, "addVerb", err)
	}
	switch {
	case src != nil && tgt != nil:
		mean := make([]float32, db.cfg.Dimensions)
		for i := range mean {
			mean[i] = (src.Vector[i] + tgt.Vector[i]) / 2
		}
		return mean, nil
	case src != nil:
		return src.Vector, nil
	case tgt != nil:
		return tgt.Vector, nil
	default:
		return make([]float32, db.cfg.Dimensions), nil
	}
}

// DeleteVerb removes a verb edge. Deletion is idempotent.
func (db *DB) DeleteVerb(ctx context.Context, id string) error {
	if err := db.checkWritable("deleteVerb"); err != nil {
		return err
	}
	if err := db.engine.DeleteVerb(ctx, id); err != nil {
		return classifyStorageErr(ctx, "deleteVerb", err)
	}
	return nil
}

// ListNouns returns a page of nouns matching filter.
func (db *DB) ListNouns(ctx context.Context, page Pagination, filter NounFilter) (Page[model.Noun], error) {
	p, err := db.engine.ListNouns(ctx,
		adapter.Pagination{Offset: page.Offset, Limit: page.Limit, Cursor: page.Cursor},
		adapter.Filter{NounType: filter.NounType, Metadata: filter.Metadata},
	)
	if err != nil {
		return Page[model.Noun]{}, classifyStorageErr(ctx, "listNouns", err)
	}
	return mapPage(p, func(n *model.Noun) model.Noun { return *n }), nil
}

// ListVerbs returns a page of verbs matching filter.
func (db *DB) ListVerbs(ctx context.Context, page Pagination, filter VerbFilter) (Page[model.Verb], error) {
	p, err := db.engine.ListVerbs(ctx,
		adapter.Pagination{Offset: page.Offset, Limit: page.Limit, Cursor: page.Cursor},
		adapter.Filter{Source: filter.Source, Target: filter.Target, VerbType: filter.VerbType, Metadata: filter.Metadata},
	)
	if err != nil {
		return Page[model.Verb]{}, classifyStorageErr(ctx, "listVerbs", err)
	}
	return mapPage(p, func(v *model.Verb) model.Verb { return *v }), nil
}

func mapPage[T any](p adapter.Page[*T], deref func(*T) T) Page[T] {
	items := make([]T, len(p.Items))
	for i, it := range p.Items {
		items[i] = deref(it)
	}
	return Page[T]{Items: items, TotalCount: p.TotalCount, HasMore: p.HasMore, NextCursor: p.NextCursor}
}

// CacheStats reports hit/miss/eviction counters for the noun and verb
// cache tiers.
type CacheStats struct {
	Noun cache.Counters
	Verb cache.Counters
}

// Status reports the database's overall size, mode, and cache health.
type Status struct {
	Size        int
	ReadOnly    bool
	StorageType config.StorageKind
	CacheStats  CacheStats
	Statistics  model.Statistics
}

// Status returns the database's size, mode, and cache health.
func (db *DB) Status(ctx context.Context) (Status, error) {
	s, err := db.engine.Status(ctx)
	if err != nil {
		return Status{}, classifyStorageErr(ctx, "status", err)
	}
	nounStats, verbStats := db.engine.CacheStats()
	return Status{
		Size:        s.NounCount + s.VerbCount,
		ReadOnly:    db.cfg.ReadOnly,
		StorageType: db.cfg.Storage.Kind,
		CacheStats:  CacheStats{Noun: nounStats, Verb: verbStats},
		Statistics:  s.Statistics,
	}, nil
}

// Clear drops both in-memory indexes and the L1 tier of both caches. It
// does not touch storage.
func (db *DB) Clear(ctx context.Context) error {
	if err := db.checkWritable("clear"); err != nil {
		return err
	}
	db.engine.Clear()
	return nil
}

// Shutdown flushes pending statistics and releases the storage backend.
func (db *DB) Shutdown(ctx context.Context) error {
	if err := db.engine.Shutdown(); err != nil {
		return classifyStorageErr(ctx, "shutdown", err)
	}
	return nil
}
