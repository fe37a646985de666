// Package adapter layers nvdb's domain namespace conventions, pagination,
// and statistics bookkeeping on top of a raw [storage.Backend]. It is the
// only package that knows about the nouns/, verbs/, metadata/, and
// index/ key prefixes.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nounverb/nvdb/pkg/model"
	"github.com/nounverb/nvdb/pkg/storage"
)

const (
	nsNouns    = "nouns"
	nsVerbs    = "verbs"
	nsMetadata = "metadata"
	nsIndex    = "index"

	legacyStatsKey = "statistics"

	defaultLimit = 100
)

// Filter narrows listNouns/listVerbs to a single known index when it
// projects cleanly onto one; otherwise the adapter falls back to a
// bounded scan.
type Filter struct {
	NounType string
	Source   string
	Target   string
	VerbType string
	Metadata map[string]any
}

func (f Filter) matches(meta model.Metadata, v *model.Verb) bool {
	if f.NounType != "" && meta.NounType() != f.NounType {
		return false
	}
	if v != nil {
		if f.Source != "" && v.SourceID != f.Source {
			return false
		}
		if f.Target != "" && v.TargetID != f.Target {
			return false
		}
		if f.VerbType != "" && v.Type != f.VerbType {
			return false
		}
	}
	for k, want := range f.Metadata {
		if got, ok := meta[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// Pagination is the caller-facing paging request.
type Pagination struct {
	Offset int
	Limit  int
	Cursor string
}

func (p Pagination) limit() int {
	if p.Limit <= 0 {
		return defaultLimit
	}
	return p.Limit
}

// Page is the caller-facing paging response.
type Page[T any] struct {
	Items      []T
	TotalCount *int
	HasMore    bool
	NextCursor string
}

// Adapter is the domain-namespace layer over a raw storage.Backend.
type Adapter struct {
	backend storage.Backend
	stats   *statsCoalescer
}

// New wraps backend with the nvdb namespace conventions and starts the
// statistics coalescing scheduler. Call Close to stop the scheduler and
// flush any pending statistics.
func New(backend storage.Backend) *Adapter {
	a := &Adapter{backend: backend}
	a.stats = newStatsCoalescer(backend)
	return a
}

// Close stops the statistics scheduler, flushing any pending update.
func (a *Adapter) Close() error {
	return a.stats.close()
}

// ---------------------------------------------------------------------------
// Nouns
// ---------------------------------------------------------------------------

// nounRecord is the on-disk shape: the wire-format noun plus the metadata
// sidecar fields nvdb needs for filtering, stored in the same record as
// the vector.
type nounRecord struct {
	model.Noun
	Metadata model.Metadata `json:"metadata,omitempty"`
}

// PutNoun writes n's JSON representation to the flat nouns/ namespace
// and refreshes its by-type secondary index entry.
func (a *Adapter) PutNoun(ctx context.Context, n *model.Noun) error {
	rec := nounRecord{Noun: *n, Metadata: n.Metadata}
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("adapter: marshal noun %q: %w", n.ID, err)
	}
	if err := a.backend.Put(ctx, nsNouns, n.ID, blob); err != nil {
		return err
	}
	if t := n.Metadata.NounType(); t != "" {
		return a.backend.Put(ctx, nsIndex, nounTypeIndexKey(t, n.ID), nil)
	}
	return nil
}

// GetNoun reads a noun by id, tolerating the legacy per-type sharded
// layout (nouns/<type>/<id>) in addition to the current flat layout.
func (a *Adapter) GetNoun(ctx context.Context, id string) (*model.Noun, error) {
	blob, err := a.backend.Get(ctx, nsNouns, id)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		blob, err = a.getLegacySharded(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	if blob == nil {
		return nil, nil
	}
	var rec nounRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, &storage.Error{Kind: storage.KindMalformed, Op: "get-noun", Ns: nsNouns, ID: id, Err: err}
	}
	n := rec.Noun
	n.Metadata = rec.Metadata
	n.NounType = rec.Metadata.NounType()
	return &n, nil
}

// getLegacySharded scans the whole nouns/ namespace for a key of the
// form <type>/<id> and returns the first match's blob, per spec.md §9
// open question 1 (historical
// per-type directories must remain readable after the flat-layout
// migration).
func (a *Adapter) getLegacySharded(ctx context.Context, id string) ([]byte, error) {
	for e, err := range a.backend.List(ctx, nsNouns, "") {
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(e.ID, "/"+id) {
			return a.backend.Get(ctx, nsNouns, e.ID)
		}
	}
	return nil, nil
}

// DeleteNoun removes a noun's record and its secondary index entry.
// Idempotent.
func (a *Adapter) DeleteNoun(ctx context.Context, id string) error {
	if n, err := a.GetNoun(ctx, id); err == nil && n != nil {
		if t := n.Metadata.NounType(); t != "" {
			a.backend.Delete(ctx, nsIndex, nounTypeIndexKey(t, id))
		}
	}
	return a.backend.Delete(ctx, nsNouns, id)
}

func nounTypeIndexKey(nounType, id string) string { return "type/" + nounType + "/" + id }

// ListNouns pages through nouns matching filter, taking the fast index
// path when filter projects onto a single known noun type, or a bounded
// scan otherwise.
func (a *Adapter) ListNouns(ctx context.Context, p Pagination, f Filter) (Page[*model.Noun], error) {
	limit := p.limit()

	if f.NounType != "" && f.Source == "" && f.Target == "" && f.VerbType == "" {
		return a.listNounsByType(ctx, p, f, limit)
	}

	scanBudget := 10 * (p.Offset + limit + 1)
	var matched []*model.Noun
	truncated := false
	seen := 0
	for e, err := range a.backend.List(ctx, nsNouns, "") {
		if err != nil {
			return Page[*model.Noun]{}, err
		}
		if seen >= scanBudget {
			truncated = true
			break
		}
		seen++
		n, err := a.GetNoun(ctx, e.ID)
		if err != nil || n == nil {
			continue
		}
		if !f.matches(n.Metadata, nil) {
			continue
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return pageSlice(matched, p, limit, truncated), nil
}

// listNounsByType uses the type/<type>/ secondary index to touch only
// matching ids, bypassing a scan of the entire nouns/ namespace.
func (a *Adapter) listNounsByType(ctx context.Context, p Pagination, f Filter, limit int) (Page[*model.Noun], error) {
	var matched []*model.Noun
	for e, err := range a.backend.List(ctx, nsIndex, "type/"+f.NounType+"/") {
		if err != nil {
			return Page[*model.Noun]{}, err
		}
		id := e.ID[strings.LastIndex(e.ID, "/")+1:]
		n, err := a.GetNoun(ctx, id)
		if err != nil || n == nil {
			continue
		}
		if !f.matches(n.Metadata, nil) {
			continue
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return pageSlice(matched, p, limit, false), nil
}

// ---------------------------------------------------------------------------
// Verbs
// ---------------------------------------------------------------------------

// PutVerb writes v's JSON representation to the flat verbs/ namespace
// and refreshes its by-source/by-target/by-type secondary index entries.
func (a *Adapter) PutVerb(ctx context.Context, v *model.Verb) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("adapter: marshal verb %q: %w", v.ID, err)
	}
	if err := a.backend.Put(ctx, nsVerbs, v.ID, blob); err != nil {
		return err
	}
	for _, key := range verbIndexKeys(v) {
		if err := a.backend.Put(ctx, nsIndex, key, nil); err != nil {
			return err
		}
	}
	return nil
}

func verbIndexKeys(v *model.Verb) []string {
	keys := []string{
		"source/" + v.SourceID + "/" + v.ID,
		"target/" + v.TargetID + "/" + v.ID,
	}
	if v.Type != "" {
		keys = append(keys, "verbtype/"+v.Type+"/"+v.ID)
	}
	return keys
}

// GetVerb reads a verb by id.
func (a *Adapter) GetVerb(ctx context.Context, id string) (*model.Verb, error) {
	blob, err := a.backend.Get(ctx, nsVerbs, id)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	var v model.Verb
	if err := json.Unmarshal(blob, &v); err != nil {
		return nil, &storage.Error{Kind: storage.KindMalformed, Op: "get-verb", Ns: nsVerbs, ID: id, Err: err}
	}
	return &v, nil
}

// DeleteVerb removes a verb's record and its secondary index entries.
// Idempotent.
func (a *Adapter) DeleteVerb(ctx context.Context, id string) error {
	if v, err := a.GetVerb(ctx, id); err == nil && v != nil {
		for _, key := range verbIndexKeys(v) {
			a.backend.Delete(ctx, nsIndex, key)
		}
	}
	return a.backend.Delete(ctx, nsVerbs, id)
}

// ListVerbs pages through verbs matching filter, taking the fast index
// path when filter projects onto a single source, target, or verb type.
func (a *Adapter) ListVerbs(ctx context.Context, p Pagination, f Filter) (Page[*model.Verb], error) {
	limit := p.limit()

	if prefix, ok := verbIndexPrefix(f); ok {
		return a.listVerbsByIndex(ctx, p, f, limit, prefix)
	}

	scanBudget := 10 * (p.Offset + limit + 1)
	var matched []*model.Verb
	truncated := false
	seen := 0
	for e, err := range a.backend.List(ctx, nsVerbs, "") {
		if err != nil {
			return Page[*model.Verb]{}, err
		}
		if seen >= scanBudget {
			truncated = true
			break
		}
		seen++
		v, err := a.GetVerb(ctx, e.ID)
		if err != nil || v == nil {
			continue
		}
		if !f.matches(model.Metadata(v.Metadata), v) {
			continue
		}
		matched = append(matched, v)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return pageSlice(matched, p, limit, truncated), nil
}

// verbIndexPrefix reports the index/ prefix to scan when f projects onto
// exactly one of source, target, or verb type.
func verbIndexPrefix(f Filter) (string, bool) {
	switch {
	case f.Source != "" && f.Target == "" && f.VerbType == "":
		return "source/" + f.Source + "/", true
	case f.Target != "" && f.Source == "" && f.VerbType == "":
		return "target/" + f.Target + "/", true
	case f.VerbType != "" && f.Source == "" && f.Target == "":
		return "verbtype/" + f.VerbType + "/", true
	default:
		return "", false
	}
}

func (a *Adapter) listVerbsByIndex(ctx context.Context, p Pagination, f Filter, limit int, prefix string) (Page[*model.Verb], error) {
	var matched []*model.Verb
	for e, err := range a.backend.List(ctx, nsIndex, prefix) {
		if err != nil {
			return Page[*model.Verb]{}, err
		}
		id := e.ID[strings.LastIndex(e.ID, "/")+1:]
		v, err := a.GetVerb(ctx, id)
		if err != nil || v == nil {
			continue
		}
		if !f.matches(model.Metadata(v.Metadata), v) {
			continue
		}
		matched = append(matched, v)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return pageSlice(matched, p, limit, false), nil
}

// VerbsBySource lists every verb id with the given sourceId using the
// fast index path: a direct prefix scan instead of a full table scan.
func (a *Adapter) VerbsBySource(ctx context.Context, sourceID string) ([]*model.Verb, error) {
	page, err := a.ListVerbs(ctx, Pagination{Limit: 1 << 20}, Filter{Source: sourceID})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func pageSlice[T any](items []T, p Pagination, limit int, truncated bool) Page[T] {
	total := len(items)
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	page := Page[T]{Items: items[start:end]}
	if !truncated {
		n := total
		page.TotalCount = &n
	}
	page.HasMore = end < total
	if page.HasMore {
		page.NextCursor = fmt.Sprintf("%d", end)
	}
	return page
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

func statsKeyFor(t time.Time) string {
	return "statistics_" + t.UTC().Format("20060102")
}

// IncrementStatistic bumps a counter for (kind, serviceTag) and schedules
// a coalesced flush; it never blocks on storage.
func (a *Adapter) IncrementStatistic(kind, serviceTag string) {
	a.stats.increment(kind, serviceTag)
}

// DecrementStatistic lowers a counter for (kind, serviceTag) and schedules
// a coalesced flush; it never blocks on storage. A counter already at 0
// stays at 0.
func (a *Adapter) DecrementStatistic(kind, serviceTag string) {
	a.stats.decrement(kind, serviceTag)
}

// GetStatistics returns the in-memory cache if present, else reads
// today's persisted snapshot, then yesterday's, then the legacy key.
func (a *Adapter) GetStatistics(ctx context.Context) (model.Statistics, error) {
	if s, ok := a.stats.cached(); ok {
		return s, nil
	}
	now := time.Now()
	for _, key := range []string{statsKeyFor(now), statsKeyFor(now.Add(-24 * time.Hour)), legacyStatsKey} {
		blob, err := a.backend.Get(ctx, nsIndex, key)
		if err != nil {
			return model.Statistics{}, err
		}
		if blob == nil {
			continue
		}
		var s model.Statistics
		if err := json.Unmarshal(blob, &s); err != nil {
			return model.Statistics{}, &storage.Error{Kind: storage.KindMalformed, Op: "get-statistics", Ns: nsIndex, ID: key, Err: err}
		}
		return s, nil
	}
	return model.Statistics{}, nil
}
