// Package hnsw implements a Hierarchical Navigable Small World graph: an
// arena-backed approximate nearest-neighbor index supporting insert,
// delete, and filtered search over dense float32 vectors.
//
// Deleted nodes are tombstoned rather than spliced out immediately, so
// concurrent readers never observe a half-updated neighbor list; a
// separate repair pass reclaims tombstoned slots by locally
// re-exploring the neighborhoods they left behind.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/nounverb/nvdb/pkg/distance"
	"github.com/nounverb/nvdb/pkg/model"
)

// Config configures a new [Graph].
type Config struct {
	// Dim is the vector dimension. Required; must be positive.
	Dim int

	// Distance selects the metric used to compare vectors. The zero
	// value resolves to cosine distance.
	Distance distance.Kind

	// M is the maximum number of connections per node at every layer
	// above 0. Default: 16.
	M int

	// MMax0 is the maximum number of connections per node at layer 0.
	// Default: 2*M, matching the original HNSW paper's recommendation.
	MMax0 int

	// EfConstruction is the size of the dynamic candidate list used
	// while building the graph. Default: 200.
	EfConstruction int

	// EfSearch is the default size of the dynamic candidate list used
	// while searching. Default: 50.
	EfSearch int

	// Seed makes level assignment reproducible across runs with the
	// same insertion order. Zero means "seed from a random source".
	Seed uint64
}

func (c *Config) setDefaults() {
	if c.M < 2 {
		c.M = 16
	}
	if c.MMax0 <= 0 {
		c.MMax0 = c.M * 2
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
}

func (c *Config) maxConns(layer int) int {
	if layer == 0 {
		return c.MMax0
	}
	return c.M
}

// Match is a single result from a similarity search.
type Match struct {
	ID       string
	Distance float32
}

// Filter, when non-nil, restricts which ids a [Graph.Search] admits into
// its result set. The graph still traverses through ids the filter
// rejects, so filtering never fragments the navigable structure.
type Filter func(id string) bool

// distItem pairs a node's internal ID with its distance to a query vector.
type distItem struct {
	id   uint32
	dist float32
}

type minDistHeap []distItem

func (h minDistHeap) Len() int           { return len(h) }
func (h minDistHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *minDistHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxDistHeap []distItem

func (h maxDistHeap) Len() int           { return len(h) }
func (h maxDistHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *maxDistHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// node is a single vector in the graph arena.
type node struct {
	id        string
	vector    []float32
	level     int
	friends   [][]uint32
	tombstone bool
}

// Graph is a Hierarchical Navigable Small World index.
//
// Nodes live in a dense arena slice; deletions tombstone the slot rather
// than freeing it immediately, and neighbor lists are always replaced
// wholesale (never mutated element-by-element) so a concurrent reader
// holding an old slice reference never observes a torn update.
type Graph struct {
	mu   sync.RWMutex
	cfg  Config
	dist distance.Func
	rng  *rand.Rand

	nodes    []*node
	idMap    map[string]uint32
	entryID  int32
	maxLevel int
	count    int // active, non-tombstoned nodes
	free     []uint32
	levelMul float64

	tombstones int
}

// New creates an empty Graph. Panics if cfg.Dim is not positive or the
// configured distance kind is unrecognized.
func New(cfg Config) *Graph {
	if cfg.Dim <= 0 {
		panic("hnsw: Config.Dim must be positive")
	}
	cfg.setDefaults()
	fn, err := distance.Resolve(cfg.Distance)
	if err != nil {
		panic(err)
	}
	var src *rand.Rand
	if cfg.Seed != 0 {
		src = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	} else {
		src = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Graph{
		cfg:      cfg,
		dist:     fn,
		rng:      src,
		idMap:    make(map[string]uint32),
		entryID:  -1,
		levelMul: 1.0 / math.Log(float64(cfg.M)),
	}
}

// SetEfSearch adjusts the search-time candidate list size.
func (g *Graph) SetEfSearch(ef int) {
	g.mu.Lock()
	g.cfg.EfSearch = ef
	g.mu.Unlock()
}

// Len returns the number of live (non-tombstoned) vectors in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	n := g.count
	g.mu.RUnlock()
	return n
}

// ---------------------------------------------------------------------------
// Insert
// ---------------------------------------------------------------------------

// Insert adds or replaces a vector with the given ID. It returns the ids
// of every node whose persisted neighbor list needs rewriting as a
// result: the inserted node itself, plus any existing neighbor whose
// list gained (or was pruned to make room for) the new node.
func (g *Graph) Insert(id string, vector []float32) ([]string, error) {
	if len(vector) != g.cfg.Dim {
		return nil, fmt.Errorf("hnsw: dimension mismatch: got %d, want %d", len(vector), g.cfg.Dim)
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	g.mu.Lock()
	defer g.mu.Unlock()

	if oldIdx, ok := g.idMap[id]; ok {
		g.hardRemoveLocked(oldIdx)
	}

	var idx uint32
	if n := len(g.free); n > 0 {
		idx = g.free[n-1]
		g.free = g.free[:n-1]
	} else {
		idx = uint32(len(g.nodes))
		g.nodes = append(g.nodes, nil)
	}

	level := g.randomLevel()
	nd := &node{id: id, vector: vec, level: level, friends: make([][]uint32, level+1)}
	g.nodes[idx] = nd
	g.idMap[id] = idx
	g.count++

	touched := []string{id}

	if g.entryID < 0 {
		g.entryID = int32(idx)
		g.maxLevel = level
		return touched, nil
	}

	cur := uint32(g.entryID)
	curDist := g.dist(vec, g.nodes[cur].vector)
	for lev := g.maxLevel; lev > level; lev-- {
		cur, curDist = g.greedyStep(vec, cur, curDist, lev)
	}

	topInsert := min(level, g.maxLevel)
	ep := []uint32{cur}
	for lev := topInsert; lev >= 0; lev-- {
		candidates := g.searchLayer(vec, ep, g.cfg.EfConstruction, lev)
		maxC := g.cfg.maxConns(lev)
		neighbors := g.selectNeighborsHeuristic(vec, candidates, maxC)
		nd.friends[lev] = neighbors

		for _, nID := range neighbors {
			nn := g.nodes[nID]
			if nn == nil || lev >= len(nn.friends) {
				continue
			}
			updated := append(append([]uint32(nil), nn.friends[lev]...), idx)
			if len(updated) > maxC {
				updated = g.selectNeighborsHeuristic(nn.vector, updated, maxC)
			}
			nn.friends[lev] = updated
			touched = append(touched, nn.id)
		}
		ep = candidates
	}

	if level > g.maxLevel {
		g.entryID = int32(idx)
		g.maxLevel = level
	}
	return touched, nil
}

// greedyStep performs one ef=1 greedy walk at a single layer, returning
// the closest node reached and its distance.
func (g *Graph) greedyStep(query []float32, cur uint32, curDist float32, lev int) (uint32, float32) {
	changed := true
	for changed {
		changed = false
		curNode := g.nodes[cur]
		if curNode == nil || lev >= len(curNode.friends) {
			break
		}
		for _, fID := range curNode.friends[lev] {
			fn := g.nodes[fID]
			if fn == nil {
				continue
			}
			d := g.dist(query, fn.vector)
			if d < curDist {
				cur, curDist, changed = fID, d, true
			}
		}
	}
	return cur, curDist
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

// Search returns the top-k nearest live vectors to query, ordered by
// ascending distance. filter, if non-nil, is consulted only when
// admitting a candidate into the returned result set — traversal still
// passes through filtered-out nodes so the search can reach vectors on
// the far side of a filtered region.
func (g *Graph) Search(query []float32, topK int, filter Filter) ([]Match, error) {
	if len(query) != g.cfg.Dim {
		return nil, fmt.Errorf("hnsw: dimension mismatch: got %d, want %d", len(query), g.cfg.Dim)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.count == 0 || topK <= 0 {
		return nil, nil
	}

	ef := g.cfg.EfSearch
	if ef < topK {
		ef = topK
	}

	cur := uint32(g.entryID)
	entry := g.nodes[cur]
	if entry == nil {
		return nil, nil
	}
	curDist := g.dist(query, entry.vector)
	for lev := g.maxLevel; lev > 0; lev-- {
		cur, curDist = g.greedyStep(query, cur, curDist, lev)
	}

	candidateIDs := g.searchLayerFiltered(query, []uint32{cur}, ef, 0, filter)

	type scored struct {
		id   string
		dist float32
	}
	results := make([]scored, 0, len(candidateIDs))
	for _, cID := range candidateIDs {
		nd := g.nodes[cID]
		if nd == nil || nd.tombstone {
			continue
		}
		if filter != nil && !filter(nd.id) {
			continue
		}
		results = append(results, scored{id: nd.id, dist: g.dist(query, nd.vector)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].dist != results[j].dist {
			return results[i].dist < results[j].dist
		}
		return results[i].id < results[j].id
	})
	if len(results) > topK {
		results = results[:topK]
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: r.id, Distance: r.dist}
	}
	return matches, nil
}

// searchLayer performs a plain beam search at a single layer, visiting
// tombstoned nodes (they still carry valid edges) but never admitting
// them into the returned set.
func (g *Graph) searchLayer(query []float32, entryPoints []uint32, ef, layer int) []uint32 {
	return g.searchLayerFiltered(query, entryPoints, ef, layer, nil)
}

// searchLayerFiltered is searchLayer with an optional admission filter
// applied only to the result heap, not to traversal.
func (g *Graph) searchLayerFiltered(query []float32, entryPoints []uint32, ef, layer int, filter Filter) []uint32 {
	visited := make(map[uint32]struct{}, ef*2)
	var candidates minDistHeap
	var results maxDistHeap

	admit := func(id uint32, nd *node, d float32) {
		if nd.tombstone {
			return
		}
		if filter != nil && !filter(nd.id) {
			return
		}
		if results.Len() < ef || d < results[0].dist {
			heap.Push(&results, distItem{id: id, dist: d})
			if results.Len() > ef {
				heap.Pop(&results)
			}
		}
	}

	for _, ep := range entryPoints {
		nd := g.nodes[ep]
		if nd == nil {
			continue
		}
		visited[ep] = struct{}{}
		d := g.dist(query, nd.vector)
		heap.Push(&candidates, distItem{id: ep, dist: d})
		admit(ep, nd, d)
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(&candidates).(distItem)
		if results.Len() >= ef && closest.dist > results[0].dist {
			break
		}

		nd := g.nodes[closest.id]
		if nd == nil || layer >= len(nd.friends) {
			continue
		}
		for _, fID := range nd.friends[layer] {
			if _, seen := visited[fID]; seen {
				continue
			}
			visited[fID] = struct{}{}
			fn := g.nodes[fID]
			if fn == nil {
				continue
			}
			d := g.dist(query, fn.vector)
			// Tombstoned nodes are always queued so the beam keeps reaching
			// past them; filtered-out nodes are queued on the same distance
			// test as any other node. The filter only gates admission.
			if results.Len() < ef || d < results[0].dist || fn.tombstone {
				heap.Push(&candidates, distItem{id: fID, dist: d})
			}
			admit(fID, fn, d)
		}
	}

	out := make([]uint32, results.Len())
	for i := range out {
		out[i] = results[i].id
	}
	return out
}

// selectNeighborsHeuristic implements the HNSW heuristic selection rule:
// a candidate is kept only if it is closer to the query than it is to
// every neighbor already chosen, which favors spread over raw proximity
// and keeps the graph navigable. If the heuristic keeps fewer than M/2
// candidates, the remainder is filled in by plain nearest-distance order.
func (g *Graph) selectNeighborsHeuristic(query []float32, candidates []uint32, maxN int) []uint32 {
	type scored struct {
		id    uint32
		strID string
		dist  float32
	}
	items := make([]scored, 0, len(candidates))
	seen := make(map[uint32]struct{}, len(candidates))
	for _, cID := range candidates {
		if _, dup := seen[cID]; dup {
			continue
		}
		seen[cID] = struct{}{}
		nd := g.nodes[cID]
		if nd == nil {
			continue
		}
		items = append(items, scored{id: cID, strID: nd.id, dist: g.dist(query, nd.vector)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		return items[i].strID < items[j].strID
	})

	chosen := make([]uint32, 0, maxN)
	chosenVecs := make([][]float32, 0, maxN)
	var leftover []scored
	for _, it := range items {
		if len(chosen) >= maxN {
			break
		}
		nd := g.nodes[it.id]
		keep := true
		for _, cv := range chosenVecs {
			if g.dist(nd.vector, cv) < it.dist {
				keep = false
				break
			}
		}
		if keep {
			chosen = append(chosen, it.id)
			chosenVecs = append(chosenVecs, nd.vector)
		} else {
			leftover = append(leftover, it)
		}
	}

	half := maxN / 2
	if len(chosen) < half {
		for _, it := range leftover {
			if len(chosen) >= maxN {
				break
			}
			already := false
			for _, c := range chosen {
				if c == it.id {
					already = true
					break
				}
			}
			if !already {
				chosen = append(chosen, it.id)
			}
		}
	}
	return chosen
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

// Delete tombstones a vector by ID. The node's edges remain in place
// until [Graph.Repair] reclaims the slot, so concurrent searches keep a
// consistent view of the graph's connectivity throughout the call.
// No error if id does not exist.
func (g *Graph) Delete(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.idMap[id]
	if !ok {
		return nil
	}
	nd := g.nodes[idx]
	if nd == nil || nd.tombstone {
		return nil
	}
	nd.tombstone = true
	delete(g.idMap, id)
	g.count--
	g.tombstones++
	return nil
}

// Tombstones reports how many tombstoned nodes are awaiting repair.
func (g *Graph) Tombstones() int {
	g.mu.RLock()
	n := g.tombstones
	g.mu.RUnlock()
	return n
}

// Repair reclaims tombstoned slots. For each tombstoned node it locally
// re-explores the neighborhood each of its neighbors lost access
// through, reconnecting them via the heuristic selector so the graph
// does not accumulate dead ends around deletion-heavy regions, then
// frees the slot for reuse. It returns the ids of every surviving node
// whose neighbor lists were rewritten, so a caller persisting topology
// to storage knows exactly which records need rewriting.
func (g *Graph) Repair() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	touched := make(map[string]struct{})
	for idx, nd := range g.nodes {
		if nd == nil || !nd.tombstone {
			continue
		}
		g.repairAroundLocked(uint32(idx), nd, touched)
		g.nodes[idx] = nil
		g.free = append(g.free, uint32(idx))
		g.tombstones--
		if g.entryID == int32(idx) {
			g.findNewEntryLocked()
		}
	}

	out := make([]string, 0, len(touched))
	for id := range touched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// repairAroundLocked removes the tombstoned node from every adjacency
// list that references it, then, for each of its own neighbors, explores
// that neighbor's remaining neighborhood plus the tombstoned node's other
// neighbors to find a replacement connection. Every node whose list
// changes is recorded in touched.
func (g *Graph) repairAroundLocked(idx uint32, nd *node, touched map[string]struct{}) {
	for lev := 0; lev <= nd.level && lev < len(nd.friends); lev++ {
		victims := nd.friends[lev]
		for _, fID := range victims {
			fn := g.nodes[fID]
			if fn == nil || lev >= len(fn.friends) {
				continue
			}
			fn.friends[lev] = removeFrom(fn.friends[lev], idx)
			touched[fn.id] = struct{}{}

			maxC := g.cfg.maxConns(lev)
			if len(fn.friends[lev]) >= maxC {
				continue
			}
			// Local exploration: candidate pool is the sibling set that
			// shared the deleted node as a neighbor, since those vectors
			// are already known to be nearby.
			pool := make([]uint32, 0, len(victims)+len(fn.friends[lev]))
			pool = append(pool, fn.friends[lev]...)
			for _, sibling := range victims {
				if sibling != fID {
					pool = append(pool, sibling)
				}
			}
			fn.friends[lev] = g.selectNeighborsHeuristic(fn.vector, pool, maxC)
		}
	}
	// A node can hold a one-way edge to the tombstoned node without being
	// in its lists; sweep those too so no list keeps the freed slot.
	for _, other := range g.nodes {
		if other == nil || other == nd {
			continue
		}
		for lev, friends := range other.friends {
			if pruned := removeFrom(friends, idx); len(pruned) != len(friends) {
				other.friends[lev] = pruned
				touched[other.id] = struct{}{}
			}
		}
	}
}

// hardRemoveLocked immediately splices a node out of the graph. Used
// only when Insert replaces an existing id, where there is no
// concurrent-read hazard to avoid: the id is about to be re-inserted
// under a new internal slot in the same critical section.
func (g *Graph) hardRemoveLocked(idx uint32) {
	nd := g.nodes[idx]
	if nd == nil {
		return
	}
	for lev := 0; lev <= nd.level && lev < len(nd.friends); lev++ {
		for _, fID := range nd.friends[lev] {
			fn := g.nodes[fID]
			if fn == nil || lev >= len(fn.friends) {
				continue
			}
			fn.friends[lev] = removeFrom(fn.friends[lev], idx)
		}
	}
	delete(g.idMap, nd.id)
	if !nd.tombstone {
		g.count--
	} else {
		g.tombstones--
	}
	g.nodes[idx] = nil
	g.free = append(g.free, idx)
	if g.entryID == int32(idx) {
		g.findNewEntryLocked()
	}
}

func (g *Graph) findNewEntryLocked() {
	if g.count == 0 {
		g.entryID = -1
		g.maxLevel = 0
		return
	}
	best := int32(-1)
	bestLevel := -1
	for i, nd := range g.nodes {
		if nd != nil && !nd.tombstone && nd.level > bestLevel {
			best = int32(i)
			bestLevel = nd.level
		}
	}
	g.entryID = best
	g.maxLevel = bestLevel
}

// randomLevel draws a layer assignment using the formula from the
// original HNSW paper: level = floor(-ln(U) * m_L), where U is uniform
// on (0,1] and m_L = 1/ln(M). Most nodes land on layer 0; higher layers
// are exponentially rarer.
func (g *Graph) randomLevel() int {
	u := max(g.rng.Float64(), math.SmallestNonzeroFloat64)
	level := int(math.Floor(-math.Log(u) * g.levelMul))
	if level > 31 {
		level = 31
	}
	return level
}

func removeFrom(s []uint32, val uint32) []uint32 {
	out := make([]uint32, 0, len(s))
	for _, v := range s {
		if v != val {
			out = append(out, v)
		}
	}
	return out
}

// Snapshot returns a deterministic, JSON-ready view of every live node's
// adjacency, keyed by id, suitable for persisting via [model.Connections].
func (g *Graph) Snapshot() map[string]model.Connections {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]model.Connections, g.count)
	for _, nd := range g.nodes {
		if nd == nil || nd.tombstone {
			continue
		}
		conns := make(model.Connections, len(nd.friends))
		for lev, friends := range nd.friends {
			ids := make([]string, 0, len(friends))
			for _, fID := range friends {
				fn := g.nodes[fID]
				if fn != nil && !fn.tombstone {
					ids = append(ids, fn.id)
				}
			}
			conns[lev] = ids
		}
		out[nd.id] = conns
	}
	return out
}

// Restore rebuilds the graph's adjacency from a previously captured
// Snapshot plus each id's vector, bypassing the incremental Insert
// algorithm. The caller must supply vectors for exactly the ids present
// in conns.
func Restore(cfg Config, vectors map[string][]float32, conns map[string]model.Connections) (*Graph, error) {
	g := New(cfg)
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, vec := range vectors {
		if len(vec) != cfg.Dim {
			return nil, fmt.Errorf("hnsw: restore: dimension mismatch for %q: got %d, want %d", id, len(vec), cfg.Dim)
		}
		c := conns[id]
		level := 0
		for lev := range c {
			if lev > level {
				level = lev
			}
		}
		cp := make([]float32, len(vec))
		copy(cp, vec)
		idx := uint32(len(g.nodes))
		g.nodes = append(g.nodes, &node{id: id, vector: cp, level: level, friends: make([][]uint32, level+1)})
		g.idMap[id] = idx
		g.count++
		if level > g.maxLevel || g.entryID < 0 {
			g.entryID = int32(idx)
			g.maxLevel = level
		}
	}
	for id, c := range conns {
		idx := g.idMap[id]
		nd := g.nodes[idx]
		for lev, ids := range c {
			if lev >= len(nd.friends) {
				continue
			}
			friends := make([]uint32, 0, len(ids))
			for _, fid := range ids {
				if fIdx, ok := g.idMap[fid]; ok {
					friends = append(friends, fIdx)
				}
			}
			nd.friends[lev] = friends
		}
	}
	return g, nil
}
