// Package graph provides neighbor and multi-hop traversal over the verb
// edges between nouns, built directly on top of pkg/adapter's verb
// listing rather than a dedicated edge index. A verb connects a source
// noun to a target noun and is itself an independently vectorized,
// independently searchable entity; this package only concerns itself
// with the directed-edge structure those verbs form.
package graph

import (
	"context"
	"sort"

	"github.com/nounverb/nvdb/pkg/adapter"
)

// Traversal answers neighbor and multi-hop expansion queries over the
// verb edges stored through an adapter. It holds no state of its own;
// every call reads through to the adapter's verb indexes.
type Traversal struct {
	adapter *adapter.Adapter
}

// New returns a Traversal reading verbs through a.
func New(a *adapter.Adapter) *Traversal {
	return &Traversal{adapter: a}
}

// Neighbors returns the ids of nouns directly reachable from nounID via
// an outgoing verb, optionally restricted to one or more verb types.
// Direction follows the verb's sourceId -> targetId edge; dangling
// verbs (whose target no longer exists) still contribute their target
// id, since cascade-on-delete is explicitly out of scope.
func (t *Traversal) Neighbors(ctx context.Context, nounID string, verbTypes ...string) ([]string, error) {
	verbs, err := t.adapter.VerbsBySource(ctx, nounID)
	if err != nil {
		return nil, err
	}

	typeSet := make(map[string]struct{}, len(verbTypes))
	for _, vt := range verbTypes {
		typeSet[vt] = struct{}{}
	}
	filterType := len(typeSet) > 0

	seen := make(map[string]struct{}, len(verbs))
	for _, v := range verbs {
		if filterType {
			if _, ok := typeSet[v.Type]; !ok {
				continue
			}
		}
		seen[v.TargetID] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Expand performs breadth-first expansion from the given seed noun ids,
// following outgoing verb edges up to hops levels deep, and returns the
// full set of ids discovered (including the seeds). hops=0 returns just
// the seeds.
func (t *Traversal) Expand(ctx context.Context, seeds []string, hops int) ([]string, error) {
	visited := make(map[string]struct{}, len(seeds))
	for _, id := range seeds {
		visited[id] = struct{}{}
	}

	frontier := make([]string, len(seeds))
	copy(frontier, seeds)

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := t.Neighbors(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if _, ok := visited[n]; !ok {
					visited[n] = struct{}{}
					next = append(next, n)
				}
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
