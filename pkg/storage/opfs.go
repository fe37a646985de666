package storage

import (
	"context"
	"iter"
	"sort"
	"strings"
	"sync"
)

// OPFS implements Backend against a per-origin, quota-bounded store that
// mirrors the browser Origin Private File System model: a single logical
// root, no cross-origin visibility, and a hard byte ceiling enforced on
// Put. Embedding hosts that expose a real OPFS handle wire it in through
// the same Backend seam; this implementation is the in-process
// counterpart used outside a browser runtime.
type OPFS struct {
	mu       sync.RWMutex
	data     map[string]map[string][]byte
	used     int64
	quota    int64
	origin   string
}

// NewOPFS creates an OPFS-style Backend scoped to origin with a byte quota.
// A non-positive quota means unbounded (UnknownQuota is reported instead
// of a numeric ceiling).
func NewOPFS(origin string, quotaBytes int64) *OPFS {
	if quotaBytes <= 0 {
		quotaBytes = UnknownQuota
	}
	return &OPFS{
		data:   make(map[string]map[string][]byte),
		quota:  quotaBytes,
		origin: origin,
	}
}

func (o *OPFS) Put(_ context.Context, ns, id string, blob []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	bucket, ok := o.data[ns]
	if !ok {
		bucket = make(map[string][]byte)
		o.data[ns] = bucket
	}
	prevSize := int64(len(bucket[id]))
	newSize := int64(len(blob))

	if o.quota != UnknownQuota {
		projected := o.used - prevSize + newSize
		if projected > o.quota {
			return &Error{
				Kind: KindQuotaExceeded, Op: "put", Ns: ns, ID: id,
				Detail: "origin private storage quota exceeded",
			}
		}
	}

	cp := make([]byte, len(blob))
	copy(cp, blob)
	bucket[id] = cp
	o.used += newSize - prevSize
	return nil
}

func (o *OPFS) Get(_ context.Context, ns, id string) ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	bucket, ok := o.data[ns]
	if !ok {
		return nil, nil
	}
	v, ok := bucket[id]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (o *OPFS) Delete(_ context.Context, ns, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	bucket, ok := o.data[ns]
	if !ok {
		return nil
	}
	if v, ok := bucket[id]; ok {
		o.used -= int64(len(v))
		delete(bucket, id)
	}
	return nil
}

func (o *OPFS) List(_ context.Context, ns, prefix string) iter.Seq2[Entry, error] {
	o.mu.RLock()
	var ids []string
	bucket := o.data[ns]
	for id := range bucket {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	entries := make([]Entry, len(ids))
	for i, id := range ids {
		entries[i] = Entry{ID: id, Size: int64(len(bucket[id]))}
	}
	o.mu.RUnlock()

	return func(yield func(Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (o *OPFS) EstimateUsage(context.Context) (Usage, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Usage{
		UsedBytes:  o.used,
		QuotaBytes: o.quota,
		Details:    map[string]any{"origin": o.origin},
	}, nil
}
