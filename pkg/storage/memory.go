package storage

import (
	"context"
	"iter"
	"sort"
	"strings"
	"sync"
)

// Memory is a Backend implementation backed by a process-local map. It is
// used for tests and for embedded deployments that need no durability.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemory creates an empty in-memory Backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, ns, id string, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[ns]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[ns] = bucket
	}
	bucket[id] = cp
	return nil
}

func (m *Memory) Get(_ context.Context, ns, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket, ok := m.data[ns]
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

func (m *Memory) Delete(_ context.Context, ns, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bucket, ok := m.data[ns]; ok {
		delete(bucket, id)
	}
	return nil
}

func (m *Memory) List(_ context.Context, ns, prefix string) iter.Seq2[Entry, error] {
	m.mu.RLock()
	var ids []string
	bucket := m.data[ns]
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
	m.mu.RUnlock()

	return func(yield func(Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *Memory) EstimateUsage(context.Context) (Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var used int64
	for _, bucket := range m.data {
		for _, v := range bucket {
			used += int64(len(v))
		}
	}
	return Usage{UsedBytes: used, QuotaBytes: UnknownQuota}, nil
}
