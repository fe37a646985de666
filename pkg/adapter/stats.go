package adapter

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nounverb/nvdb/pkg/model"
	"github.com/nounverb/nvdb/pkg/storage"
)

const (
	minFlushInterval     = 5 * time.Second
	maxFlushHoldback     = 30 * time.Second
	legacyFlushFrequency = 10 // write the legacy key on ~1 in 10 flushes
)

// statsCoalescer accumulates incrementStatistic calls in memory and
// flushes them to storage on a single per-instance timer task, so a
// burst of counter updates produces at most one write per
// minFlushInterval and never waits longer than maxFlushHoldback.
type statsCoalescer struct {
	backend storage.Backend

	mu        sync.Mutex
	current   model.Statistics
	dirty     bool
	lastFlush time.Time
	flushAt   *time.Timer
	flushSeq  uint64

	closed chan struct{}
	wg     sync.WaitGroup
}

func newStatsCoalescer(backend storage.Backend) *statsCoalescer {
	return &statsCoalescer{
		backend: backend,
		current: model.Statistics{
			NounCount:     map[string]uint64{},
			VerbCount:     map[string]uint64{},
			MetadataCount: map[string]uint64{},
		},
		closed: make(chan struct{}),
	}
}

func (s *statsCoalescer) increment(kind, serviceTag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case "noun":
		s.current.NounCount[serviceTag]++
	case "verb":
		s.current.VerbCount[serviceTag]++
	case "metadata":
		s.current.MetadataCount[serviceTag]++
	}
	s.current.LastUpdated = time.Now()
	s.dirty = true
	s.scheduleLocked()
}

// decrement lowers a counter for (kind, serviceTag), clamped at 0 so a
// racing decrement-before-increment (or a double delete) never drives a
// count negative.
func (s *statsCoalescer) decrement(kind, serviceTag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m map[string]uint64
	switch kind {
	case "noun":
		m = s.current.NounCount
	case "verb":
		m = s.current.VerbCount
	case "metadata":
		m = s.current.MetadataCount
	default:
		return
	}
	if m[serviceTag] > 0 {
		m[serviceTag]--
	}
	s.current.LastUpdated = time.Now()
	s.dirty = true
	s.scheduleLocked()
}

// scheduleLocked arms the flush timer for the earlier of
// lastFlush+minFlushInterval and the original dirty time +
// maxFlushHoldback, so a steady stream of updates still flushes at
// least every maxFlushHoldback. Caller must hold s.mu.
func (s *statsCoalescer) scheduleLocked() {
	if s.flushAt != nil {
		return // already scheduled; coalesce into the pending flush
	}
	delay := minFlushInterval - time.Since(s.lastFlush)
	if delay < 0 {
		delay = 0
	}
	if delay > maxFlushHoldback {
		delay = maxFlushHoldback
	}
	s.flushAt = time.AfterFunc(delay, s.flushTick)
}

func (s *statsCoalescer) flushTick() {
	s.mu.Lock()
	s.flushAt = nil
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()
	_ = s.flush(context.Background())
}

func (s *statsCoalescer) flush(ctx context.Context) error {
	s.mu.Lock()
	snapshot := s.current.Clone()
	s.dirty = false
	s.lastFlush = time.Now()
	s.flushSeq++
	s.mu.Unlock()

	blob, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, nsIndex, statsKeyFor(time.Now()), blob); err != nil {
		return err
	}
	if rand.IntN(legacyFlushFrequency) == 0 {
		_ = s.backend.Put(ctx, nsIndex, legacyStatsKey, blob)
	}
	return nil
}

func (s *statsCoalescer) cached() (model.Statistics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFlush.IsZero() && !s.dirty {
		return model.Statistics{}, false
	}
	return s.current.Clone(), true
}

func (s *statsCoalescer) close() error {
	s.mu.Lock()
	if s.flushAt != nil {
		s.flushAt.Stop()
		s.flushAt = nil
	}
	dirty := s.dirty
	s.mu.Unlock()

	s.wg.Wait()
	if dirty {
		return s.flush(context.Background())
	}
	return nil
}
