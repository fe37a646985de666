package cache

import (
	"time"

	"golang.org/x/time/rate"
)

// Counters accumulates cache hit/miss/eviction counts since the cache
// was created. Tuner reads them but never resets them; hit ratios are
// computed from these cumulative totals.
type Counters struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

func (c Counters) total() uint64 { return c.Hits + c.Misses }

func (c Counters) hitRatio() (float64, bool) {
	t := c.total()
	if t < 100 {
		return 0, false
	}
	return float64(c.Hits) / float64(t), true
}

// WorkloadStats is optional signal sourced from storage, describing
// recent operation mix and corpus size. A zero value disables the rules
// that depend on it.
type WorkloadStats struct {
	Reads           uint64
	Updates         uint64
	Searches        uint64
	BulkOps         uint64
	TotalEntities   uint64 // noun + verb count, when known
	FreeMemoryBytes uint64 // 0 means unknown
}

func (w WorkloadStats) total() uint64 { return w.Reads + w.Updates + w.Searches + w.BulkOps }

func (w WorkloadStats) readRatio() (float64, bool) {
	t := w.total()
	if t == 0 {
		return 0, false
	}
	return float64(w.Reads+w.Searches) / float64(t), true
}

func (w WorkloadStats) updateRatio() (float64, bool) {
	t := w.total()
	if t == 0 {
		return 0, false
	}
	return float64(w.Updates) / float64(t), true
}

// Knobs are the controller's tunable outputs, each independently
// clamped to its documented range.
type Knobs struct {
	MaxSize            int
	EvictionThreshold  float64
	WarmTTL            time.Duration
	BatchSize          int
}

func defaultKnobs() Knobs {
	return Knobs{
		MaxSize:           1000,
		EvictionThreshold: 0.8,
		WarmTTL:           24 * time.Hour,
		BatchSize:         15,
	}
}

const bytesPerEntry = 1024

// tuner rescales Knobs from Counters and WorkloadStats, rate-limited so
// a caller invoking it on every get/getMany/prefetch still only recomputes
// at most once per interval. When autoTune is false it never recomputes:
// knobs stay pinned at whatever they were constructed with.
type tuner struct {
	limiter  *rate.Limiter
	knobs    Knobs
	autoTune bool
}

func newTuner(interval time.Duration, initial Knobs, autoTune bool) *tuner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &tuner{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		knobs:    initial,
		autoTune: autoTune,
	}
}

// maybeTune recomputes knobs if autoTune is enabled and the rate limiter
// allows it this call, otherwise returns the last knobs unchanged.
func (t *tuner) maybeTune(c Counters, w WorkloadStats) Knobs {
	if !t.autoTune || !t.limiter.Allow() {
		return t.knobs
	}
	t.knobs = compute(t.knobs, c, w)
	return t.knobs
}

// compute derives knobs from c and w alone, never from prev: prev exists
// only so a caller can see the previously active knobs between tune
// calls, not as an accumulator. Basing a rule's growth on prev's own
// already-tuned value would compound across repeated ticks even when c
// and w are unchanged, violating idempotence.
func compute(prev Knobs, c Counters, w WorkloadStats) Knobs {
	k := prev

	// max_size: base on free memory if known, else a fixed baseline.
	base := defaultKnobs().MaxSize
	if w.FreeMemoryBytes > 0 {
		base = int(w.FreeMemoryBytes / 10 / bytesPerEntry) // 10% of free RAM, 1KB/entry
	}
	if ratio, ok := c.hitRatio(); ok && ratio < 0.5 {
		base = int(float64(base) * (1 + (0.5 - ratio)))
	}
	if w.TotalEntities > 0 {
		upper := int(float64(w.TotalEntities) * 0.2)
		if base > upper {
			base = upper
		}
	}
	if base < 1000 {
		base = 1000
	}
	k.MaxSize = base

	// eviction_threshold: baseline 0.8, nudged by hit ratio and workload mix.
	threshold := 0.8
	if ratio, ok := c.hitRatio(); ok {
		if ratio > 0.8 {
			threshold = 0.9
		} else if ratio < 0.5 {
			threshold = 0.6
		}
	}
	if rr, ok := w.readRatio(); ok && rr > 0.8 {
		threshold += 0.05
	}
	if ur, ok := w.updateRatio(); ok && ur > 0.5 {
		threshold -= 0.1
	}
	k.EvictionThreshold = clamp(threshold, 0.6, 0.9)

	// warm_ttl: baseline 24h, shrinks toward 6h as updates dominate,
	// grows toward 48h as updates become rare.
	ttlHours := 24.0
	if ur, ok := w.updateRatio(); ok {
		switch {
		case ur > 0.3:
			ttlHours = 6
		case ur < 0.1:
			ttlHours = 48
		}
	}
	k.WarmTTL = clampDuration(time.Duration(ttlHours*float64(time.Hour)), 6*time.Hour, 48*time.Hour)

	// batch_size: fixed baseline, scaled by workload mix and hit ratio.
	batch := float64(defaultKnobs().BatchSize)
	if w.BulkOps > 0 && w.total() > 0 && float64(w.BulkOps)/float64(w.total()) > 0.3 {
		batch *= 1.5
	}
	if ratio, ok := c.hitRatio(); ok {
		if ratio > 0.8 {
			batch *= 0.8
		} else if ratio < 0.5 {
			batch *= 1.2
		}
	}
	k.BatchSize = int(clamp(batch, 5, 50))

	return k
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
