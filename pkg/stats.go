package cache

// stats.go implements spec.md §8's stats model (C7): per-stripe counters
// for hits/misses/loads/evictions, aggregated on demand into a single
// Stats snapshot. Grounded on the teacher's pkg/cache.go statsSnapshot
// (atomic hit/miss/eviction counters read without locking the shard),
// widened with the load-success/failure/latency counters spec.md's
// CacheStats additionally names.
//
// © 2025 stripecache authors. MIT License.

import "sync/atomic"

// stripeStats holds one stripe's raw counters. All fields are atomics so
// the read path (get, which never takes the stripe lock) can update them
// without contention against a concurrent Stats() snapshot.
type stripeStats struct {
	hits         atomic.Int64
	misses       atomic.Int64
	loadSuccess  atomic.Int64
	loadFailure  atomic.Int64
	loadNanos    atomic.Int64
	evictions    atomic.Int64
}

func newStripeStats() *stripeStats { return &stripeStats{} }

func (s *stripeStats) recordHit()  { s.hits.Add(1) }
func (s *stripeStats) recordMiss() { s.misses.Add(1) }

func (s *stripeStats) recordLoad(success bool, nanos int64) {
	if success {
		s.loadSuccess.Add(1)
	} else {
		s.loadFailure.Add(1)
	}
	s.loadNanos.Add(nanos)
}

func (s *stripeStats) recordEviction() { s.evictions.Add(1) }

func (s *stripeStats) snapshot() Stats {
	return Stats{
		HitCount:         s.hits.Load(),
		MissCount:        s.misses.Load(),
		LoadSuccessCount: s.loadSuccess.Load(),
		LoadFailureCount: s.loadFailure.Load(),
		TotalLoadNanos:   s.loadNanos.Load(),
		EvictionCount:    s.evictions.Load(),
	}
}

// Stats is an immutable snapshot of cache-wide counters (spec.md §6:
// "stats() -> CacheStats"). It is the sum of every stripe's counters as
// observed at one point in time; because stripes are updated
// concurrently and without coordination, the snapshot is not atomic
// across stripes, matching spec.md §9's note that exact consistency
// here is not required.
type Stats struct {
	HitCount         int64
	MissCount        int64
	LoadSuccessCount int64
	LoadFailureCount int64
	TotalLoadNanos   int64
	EvictionCount    int64
}

// RequestCount is HitCount + MissCount.
func (s Stats) RequestCount() int64 { return s.HitCount + s.MissCount }

// HitRate is HitCount / RequestCount, or 1.0 when there have been no
// requests (spec.md §6: "hitRate() -> hits / (hits+misses), 1.0 if no
// requests").
func (s Stats) HitRate() float64 {
	total := s.RequestCount()
	if total == 0 {
		return 1.0
	}
	return float64(s.HitCount) / float64(total)
}

// MissRate is 1 - HitRate.
func (s Stats) MissRate() float64 { return 1 - s.HitRate() }

// AverageLoadPenalty is the mean nanoseconds spent inside the loader
// across every load attempt, success or failure.
func (s Stats) AverageLoadPenalty() float64 {
	loads := s.LoadSuccessCount + s.LoadFailureCount
	if loads == 0 {
		return 0
	}
	return float64(s.TotalLoadNanos) / float64(loads)
}

func (a Stats) plus(b Stats) Stats {
	return Stats{
		HitCount:         a.HitCount + b.HitCount,
		MissCount:        a.MissCount + b.MissCount,
		LoadSuccessCount: a.LoadSuccessCount + b.LoadSuccessCount,
		LoadFailureCount: a.LoadFailureCount + b.LoadFailureCount,
		TotalLoadNanos:   a.TotalLoadNanos + b.TotalLoadNanos,
		EvictionCount:    a.EvictionCount + b.EvictionCount,
	}
}
