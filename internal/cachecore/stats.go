package cachecore

import (
	"sync/atomic"

	"github.com/rcrowley/go-metrics"
)

// opTimers holds the per-cache latency histograms spec.md §3's bare
// counters are supplemented with (SPEC_FULL.md §10: "request latency
// histograms per cache"). Grounded directly on the teacher's load test
// (integration_test/load_test.go), which times get/set/del the same way
// against a go-metrics registry rather than hand-rolled duration buckets.
type opTimers struct {
	registry metrics.Registry
	get      metrics.Timer
	put      metrics.Timer
	del      metrics.Timer
}

func newOpTimers() *opTimers {
	reg := metrics.NewRegistry()
	return &opTimers{
		registry: reg,
		get:      metrics.NewRegisteredTimer("get", reg),
		put:      metrics.NewRegisteredTimer("put", reg),
		del:      metrics.NewRegisteredTimer("del", reg),
	}
}

// LatencySnapshot is the read-only view of one operation's timer.
type LatencySnapshot struct {
	Count     int64
	MeanNanos float64
	P99Nanos  float64
}

func snapshotTimer(t metrics.Timer) LatencySnapshot {
	return LatencySnapshot{
		Count:     t.Count(),
		MeanNanos: t.Mean(),
		P99Nanos:  t.Percentile(0.99),
	}
}

// Stats are the per-cache counters spec §3 lists on the Cache namespace.
type Stats struct {
	Hits         uint64
	Misses       uint64
	Evictions    uint64
	Expirations  uint64
	OverflowsIn  uint64
	OverflowsOut uint64
}

// statCounters holds the live atomic counters backing a Stats snapshot.
// Kept as plain atomics rather than under the cache's main lock so Stats()
// never contends with the hot Get/Put path, mirroring how the teacher
// leaves node.active as an atomic field precisely to avoid a write-lock
// requirement for read-path bookkeeping (cache/lru.go).
type statCounters struct {
	hits, misses, evictions, expirations, overflowsIn, overflowsOut atomic.Uint64
}

func (c *statCounters) snapshot() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Evictions:    c.evictions.Load(),
		Expirations:  c.expirations.Load(),
		OverflowsIn:  c.overflowsIn.Load(),
		OverflowsOut: c.overflowsOut.Load(),
	}
}

// Latencies is the go-metrics-backed per-operation latency snapshot
// returned alongside Stats.
type Latencies struct {
	Get LatencySnapshot
	Put LatencySnapshot
	Del LatencySnapshot
}

func (t *opTimers) snapshot() Latencies {
	return Latencies{
		Get: snapshotTimer(t.get),
		Put: snapshotTimer(t.put),
		Del: snapshotTimer(t.del),
	}
}
