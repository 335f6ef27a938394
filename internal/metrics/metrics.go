// Package metrics implements the Metrics state named in spec.md §3: a
// circular buffer of the last 100 request durations, counters for hits,
// misses, evictions, and worker creation/failure/retirement. The bounded
// maps of ephemeral and historical worker statistics live in
// workerpool.Pool, not here.
//
// No library in the retrieval pack models a fixed-capacity circular buffer
// of durations, so PoolMetrics.durations is a small bespoke ring (documented
// in DESIGN.md as the one deliberately stdlib-only part of this package).
// Everything else is additionally exported as Prometheus instruments,
// grounded on cuemby-warren/pkg/metrics and jordigilh-kubernaut/pkg/metrics's
// use of github.com/prometheus/client_golang.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const durationBufferSize = 100

// ring is a fixed-capacity circular buffer of request durations. Inserts
// are O(1) and overwrite the oldest sample once the buffer is full.
type ring struct {
	samples [durationBufferSize]time.Duration
	next    int
	count   int
}

func (r *ring) push(d time.Duration) {
	r.samples[r.next] = d
	r.next = (r.next + 1) % durationBufferSize
	if r.count < durationBufferSize {
		r.count++
	}
}

func (r *ring) snapshot() []time.Duration {
	out := make([]time.Duration, r.count)
	start := r.next - r.count
	if start < 0 {
		start += durationBufferSize
	}
	for i := 0; i < r.count; i++ {
		out[i] = r.samples[(start+i)%durationBufferSize]
	}
	return out
}

// PoolMetrics is the worker pool's live metrics state. All methods are
// safe for concurrent use. The state is guarded by a mutex of its own,
// separate from the pool's lock; each method holds it only for one counter
// update or one copy, so Snapshot never waits on the pool's lock.
type PoolMetrics struct {
	mu sync.Mutex

	durations ring

	hits            uint64
	misses          uint64
	evictions       uint64
	workersCreated  uint64
	workersFailed   uint64
	workersRetired  uint64

	prom *promInstruments
}

// PoolSnapshot is an immutable view of PoolMetrics taken at call entry.
type PoolSnapshot struct {
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	WorkersCreated uint64
	WorkersFailed  uint64
	WorkersRetired uint64
	RecentDurations []time.Duration
}

// NewPoolMetrics creates a PoolMetrics instance. If reg is non-nil, the
// counters and duration histogram are additionally registered as
// Prometheus instruments under the given namespace.
func NewPoolMetrics(namespace string, reg prometheus.Registerer) *PoolMetrics {
	m := &PoolMetrics{}
	if reg != nil {
		m.prom = newPromInstruments(namespace, reg)
	}
	return m
}

func (m *PoolMetrics) RecordHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.hits.Inc()
	}
}

func (m *PoolMetrics) RecordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.misses.Inc()
	}
}

func (m *PoolMetrics) RecordEviction() {
	m.mu.Lock()
	m.evictions++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.evictions.Inc()
	}
}

func (m *PoolMetrics) RecordWorkerCreated() {
	m.mu.Lock()
	m.workersCreated++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.workersCreated.Inc()
	}
}

func (m *PoolMetrics) RecordWorkerFailed() {
	m.mu.Lock()
	m.workersFailed++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.workersFailed.Inc()
	}
}

func (m *PoolMetrics) RecordWorkerRetired() {
	m.mu.Lock()
	m.workersRetired++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.workersRetired.Inc()
	}
}

func (m *PoolMetrics) RecordDuration(d time.Duration) {
	m.mu.Lock()
	m.durations.push(d)
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.requestDuration.Observe(d.Seconds())
	}
}

// Snapshot returns a consistent point-in-time copy of the metrics state.
func (m *PoolMetrics) Snapshot() PoolSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return PoolSnapshot{
		Hits:            m.hits,
		Misses:          m.misses,
		Evictions:       m.evictions,
		WorkersCreated:  m.workersCreated,
		WorkersFailed:   m.workersFailed,
		WorkersRetired:  m.workersRetired,
		RecentDurations: m.durations.snapshot(),
	}
}

type promInstruments struct {
	hits            prometheus.Counter
	misses          prometheus.Counter
	evictions       prometheus.Counter
	workersCreated  prometheus.Counter
	workersFailed   prometheus.Counter
	workersRetired  prometheus.Counter
	requestDuration prometheus.Histogram
}

func newPromInstruments(namespace string, reg prometheus.Registerer) *promInstruments {
	p := &promInstruments{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_hits_total", Help: "Worker pool cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_misses_total", Help: "Worker pool cache misses.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_evictions_total", Help: "Worker pool LRU evictions.",
		}),
		workersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "workers_created_total", Help: "Workers successfully created.",
		}),
		workersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "workers_failed_total", Help: "Worker construction failures.",
		}),
		workersRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "workers_retired_total", Help: "Workers retired (eviction or health failure).",
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds", Help: "Worker request duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(p.hits, p.misses, p.evictions, p.workersCreated, p.workersFailed, p.workersRetired, p.requestDuration)
	return p
}
