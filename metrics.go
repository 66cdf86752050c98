package serversession

import (
	"sync/atomic"
)

// MetricID indexes the engine's internal counters.
type MetricID uint16

const (
	// MetricSessionCreated counts new session records.
	MetricSessionCreated MetricID = iota
	// MetricSessionReplaced counts records overwritten because a new
	// login reused an existing session id.
	MetricSessionReplaced
	// MetricSessionUpdated counts ticket re-serializations (refresh,
	// sliding extension).
	MetricSessionUpdated
	// MetricSessionDeleted counts explicit deletions.
	MetricSessionDeleted
	// MetricSessionExpired counts sessions removed by the cleanup sweep.
	MetricSessionExpired
	// MetricTicketRejected counts tickets that failed authentication or
	// decoding and forced a session teardown.
	MetricTicketRejected
	// MetricCleanupSweep counts completed sweep iterations.
	MetricCleanupSweep
	// MetricCleanupFailure counts sweeps aborted by a store failure.
	MetricCleanupFailure
	// MetricRevocationRun counts revocation orchestrations.
	MetricRevocationRun
	// MetricBackchannelSent counts delivered logout notifications.
	MetricBackchannelSent
	// MetricBackchannelFailed counts logout notifications that could not
	// be delivered.
	MetricBackchannelFailed
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the engine's internal counter registry. Counters are padded
// to their own cache line so concurrent increments from request
// goroutines do not false-share.
type Metrics struct {
	counters [metricIDCount]paddedCounter
}

// NewMetrics returns a zeroed registry.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add increments one counter by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies every counter. Individual loads are atomic; the
// snapshot as a whole is not a consistent cut, which is fine for
// monitoring.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricIDCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}
