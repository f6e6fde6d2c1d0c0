package netfile

import "sync/atomic"

// -----------------------------------------------------------------------------
// Metrics aggregator
// -----------------------------------------------------------------------------

// Metrics aggregates I/O counters for one or more files. Counters are
// updated atomically, so a single aggregator may be shared across
// files and goroutines. Inject one with WithMetrics to observe a
// file's traffic.
type Metrics struct {
	BytesRead       atomic.Int64
	BytesWritten    atomic.Int64
	ReadCalls       atomic.Int64
	WriteCalls      atomic.Int64
	VectorReadCalls atomic.Int64
}

// NewMetrics creates an empty aggregator.
func NewMetrics() *Metrics { return &Metrics{} }

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	BytesRead       int64
	BytesWritten    int64
	ReadCalls       int64
	WriteCalls      int64
	VectorReadCalls int64
}

// Snapshot returns the current counter values. Individual loads are
// atomic; the snapshot as a whole is not.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		BytesRead:       m.BytesRead.Load(),
		BytesWritten:    m.BytesWritten.Load(),
		ReadCalls:       m.ReadCalls.Load(),
		WriteCalls:      m.WriteCalls.Load(),
		VectorReadCalls: m.VectorReadCalls.Load(),
	}
}
