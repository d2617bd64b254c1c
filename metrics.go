package nvme

import (
	"sync/atomic"
	"time"
)

// latencyBuckets are the upper bounds (inclusive) of each histogram
// bucket, in microseconds. The last bucket catches everything above
// 8192us; this core's operations are expected to land well under that
// on any host capable of genuine NVMe traffic.
var latencyBuckets = [8]int64{1, 4, 16, 64, 256, 1024, 4096, 8192}

type histogram struct {
	counts [8]atomic.Uint64
	over   atomic.Uint64
	total  atomic.Uint64
}

func (h *histogram) observe(d time.Duration) {
	us := d.Microseconds()
	h.total.Add(1)
	for i, bound := range latencyBuckets {
		if us <= bound {
			h.counts[i].Add(1)
			return
		}
	}
	h.over.Add(1)
}

// percentile returns the upper bound of the first bucket whose cumulative
// count reaches the p-th percentile (0 < p <= 1); values in the overflow
// range are reported as the last bound. Like any fixed-bucket histogram
// this trades precision for O(1) memory; it is accurate enough to spot
// regressions, not to reconstruct an exact distribution.
func (h *histogram) percentile(p float64) time.Duration {
	total := h.total.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)
	var cum uint64
	for i, bound := range latencyBuckets {
		cum += h.counts[i].Load()
		if cum >= target {
			return time.Duration(bound) * time.Microsecond
		}
	}
	return time.Duration(latencyBuckets[len(latencyBuckets)-1]) * time.Microsecond
}

// Observer receives instrumentation events from a Controller. Embed
// NoOpObserver to satisfy the interface without implementing methods
// you don't care about.
type Observer interface {
	ObserveReadLatency(time.Duration)
	ObserveWriteLatency(time.Duration)
	IncAdminCommand()
	IncFatalError()
}

// NoOpObserver discards every event. It is the zero value's effective
// behavior but is also usable on its own when a caller wants to embed
// and override only one or two methods.
type NoOpObserver struct{}

func (NoOpObserver) ObserveReadLatency(time.Duration)  {}
func (NoOpObserver) ObserveWriteLatency(time.Duration) {}
func (NoOpObserver) IncAdminCommand()                  {}
func (NoOpObserver) IncFatalError()                    {}

var _ Observer = NoOpObserver{}

// MetricsObserver is the default Observer a Controller uses: atomic
// counters plus a latency histogram per datapath operation.
type MetricsObserver struct {
	readOps     atomic.Uint64
	writeOps    atomic.Uint64
	adminOps    atomic.Uint64
	fatalErrors atomic.Uint64

	readLatency  histogram
	writeLatency histogram
}

func newMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

func (m *MetricsObserver) ObserveReadLatency(d time.Duration) {
	m.readOps.Add(1)
	m.readLatency.observe(d)
}

func (m *MetricsObserver) ObserveWriteLatency(d time.Duration) {
	m.writeOps.Add(1)
	m.writeLatency.observe(d)
}

func (m *MetricsObserver) IncAdminCommand() { m.adminOps.Add(1) }
func (m *MetricsObserver) IncFatalError()   { m.fatalErrors.Add(1) }

var _ Observer = (*MetricsObserver)(nil)

// MetricsSnapshot is a point-in-time copy of a MetricsObserver's
// counters, safe to read without racing the live counters.
type MetricsSnapshot struct {
	ReadOps     uint64
	WriteOps    uint64
	AdminOps    uint64
	FatalErrors uint64

	ReadLatencyP50  time.Duration
	ReadLatencyP99  time.Duration
	WriteLatencyP50 time.Duration
	WriteLatencyP99 time.Duration
}

// Snapshot copies the observer's current counters and latency estimates.
func (m *MetricsObserver) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ReadOps:         m.readOps.Load(),
		WriteOps:        m.writeOps.Load(),
		AdminOps:        m.adminOps.Load(),
		FatalErrors:     m.fatalErrors.Load(),
		ReadLatencyP50:  m.readLatency.percentile(0.50),
		ReadLatencyP99:  m.readLatency.percentile(0.99),
		WriteLatencyP50: m.writeLatency.percentile(0.50),
		WriteLatencyP99: m.writeLatency.percentile(0.99),
	}
}
