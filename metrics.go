package gokernel

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/jarrett00/gokernel/internal/interfaces"
)

// LatencyBuckets defines the disk-latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a running
// kernel instance. It implements interfaces.Observer and is wired as the
// Observer passed to mailbox.Manager, usyscall.Manager, and the drivers at
// boot time.
type Metrics struct {
	// Dispatcher activity
	Dispatches      atomic.Uint64 // total dispatcher invocations
	ContextSwitches atomic.Uint64 // total context switches performed

	// Mailbox activity
	MailboxSends         atomic.Uint64
	MailboxSendsBlocked  atomic.Uint64
	MailboxReceives      atomic.Uint64
	MailboxRecvsBlocked  atomic.Uint64

	// Semaphore activity
	SemaphoreOps        atomic.Uint64
	SemaphoreOpsBlocked atomic.Uint64

	// Disk activity
	DiskOps       atomic.Uint64
	DiskErrors    atomic.Uint64
	TotalLatencyNs atomic.Uint64 // cumulative disk op latency
	OpCount        atomic.Uint64 // disk op count, for average latency

	// Latency histogram buckets (cumulative counts): bucket[i] holds the
	// count of disk operations with latency <= LatencyBuckets[i].
	LatencyHist [numLatencyBuckets]atomic.Uint64

	// Halts
	Halted   atomic.Bool
	HaltCode atomic.Int32

	// Lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// ObserveDispatch implements interfaces.Observer.
func (m *Metrics) ObserveDispatch(fromPID, toPID int) {
	m.Dispatches.Add(1)
}

// ObserveContextSwitch implements interfaces.Observer.
func (m *Metrics) ObserveContextSwitch() {
	m.ContextSwitches.Add(1)
}

// ObserveMailboxSend implements interfaces.Observer.
func (m *Metrics) ObserveMailboxSend(mboxID int, blocked bool) {
	m.MailboxSends.Add(1)
	if blocked {
		m.MailboxSendsBlocked.Add(1)
	}
}

// ObserveMailboxReceive implements interfaces.Observer.
func (m *Metrics) ObserveMailboxReceive(mboxID int, blocked bool) {
	m.MailboxReceives.Add(1)
	if blocked {
		m.MailboxRecvsBlocked.Add(1)
	}
}

// ObserveSemaphoreOp implements interfaces.Observer.
func (m *Metrics) ObserveSemaphoreOp(semID int, op string, blocked bool) {
	m.SemaphoreOps.Add(1)
	if blocked {
		m.SemaphoreOpsBlocked.Add(1)
	}
}

// ObserveDiskOp implements interfaces.Observer. op is e.g. "read", "write",
// "read_error", or "write_error" (the driver appends the "_error" suffix
// when the request came back with a non-OK status).
func (m *Metrics) ObserveDiskOp(unit int, op string, latency time.Duration) {
	m.DiskOps.Add(1)
	if strings.HasSuffix(op, "_error") {
		m.DiskErrors.Add(1)
	}
	m.recordLatency(uint64(latency.Nanoseconds()))
}

// ObserveHalt implements interfaces.Observer.
func (m *Metrics) ObserveHalt(code int) {
	m.Halted.Store(true)
	m.HaltCode.Store(int32(code))
}

// recordLatency records a disk operation latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHist[i].Add(1)
		}
	}
}

// Stop marks the kernel instance as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	Dispatches      uint64
	ContextSwitches uint64

	MailboxSends        uint64
	MailboxSendsBlocked uint64
	MailboxReceives     uint64
	MailboxRecvsBlocked uint64

	SemaphoreOps        uint64
	SemaphoreOpsBlocked uint64

	DiskOps    uint64
	DiskErrors uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	Halted   bool
	HaltCode int
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Dispatches:          m.Dispatches.Load(),
		ContextSwitches:     m.ContextSwitches.Load(),
		MailboxSends:        m.MailboxSends.Load(),
		MailboxSendsBlocked: m.MailboxSendsBlocked.Load(),
		MailboxReceives:     m.MailboxReceives.Load(),
		MailboxRecvsBlocked: m.MailboxRecvsBlocked.Load(),
		SemaphoreOps:        m.SemaphoreOps.Load(),
		SemaphoreOpsBlocked: m.SemaphoreOpsBlocked.Load(),
		DiskOps:             m.DiskOps.Load(),
		DiskErrors:          m.DiskErrors.Load(),
		Halted:              m.Halted.Load(),
		HaltCode:            int(m.HaltCode.Load()),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHist[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHist[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHist[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.Dispatches.Store(0)
	m.ContextSwitches.Store(0)
	m.MailboxSends.Store(0)
	m.MailboxSendsBlocked.Store(0)
	m.MailboxReceives.Store(0)
	m.MailboxRecvsBlocked.Store(0)
	m.SemaphoreOps.Store(0)
	m.SemaphoreOpsBlocked.Store(0)
	m.DiskOps.Store(0)
	m.DiskErrors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHist[i].Store(0)
	}
	m.Halted.Store(false)
	m.HaltCode.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of interfaces.Observer, for
// callers that don't want metrics collection.
type NoOpObserver struct{}

func (NoOpObserver) ObserveDispatch(int, int)                  {}
func (NoOpObserver) ObserveContextSwitch()                     {}
func (NoOpObserver) ObserveMailboxSend(int, bool)              {}
func (NoOpObserver) ObserveMailboxReceive(int, bool)           {}
func (NoOpObserver) ObserveSemaphoreOp(int, string, bool)      {}
func (NoOpObserver) ObserveDiskOp(int, string, time.Duration)  {}
func (NoOpObserver) ObserveHalt(int)                           {}

var (
	_ interfaces.Observer = (*Metrics)(nil)
	_ interfaces.Observer = NoOpObserver{}
)
