package privacy

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector defines the interface for collecting privacy-layer
// metrics. Applications plug in custom implementations (Prometheus,
// StatsD, logging) for production monitoring; tests use InMemoryMetrics.
//
// All methods are safe for concurrent use and must be non-blocking:
// they sit on the broadcast hot path.
type MetricsCollector interface {
	// Broadcast counters

	// IncrementPrivateBroadcast counts a transaction successfully sent
	// into a circuit.
	IncrementPrivateBroadcast()

	// IncrementQueuedNoCircuit counts a broadcast attempt that found
	// the circuit pool empty.
	IncrementQueuedNoCircuit()

	// IncrementBroadcastFailed counts a broadcast that failed at the
	// gossip send.
	IncrementBroadcastFailed()

	// IncrementExitBroadcast counts a transaction this node broadcast
	// on behalf of a circuit as its exit hop.
	IncrementExitBroadcast()

	// Jitter tracking

	// RecordJitterDelay records one applied jitter delay.
	RecordJitterDelay(delay time.Duration)

	// Relay counters

	// IncrementRelayForwarded counts a message peeled and passed on.
	IncrementRelayForwarded()

	// IncrementRelayDropped counts a dropped relay message by reason
	// (e.g. "rate_limited", "unknown_circuit", "decrypt_failed",
	// "cover").
	IncrementRelayDropped(reason string)

	// Circuit pool tracking

	// SetActiveCircuits updates the gauge of live pool circuits.
	SetActiveCircuits(count int)

	// IncrementCircuitBuilt counts a successfully established circuit.
	IncrementCircuitBuilt()

	// IncrementCircuitBuildFailed counts a failed circuit build.
	IncrementCircuitBuildFailed()

	// Cover traffic

	// IncrementCoverSent counts an emitted cover message.
	IncrementCoverSent()
}

// InMemoryMetrics is a simple in-memory MetricsCollector. Suitable for
// development, testing, and applications that want basic metrics
// without external dependencies.
//
// All operations are thread-safe using atomic operations and minimal
// locking.
type InMemoryMetrics struct {
	privateBroadcasts  uint64
	queuedNoCircuit    uint64
	broadcastFailed    uint64
	exitBroadcasts     uint64
	relayForwarded     uint64
	circuitsBuilt      uint64
	circuitBuildFailed uint64
	coverSent          uint64

	jitterTotalMS uint64
	jitterCount   uint64

	activeCircuits int32

	droppedMu       sync.RWMutex
	droppedByReason map[string]uint64
}

// NewInMemoryMetrics creates a zeroed collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{droppedByReason: make(map[string]uint64)}
}

func (m *InMemoryMetrics) IncrementPrivateBroadcast() { atomic.AddUint64(&m.privateBroadcasts, 1) }
func (m *InMemoryMetrics) IncrementQueuedNoCircuit()  { atomic.AddUint64(&m.queuedNoCircuit, 1) }
func (m *InMemoryMetrics) IncrementBroadcastFailed()  { atomic.AddUint64(&m.broadcastFailed, 1) }
func (m *InMemoryMetrics) IncrementExitBroadcast()    { atomic.AddUint64(&m.exitBroadcasts, 1) }
func (m *InMemoryMetrics) IncrementRelayForwarded()   { atomic.AddUint64(&m.relayForwarded, 1) }
func (m *InMemoryMetrics) IncrementCircuitBuilt()     { atomic.AddUint64(&m.circuitsBuilt, 1) }
func (m *InMemoryMetrics) IncrementCircuitBuildFailed() {
	atomic.AddUint64(&m.circuitBuildFailed, 1)
}
func (m *InMemoryMetrics) IncrementCoverSent() { atomic.AddUint64(&m.coverSent, 1) }

func (m *InMemoryMetrics) RecordJitterDelay(delay time.Duration) {
	atomic.AddUint64(&m.jitterTotalMS, uint64(delay.Milliseconds()))
	atomic.AddUint64(&m.jitterCount, 1)
}

func (m *InMemoryMetrics) IncrementRelayDropped(reason string) {
	m.droppedMu.Lock()
	m.droppedByReason[reason]++
	m.droppedMu.Unlock()
}

func (m *InMemoryMetrics) SetActiveCircuits(count int) {
	atomic.StoreInt32(&m.activeCircuits, int32(count))
}

// Getters for inspecting collected metrics.

func (m *InMemoryMetrics) PrivateBroadcasts() uint64 { return atomic.LoadUint64(&m.privateBroadcasts) }
func (m *InMemoryMetrics) QueuedNoCircuit() uint64   { return atomic.LoadUint64(&m.queuedNoCircuit) }
func (m *InMemoryMetrics) BroadcastFailed() uint64   { return atomic.LoadUint64(&m.broadcastFailed) }
func (m *InMemoryMetrics) ExitBroadcasts() uint64    { return atomic.LoadUint64(&m.exitBroadcasts) }
func (m *InMemoryMetrics) RelayForwarded() uint64    { return atomic.LoadUint64(&m.relayForwarded) }
func (m *InMemoryMetrics) CircuitsBuilt() uint64     { return atomic.LoadUint64(&m.circuitsBuilt) }
func (m *InMemoryMetrics) CircuitBuildsFailed() uint64 {
	return atomic.LoadUint64(&m.circuitBuildFailed)
}
func (m *InMemoryMetrics) CoverSent() uint64   { return atomic.LoadUint64(&m.coverSent) }
func (m *InMemoryMetrics) ActiveCircuits() int { return int(atomic.LoadInt32(&m.activeCircuits)) }

// RelayDropped returns the drop count recorded for reason.
func (m *InMemoryMetrics) RelayDropped(reason string) uint64 {
	m.droppedMu.RLock()
	defer m.droppedMu.RUnlock()
	return m.droppedByReason[reason]
}

// AvgJitterDelay returns the mean applied jitter, zero before any
// record.
func (m *InMemoryMetrics) AvgJitterDelay() time.Duration {
	count := atomic.LoadUint64(&m.jitterCount)
	if count == 0 {
		return 0
	}
	totalMS := atomic.LoadUint64(&m.jitterTotalMS)
	return time.Duration(totalMS/count) * time.Millisecond
}

// JitterApplied returns how many delays were recorded.
func (m *InMemoryMetrics) JitterApplied() uint64 { return atomic.LoadUint64(&m.jitterCount) }

// Reset clears all collected metrics. Useful for testing.
func (m *InMemoryMetrics) Reset() {
	atomic.StoreUint64(&m.privateBroadcasts, 0)
	atomic.StoreUint64(&m.queuedNoCircuit, 0)
	atomic.StoreUint64(&m.broadcastFailed, 0)
	atomic.StoreUint64(&m.exitBroadcasts, 0)
	atomic.StoreUint64(&m.relayForwarded, 0)
	atomic.StoreUint64(&m.circuitsBuilt, 0)
	atomic.StoreUint64(&m.circuitBuildFailed, 0)
	atomic.StoreUint64(&m.coverSent, 0)
	atomic.StoreUint64(&m.jitterTotalMS, 0)
	atomic.StoreUint64(&m.jitterCount, 0)
	atomic.StoreInt32(&m.activeCircuits, 0)

	m.droppedMu.Lock()
	m.droppedByReason = make(map[string]uint64)
	m.droppedMu.Unlock()
}

// NoOpMetrics discards every metric. It is the default when no
// collector is injected.
type NoOpMetrics struct{}

func (NoOpMetrics) IncrementPrivateBroadcast()      {}
func (NoOpMetrics) IncrementQueuedNoCircuit()       {}
func (NoOpMetrics) IncrementBroadcastFailed()       {}
func (NoOpMetrics) IncrementExitBroadcast()         {}
func (NoOpMetrics) RecordJitterDelay(time.Duration) {}
func (NoOpMetrics) IncrementRelayForwarded()        {}
func (NoOpMetrics) IncrementRelayDropped(string)    {}
func (NoOpMetrics) SetActiveCircuits(int)           {}
func (NoOpMetrics) IncrementCircuitBuilt()          {}
func (NoOpMetrics) IncrementCircuitBuildFailed()    {}
func (NoOpMetrics) IncrementCoverSent()             {}
