package privacy

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync/atomic"
	"time"
)

// Privacy-preserving transaction broadcaster.
//
// Transactions are wrapped in onion layers and routed through a pooled
// circuit before reaching the public gossip network, so the exit relay,
// not the origin, appears as the transaction's source. No single relay
// sees both the origin and the transaction content.

// GossipSender is the gossip network surface this layer depends on.
// The transport stack implements it; tests inject fakes.
type GossipSender interface {
	// SendOnionRelay delivers one onion relay message to a directly
	// connected peer. Non-blocking beyond the network write.
	SendOnionRelay(ctx context.Context, peer PeerID, msg *OnionRelayMsg) error
}

// BroadcastMetrics counts broadcast outcomes with atomic counters.
// Instances are injectable so tests and subsystems keep isolated
// counts; nothing here is process-global.
type BroadcastMetrics struct {
	txBroadcastPrivate uint64
	txQueuedNoCircuit  uint64
	txBroadcastFailed  uint64
	txExitBroadcast    uint64
	jitterDelayTotalMS uint64
	jitterAppliedCount uint64
}

// NewBroadcastMetrics creates a zeroed metrics instance.
func NewBroadcastMetrics() *BroadcastMetrics {
	return &BroadcastMetrics{}
}

func (m *BroadcastMetrics) incPrivate() { atomic.AddUint64(&m.txBroadcastPrivate, 1) }
func (m *BroadcastMetrics) incQueued()  { atomic.AddUint64(&m.txQueuedNoCircuit, 1) }
func (m *BroadcastMetrics) incFailed()  { atomic.AddUint64(&m.txBroadcastFailed, 1) }

// IncExitBroadcast counts a transaction this node broadcast as an exit
// hop. The relay handler calls it after hash validation.
func (m *BroadcastMetrics) IncExitBroadcast() { atomic.AddUint64(&m.txExitBroadcast, 1) }

func (m *BroadcastMetrics) recordJitter(delay time.Duration) {
	atomic.AddUint64(&m.jitterDelayTotalMS, uint64(delay.Milliseconds()))
	atomic.AddUint64(&m.jitterAppliedCount, 1)
}

// AvgJitterDelayMS returns the mean applied jitter in milliseconds,
// zero when no jitter has been applied yet.
func (m *BroadcastMetrics) AvgJitterDelayMS() uint64 {
	count := atomic.LoadUint64(&m.jitterAppliedCount)
	if count == 0 {
		return 0
	}
	return atomic.LoadUint64(&m.jitterDelayTotalMS) / count
}

// BroadcastMetricsSnapshot is a point-in-time copy for RPC and
// monitoring surfaces.
type BroadcastMetricsSnapshot struct {
	TxBroadcastPrivate uint64
	TxQueuedNoCircuit  uint64
	TxBroadcastFailed  uint64
	TxExitBroadcast    uint64
	JitterDelayTotalMS uint64
	JitterAppliedCount uint64
}

// Snapshot reads all counters.
func (m *BroadcastMetrics) Snapshot() BroadcastMetricsSnapshot {
	return BroadcastMetricsSnapshot{
		TxBroadcastPrivate: atomic.LoadUint64(&m.txBroadcastPrivate),
		TxQueuedNoCircuit:  atomic.LoadUint64(&m.txQueuedNoCircuit),
		TxBroadcastFailed:  atomic.LoadUint64(&m.txBroadcastFailed),
		TxExitBroadcast:    atomic.LoadUint64(&m.txExitBroadcast),
		JitterDelayTotalMS: atomic.LoadUint64(&m.jitterDelayTotalMS),
		JitterAppliedCount: atomic.LoadUint64(&m.jitterAppliedCount),
	}
}

// OnionBroadcaster routes transactions through onion circuits.
//
// The broadcaster does not retry: when no circuit is available it
// reports ErrNoCircuit and the caller decides whether to queue the
// transaction or fail the user operation.
type OnionBroadcaster struct {
	pool      *CircuitPool
	gossip    GossipSender
	jitter    *TimingJitter
	metrics   *BroadcastMetrics
	collector MetricsCollector
}

// NewOnionBroadcaster creates a broadcaster with its own metrics and
// no jitter.
//
// Parameters:
//   - pool: the circuit pool to draw paths from
//   - gossip: the gossip send surface
//
// Example:
//
//	broadcaster := NewOnionBroadcaster(pool, gossip)
//	hash, err := broadcaster.BroadcastPrivate(ctx, txBytes)
func NewOnionBroadcaster(pool *CircuitPool, gossip GossipSender) *OnionBroadcaster {
	return &OnionBroadcaster{
		pool:      pool,
		gossip:    gossip,
		jitter:    DisabledTimingJitter(),
		metrics:   NewBroadcastMetrics(),
		collector: NoOpMetrics{},
	}
}

// WithMetrics replaces the broadcaster's metrics instance, letting
// several subsystems share one set of counters.
func (b *OnionBroadcaster) WithMetrics(metrics *BroadcastMetrics) *OnionBroadcaster {
	b.metrics = metrics
	return b
}

// WithCollector attaches a MetricsCollector sink (e.g. Prometheus).
func (b *OnionBroadcaster) WithCollector(collector MetricsCollector) *OnionBroadcaster {
	b.collector = collector
	return b
}

// WithJitter sets the timing jitter applied before every send.
func (b *OnionBroadcaster) WithJitter(jitter *TimingJitter) *OnionBroadcaster {
	b.jitter = jitter
	return b
}

// Metrics returns the broadcaster's metrics instance.
func (b *OnionBroadcaster) Metrics() *BroadcastMetrics { return b.metrics }

// BroadcastPrivate routes txData through a pooled circuit and returns
// its SHA-256 hash.
//
// When the pool is empty the queued-no-circuit counter is incremented
// and ErrNoCircuit returned; this layer never retries internally.
func (b *OnionBroadcaster) BroadcastPrivate(ctx context.Context, txData []byte) ([TxHashSize]byte, error) {
	circuit := b.pool.GetCircuit()
	if circuit == nil {
		b.metrics.incQueued()
		b.collector.IncrementQueuedNoCircuit()
		log.Warn("no circuit available for private broadcast")
		return [TxHashSize]byte{}, ErrNoCircuit
	}
	defer circuit.Release()
	return b.BroadcastViaCircuit(ctx, circuit, txData)
}

// BroadcastViaCircuit routes txData through a specific circuit. This is
// the core broadcast path, exposed so tests can pin the circuit.
func (b *OnionBroadcaster) BroadcastViaCircuit(ctx context.Context, circuit *OutboundCircuit, txData []byte) ([TxHashSize]byte, error) {
	inner := NewTransactionMessage(txData)
	innerBytes, err := inner.Encode()
	if err != nil {
		return [TxHashSize]byte{}, fmt.Errorf("inner message encoding: %w", err)
	}

	log.WithField("circuit", circuit.ID().String()).
		WithField("entry", circuit.EntryHop().String()).
		Debug("broadcasting transaction via onion circuit")

	wrapped, err := WrapOnion(innerBytes, circuit.Hops(), circuit.HopKeys())
	if err != nil {
		b.metrics.incFailed()
		b.collector.IncrementBroadcastFailed()
		return [TxHashSize]byte{}, fmt.Errorf("onion wrap: %w", err)
	}

	// The jitter sleep is the only intentional suspension in this
	// path; it decorrelates entry and exit timestamps.
	delay, err := b.jitter.Apply(ctx)
	if err != nil {
		return [TxHashSize]byte{}, fmt.Errorf("broadcast cancelled during jitter: %w", err)
	}
	if delay > 0 {
		b.metrics.recordJitter(delay)
		b.collector.RecordJitterDelay(delay)
	}

	msg := &OnionRelayMsg{CircuitID: circuit.ID(), Onion: wrapped}
	if err := b.gossip.SendOnionRelay(ctx, circuit.EntryHop(), msg); err != nil {
		b.metrics.incFailed()
		b.collector.IncrementBroadcastFailed()
		return [TxHashSize]byte{}, fmt.Errorf("gossip send: %w", err)
	}

	b.metrics.incPrivate()
	b.collector.IncrementPrivateBroadcast()
	return inner.TxHash, nil
}

// ValidateTxHash checks that txData hashes to expectedHash. Exit nodes
// run this before re-broadcasting on the public network, so a malicious
// middle hop cannot substitute content. Empty data always fails.
func ValidateTxHash(txData []byte, expectedHash [TxHashSize]byte) bool {
	if len(txData) == 0 {
		return false
	}
	return sha256.Sum256(txData) == expectedHash
}

// JitterDelayBounds returns the broadcaster's configured jitter range
// for diagnostics.
func (b *OnionBroadcaster) JitterDelayBounds() (min, max time.Duration) {
	config := b.jitter.Config()
	return time.Duration(config.MinDelayMS) * time.Millisecond,
		time.Duration(config.MaxDelayMS) * time.Millisecond
}
