package privacy

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Constant-rate transmitter.
//
// Messages leave at a fixed rate no matter how fast they arrive. When
// the queue is empty the transmitter can emit cover messages instead,
// so an observer sees the same cadence whether the user is active or
// idle. FIFO ordering preserves submission order; a depth cap drops
// the oldest entries rather than growing without bound.

const (
	// DefaultMessagesPerSecond is one message every 500ms.
	DefaultMessagesPerSecond = 2.0
	// DefaultMaxQueueDepth bounds the transmit queue.
	DefaultMaxQueueDepth = 100
)

// ConstantRateConfig tunes the transmitter.
type ConstantRateConfig struct {
	// MessagesPerSecond is the fixed send rate. Higher delivers faster
	// at more bandwidth; lower risks queue buildup.
	MessagesPerSecond float64
	// CoverTraffic emits decoys on empty-queue ticks.
	CoverTraffic bool
	// MaxQueueDepth drops the oldest message when reached.
	MaxQueueDepth int
}

// DefaultConstantRateConfig returns 2 msg/s with cover traffic on.
func DefaultConstantRateConfig() ConstantRateConfig {
	return ConstantRateConfig{
		MessagesPerSecond: DefaultMessagesPerSecond,
		CoverTraffic:      true,
		MaxQueueDepth:     DefaultMaxQueueDepth,
	}
}

// TickInterval returns the gap between sends.
func (c ConstantRateConfig) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.MessagesPerSecond)
}

// OutgoingMessage is one transmit-queue entry: real transaction bytes
// or a decoy.
type OutgoingMessage struct {
	// Payload is the serialized message.
	Payload []byte
	// Cover marks decoy messages the exit relay will discard.
	Cover bool
}

// NewOutgoingTransaction wraps transaction bytes for transmission.
func NewOutgoingTransaction(payload []byte) OutgoingMessage {
	return OutgoingMessage{Payload: payload}
}

// NewOutgoingCover wraps decoy bytes for transmission.
func NewOutgoingCover(payload []byte) OutgoingMessage {
	return OutgoingMessage{Payload: payload, Cover: true}
}

// TransmitterMetrics counts transmitter activity.
type TransmitterMetrics struct {
	sent       uint64
	realSent   uint64
	coverSent  uint64
	dropped    uint64
	emptyTicks uint64
}

// NewTransmitterMetrics creates zeroed metrics.
func NewTransmitterMetrics() *TransmitterMetrics { return &TransmitterMetrics{} }

func (m *TransmitterMetrics) incSent()       { atomic.AddUint64(&m.sent, 1) }
func (m *TransmitterMetrics) incRealSent()   { atomic.AddUint64(&m.realSent, 1) }
func (m *TransmitterMetrics) incCoverSent()  { atomic.AddUint64(&m.coverSent, 1) }
func (m *TransmitterMetrics) incDropped()    { atomic.AddUint64(&m.dropped, 1) }
func (m *TransmitterMetrics) incEmptyTicks() { atomic.AddUint64(&m.emptyTicks, 1) }

// TransmitterMetricsSnapshot is a point-in-time copy of the counters.
type TransmitterMetricsSnapshot struct {
	Sent       uint64
	RealSent   uint64
	CoverSent  uint64
	Dropped    uint64
	EmptyTicks uint64
}

// Snapshot reads all counters.
func (m *TransmitterMetrics) Snapshot() TransmitterMetricsSnapshot {
	return TransmitterMetricsSnapshot{
		Sent:       atomic.LoadUint64(&m.sent),
		RealSent:   atomic.LoadUint64(&m.realSent),
		CoverSent:  atomic.LoadUint64(&m.coverSent),
		Dropped:    atomic.LoadUint64(&m.dropped),
		EmptyTicks: atomic.LoadUint64(&m.emptyTicks),
	}
}

// ConstantRateTransmitter queues messages and releases them at a fixed
// rate. Safe for concurrent use; the caller drives Tick from its own
// timer loop.
type ConstantRateTransmitter struct {
	mu       sync.Mutex
	config   ConstantRateConfig
	queue    []OutgoingMessage
	lastSend time.Time
	metrics  *TransmitterMetrics
	rng      *rand.Rand
}

// NewConstantRateTransmitter creates a transmitter for the given
// config.
func NewConstantRateTransmitter(config ConstantRateConfig) *ConstantRateTransmitter {
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if config.MaxQueueDepth <= 0 {
		config.MaxQueueDepth = DefaultMaxQueueDepth
	}
	return &ConstantRateTransmitter{
		config:  config,
		metrics: NewTransmitterMetrics(),
		rng:     globalRand(),
	}
}

// Config returns the transmitter configuration.
func (t *ConstantRateTransmitter) Config() ConstantRateConfig { return t.config }

// Metrics returns the transmitter's counters.
func (t *ConstantRateTransmitter) Metrics() *TransmitterMetrics { return t.metrics }

// QueueDepth returns the number of queued messages.
func (t *ConstantRateTransmitter) QueueDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// IsQueueEmpty reports whether the queue is empty.
func (t *ConstantRateTransmitter) IsQueueEmpty() bool {
	return t.QueueDepth() == 0
}

// Enqueue appends a message, dropping the oldest when the queue is
// full.
func (t *ConstantRateTransmitter) Enqueue(msg OutgoingMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) >= t.config.MaxQueueDepth {
		t.queue = t.queue[1:]
		t.metrics.incDropped()
	}
	t.queue = append(t.queue, msg)
}

// Tick releases the next message if the rate interval has elapsed.
// Returns the queued head, a generated cover message on an empty queue
// with cover enabled, or no message at all.
//
// Drive it from a timer:
//
//	ticker := time.NewTicker(transmitter.Config().TickInterval())
//	for range ticker.C {
//		if msg, ok := transmitter.Tick(); ok {
//			sendViaCircuit(msg)
//		}
//	}
func (t *ConstantRateTransmitter) Tick() (OutgoingMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if !t.lastSend.IsZero() && now.Sub(t.lastSend) < t.config.TickInterval() {
		return OutgoingMessage{}, false
	}
	t.lastSend = now

	if len(t.queue) > 0 {
		msg := t.queue[0]
		t.queue = t.queue[1:]
		t.metrics.incSent()
		t.metrics.incRealSent()
		return msg, true
	}

	if t.config.CoverTraffic {
		size := MinCoverSize + t.rng.Intn(MaxCoverSize-MinCoverSize)
		payload := make([]byte, size)
		t.rng.Read(payload)
		t.metrics.incSent()
		t.metrics.incCoverSent()
		return NewOutgoingCover(payload), true
	}

	t.metrics.incEmptyTicks()
	return OutgoingMessage{}, false
}
