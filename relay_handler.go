package privacy

import (
	"sync/atomic"
)

// Relay message handling.
//
// Every node serves as a relay for other nodes' circuits. An incoming
// onion relay message is rate checked, matched to a stored hop key,
// peeled one layer, and then either forwarded to the next hop, exited
// to the public gossip network, or dropped. Unknown circuits are
// dropped without logging: answering differently for known and unknown
// ids would let a prober map which circuits pass through this node.

// MaxExitTxSize bounds transactions an exit hop will re-broadcast.
const MaxExitTxSize = 1_000_000

// RelayActionKind discriminates the relay handler's verdicts.
type RelayActionKind int

const (
	// ActionForward passes the peeled message to the next hop.
	ActionForward RelayActionKind = iota
	// ActionExit delivers the recovered inner message for broadcast.
	ActionExit
	// ActionDropped discards the message.
	ActionDropped
)

// RelayAction is the relay handler's verdict on one message.
type RelayAction struct {
	Kind RelayActionKind

	// NextHop and Message are set for ActionForward.
	NextHop PeerID
	Message *OnionRelayMsg

	// Inner is set for ActionExit.
	Inner *InnerMessage

	// Reason is set for ActionDropped.
	Reason string
}

// RelayMetrics counts relay handling outcomes with atomic counters.
type RelayMetrics struct {
	received             uint64
	forwarded            uint64
	exited               uint64
	rateLimited          uint64
	unknownCircuit       uint64
	decryptionFailures   uint64
	coverTraffic         uint64
	flaggedForDisconnect uint64
}

// NewRelayMetrics creates a zeroed metrics instance.
func NewRelayMetrics() *RelayMetrics {
	return &RelayMetrics{}
}

func (m *RelayMetrics) incReceived()          { atomic.AddUint64(&m.received, 1) }
func (m *RelayMetrics) incForwarded()         { atomic.AddUint64(&m.forwarded, 1) }
func (m *RelayMetrics) incExited()            { atomic.AddUint64(&m.exited, 1) }
func (m *RelayMetrics) incRateLimited()       { atomic.AddUint64(&m.rateLimited, 1) }
func (m *RelayMetrics) incUnknownCircuit()    { atomic.AddUint64(&m.unknownCircuit, 1) }
func (m *RelayMetrics) incDecryptionFailure() { atomic.AddUint64(&m.decryptionFailures, 1) }
func (m *RelayMetrics) incCoverTraffic()      { atomic.AddUint64(&m.coverTraffic, 1) }
func (m *RelayMetrics) incFlagged()           { atomic.AddUint64(&m.flaggedForDisconnect, 1) }

// RelayMetricsSnapshot is a point-in-time copy of the relay counters.
type RelayMetricsSnapshot struct {
	Received             uint64
	Forwarded            uint64
	Exited               uint64
	RateLimited          uint64
	UnknownCircuit       uint64
	DecryptionFailures   uint64
	CoverTraffic         uint64
	FlaggedForDisconnect uint64
}

// Snapshot reads all counters.
func (m *RelayMetrics) Snapshot() RelayMetricsSnapshot {
	return RelayMetricsSnapshot{
		Received:             atomic.LoadUint64(&m.received),
		Forwarded:            atomic.LoadUint64(&m.forwarded),
		Exited:               atomic.LoadUint64(&m.exited),
		RateLimited:          atomic.LoadUint64(&m.rateLimited),
		UnknownCircuit:       atomic.LoadUint64(&m.unknownCircuit),
		DecryptionFailures:   atomic.LoadUint64(&m.decryptionFailures),
		CoverTraffic:         atomic.LoadUint64(&m.coverTraffic),
		FlaggedForDisconnect: atomic.LoadUint64(&m.flaggedForDisconnect),
	}
}

// RelayHandler processes onion relay messages for circuits this node
// serves.
//
// A relay message carrying an unknown circuit id is not always junk:
// circuit extension tunnels CREATE messages through established hops,
// so the peer being extended to receives an OnionRelayMsg for a
// circuit it has no key for, with the plaintext CREATE envelope in the
// Onion field. Hosts should try DecodeCircuitMessage on the Onion body
// when HandleMessage reports an unknown-circuit drop, and answer a
// decoded CREATE with RespondToCreate before discarding.
//
// Example:
//
//	handler := NewRelayHandler(limiter)
//	action := handler.HandleMessage(relayState, from, msg)
//	switch action.Kind {
//	case ActionForward:
//		gossip.SendOnionRelay(ctx, action.NextHop, action.Message)
//	case ActionExit:
//		broadcastIfValid(action.Inner)
//	case ActionDropped:
//		// nothing to do
//	}
type RelayHandler struct {
	metrics   *RelayMetrics
	limiter   *RelayRateLimiter
	collector MetricsCollector
}

// NewRelayHandler creates a handler using the given per-peer limiter.
// A nil limiter disables token-bucket admission (the relay state's
// window counter still applies).
func NewRelayHandler(limiter *RelayRateLimiter) *RelayHandler {
	return &RelayHandler{
		metrics:   NewRelayMetrics(),
		limiter:   limiter,
		collector: NoOpMetrics{},
	}
}

// WithCollector attaches a MetricsCollector sink.
func (h *RelayHandler) WithCollector(collector MetricsCollector) *RelayHandler {
	h.collector = collector
	return h
}

// Metrics returns the handler's counters.
func (h *RelayHandler) Metrics() *RelayMetrics { return h.metrics }

// HandleMessage processes one relay message: rate check, key lookup,
// peel, verdict. It never returns an error; undeliverable messages are
// dropped with a reason so the caller can log at its own discretion.
func (h *RelayHandler) HandleMessage(state *RelayState, from PeerID, msg *OnionRelayMsg) RelayAction {
	h.metrics.incReceived()

	if h.limiter != nil {
		switch h.limiter.CheckRelay(from, len(msg.Onion)) {
		case VerdictRateLimited:
			h.metrics.incRateLimited()
			h.collector.IncrementRelayDropped("rate_limited")
			log.WithField("peer", from.String()).Warn("rate limited relay message")
			return RelayAction{Kind: ActionDropped, Reason: "rate limited"}
		case VerdictDisconnect:
			h.metrics.incRateLimited()
			h.metrics.incFlagged()
			h.collector.IncrementRelayDropped("rate_limited")
			return RelayAction{Kind: ActionDropped, Reason: "violation threshold exceeded"}
		}
	}
	if !state.CheckRateLimit(from) {
		h.metrics.incRateLimited()
		h.collector.IncrementRelayDropped("rate_limited")
		return RelayAction{Kind: ActionDropped, Reason: "rate limited"}
	}

	hopKey, ok := state.GetCircuitKey(msg.CircuitID)
	if !ok {
		h.metrics.incUnknownCircuit()
		h.collector.IncrementRelayDropped("unknown_circuit")
		// No log line here: a distinguishable reaction to unknown
		// circuit ids leaks which circuits this node serves. Hosts
		// should check the Onion body for a tunnelled CREATE (see the
		// RelayHandler doc) before treating this drop as final.
		return RelayAction{Kind: ActionDropped, Reason: "unknown circuit"}
	}

	layer, err := DecryptLayer(hopKey.Key(), msg.Onion)
	if err != nil {
		h.metrics.incDecryptionFailure()
		h.collector.IncrementRelayDropped("decrypt_failed")
		log.WithField("circuit", msg.CircuitID.String()).Warnf("relay decrypt failed: %v", err)
		return RelayAction{Kind: ActionDropped, Reason: "decryption failed"}
	}

	if !layer.IsExit {
		h.metrics.incForwarded()
		h.collector.IncrementRelayForwarded()
		return RelayAction{
			Kind:    ActionForward,
			NextHop: layer.NextHop,
			Message: &OnionRelayMsg{CircuitID: msg.CircuitID, Onion: layer.Inner},
		}
	}

	inner, err := DecodeInnerMessage(layer.Inner)
	if err != nil {
		h.metrics.incDecryptionFailure()
		h.collector.IncrementRelayDropped("invalid_inner")
		log.Warnf("invalid inner message at exit: %v", err)
		return RelayAction{Kind: ActionDropped, Reason: "invalid inner message"}
	}
	if inner.IsCover {
		h.metrics.incCoverTraffic()
		h.collector.IncrementRelayDropped("cover")
		return RelayAction{Kind: ActionDropped, Reason: "cover traffic"}
	}

	h.metrics.incExited()
	h.collector.IncrementExitBroadcast()
	return RelayAction{Kind: ActionExit, Inner: inner}
}

// ShouldBroadcastTransaction gates an exit-hop re-broadcast: the
// transaction must be non-empty, under MaxExitTxSize, and match its
// claimed hash. Full validation happens in the mempool; this stops the
// obvious garbage before it reaches gossip.
func ShouldBroadcastTransaction(txData []byte, txHash [TxHashSize]byte) bool {
	if len(txData) == 0 || len(txData) > MaxExitTxSize {
		log.Warnf("transaction size out of bounds: %d bytes", len(txData))
		return false
	}
	if !ValidateTxHash(txData, txHash) {
		log.Warn("transaction hash mismatch at exit")
		return false
	}
	return true
}
