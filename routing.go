package privacy

import (
	"sync/atomic"
)

// Dual-path routing for broadcast messages.
//
// Consensus traffic is latency critical and reveals nothing about
// transaction origin, so it goes straight to gossipsub. Transaction
// broadcasts reveal the broadcaster's address and go through an onion
// circuit. The router decides per message type, with configuration
// overrides for forcing everything private or allowing fast-path
// fallback when no circuit exists.

// MessagePath is the transmission path a message takes.
type MessagePath int

const (
	// PathFast is direct gossipsub with no privacy overhead.
	PathFast MessagePath = iota
	// PathPrivate is onion routing through a 3-hop circuit, typically
	// 100-200ms slower.
	PathPrivate
)

// String returns the path name.
func (p MessagePath) String() string {
	if p == PathPrivate {
		return "private"
	}
	return "fast"
}

// MessageType classifies broadcast messages for routing.
type MessageType int

const (
	// MsgConsensusNominate carries transaction hashes, not origins.
	MsgConsensusNominate MessageType = iota
	// MsgConsensusStatement carries ballot state, not user identity.
	MsgConsensusStatement
	// MsgBlockHeader is public chain data.
	MsgBlockHeader
	// MsgBlockBody is public chain data.
	MsgBlockBody
	// MsgPeerAnnouncement is infrastructure gossip.
	MsgPeerAnnouncement
	// MsgPeerExchange is infrastructure gossip.
	MsgPeerExchange
	// MsgTransaction reveals the broadcaster's address.
	MsgTransaction
	// MsgSyncRequest reveals interest in specific blocks.
	MsgSyncRequest
	// MsgWalletQuery reveals account interest.
	MsgWalletQuery
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MsgConsensusNominate:
		return "consensus_nominate"
	case MsgConsensusStatement:
		return "consensus_statement"
	case MsgBlockHeader:
		return "block_header"
	case MsgBlockBody:
		return "block_body"
	case MsgPeerAnnouncement:
		return "peer_announcement"
	case MsgPeerExchange:
		return "peer_exchange"
	case MsgTransaction:
		return "transaction"
	case MsgSyncRequest:
		return "sync_request"
	case MsgWalletQuery:
		return "wallet_query"
	default:
		return "unknown"
	}
}

// DefaultPath returns the path a message type takes absent overrides.
func (t MessageType) DefaultPath() MessagePath {
	switch t {
	case MsgTransaction, MsgSyncRequest, MsgWalletQuery:
		return PathPrivate
	default:
		return PathFast
	}
}

// IsLatencySensitive reports whether the type belongs on the fast path
// for timing reasons.
func (t MessageType) IsLatencySensitive() bool {
	switch t {
	case MsgConsensusNominate, MsgConsensusStatement, MsgBlockHeader, MsgBlockBody:
		return true
	default:
		return false
	}
}

// RevealsUserActivity reports whether broadcasting the type exposes
// user behavior.
func (t MessageType) RevealsUserActivity() bool {
	switch t {
	case MsgTransaction, MsgSyncRequest, MsgWalletQuery:
		return true
	default:
		return false
	}
}

// PrivacyRoutingConfig overrides default path selection.
type PrivacyRoutingConfig struct {
	// ForcePrivate routes every message type through circuits.
	ForcePrivate bool `toml:"force_private"`
	// AllowFallback lets private-path messages use the fast path when
	// no circuit is available, trading privacy for availability.
	AllowFallback bool `toml:"allow_fallback"`
	// LogFallback emits a warning on each fallback.
	LogFallback bool `toml:"log_fallback"`
}

// DefaultPrivacyRoutingConfig prefers privacy over availability: no
// fallback, fallbacks logged if enabled later.
func DefaultPrivacyRoutingConfig() PrivacyRoutingConfig {
	return PrivacyRoutingConfig{LogFallback: true}
}

// MaxPrivacyRoutingConfig routes everything privately with no
// fallback.
func MaxPrivacyRoutingConfig() PrivacyRoutingConfig {
	return PrivacyRoutingConfig{ForcePrivate: true, LogFallback: true}
}

// AvailabilityRoutingConfig keeps default paths but permits fallback.
func AvailabilityRoutingConfig() PrivacyRoutingConfig {
	return PrivacyRoutingConfig{AllowFallback: true, LogFallback: true}
}

// RoutingDecision is the outcome of one routing call.
type RoutingDecision int

const (
	// DecisionFastPath sends directly.
	DecisionFastPath RoutingDecision = iota
	// DecisionPrivatePath sends through a circuit.
	DecisionPrivatePath
	// DecisionFallbackToFast sends directly because no circuit exists.
	DecisionFallbackToFast
	// DecisionQueueForCircuit holds the message until a circuit is up.
	DecisionQueueForCircuit
	// DecisionDrop discards the message.
	DecisionDrop
)

// IsImmediate reports whether the decision sends right away.
func (d RoutingDecision) IsImmediate() bool {
	switch d {
	case DecisionFastPath, DecisionPrivatePath, DecisionFallbackToFast:
		return true
	default:
		return false
	}
}

// ActualPath returns the path taken for immediate decisions.
func (d RoutingDecision) ActualPath() (MessagePath, bool) {
	switch d {
	case DecisionFastPath, DecisionFallbackToFast:
		return PathFast, true
	case DecisionPrivatePath:
		return PathPrivate, true
	default:
		return 0, false
	}
}

// RoutingMetrics counts routing outcomes.
type RoutingMetrics struct {
	fastPath    uint64
	privatePath uint64
	fallbacks   uint64
	queued      uint64
	dropped     uint64
}

// NewRoutingMetrics creates zeroed metrics.
func NewRoutingMetrics() *RoutingMetrics { return &RoutingMetrics{} }

func (m *RoutingMetrics) recordFast()     { atomic.AddUint64(&m.fastPath, 1) }
func (m *RoutingMetrics) recordPrivate()  { atomic.AddUint64(&m.privatePath, 1) }
func (m *RoutingMetrics) recordFallback() { atomic.AddUint64(&m.fallbacks, 1) }
func (m *RoutingMetrics) recordQueued()   { atomic.AddUint64(&m.queued, 1) }

// RecordDropped counts a message discarded after queueing gave up.
func (m *RoutingMetrics) RecordDropped() { atomic.AddUint64(&m.dropped, 1) }

// RoutingMetricsSnapshot is a point-in-time copy for monitoring.
type RoutingMetricsSnapshot struct {
	FastPath    uint64
	PrivatePath uint64
	Fallbacks   uint64
	Queued      uint64
	Dropped     uint64
}

// Snapshot reads all counters.
func (m *RoutingMetrics) Snapshot() RoutingMetricsSnapshot {
	return RoutingMetricsSnapshot{
		FastPath:    atomic.LoadUint64(&m.fastPath),
		PrivatePath: atomic.LoadUint64(&m.privatePath),
		Fallbacks:   atomic.LoadUint64(&m.fallbacks),
		Queued:      atomic.LoadUint64(&m.queued),
		Dropped:     atomic.LoadUint64(&m.dropped),
	}
}

// PrivatePathRatio is the fraction of private-intended messages that
// actually went private. Returns 1 when nothing was private-intended.
func (s RoutingMetricsSnapshot) PrivatePathRatio() float64 {
	intended := s.PrivatePath + s.Fallbacks
	if intended == 0 {
		return 1.0
	}
	return float64(s.PrivatePath) / float64(intended)
}

// TotalRouted is the number of messages that were sent on some path.
func (s RoutingMetricsSnapshot) TotalRouted() uint64 {
	return s.FastPath + s.PrivatePath + s.Fallbacks
}

// PrivacyRouter decides the path for each outgoing message.
type PrivacyRouter struct {
	config  PrivacyRoutingConfig
	metrics *RoutingMetrics
}

// NewPrivacyRouter creates a router with its own metrics.
func NewPrivacyRouter(config PrivacyRoutingConfig) *PrivacyRouter {
	return &PrivacyRouter{config: config, metrics: NewRoutingMetrics()}
}

// NewPrivacyRouterWithMetrics shares a metrics instance across routers.
func NewPrivacyRouterWithMetrics(config PrivacyRoutingConfig, metrics *RoutingMetrics) *PrivacyRouter {
	return &PrivacyRouter{config: config, metrics: metrics}
}

// Config returns the routing configuration.
func (r *PrivacyRouter) Config() PrivacyRoutingConfig { return r.config }

// Metrics returns the router's counters.
func (r *PrivacyRouter) Metrics() *RoutingMetrics { return r.metrics }

// SelectPath returns the intended path for a message type, ignoring
// circuit availability.
func (r *PrivacyRouter) SelectPath(msgType MessageType) MessagePath {
	if r.config.ForcePrivate {
		return PathPrivate
	}
	return msgType.DefaultPath()
}

// ShouldUsePrivate reports whether the type is routed privately.
func (r *PrivacyRouter) ShouldUsePrivate(msgType MessageType) bool {
	return r.SelectPath(msgType) == PathPrivate
}

// Decide resolves the path for one message given current circuit
// availability.
func (r *PrivacyRouter) Decide(msgType MessageType, circuitAvailable bool) RoutingDecision {
	if r.SelectPath(msgType) == PathFast {
		r.metrics.recordFast()
		return DecisionFastPath
	}

	if circuitAvailable {
		r.metrics.recordPrivate()
		return DecisionPrivatePath
	}
	if r.config.AllowFallback {
		r.metrics.recordFallback()
		if r.config.LogFallback {
			log.WithField("message_type", msgType.String()).
				Warn("no circuit available, falling back to fast path")
		}
		return DecisionFallbackToFast
	}
	r.metrics.recordQueued()
	return DecisionQueueForCircuit
}
