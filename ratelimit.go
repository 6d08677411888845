package privacy

import (
	"sync"
	"time"
)

// Per-peer rate limiting for relay duties.
//
// Relaying is a free service every node offers the network, which makes
// it the obvious flooding target. Each peer gets a token bucket for
// circuit CREATE requests, a token bucket for relay messages, and a
// sliding-window bandwidth tracker. Repeated violations flag the peer
// for disconnection.

// Default per-peer relay limits.
const (
	DefaultCircuitCreatesPerMin uint32 = 10
	DefaultRelayMsgsPerSec      uint32 = 100
	DefaultRelayBandwidthPerSec uint64 = 1_000_000
	DefaultViolationThreshold   uint32 = 5
)

// RelayRateLimits configures the per-peer limits.
type RelayRateLimits struct {
	// CircuitCreatesPerMin caps CREATE handshakes per peer.
	CircuitCreatesPerMin uint32
	// RelayMsgsPerSec caps relayed onion messages per peer.
	RelayMsgsPerSec uint32
	// RelayBandwidthPerSec caps relayed bytes per peer per second.
	RelayBandwidthPerSec uint64
	// ViolationThreshold is the violation count that flags a peer for
	// disconnection.
	ViolationThreshold uint32
	// Enabled turns the limiter off entirely when false.
	Enabled bool
}

// DefaultRelayRateLimits returns the production limits.
func DefaultRelayRateLimits() RelayRateLimits {
	return RelayRateLimits{
		CircuitCreatesPerMin: DefaultCircuitCreatesPerMin,
		RelayMsgsPerSec:      DefaultRelayMsgsPerSec,
		RelayBandwidthPerSec: DefaultRelayBandwidthPerSec,
		ViolationThreshold:   DefaultViolationThreshold,
		Enabled:              true,
	}
}

// TokenBucket is a classic token bucket: bursts up to capacity, a
// constant long-term refill rate. Not safe for concurrent use; callers
// hold the owning limiter's lock.
type TokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// TryConsume refills by elapsed time and takes amount tokens if
// available.
func (b *TokenBucket) TryConsume(amount uint32) bool {
	b.refill()
	if b.tokens >= float64(amount) {
		b.tokens -= float64(amount)
		return true
	}
	return false
}

func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// AvailableTokens returns the current token count.
func (b *TokenBucket) AvailableTokens() float64 { return b.tokens }

// Capacity returns the burst limit.
func (b *TokenBucket) Capacity() float64 { return b.capacity }

// BandwidthTracker enforces a bytes-per-second cap over a one second
// sliding window.
type BandwidthTracker struct {
	samples        []bandwidthSample
	maxBytesPerSec uint64
	window         time.Duration
}

type bandwidthSample struct {
	at    time.Time
	bytes uint64
}

// NewBandwidthTracker creates a tracker for the given cap.
func NewBandwidthTracker(maxBytesPerSec uint64) *BandwidthTracker {
	return &BandwidthTracker{
		maxBytesPerSec: maxBytesPerSec,
		window:         time.Second,
	}
}

// TryConsume records bytes if the window total stays under the cap.
func (t *BandwidthTracker) TryConsume(bytes int) bool {
	now := time.Now()
	t.prune(now)

	var usage uint64
	for _, s := range t.samples {
		usage += s.bytes
	}
	if usage+uint64(bytes) > t.maxBytesPerSec {
		return false
	}
	t.samples = append(t.samples, bandwidthSample{at: now, bytes: uint64(bytes)})
	return true
}

// CurrentUsage returns bytes consumed in the current window.
func (t *BandwidthTracker) CurrentUsage() uint64 {
	t.prune(time.Now())
	var usage uint64
	for _, s := range t.samples {
		usage += s.bytes
	}
	return usage
}

// Reset discards all samples.
func (t *BandwidthTracker) Reset() { t.samples = t.samples[:0] }

func (t *BandwidthTracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.samples[:0]
	for _, s := range t.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	t.samples = kept
}

// peerRelayLimiter holds one peer's buckets and violation count.
type peerRelayLimiter struct {
	circuitBucket *TokenBucket
	relayBucket   *TokenBucket
	bandwidth     *BandwidthTracker
	violations    uint32
	lastViolation time.Time
}

func newPeerRelayLimiter(limits RelayRateLimits) *peerRelayLimiter {
	// Burst capacity is twice the steady-state rate so honest traffic
	// spikes survive while sustained flooding drains out.
	return &peerRelayLimiter{
		circuitBucket: NewTokenBucket(float64(limits.CircuitCreatesPerMin*2), float64(limits.CircuitCreatesPerMin)/60.0),
		relayBucket:   NewTokenBucket(float64(limits.RelayMsgsPerSec*2), float64(limits.RelayMsgsPerSec)),
		bandwidth:     NewBandwidthTracker(limits.RelayBandwidthPerSec),
	}
}

func (p *peerRelayLimiter) recordViolation() {
	p.violations++
	p.lastViolation = time.Now()
}

// RateLimitVerdict is the outcome of one limit check.
type RateLimitVerdict int

const (
	// VerdictAllowed admits the request.
	VerdictAllowed RateLimitVerdict = iota
	// VerdictRateLimited drops the request but keeps the peer.
	VerdictRateLimited
	// VerdictDisconnect drops the request and flags the peer.
	VerdictDisconnect
)

// RelayRateLimiter tracks limits for every peer sending us relay
// traffic. Safe for concurrent use.
type RelayRateLimiter struct {
	mu      sync.Mutex
	limits  RelayRateLimits
	peers   map[string]*peerRelayLimiter
	flagged []PeerID
}

// NewRelayRateLimiter creates a limiter with the given limits.
func NewRelayRateLimiter(limits RelayRateLimits) *RelayRateLimiter {
	return &RelayRateLimiter{
		limits: limits,
		peers:  make(map[string]*peerRelayLimiter),
	}
}

// Limits returns the configuration.
func (r *RelayRateLimiter) Limits() RelayRateLimits { return r.limits }

// IsEnabled reports whether limiting is active.
func (r *RelayRateLimiter) IsEnabled() bool { return r.limits.Enabled }

// CheckCircuitCreate admits or rejects a CREATE handshake from peer.
func (r *RelayRateLimiter) CheckCircuitCreate(peer PeerID) RateLimitVerdict {
	if !r.limits.Enabled {
		return VerdictAllowed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := r.limiter(peer)
	if limiter.circuitBucket.TryConsume(1) {
		return VerdictAllowed
	}
	return r.violation(peer, limiter)
}

// CheckRelay admits or rejects a relayed message of size bytes from
// peer. Both the message-rate and bandwidth limits must pass.
func (r *RelayRateLimiter) CheckRelay(peer PeerID, size int) RateLimitVerdict {
	if !r.limits.Enabled {
		return VerdictAllowed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := r.limiter(peer)
	msgOK := limiter.relayBucket.TryConsume(1)
	bwOK := limiter.bandwidth.TryConsume(size)
	if msgOK && bwOK {
		return VerdictAllowed
	}
	return r.violation(peer, limiter)
}

func (r *RelayRateLimiter) limiter(peer PeerID) *peerRelayLimiter {
	key := string(peer)
	limiter, ok := r.peers[key]
	if !ok {
		limiter = newPeerRelayLimiter(r.limits)
		r.peers[key] = limiter
	}
	return limiter
}

func (r *RelayRateLimiter) violation(peer PeerID, limiter *peerRelayLimiter) RateLimitVerdict {
	limiter.recordViolation()
	if limiter.violations >= r.limits.ViolationThreshold {
		r.flagged = append(r.flagged, append(PeerID(nil), peer...))
		log.WithField("peer", peer.String()).Warn("peer flagged for disconnect after repeated rate violations")
		return VerdictDisconnect
	}
	return VerdictRateLimited
}

// Violations returns the violation count recorded for peer.
func (r *RelayRateLimiter) Violations(peer PeerID) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.peers[string(peer)]; ok {
		return limiter.violations
	}
	return 0
}

// TakeFlaggedPeers returns and clears the peers flagged for
// disconnection.
func (r *RelayRateLimiter) TakeFlaggedPeers() []PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	flagged := r.flagged
	r.flagged = nil
	return flagged
}

// RemovePeer drops a peer's limiter state, typically after disconnect.
func (r *RelayRateLimiter) RemovePeer(peer PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, string(peer))
}
