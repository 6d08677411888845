package privacy

import (
	"sync"
	"time"
)

// Relay-side circuit state.
//
// When this node serves as a hop on someone else's circuit, it stores
// the negotiated hop key together with the forwarding instruction.
// State is keyed by circuit id; entries expire after a fixed lifetime
// so an abandoned circuit cannot pin key material forever.

const (
	// DefaultRateLimitWindow is the sliding window for per-peer relay
	// counting.
	DefaultRateLimitWindow = 60 * time.Second

	// DefaultMaxRelayPerWindow caps relayed messages per peer per
	// window.
	DefaultMaxRelayPerWindow uint32 = 100

	// DefaultCircuitKeyLifetime bounds how long a relay keeps a hop
	// key. Circuits rotate faster than this, so expiry only fires for
	// abandoned circuits.
	DefaultCircuitKeyLifetime = 900 * time.Second
)

// CircuitHopKey is the state a relay stores for one circuit it serves:
// the negotiated key and where to send the peeled message, or the exit
// role.
type CircuitHopKey struct {
	key       *SymmetricKey
	nextHop   PeerID
	exit      bool
	createdAt time.Time
}

// NewForwardHopKey builds relay state for a middle or entry position.
func NewForwardHopKey(key *SymmetricKey, nextHop PeerID) *CircuitHopKey {
	return &CircuitHopKey{key: key, nextHop: nextHop, createdAt: time.Now()}
}

// NewExitHopKey builds relay state for the exit position.
func NewExitHopKey(key *SymmetricKey) *CircuitHopKey {
	return &CircuitHopKey{key: key, exit: true, createdAt: time.Now()}
}

// Key returns the hop key.
func (h *CircuitHopKey) Key() *SymmetricKey { return h.key }

// NextHop returns the forwarding target, nil for exit keys.
func (h *CircuitHopKey) NextHop() PeerID {
	if h.exit {
		return nil
	}
	return h.nextHop
}

// IsExit reports whether this relay is the circuit's exit.
func (h *CircuitHopKey) IsExit() bool { return h.exit }

// CreatedAt returns when the key was negotiated.
func (h *CircuitHopKey) CreatedAt() time.Time { return h.createdAt }

// Age returns the key's age.
func (h *CircuitHopKey) Age() time.Duration { return time.Since(h.createdAt) }

// IsExpired reports whether the key has outlived the given lifetime.
func (h *CircuitHopKey) IsExpired(lifetime time.Duration) bool {
	return h.Age() > lifetime
}

// SlidingWindowLimiter counts events in a trailing window. It backs the
// relay state's coarse per-peer message counting; the token-bucket
// RelayRateLimiter handles the finer-grained admission decisions.
type SlidingWindowLimiter struct {
	events      []time.Time
	maxRequests uint32
	window      time.Duration
}

// NewSlidingWindowLimiter creates a limiter admitting maxRequests per
// window.
func NewSlidingWindowLimiter(maxRequests uint32, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{maxRequests: maxRequests, window: window}
}

// Check records an event if the window has room and reports whether it
// was admitted.
func (l *SlidingWindowLimiter) Check() bool {
	now := time.Now()
	l.prune(now)
	if uint32(len(l.events)) >= l.maxRequests {
		return false
	}
	l.events = append(l.events, now)
	return true
}

// CurrentCount returns the events inside the current window.
func (l *SlidingWindowLimiter) CurrentCount() int {
	l.prune(time.Now())
	return len(l.events)
}

// Reset clears the window.
func (l *SlidingWindowLimiter) Reset() { l.events = l.events[:0] }

func (l *SlidingWindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.events[:0]
	for _, t := range l.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.events = kept
}

// RelayStateConfig tunes relay-side state retention and limiting.
type RelayStateConfig struct {
	// RateLimitWindow and MaxRelayPerWindow cap relayed messages per
	// peer.
	RateLimitWindow   time.Duration
	MaxRelayPerWindow uint32

	// CircuitKeyLifetime bounds hop key retention.
	CircuitKeyLifetime time.Duration
}

// DefaultRelayStateConfig returns the production retention settings.
func DefaultRelayStateConfig() RelayStateConfig {
	return RelayStateConfig{
		RateLimitWindow:    DefaultRateLimitWindow,
		MaxRelayPerWindow:  DefaultMaxRelayPerWindow,
		CircuitKeyLifetime: DefaultCircuitKeyLifetime,
	}
}

// RelayState holds everything this node knows about circuits: hop keys
// for circuits it serves, its own outbound circuits, and per-peer relay
// counters. Safe for concurrent use.
type RelayState struct {
	mu          sync.Mutex
	config      RelayStateConfig
	circuitKeys map[CircuitID]*CircuitHopKey
	ourCircuits map[CircuitID]*OutboundCircuit
	relayLimits map[string]*SlidingWindowLimiter
}

// NewRelayState creates empty relay state.
func NewRelayState(config RelayStateConfig) *RelayState {
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = DefaultRateLimitWindow
	}
	if config.MaxRelayPerWindow == 0 {
		config.MaxRelayPerWindow = DefaultMaxRelayPerWindow
	}
	if config.CircuitKeyLifetime <= 0 {
		config.CircuitKeyLifetime = DefaultCircuitKeyLifetime
	}
	return &RelayState{
		config:      config,
		circuitKeys: make(map[CircuitID]*CircuitHopKey),
		ourCircuits: make(map[CircuitID]*OutboundCircuit),
		relayLimits: make(map[string]*SlidingWindowLimiter),
	}
}

// Config returns the retention configuration.
func (s *RelayState) Config() RelayStateConfig { return s.config }

// AddCircuitKey stores the hop key for a circuit this node serves.
func (s *RelayState) AddCircuitKey(id CircuitID, hopKey *CircuitHopKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circuitKeys[id] = hopKey
}

// GetCircuitKey looks up the hop key for a served circuit.
func (s *RelayState) GetCircuitKey(id CircuitID) (*CircuitHopKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hopKey, ok := s.circuitKeys[id]
	return hopKey, ok
}

// RemoveCircuitKey drops a served circuit's key, wiping the material.
func (s *RelayState) RemoveCircuitKey(id CircuitID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	hopKey, ok := s.circuitKeys[id]
	if ok {
		hopKey.key.Zero()
		delete(s.circuitKeys, id)
	}
	return ok
}

// CircuitCount returns the number of served circuits.
func (s *RelayState) CircuitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.circuitKeys)
}

// CleanupExpiredKeys evicts hop keys past their lifetime and returns
// how many were removed.
func (s *RelayState) CleanupExpiredKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, hopKey := range s.circuitKeys {
		if hopKey.IsExpired(s.config.CircuitKeyLifetime) {
			hopKey.key.Zero()
			delete(s.circuitKeys, id)
			removed++
		}
	}
	return removed
}

// AddOurCircuit records an outbound circuit this node built.
func (s *RelayState) AddOurCircuit(c *OutboundCircuit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ourCircuits[c.ID()] = c
}

// GetOurCircuit looks up one of this node's own circuits.
func (s *RelayState) GetOurCircuit(id CircuitID) (*OutboundCircuit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.ourCircuits[id]
	return c, ok
}

// RemoveOurCircuit drops one of this node's own circuits.
func (s *RelayState) RemoveOurCircuit(id CircuitID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ourCircuits[id]; !ok {
		return false
	}
	delete(s.ourCircuits, id)
	return true
}

// OurCircuitCount returns the number of own circuits tracked.
func (s *RelayState) OurCircuitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ourCircuits)
}

// CleanupExpiredCircuits evicts expired own circuits.
func (s *RelayState) CleanupExpiredCircuits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.ourCircuits {
		if c.IsExpired() {
			delete(s.ourCircuits, id)
			removed++
		}
	}
	return removed
}

// CheckRateLimit admits or rejects a relayed message from peer under
// the window limit.
func (s *RelayState) CheckRateLimit(peer PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(peer)
	limiter, ok := s.relayLimits[key]
	if !ok {
		limiter = NewSlidingWindowLimiter(s.config.MaxRelayPerWindow, s.config.RateLimitWindow)
		s.relayLimits[key] = limiter
	}
	return limiter.Check()
}

// PeerRelayCount returns peer's message count in the current window.
func (s *RelayState) PeerRelayCount(peer PeerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limiter, ok := s.relayLimits[string(peer)]; ok {
		return limiter.CurrentCount()
	}
	return 0
}

// CleanupAll runs every expiry pass and drops idle rate limiters.
// Returns (expired keys, expired circuits, dropped limiters).
func (s *RelayState) CleanupAll() (int, int, int) {
	keys := s.CleanupExpiredKeys()
	circuits := s.CleanupExpiredCircuits()

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key, limiter := range s.relayLimits {
		if limiter.CurrentCount() == 0 {
			delete(s.relayLimits, key)
			dropped++
		}
	}
	return keys, circuits, dropped
}
