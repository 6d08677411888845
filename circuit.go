package privacy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Outbound circuits and the circuit pool.
//
// A circuit is three relays with one established hop key each. Circuits
// are built ahead of demand and rotated on a timer so that long-lived
// paths never accumulate enough traffic for correlation. Within its
// lifetime a circuit carries any number of broadcasts; the rotation
// interval, not a per-message teardown, bounds linkability.

const (
	// CircuitHops is the fixed path length.
	CircuitHops = 3

	// DefaultMinCircuits is the pool's low-water mark.
	DefaultMinCircuits = 3

	// DefaultRotationInterval is the base circuit lifetime.
	DefaultRotationInterval = 600 * time.Second

	// MaxLifetimeJitter is the upper bound of the random addition to
	// each circuit's lifetime. Spreading expiries avoids a thundering
	// rebuild of the whole pool at once.
	MaxLifetimeJitter = 180 * time.Second

	// DefaultMaintenanceInterval is how often the pool maintainer
	// evicts expired circuits and tops the pool back up.
	DefaultMaintenanceInterval = 30 * time.Second

	// DefaultRebuildThreshold is the consecutive-failure count after
	// which pool maintenance backs off and reports unhealthy.
	DefaultRebuildThreshold = 5
)

// OutboundCircuit is an established three-hop circuit owned by this
// node. Hop keys are wiped when the circuit is removed from the pool.
type OutboundCircuit struct {
	id        CircuitID
	hops      [CircuitHops]PeerID
	hopKeys   [CircuitHops]*SymmetricKey
	createdAt time.Time
	expiresAt time.Time
}

// NewOutboundCircuit builds a circuit record with a randomly jittered
// lifetime in [lifetime, lifetime+MaxLifetimeJitter).
func NewOutboundCircuit(id CircuitID, hops [CircuitHops]PeerID, keys [CircuitHops]*SymmetricKey, lifetime time.Duration) *OutboundCircuit {
	jitter := time.Duration(rand.Int63n(int64(MaxLifetimeJitter)))
	return newCircuitExactLifetime(id, hops, keys, lifetime+jitter)
}

// newCircuitExactLifetime skips the lifetime jitter. Tests use it to get
// deterministic expiry.
func newCircuitExactLifetime(id CircuitID, hops [CircuitHops]PeerID, keys [CircuitHops]*SymmetricKey, lifetime time.Duration) *OutboundCircuit {
	now := time.Now()
	return &OutboundCircuit{
		id:        id,
		hops:      hops,
		hopKeys:   keys,
		createdAt: now,
		expiresAt: now.Add(lifetime),
	}
}

// ID returns the circuit identifier.
func (c *OutboundCircuit) ID() CircuitID { return c.id }

// Hops returns the relay path [entry, middle, exit].
func (c *OutboundCircuit) Hops() [CircuitHops]PeerID { return c.hops }

// EntryHop returns the first relay, the only one this node contacts
// directly.
func (c *OutboundCircuit) EntryHop() PeerID { return c.hops[0] }

// MiddleHop returns the second relay.
func (c *OutboundCircuit) MiddleHop() PeerID { return c.hops[1] }

// ExitHop returns the relay that broadcasts the payload.
func (c *OutboundCircuit) ExitHop() PeerID { return c.hops[2] }

// HopKey returns the established key for hop index 0..2.
func (c *OutboundCircuit) HopKey(i int) (*SymmetricKey, error) {
	if i < 0 || i >= CircuitHops {
		return nil, fmt.Errorf("hop index %d out of range [0,%d)", i, CircuitHops)
	}
	return c.hopKeys[i], nil
}

// HopKeys returns all three hop keys in path order.
func (c *OutboundCircuit) HopKeys() [CircuitHops]*SymmetricKey { return c.hopKeys }

// CreatedAt returns the circuit's build time.
func (c *OutboundCircuit) CreatedAt() time.Time { return c.createdAt }

// ExpiresAt returns the jittered expiry time.
func (c *OutboundCircuit) ExpiresAt() time.Time { return c.expiresAt }

// IsExpired reports whether the circuit has passed its expiry.
func (c *OutboundCircuit) IsExpired() bool { return time.Now().After(c.expiresAt) }

// Age returns how long the circuit has existed.
func (c *OutboundCircuit) Age() time.Duration { return time.Since(c.createdAt) }

// TimeRemaining returns the time until expiry, zero when expired.
func (c *OutboundCircuit) TimeRemaining() time.Duration {
	remaining := time.Until(c.expiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// zeroKeys wipes all hop keys. Called when the pool drops the circuit.
func (c *OutboundCircuit) zeroKeys() {
	for _, key := range c.hopKeys {
		if key != nil {
			key.Zero()
		}
	}
}

// snapshot returns a copy of the circuit with independently owned key
// material, so pool eviction cannot wipe keys out from under a holder.
func (c *OutboundCircuit) snapshot() *OutboundCircuit {
	dup := *c
	for i, key := range c.hopKeys {
		if key != nil {
			dup.hopKeys[i] = key.Duplicate()
		}
	}
	return &dup
}

// Release wipes the hop keys of a circuit copy handed out by
// CircuitPool.GetCircuit. Call it once the broadcast using the copy has
// finished; the pool's own copy is unaffected.
func (c *OutboundCircuit) Release() { c.zeroKeys() }

// CircuitPoolConfig tunes pool sizing and rotation.
type CircuitPoolConfig struct {
	// MinCircuits is the low-water mark the maintainer rebuilds to.
	MinCircuits int

	// RotationInterval is the base lifetime for new circuits.
	RotationInterval time.Duration
}

// DefaultCircuitPoolConfig returns the production defaults.
func DefaultCircuitPoolConfig() CircuitPoolConfig {
	return CircuitPoolConfig{
		MinCircuits:      DefaultMinCircuits,
		RotationInterval: DefaultRotationInterval,
	}
}

// CircuitPool holds the established outbound circuits. All methods are
// safe for concurrent use.
//
// Selection is uniformly random among live circuits, so consecutive
// broadcasts from one node spread across paths.
type CircuitPool struct {
	mu     sync.RWMutex
	config CircuitPoolConfig
	active []*OutboundCircuit
}

// NewCircuitPool creates an empty pool with the given configuration.
func NewCircuitPool(config CircuitPoolConfig) *CircuitPool {
	if config.MinCircuits <= 0 {
		config.MinCircuits = DefaultMinCircuits
	}
	if config.RotationInterval <= 0 {
		config.RotationInterval = DefaultRotationInterval
	}
	return &CircuitPool{config: config}
}

// Config returns the pool configuration.
func (p *CircuitPool) Config() CircuitPoolConfig { return p.config }

// ActiveCount returns the number of non-expired circuits.
func (p *CircuitPool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	count := 0
	for _, c := range p.active {
		if !c.IsExpired() {
			count++
		}
	}
	return count
}

// TotalCount returns the number of held circuits including expired ones
// awaiting eviction.
func (p *CircuitPool) TotalCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// NeedsMoreCircuits reports whether the active count is below the
// configured minimum.
func (p *CircuitPool) NeedsMoreCircuits() bool {
	return p.ActiveCount() < p.config.MinCircuits
}

// AddCircuit inserts a newly built circuit.
func (p *CircuitPool) AddCircuit(c *OutboundCircuit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = append(p.active, c)
	log.WithField("circuit", c.ID().String()).Debug("circuit added to pool")
}

// GetCircuit returns a random non-expired circuit, or nil when none is
// available. The returned circuit owns copies of the hop keys, so it
// stays usable even if the pool evicts the original mid-broadcast; the
// caller wipes the copies with Release when done.
func (p *CircuitPool) GetCircuit() *OutboundCircuit {
	p.mu.RLock()
	defer p.mu.RUnlock()

	live := make([]*OutboundCircuit, 0, len(p.active))
	for _, c := range p.active {
		if !c.IsExpired() {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return live[rand.Intn(len(live))].snapshot()
}

// RemoveExpired evicts expired circuits, wiping their keys, and returns
// how many were removed.
func (p *CircuitPool) RemoveExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.active[:0]
	removed := 0
	for _, c := range p.active {
		if c.IsExpired() {
			c.zeroKeys()
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(p.active); i++ {
		p.active[i] = nil
	}
	p.active = kept

	if removed > 0 {
		log.WithField("removed", removed).Debug("expired circuits evicted")
	}
	return removed
}

// RemoveCircuit evicts one circuit by id, wiping its keys. Returns
// whether it was present.
func (p *CircuitPool) RemoveCircuit(id CircuitID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, c := range p.active {
		if c.ID() == id {
			c.zeroKeys()
			p.active = append(p.active[:i], p.active[i+1:]...)
			return true
		}
	}
	return false
}

// Clear evicts every circuit, wiping all keys.
func (p *CircuitPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.active {
		c.zeroKeys()
	}
	p.active = nil
}

// Circuits returns a snapshot of the currently held circuits.
func (p *CircuitPool) Circuits() []*OutboundCircuit {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*OutboundCircuit, len(p.active))
	copy(out, p.active)
	return out
}
