package privacy

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Circuit construction.
//
// A circuit is built one hop at a time. Round one runs the handshake
// directly with the entry hop. Rounds two and three tunnel the CREATE
// through the forward layers already established, so the entry hop
// never sees later key material and later hops only learn their
// predecessor. The builder owns hop selection, the per-round
// handshakes, retries, and a breaker that stops it hammering an
// unreachable network.

// Builder retry and breaker defaults.
const (
	// DefaultBuildRetries is the retry budget for one circuit build.
	DefaultBuildRetries = 3
	// DefaultBuildBackoff is the initial retry delay.
	DefaultBuildBackoff = time.Second
	// DefaultBreakerResetTimeout is the open-breaker probe delay.
	DefaultBreakerResetTimeout = 30 * time.Second
)

// CircuitTransport is what the builder needs from the node: direct
// CREATE delivery, relayed onion delivery, and the routing of CREATED
// responses back along the partial circuit.
//
// Extension rounds tunnel CREATE envelopes through the established
// hops as onion relay messages, so implementations must expect a peer
// to receive an OnionRelayMsg for a circuit it has no key for and to
// decode its Onion body with DecodeCircuitMessage (see RelayHandler).
type CircuitTransport interface {
	GossipSender

	// SendCircuitCreate delivers a CREATE to a directly connected peer.
	SendCircuitCreate(ctx context.Context, peer PeerID, msg *CircuitCreateMsg) error

	// AwaitCreated blocks until the CREATED response for the circuit
	// arrives or ctx expires.
	AwaitCreated(ctx context.Context, id CircuitID) (*CircuitCreatedMsg, error)
}

// PeerDirectory supplies hop candidates with their advertised
// capacities.
type PeerDirectory interface {
	// RelayCandidates returns the peers currently eligible as hops.
	RelayCandidates() []RelayPeerInfo
}

// CircuitBuilder establishes outbound circuits.
type CircuitBuilder struct {
	transport CircuitTransport
	directory PeerDirectory
	selector  *CircuitSelector
	lifetime  time.Duration
	breaker   *CircuitBreaker
	collector MetricsCollector
}

// NewCircuitBuilder creates a builder using default selection and the
// default rotation lifetime.
func NewCircuitBuilder(transport CircuitTransport, directory PeerDirectory) *CircuitBuilder {
	return &CircuitBuilder{
		transport: transport,
		directory: directory,
		selector:  NewCircuitSelector(DefaultSelectionConfig()),
		lifetime:  DefaultRotationInterval,
		breaker:   NewCircuitBreaker(DefaultRebuildThreshold, DefaultBreakerResetTimeout),
		collector: NoOpMetrics{},
	}
}

// WithSelector replaces the hop selector.
func (b *CircuitBuilder) WithSelector(selector *CircuitSelector) *CircuitBuilder {
	b.selector = selector
	return b
}

// WithLifetime sets the base lifetime of built circuits.
func (b *CircuitBuilder) WithLifetime(lifetime time.Duration) *CircuitBuilder {
	b.lifetime = lifetime
	return b
}

// WithCollector attaches a MetricsCollector sink.
func (b *CircuitBuilder) WithCollector(collector MetricsCollector) *CircuitBuilder {
	b.collector = collector
	return b
}

// Breaker exposes the builder's circuit breaker for diagnostics.
func (b *CircuitBuilder) Breaker() *CircuitBreaker { return b.breaker }

// BuildCircuit selects three diverse hops and establishes a circuit
// through them, retrying transient failures with backoff. The breaker
// fails fast while the network looks dead.
func (b *CircuitBuilder) BuildCircuit(ctx context.Context) (*OutboundCircuit, error) {
	var circuit *OutboundCircuit
	err := b.breaker.Execute(func() error {
		return RetryWithBackoff(ctx, DefaultBuildRetries, DefaultBuildBackoff, func() error {
			hops, err := b.selectHops()
			if err != nil {
				return err
			}
			built, err := b.BuildCircuitThrough(ctx, hops)
			if err != nil {
				return err
			}
			circuit = built
			return nil
		})
	})
	if err != nil {
		b.collector.IncrementCircuitBuildFailed()
		return nil, err
	}
	b.collector.IncrementCircuitBuilt()
	return circuit, nil
}

// BuildCircuitThrough establishes a circuit over a fixed hop sequence.
// Exposed for tests and for callers that pin paths.
func (b *CircuitBuilder) BuildCircuitThrough(ctx context.Context, hops [CircuitHops]PeerID) (*OutboundCircuit, error) {
	id, err := NewCircuitID()
	if err != nil {
		return nil, fmt.Errorf("circuit id generation: %w", err)
	}

	log.WithField("circuit", id.String()).Debug("building circuit")

	var keys [CircuitHops]*SymmetricKey
	handshake := NewCircuitHandshake()
	for i := 0; i < CircuitHops; i++ {
		key, err := b.extendToHop(ctx, handshake, id, hops, keys, i)
		if err != nil {
			for _, k := range keys {
				if k != nil {
					k.Zero()
				}
			}
			return nil, fmt.Errorf("circuit extension to hop %d: %w", i+1, err)
		}
		keys[i] = key
	}

	log.WithField("circuit", id.String()).
		WithField("entry", hops[0].String()).
		Debug("circuit established")
	return NewOutboundCircuit(id, hops, keys, b.lifetime), nil
}

// extendToHop runs one handshake round. Round zero goes directly to
// the entry hop; later rounds wrap the CREATE in the forward layers of
// the hops already keyed, addressed hop by hop toward the target.
func (b *CircuitBuilder) extendToHop(ctx context.Context, handshake *CircuitHandshake, id CircuitID, hops [CircuitHops]PeerID, keys [CircuitHops]*SymmetricKey, hop int) (*SymmetricKey, error) {
	create, err := handshake.InitiateCreate(id)
	if err != nil {
		return nil, err
	}

	if hop == 0 {
		err = b.transport.SendCircuitCreate(ctx, hops[0], create)
	} else {
		err = b.sendTunnelledCreate(ctx, create, hops, keys, hop)
	}
	if err != nil {
		handshake.Cancel()
		return nil, err
	}

	roundCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()
	created, err := b.transport.AwaitCreated(roundCtx, id)
	if err != nil {
		handshake.Cancel()
		return nil, fmt.Errorf("awaiting CREATED: %w", err)
	}

	return handshake.CompleteCreate(created.EphemeralPubKey, id)
}

// sendTunnelledCreate wraps an encoded CREATE in forward layers so the
// established hops relay it to the extension target without reading it.
func (b *CircuitBuilder) sendTunnelledCreate(ctx context.Context, create *CircuitCreateMsg, hops [CircuitHops]PeerID, keys [CircuitHops]*SymmetricKey, hop int) error {
	body, err := create.Encode()
	if err != nil {
		return fmt.Errorf("CREATE encoding: %w", err)
	}

	// Innermost layer tells the last established hop to pass the CREATE
	// to the new hop; each earlier layer forwards to its successor.
	onion, err := EncryptForwardLayer(keys[hop-1], hops[hop], body)
	if err != nil {
		return err
	}
	for j := hop - 2; j >= 0; j-- {
		onion, err = EncryptForwardLayer(keys[j], hops[j+1], onion)
		if err != nil {
			return err
		}
	}

	msg := &OnionRelayMsg{CircuitID: create.CircuitID, Onion: onion}
	return b.transport.SendOnionRelay(ctx, hops[0], msg)
}

func (b *CircuitBuilder) selectHops() ([CircuitHops]PeerID, error) {
	var hops [CircuitHops]PeerID
	candidates := b.directory.RelayCandidates()
	selected, err := b.selector.SelectDiverseHops(candidates, CircuitHops)
	if err != nil {
		return hops, fmt.Errorf("%w: %v", ErrInsufficientRelays, err)
	}
	copy(hops[:], selected)
	return hops, nil
}

// MaintenanceResult summarizes one maintenance pass over the pool.
type MaintenanceResult struct {
	// Expired is how many circuits were evicted.
	Expired int
	// Built is how many circuits were added.
	Built int
	// Failed is how many build attempts failed.
	Failed int
}

// CircuitPoolMaintainer keeps the pool at its low-water mark: a
// periodic pass evicts expired circuits and builds replacements.
type CircuitPoolMaintainer struct {
	pool      *CircuitPool
	builder   *CircuitBuilder
	interval  time.Duration
	collector MetricsCollector

	mu       sync.Mutex
	failures int
}

// NewCircuitPoolMaintainer creates a maintainer with the default
// interval.
func NewCircuitPoolMaintainer(pool *CircuitPool, builder *CircuitBuilder) *CircuitPoolMaintainer {
	return &CircuitPoolMaintainer{
		pool:      pool,
		builder:   builder,
		interval:  DefaultMaintenanceInterval,
		collector: NoOpMetrics{},
	}
}

// WithInterval overrides the maintenance interval.
func (m *CircuitPoolMaintainer) WithInterval(interval time.Duration) *CircuitPoolMaintainer {
	m.interval = interval
	return m
}

// WithCollector attaches a MetricsCollector sink.
func (m *CircuitPoolMaintainer) WithCollector(collector MetricsCollector) *CircuitPoolMaintainer {
	m.collector = collector
	return m
}

// ConsecutiveFailures returns the current failed-build streak.
func (m *CircuitPoolMaintainer) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// RunOnce performs a single maintenance pass: evict expired circuits,
// then build until the pool reaches its minimum or a build fails.
func (m *CircuitPoolMaintainer) RunOnce(ctx context.Context) MaintenanceResult {
	result := MaintenanceResult{Expired: m.pool.RemoveExpired()}

	for m.pool.NeedsMoreCircuits() {
		circuit, err := m.builder.BuildCircuit(ctx)
		if err != nil {
			result.Failed++
			m.recordFailure(err)
			break
		}
		m.pool.AddCircuit(circuit)
		result.Built++
		m.resetFailures()
	}

	m.collector.SetActiveCircuits(m.pool.ActiveCount())
	if result.Expired > 0 || result.Built > 0 || result.Failed > 0 {
		log.Debugf("pool maintenance: expired=%d built=%d failed=%d active=%d",
			result.Expired, result.Built, result.Failed, m.pool.ActiveCount())
	}
	return result
}

// Run drives maintenance passes until ctx is cancelled. An immediate
// first pass fills the pool at startup.
func (m *CircuitPoolMaintainer) Run(ctx context.Context) {
	m.RunOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

func (m *CircuitPoolMaintainer) recordFailure(err error) {
	m.mu.Lock()
	m.failures++
	failures := m.failures
	m.mu.Unlock()
	if failures >= DefaultRebuildThreshold {
		log.Warnf("circuit builds failing repeatedly (%d in a row): %v", failures, err)
	} else {
		log.Debugf("circuit build failed: %v", err)
	}
}

func (m *CircuitPoolMaintainer) resetFailures() {
	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()
}
