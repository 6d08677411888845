package privacy

import (
	"fmt"
	"math/rand"
	"net/netip"
	"strings"
)

// Circuit hop selection with subnet diversity.
//
// No two hops of a circuit may share a /16 subnet, so an adversary
// controlling one network cannot control a whole path. Candidates are
// drawn by weighted random selection over relay scores: good relays are
// preferred, none is guaranteed, and the outcome is unpredictable.

// InsufficientPeersError reports too few qualified peers for a circuit.
type InsufficientPeersError struct {
	Needed    int
	Available int
}

func (e *InsufficientPeersError) Error() string {
	return fmt.Sprintf("privacy: insufficient peers: need %d, have %d", e.Needed, e.Available)
}

// InsufficientDiversityError reports too few distinct subnets.
type InsufficientDiversityError struct {
	Needed int
	Found  int
}

func (e *InsufficientDiversityError) Error() string {
	return fmt.Sprintf("privacy: insufficient diversity: need %d unique subnets, found %d", e.Needed, e.Found)
}

// NoQualifiedPeersError reports that no peer meets the score threshold.
type NoQualifiedPeersError struct {
	MinScore float64
}

func (e *NoQualifiedPeersError) Error() string {
	return fmt.Sprintf("privacy: no peers meet minimum relay score %.2f", e.MinScore)
}

// RelayPeerInfo is one hop candidate: identity, network location, and
// advertised capacity.
type RelayPeerInfo struct {
	// Peer is the candidate's identity.
	Peer PeerID
	// Addr is the candidate's IPv4 address when known. The zero Addr
	// means unknown; an unknown address counts as a unique subnet.
	Addr netip.Addr
	// Capacity is the candidate's advertised relay capacity.
	Capacity RelayCapacity
}

// NewRelayPeerInfo builds a candidate entry.
func NewRelayPeerInfo(peer PeerID, addr netip.Addr, capacity RelayCapacity) RelayPeerInfo {
	return RelayPeerInfo{Peer: peer, Addr: addr, Capacity: capacity}
}

// RelayScore returns the candidate's selection weight.
func (p RelayPeerInfo) RelayScore() float64 { return p.Capacity.RelayScore() }

// SubnetPrefix returns the /16 prefix of the candidate's IPv4 address
// as a uint16 (e.g. 192.168.1.100 yields 0xC0A8), and false when the
// address is unknown or not IPv4.
func (p RelayPeerInfo) SubnetPrefix() (uint16, bool) {
	if !p.Addr.IsValid() || !p.Addr.Is4() {
		return 0, false
	}
	octets := p.Addr.As4()
	return uint16(octets[0])<<8 | uint16(octets[1]), true
}

// SelectionConfig tunes hop selection.
type SelectionConfig struct {
	// MinRelayScore is the least score a candidate needs, 0 to 1.
	MinRelayScore float64
	// MaxAttempts bounds the selection loop.
	MaxAttempts int
	// AllowUnknownIP admits candidates without a known address,
	// treating each as its own subnet.
	AllowUnknownIP bool
	// StrictDiversity fails selection when too few subnets exist;
	// when false, remaining slots are filled without the diversity
	// constraint.
	StrictDiversity bool
}

// DefaultSelectionConfig returns the production selection settings.
func DefaultSelectionConfig() SelectionConfig {
	return SelectionConfig{
		MinRelayScore:   0.2,
		MaxAttempts:     100,
		AllowUnknownIP:  true,
		StrictDiversity: true,
	}
}

// CircuitSelector picks diverse, score-weighted hop sets.
type CircuitSelector struct {
	config SelectionConfig
}

// NewCircuitSelector creates a selector with the given configuration.
func NewCircuitSelector(config SelectionConfig) *CircuitSelector {
	return &CircuitSelector{config: config}
}

// Config returns the selection configuration.
func (s *CircuitSelector) Config() SelectionConfig { return s.config }

// SelectDiverseHops picks count hops from peers, each from a distinct
// /16 subnet, weighted by relay score.
func (s *CircuitSelector) SelectDiverseHops(peers []RelayPeerInfo, count int) ([]PeerID, error) {
	return s.SelectDiverseHopsWithRand(peers, count, globalRand())
}

// SelectDiverseHopsWithRand is SelectDiverseHops with a caller-supplied
// random source for deterministic tests.
func (s *CircuitSelector) SelectDiverseHopsWithRand(peers []RelayPeerInfo, count int, rng *rand.Rand) ([]PeerID, error) {
	qualified := make([]RelayPeerInfo, 0, len(peers))
	for _, p := range peers {
		if p.RelayScore() >= s.config.MinRelayScore {
			qualified = append(qualified, p)
		}
	}
	if len(qualified) == 0 {
		return nil, &NoQualifiedPeersError{MinScore: s.config.MinRelayScore}
	}
	if len(qualified) < count {
		return nil, &InsufficientPeersError{Needed: count, Available: len(qualified)}
	}

	selected := make([]PeerID, 0, count)
	usedSubnets := make(map[uint16]bool)
	usedPeers := make(map[string]bool)

	for attempts := 0; len(selected) < count && attempts < s.config.MaxAttempts; attempts++ {
		candidates := make([]RelayPeerInfo, 0, len(qualified))
		for _, p := range qualified {
			if usedPeers[string(p.Peer)] {
				continue
			}
			subnet, known := p.SubnetPrefix()
			if !known {
				if !s.config.AllowUnknownIP {
					continue
				}
			} else if usedSubnets[subnet] {
				continue
			}
			candidates = append(candidates, p)
		}
		if len(candidates) == 0 {
			break
		}

		peer := weightedRandomSelect(candidates, rng)
		if subnet, known := peer.SubnetPrefix(); known {
			usedSubnets[subnet] = true
		}
		usedPeers[string(peer.Peer)] = true
		selected = append(selected, peer.Peer)
	}

	if len(selected) < count {
		if s.config.StrictDiversity {
			return nil, &InsufficientDiversityError{Needed: count, Found: len(selected)}
		}
		for _, p := range qualified {
			if len(selected) >= count {
				break
			}
			if usedPeers[string(p.Peer)] {
				continue
			}
			usedPeers[string(p.Peer)] = true
			selected = append(selected, p.Peer)
		}
		if len(selected) < count {
			return nil, &InsufficientPeersError{Needed: count, Available: len(selected)}
		}
	}

	return selected, nil
}

// SameSubnet reports whether two candidates share a /16 subnet. Unknown
// addresses never match.
func SameSubnet(a, b RelayPeerInfo) bool {
	subnetA, okA := a.SubnetPrefix()
	subnetB, okB := b.SubnetPrefix()
	return okA && okB && subnetA == subnetB
}

// AreDiverse reports whether every known-address candidate occupies a
// distinct /16 subnet.
func AreDiverse(peers []RelayPeerInfo) bool {
	seen := make(map[uint16]bool)
	for _, p := range peers {
		subnet, known := p.SubnetPrefix()
		if !known {
			continue
		}
		if seen[subnet] {
			return false
		}
		seen[subnet] = true
	}
	return true
}

// weightedRandomSelect draws one candidate with probability
// proportional to its relay score, falling back to uniform when all
// weights are zero. Callers guarantee candidates is non-empty.
func weightedRandomSelect(candidates []RelayPeerInfo, rng *rand.Rand) RelayPeerInfo {
	var total float64
	for _, p := range candidates {
		total += p.RelayScore()
	}
	if total <= 0 {
		return candidates[rng.Intn(len(candidates))]
	}

	value := rng.Float64() * total
	for _, p := range candidates {
		value -= p.RelayScore()
		if value <= 0 {
			return p
		}
	}
	return candidates[len(candidates)-1]
}

// ExtractIPv4FromEndpoint pulls the IPv4 address out of an endpoint URI
// such as "tcp://10.0.0.1:5000" or a bare "ip:port". Returns the zero
// Addr when the host is not an IPv4 literal.
func ExtractIPv4FromEndpoint(endpoint string) (netip.Addr, bool) {
	host := endpoint
	for _, prefix := range []string{"mcp://", "tcp://", "udp://", "quic://"} {
		if strings.HasPrefix(host, prefix) {
			host = host[len(prefix):]
			break
		}
	}
	host, _, _ = strings.Cut(host, ":")

	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false
	}
	return addr, true
}

// ExtractSubnetFromEndpoint returns the /16 prefix of an endpoint's
// IPv4 address.
func ExtractSubnetFromEndpoint(endpoint string) (uint16, bool) {
	addr, ok := ExtractIPv4FromEndpoint(endpoint)
	if !ok {
		return 0, false
	}
	octets := addr.As4()
	return uint16(octets[0])<<8 | uint16(octets[1]), true
}
