package privacy

import (
	"fmt"
	"strconv"
	"strings"
)

// Transport capability negotiation.
//
// Peers advertise which transports they speak and their NAT class;
// both sides run the same pure scoring over the common set and arrive
// at the same choice. WebRTC blends with video-call traffic and
// traverses NAT, the TLS tunnel looks like HTTPS, plain TCP is the
// performance baseline.

// TransportKind is one of the supported peer-to-peer transports.
type TransportKind int

const (
	// TransportWebRTC uses WebRTC data channels.
	TransportWebRTC TransportKind = iota
	// TransportTLSTunnel wraps the connection in a TLS 1.3 tunnel.
	TransportTLSTunnel
	// TransportPlain is TCP with the Noise handshake.
	TransportPlain
)

// String returns the wire identifier.
func (t TransportKind) String() string {
	switch t {
	case TransportWebRTC:
		return "webrtc"
	case TransportTLSTunnel:
		return "tls"
	default:
		return "plain"
	}
}

// ParseTransportKind parses a wire identifier, accepting common
// aliases.
func ParseTransportKind(s string) (TransportKind, bool) {
	switch strings.ToLower(s) {
	case "webrtc":
		return TransportWebRTC, true
	case "tls", "tlstunnel", "tls-tunnel":
		return TransportTLSTunnel, true
	case "plain", "tcp", "noise":
		return TransportPlain, true
	default:
		return 0, false
	}
}

// PreferenceScore is the base selection weight; higher wins.
func (t TransportKind) PreferenceScore() int {
	switch t {
	case TransportWebRTC:
		return 100
	case TransportTLSTunnel:
		return 75
	default:
		return 50
	}
}

// ScoreFor returns the adjustment a local preference adds to a
// transport's base score.
func (p TransportPreference) ScoreFor(t TransportKind) int {
	switch p {
	case PreferPrivacy:
		// Obfuscated transports over the bare one.
		switch t {
		case TransportWebRTC:
			return 50
		case TransportTLSTunnel:
			return 30
		default:
			return 0
		}
	default:
		// Performance: plain TCP has the least overhead.
		switch t {
		case TransportPlain:
			return 50
		case TransportTLSTunnel:
			return 10
		default:
			return 0
		}
	}
}

// SupportsWebRTCDirect reports whether the NAT class permits direct
// WebRTC connections.
func (n NatType) SupportsWebRTCDirect() bool {
	switch n {
	case NatOpen, NatFullCone, NatRestricted:
		return true
	default:
		return false
	}
}

// WebRTCCompatibleWith estimates whether WebRTC will work between two
// NAT classes. Symmetric-to-symmetric cannot hole punch; otherwise one
// reasonably open side suffices.
func (n NatType) WebRTCCompatibleWith(other NatType) bool {
	if n == NatSymmetric && other == NatSymmetric {
		return false
	}
	return n.SupportsWebRTCDirect() || other.SupportsWebRTCDirect()
}

// TransportCapabilitiesVersion is the current advertisement format
// version.
const TransportCapabilitiesVersion uint8 = 1

// TransportCapabilities is a peer's transport advertisement, carried
// in peer discovery.
type TransportCapabilities struct {
	// Supported lists the transports in the peer's preference order.
	Supported []TransportKind
	// Preferred is the peer's first choice.
	Preferred TransportKind
	// Nat is the peer's NAT class, affecting WebRTC viability.
	Nat NatType
	// Version is the advertisement format version.
	Version uint8
}

// NewTransportCapabilities builds an advertisement.
func NewTransportCapabilities(supported []TransportKind, preferred TransportKind, nat NatType) TransportCapabilities {
	return TransportCapabilities{
		Supported: supported,
		Preferred: preferred,
		Nat:       nat,
		Version:   TransportCapabilitiesVersion,
	}
}

// PlainOnlyCapabilities advertises just plain TCP.
func PlainOnlyCapabilities() TransportCapabilities {
	return NewTransportCapabilities([]TransportKind{TransportPlain}, TransportPlain, NatUnknown)
}

// FullCapabilities advertises every transport, WebRTC first.
func FullCapabilities(nat NatType) TransportCapabilities {
	return NewTransportCapabilities(
		[]TransportKind{TransportWebRTC, TransportTLSTunnel, TransportPlain},
		TransportWebRTC, nat)
}

// Supports reports whether the peer speaks the transport.
func (c TransportCapabilities) Supports(t TransportKind) bool {
	for _, s := range c.Supported {
		if s == t {
			return true
		}
	}
	return false
}

// preferenceRank returns the transport's position in the peer's
// ordering; unsupported transports rank last.
func (c TransportCapabilities) preferenceRank(t TransportKind) int {
	for i, s := range c.Supported {
		if s == t {
			return i
		}
	}
	return len(c.Supported)
}

// BestCommon picks the transport both sides support that scores
// highest: base preference, minus the combined ranking distance, with
// a heavy penalty for WebRTC across incompatible NATs. Returns false
// when the peers share no transport.
func (c TransportCapabilities) BestCommon(other TransportCapabilities) (TransportKind, bool) {
	var (
		best      TransportKind
		bestScore int
		found     bool
	)
	for _, t := range c.Supported {
		if !other.Supports(t) {
			continue
		}

		score := t.PreferenceScore()
		score -= c.preferenceRank(t) + other.preferenceRank(t)
		if t == TransportWebRTC && !c.Nat.WebRTCCompatibleWith(other.Nat) {
			score -= 100
		}

		if !found || score > bestScore {
			best, bestScore, found = t, score, true
		}
	}
	return best, found
}

// BestCommonWithPreference is BestCommon with the local preference's
// adjustment applied to each candidate.
func (c TransportCapabilities) BestCommonWithPreference(other TransportCapabilities, pref TransportPreference) (TransportKind, bool) {
	var (
		best      TransportKind
		bestScore int
		found     bool
	)
	for _, t := range c.Supported {
		if !other.Supports(t) {
			continue
		}

		score := t.PreferenceScore() + pref.ScoreFor(t)
		score -= c.preferenceRank(t) + other.preferenceRank(t)
		if t == TransportWebRTC && !c.Nat.WebRTCCompatibleWith(other.Nat) {
			score -= 100
		}

		if !found || score > bestScore {
			best, bestScore, found = t, score, true
		}
	}
	return best, found
}

// MultiaddrSuffix encodes the advertisement for the discovery layer:
// "/transport-caps/<version>/<transports>/<nat>".
func (c TransportCapabilities) MultiaddrSuffix() string {
	names := make([]string, len(c.Supported))
	for i, t := range c.Supported {
		names[i] = t.String()
	}
	return fmt.Sprintf("/transport-caps/%d/%s/%s", c.Version, strings.Join(names, ","), c.Nat)
}

// ParseCapabilitiesSuffix decodes a discovery advertisement. Unknown
// versions and empty transport lists fail, so peers degrade to the
// plain default.
func ParseCapabilitiesSuffix(suffix string) (TransportCapabilities, bool) {
	parts := strings.Split(strings.TrimPrefix(suffix, "/"), "/")
	if len(parts) != 4 || parts[0] != "transport-caps" {
		return TransportCapabilities{}, false
	}

	version, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || uint8(version) > TransportCapabilitiesVersion {
		return TransportCapabilities{}, false
	}

	var supported []TransportKind
	for _, name := range strings.Split(parts[2], ",") {
		if t, ok := ParseTransportKind(name); ok {
			supported = append(supported, t)
		}
	}
	if len(supported) == 0 {
		return TransportCapabilities{}, false
	}

	nat := NatUnknown
	for _, n := range []NatType{NatOpen, NatFullCone, NatRestricted, NatSymmetric} {
		if parts[3] == n.String() {
			nat = n
			break
		}
	}

	return TransportCapabilities{
		Supported: supported,
		Preferred: supported[0],
		Nat:       nat,
		Version:   uint8(version),
	}, true
}

// CapabilitiesFromAgentVersion extracts an advertisement embedded in a
// peer's agent version string, e.g.
// "botho/1.0.0/transport-caps/1/webrtc,plain/open".
func CapabilitiesFromAgentVersion(agentVersion string) (TransportCapabilities, bool) {
	idx := strings.Index(agentVersion, "/transport-caps/")
	if idx < 0 {
		return TransportCapabilities{}, false
	}
	return ParseCapabilitiesSuffix(agentVersion[idx:])
}
