package privacy

import (
	"testing"
)

func TestTransportKindStringsAndParsing(t *testing.T) {
	for _, kind := range []TransportKind{TransportWebRTC, TransportTLSTunnel, TransportPlain} {
		parsed, ok := ParseTransportKind(kind.String())
		if !ok || parsed != kind {
			t.Errorf("round trip failed for %s", kind)
		}
	}

	aliases := map[string]TransportKind{
		"tcp":        TransportPlain,
		"noise":      TransportPlain,
		"tlstunnel":  TransportTLSTunnel,
		"tls-tunnel": TransportTLSTunnel,
		"WEBRTC":     TransportWebRTC,
	}
	for alias, want := range aliases {
		parsed, ok := ParseTransportKind(alias)
		if !ok || parsed != want {
			t.Errorf("ParseTransportKind(%q) = %v ok=%v", alias, parsed, ok)
		}
	}

	if _, ok := ParseTransportKind("carrier-pigeon"); ok {
		t.Error("unknown transport accepted")
	}
}

func TestPreferenceScoreOrdering(t *testing.T) {
	if TransportWebRTC.PreferenceScore() <= TransportTLSTunnel.PreferenceScore() ||
		TransportTLSTunnel.PreferenceScore() <= TransportPlain.PreferenceScore() {
		t.Fatal("base preference should rank webrtc > tls > plain")
	}
}

func TestBestCommonPicksWebRTCWhenNATsAllow(t *testing.T) {
	a := FullCapabilities(NatOpen)
	b := FullCapabilities(NatFullCone)

	best, ok := a.BestCommon(b)
	if !ok || best != TransportWebRTC {
		t.Fatalf("best = %v ok=%v, want webrtc", best, ok)
	}
}

func TestBestCommonNATPenaltyAvoidsWebRTC(t *testing.T) {
	a := FullCapabilities(NatSymmetric)
	b := FullCapabilities(NatSymmetric)

	best, ok := a.BestCommon(b)
	if !ok {
		t.Fatal("no common transport found")
	}
	if best == TransportWebRTC {
		t.Fatal("webrtc selected between two symmetric NATs")
	}
}

func TestBestCommonNoSharedTransport(t *testing.T) {
	a := NewTransportCapabilities([]TransportKind{TransportWebRTC}, TransportWebRTC, NatOpen)
	b := PlainOnlyCapabilities()
	if _, ok := a.BestCommon(b); ok {
		t.Fatal("disjoint transport sets produced a choice")
	}
}

func TestBestCommonIntersection(t *testing.T) {
	a := NewTransportCapabilities([]TransportKind{TransportWebRTC, TransportPlain}, TransportWebRTC, NatOpen)
	b := NewTransportCapabilities([]TransportKind{TransportTLSTunnel, TransportPlain}, TransportTLSTunnel, NatOpen)

	best, ok := a.BestCommon(b)
	if !ok || best != TransportPlain {
		t.Fatalf("best = %v ok=%v, want the only common transport", best, ok)
	}
}

func TestBestCommonWithPreference(t *testing.T) {
	a := FullCapabilities(NatOpen)
	b := NewTransportCapabilities(
		[]TransportKind{TransportPlain, TransportTLSTunnel}, TransportPlain, NatOpen)

	// Privacy preference pushes the TLS tunnel over plain TCP.
	best, ok := a.BestCommonWithPreference(b, PreferPrivacy)
	if !ok || best != TransportTLSTunnel {
		t.Fatalf("privacy preference chose %v", best)
	}

	best, ok = a.BestCommonWithPreference(b, PreferPerformance)
	if !ok || best != TransportPlain {
		t.Fatalf("performance preference chose %v", best)
	}
}

func TestWebRTCNATCompatibility(t *testing.T) {
	if NatSymmetric.WebRTCCompatibleWith(NatSymmetric) {
		t.Fatal("symmetric-symmetric cannot hole punch")
	}
	if !NatSymmetric.WebRTCCompatibleWith(NatOpen) {
		t.Fatal("one open side should suffice")
	}
	if !NatOpen.WebRTCCompatibleWith(NatFullCone) {
		t.Fatal("open-fullcone should work")
	}
	if !NatOpen.SupportsWebRTCDirect() || NatSymmetric.SupportsWebRTCDirect() {
		t.Fatal("direct-support classification wrong")
	}
}

func TestMultiaddrSuffixRoundTrip(t *testing.T) {
	caps := FullCapabilities(NatRestricted)
	suffix := caps.MultiaddrSuffix()

	if suffix != "/transport-caps/1/webrtc,tls,plain/restricted" {
		t.Fatalf("suffix = %q", suffix)
	}

	parsed, ok := ParseCapabilitiesSuffix(suffix)
	if !ok {
		t.Fatal("suffix did not parse")
	}
	if len(parsed.Supported) != 3 || parsed.Preferred != TransportWebRTC || parsed.Nat != NatRestricted {
		t.Fatalf("parsed = %+v", parsed)
	}
	if parsed.Version != TransportCapabilitiesVersion {
		t.Fatalf("version = %d", parsed.Version)
	}
}

func TestParseCapabilitiesSuffixRejects(t *testing.T) {
	bad := []string{
		"",
		"/transport-caps/1/webrtc",
		"/other-thing/1/webrtc/open",
		"/transport-caps/99/webrtc/open",
		"/transport-caps/1/zeppelin/open",
		"/transport-caps/x/webrtc/open",
	}
	for _, suffix := range bad {
		if _, ok := ParseCapabilitiesSuffix(suffix); ok {
			t.Errorf("ParseCapabilitiesSuffix(%q) accepted", suffix)
		}
	}
}

func TestParseCapabilitiesUnknownNatDefaults(t *testing.T) {
	parsed, ok := ParseCapabilitiesSuffix("/transport-caps/1/plain/weird")
	if !ok {
		t.Fatal("suffix with odd NAT should still parse")
	}
	if parsed.Nat != NatUnknown {
		t.Fatalf("nat = %v, want unknown", parsed.Nat)
	}
}

func TestCapabilitiesFromAgentVersion(t *testing.T) {
	caps, ok := CapabilitiesFromAgentVersion("botho/1.0.0/transport-caps/1/webrtc,plain/open")
	if !ok {
		t.Fatal("embedded capabilities not found")
	}
	if !caps.Supports(TransportWebRTC) || !caps.Supports(TransportPlain) || caps.Supports(TransportTLSTunnel) {
		t.Fatalf("caps = %+v", caps)
	}
	if caps.Nat != NatOpen {
		t.Fatalf("nat = %v", caps.Nat)
	}

	if _, ok := CapabilitiesFromAgentVersion("botho/1.0.0"); ok {
		t.Fatal("agent version without capabilities parsed")
	}
}
