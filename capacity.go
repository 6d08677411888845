package privacy

// Relay capacity measurement.
//
// Every node advertises its relay capacity through peer announcements so
// circuit builders can weigh hop candidates. The score blends bandwidth,
// uptime, and NAT reachability, discounted by current load.

// NatType classifies a node's NAT situation as it affects relay
// reachability.
type NatType int

const (
	// NatOpen means publicly reachable with no NAT.
	NatOpen NatType = iota
	// NatFullCone accepts inbound from any peer after one outbound.
	NatFullCone
	// NatRestricted accepts inbound only from previously contacted
	// addresses.
	NatRestricted
	// NatSymmetric maps each destination separately; hardest to reach.
	NatSymmetric
	// NatUnknown means detection has not run or failed.
	NatUnknown
)

// String returns the NAT class name.
func (n NatType) String() string {
	switch n {
	case NatOpen:
		return "open"
	case NatFullCone:
		return "full_cone"
	case NatRestricted:
		return "restricted"
	case NatSymmetric:
		return "symmetric"
	default:
		return "unknown"
	}
}

// Bonus returns the score contribution of the NAT class.
func (n NatType) Bonus() float64 {
	switch n {
	case NatOpen:
		return 0.2
	case NatFullCone:
		return 0.15
	case NatRestricted:
		return 0.1
	default:
		return 0.0
	}
}

// IsRelayFriendly reports whether the NAT class permits useful relay
// service.
func (n NatType) IsRelayFriendly() bool {
	switch n {
	case NatOpen, NatFullCone, NatRestricted:
		return true
	default:
		return false
	}
}

// Capacity score and viability thresholds.
const (
	// relayScoreBandwidthRef is the bandwidth that earns the full
	// bandwidth weight.
	relayScoreBandwidthRef = 10_000_000

	// MinViableBandwidth is the least upload bandwidth for relay duty.
	MinViableBandwidth uint64 = 100_000
	// MinViableUptime is the least 24h uptime ratio for relay duty.
	MinViableUptime = 0.1
	// MaxViableLoad is the load above which a relay stops accepting.
	MaxViableLoad = 0.95

	// MinRelayScore is the floor every relay score is clamped to.
	MinRelayScore = 0.1
)

// RelayCapacity holds the advertised capacity metrics of one relay.
type RelayCapacity struct {
	// BandwidthBPS is available upload bandwidth in bytes per second.
	BandwidthBPS uint64
	// UptimeRatio is the node's uptime over the last 24 hours, 0 to 1.
	UptimeRatio float64
	// Nat is the detected NAT class.
	Nat NatType
	// CurrentLoad is the fraction of relay capacity in use, 0 to 1.
	CurrentLoad float64
}

// DefaultRelayCapacity returns the capacity assumed for a peer that has
// not advertised: 1 MB/s, half uptime, unknown NAT, idle.
func DefaultRelayCapacity() RelayCapacity {
	return RelayCapacity{
		BandwidthBPS: 1_000_000,
		UptimeRatio:  0.5,
		Nat:          NatUnknown,
		CurrentLoad:  0.0,
	}
}

// RelayScore computes the selection weight for this relay:
// 40% bandwidth (saturating at 10 MB/s), 30% uptime, up to 20% NAT
// bonus, scaled down to half at full load, never below MinRelayScore.
func (c RelayCapacity) RelayScore() float64 {
	bw := float64(c.BandwidthBPS) / float64(relayScoreBandwidthRef)
	if bw > 1.0 {
		bw = 1.0
	}
	score := bw*0.4 + c.UptimeRatio*0.3 + c.Nat.Bonus()
	score *= 1.0 - 0.5*c.CurrentLoad
	if score < MinRelayScore {
		score = MinRelayScore
	}
	return score
}

// IsViableRelay reports whether the node meets the minimum bar for
// relay duty.
func (c RelayCapacity) IsViableRelay() bool {
	return c.BandwidthBPS >= MinViableBandwidth &&
		c.UptimeRatio >= MinViableUptime &&
		c.CurrentLoad < MaxViableLoad
}

// UpdateLoad recomputes CurrentLoad from active versus maximum served
// circuits. Zero max means fully loaded.
func (c *RelayCapacity) UpdateLoad(activeCircuits, maxCircuits uint32) {
	if maxCircuits == 0 {
		c.CurrentLoad = 1.0
		return
	}
	load := float64(activeCircuits) / float64(maxCircuits)
	if load > 1.0 {
		load = 1.0
	}
	c.CurrentLoad = load
}

// NodeStats abstracts where capacity measurements come from, so the
// same measurement path serves the live node and tests.
type NodeStats interface {
	// AvailableBandwidth returns upload bandwidth in bytes per second.
	AvailableBandwidth() uint64
	// Uptime24h returns the uptime ratio over the last day.
	Uptime24h() float64
	// DetectedNatType returns the NAT classification.
	DetectedNatType() NatType
	// CurrentRelayLoad returns the in-use fraction of relay capacity.
	CurrentRelayLoad() float64
}

// MeasureRelayCapacity snapshots stats into a RelayCapacity.
func MeasureRelayCapacity(stats NodeStats) RelayCapacity {
	return RelayCapacity{
		BandwidthBPS: stats.AvailableBandwidth(),
		UptimeRatio:  stats.Uptime24h(),
		Nat:          stats.DetectedNatType(),
		CurrentLoad:  stats.CurrentRelayLoad(),
	}
}

// StaticNodeStats is a fixed-value NodeStats for tests and simple
// deployments.
type StaticNodeStats struct {
	BandwidthBPS uint64
	UptimeRatio  float64
	Nat          NatType
	Load         float64
}

func (s StaticNodeStats) AvailableBandwidth() uint64 { return s.BandwidthBPS }
func (s StaticNodeStats) Uptime24h() float64         { return s.UptimeRatio }
func (s StaticNodeStats) DetectedNatType() NatType   { return s.Nat }
func (s StaticNodeStats) CurrentRelayLoad() float64  { return s.Load }
