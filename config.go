package privacy

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Privacy configuration and presets.
//
// The configuration controls which traffic normalization features are
// active. The zero-cost default is full privacy: everything enabled.
// Named presets give operators three vetted combinations instead of a
// free-for-all of booleans; the builder exists for tests and for
// operators who know exactly which trade-off they want.

// Default jitter range for the full-privacy configuration, in
// milliseconds.
const (
	DefaultJitterMinMS uint64 = 100
	DefaultJitterMaxMS uint64 = 300
)

// PrivacyLevel is a named preset of privacy features.
type PrivacyLevel int

const (
	// LevelStandard enables onion routing only. Lowest latency.
	LevelStandard PrivacyLevel = iota
	// LevelEnhanced adds padding and timing jitter.
	LevelEnhanced
	// LevelMaximum enables every feature including constant-rate
	// transmission and cover traffic.
	LevelMaximum
)

// String returns the preset name.
func (l PrivacyLevel) String() string {
	switch l {
	case LevelStandard:
		return "standard"
	case LevelEnhanced:
		return "enhanced"
	case LevelMaximum:
		return "maximum"
	default:
		return fmt.Sprintf("PrivacyLevel(%d)", int(l))
	}
}

// ToConfig expands the preset into a full configuration. The mapping is
// total and has no side effects.
func (l PrivacyLevel) ToConfig() PrivacyConfig {
	switch l {
	case LevelEnhanced:
		return PrivacyConfig{
			OnionRouting: true,
			Padding:      true,
			TimingJitter: true,
			JitterMinMS:  DefaultMinDelayMS,
			JitterMaxMS:  DefaultMaxDelayMS,
		}
	case LevelMaximum:
		return PrivacyConfig{
			OnionRouting: true,
			Padding:      true,
			TimingJitter: true,
			ConstantRate: true,
			CoverTraffic: true,
			JitterMinMS:  DefaultJitterMinMS,
			JitterMaxMS:  DefaultJitterMaxMS,
		}
	default:
		return PrivacyConfig{OnionRouting: true}
	}
}

// PrivacyConfig selects the active traffic normalization features.
type PrivacyConfig struct {
	// OnionRouting routes private-path messages through circuits. This
	// is the foundation of the layer and validation rejects configs
	// that turn it off.
	OnionRouting bool `toml:"onion_routing"`

	// Padding pads messages to fixed bucket sizes to defeat size-based
	// traffic analysis.
	Padding bool `toml:"padding"`

	// TimingJitter delays each send by a random interval to defeat
	// timing correlation.
	TimingJitter bool `toml:"timing_jitter"`

	// ConstantRate drains sends from a queue on a fixed tick to defeat
	// volume analysis.
	ConstantRate bool `toml:"constant_rate"`

	// CoverTraffic emits decoy messages when the send queue is idle.
	// Requires ConstantRate.
	CoverTraffic bool `toml:"cover_traffic"`

	// JitterMinMS and JitterMaxMS bound the jitter delay in
	// milliseconds.
	JitterMinMS uint64 `toml:"jitter_min_ms"`
	JitterMaxMS uint64 `toml:"jitter_max_ms"`
}

// DefaultPrivacyConfig returns the full-privacy configuration: every
// feature on, jitter 100-300 ms.
func DefaultPrivacyConfig() PrivacyConfig {
	return PrivacyConfig{
		OnionRouting: true,
		Padding:      true,
		TimingJitter: true,
		ConstantRate: true,
		CoverTraffic: true,
		JitterMinMS:  DefaultJitterMinMS,
		JitterMaxMS:  DefaultJitterMaxMS,
	}
}

// HasTrafficNormalization reports whether any feature beyond onion
// routing is enabled.
func (c PrivacyConfig) HasTrafficNormalization() bool {
	return c.Padding || c.TimingJitter || c.ConstantRate || c.CoverTraffic
}

// Validate rejects contradictory configurations.
func (c PrivacyConfig) Validate() error {
	if c.CoverTraffic && !c.ConstantRate {
		return ErrCoverTrafficRequiresConstantRate
	}
	if !c.OnionRouting {
		return ErrOnionRoutingDisabled
	}
	if c.JitterMinMS > c.JitterMaxMS {
		return &ConfigValidationError{
			Field: "jitter_min_ms",
			Err:   fmt.Errorf("minimum %d exceeds maximum %d", c.JitterMinMS, c.JitterMaxMS),
		}
	}
	return nil
}

// ToLevel reverse-maps the configuration to a preset. The match must be
// exact on every field; hand-tuned configs report no level.
func (c PrivacyConfig) ToLevel() (PrivacyLevel, bool) {
	for _, level := range []PrivacyLevel{LevelStandard, LevelEnhanced, LevelMaximum} {
		if c == level.ToConfig() {
			return level, true
		}
	}
	return 0, false
}

// TransportPreference steers transport selection when a peer offers
// more than one transport kind.
type TransportPreference int

const (
	// PreferPerformance picks the lowest-latency common transport.
	PreferPerformance TransportPreference = iota
	// PreferPrivacy picks the most traffic-analysis-resistant common
	// transport.
	PreferPrivacy
)

// TransportConfig is the transport stack configuration recommended for
// a privacy configuration.
type TransportConfig struct {
	Preference          TransportPreference
	EnableWebRTC        bool
	EnableTLSTunnel     bool
	EnableFallback      bool
	MaxFallbackAttempts int
	ConnectTimeoutSecs  int
}

// TransportConfig maps the privacy settings onto transport selection:
// any traffic normalization implies obfuscated transports and a privacy
// preference, bare onion routing settles for plain transport.
func (c PrivacyConfig) TransportConfig() TransportConfig {
	if c.HasTrafficNormalization() {
		return TransportConfig{
			Preference:          PreferPrivacy,
			EnableWebRTC:        true,
			EnableTLSTunnel:     true,
			EnableFallback:      true,
			MaxFallbackAttempts: 3,
			ConnectTimeoutSecs:  30,
		}
	}
	return TransportConfig{
		Preference:          PreferPerformance,
		EnableFallback:      true,
		MaxFallbackAttempts: 3,
		ConnectTimeoutSecs:  30,
	}
}

// LoadPrivacyConfig reads a TOML configuration file and validates it.
// Missing files are an error; missing keys fall back to the zero value,
// so operators should start from a preset and override.
func LoadPrivacyConfig(path string) (PrivacyConfig, error) {
	config := DefaultPrivacyConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return PrivacyConfig{}, fmt.Errorf("failed to load privacy config %q: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return PrivacyConfig{}, err
	}
	return config, nil
}

// PrivacyConfigBuilder assembles custom configurations. It starts
// minimal (onion routing only) so tests enable exactly what they probe.
//
// Two couplings are corrected automatically: cover traffic force-enables
// constant rate, and enabling jitter with a zero range fills in the
// 50-200 ms default.
type PrivacyConfigBuilder struct {
	config PrivacyConfig
}

// NewPrivacyConfigBuilder returns a builder with onion routing only.
func NewPrivacyConfigBuilder() *PrivacyConfigBuilder {
	return &PrivacyConfigBuilder{config: PrivacyConfig{OnionRouting: true}}
}

// Padding enables or disables message padding.
func (b *PrivacyConfigBuilder) Padding(enabled bool) *PrivacyConfigBuilder {
	b.config.Padding = enabled
	return b
}

// TimingJitter enables or disables timing jitter. Enabling it with a
// zero range fills in the default 50-200 ms.
func (b *PrivacyConfigBuilder) TimingJitter(enabled bool) *PrivacyConfigBuilder {
	b.config.TimingJitter = enabled
	if enabled && b.config.JitterMinMS == 0 && b.config.JitterMaxMS == 0 {
		b.config.JitterMinMS = DefaultMinDelayMS
		b.config.JitterMaxMS = DefaultMaxDelayMS
	}
	return b
}

// JitterRange sets the jitter bounds in milliseconds. A non-zero
// maximum enables jitter.
func (b *PrivacyConfigBuilder) JitterRange(minMS, maxMS uint64) *PrivacyConfigBuilder {
	b.config.JitterMinMS = minMS
	b.config.JitterMaxMS = maxMS
	b.config.TimingJitter = maxMS > 0
	return b
}

// ConstantRate enables or disables constant-rate transmission.
func (b *PrivacyConfigBuilder) ConstantRate(enabled bool) *PrivacyConfigBuilder {
	b.config.ConstantRate = enabled
	return b
}

// CoverTraffic enables or disables cover traffic. Enabling it also
// enables constant rate.
func (b *PrivacyConfigBuilder) CoverTraffic(enabled bool) *PrivacyConfigBuilder {
	b.config.CoverTraffic = enabled
	if enabled {
		b.config.ConstantRate = true
	}
	return b
}

// Build validates and returns the configuration. It panics on a
// contradictory config; use BuildValidated when the inputs are not
// under the caller's control.
func (b *PrivacyConfigBuilder) Build() PrivacyConfig {
	config, err := b.BuildValidated()
	if err != nil {
		panic(fmt.Sprintf("privacy: invalid configuration: %v", err))
	}
	return config
}

// BuildValidated validates and returns the configuration.
func (b *PrivacyConfigBuilder) BuildValidated() (PrivacyConfig, error) {
	if err := b.config.Validate(); err != nil {
		return PrivacyConfig{}, err
	}
	return b.config, nil
}
