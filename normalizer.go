package privacy

import (
	"context"
	"sync/atomic"
	"time"
)

// Traffic normalization pipeline.
//
// The normalizer sits in front of the onion wrap and applies whichever
// shaping features the privacy configuration enables: padding before
// encryption, jitter before the send, and a cover traffic schedule.
// Each feature is implemented elsewhere; this type sequences them and
// keeps the combined metrics.

// NormalizerConfig selects which shaping features run.
type NormalizerConfig struct {
	// PaddingEnabled pads payloads to fixed bucket sizes.
	PaddingEnabled bool
	// JitterEnabled delays sends by a random duration.
	JitterEnabled bool
	// JitterMinMS and JitterMaxMS bound the delay in milliseconds.
	JitterMinMS uint64
	JitterMaxMS uint64
	// CoverTrafficEnabled schedules decoy messages.
	CoverTrafficEnabled bool
	// CoverRatePerMin is decoy messages per minute when idle.
	CoverRatePerMin uint32
}

// StandardNormalizerConfig disables all shaping.
func StandardNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		JitterMinMS: DefaultMinDelayMS,
		JitterMaxMS: DefaultMaxDelayMS,
	}
}

// EnhancedNormalizerConfig enables padding and jitter.
func EnhancedNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		PaddingEnabled: true,
		JitterEnabled:  true,
		JitterMinMS:    DefaultMinDelayMS,
		JitterMaxMS:    DefaultMaxDelayMS,
	}
}

// MaximumNormalizerConfig enables every shaping feature.
func MaximumNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		PaddingEnabled:      true,
		JitterEnabled:       true,
		JitterMinMS:         DefaultJitterMinMS,
		JitterMaxMS:         DefaultJitterMaxMS,
		CoverTrafficEnabled: true,
		CoverRatePerMin:     4,
	}
}

// NormalizerConfigForLevel maps a privacy level to its shaping config.
func NormalizerConfigForLevel(level PrivacyLevel) NormalizerConfig {
	switch level {
	case LevelEnhanced:
		return EnhancedNormalizerConfig()
	case LevelMaximum:
		return MaximumNormalizerConfig()
	default:
		return StandardNormalizerConfig()
	}
}

// HasNormalization reports whether any shaping feature is on.
func (c NormalizerConfig) HasNormalization() bool {
	return c.PaddingEnabled || c.JitterEnabled || c.CoverTrafficEnabled
}

// PreparedMessage is a payload after the padding stage.
type PreparedMessage struct {
	// Payload is the (possibly padded) bytes to encrypt.
	Payload []byte
	// OriginalSize is the payload length before padding.
	OriginalSize int
	// WasPadded reports whether padding ran.
	WasPadded bool
	// BucketSize is the padded size, zero when unpadded.
	BucketSize int
}

// PaddingOverhead returns the bytes added by padding.
func (p PreparedMessage) PaddingOverhead() int {
	if p.BucketSize == 0 {
		return 0
	}
	return len(p.Payload) - p.OriginalSize
}

// NormalizerMetrics counts shaping activity.
type NormalizerMetrics struct {
	processed      uint64
	padded         uint64
	paddingBytes   uint64
	jitterApplied  uint64
	jitterTotalMS  uint64
	coverGenerated uint64
}

// NewNormalizerMetrics creates zeroed metrics.
func NewNormalizerMetrics() *NormalizerMetrics { return &NormalizerMetrics{} }

func (m *NormalizerMetrics) recordProcessed() { atomic.AddUint64(&m.processed, 1) }

func (m *NormalizerMetrics) recordPadded(overhead int) {
	atomic.AddUint64(&m.padded, 1)
	atomic.AddUint64(&m.paddingBytes, uint64(overhead))
}

func (m *NormalizerMetrics) recordJitter(ms uint64) {
	atomic.AddUint64(&m.jitterApplied, 1)
	atomic.AddUint64(&m.jitterTotalMS, ms)
}

func (m *NormalizerMetrics) recordCover() { atomic.AddUint64(&m.coverGenerated, 1) }

// NormalizerMetricsSnapshot is a point-in-time copy of the counters.
type NormalizerMetricsSnapshot struct {
	Processed      uint64
	Padded         uint64
	PaddingBytes   uint64
	JitterApplied  uint64
	JitterTotalMS  uint64
	CoverGenerated uint64
}

// Snapshot reads all counters.
func (m *NormalizerMetrics) Snapshot() NormalizerMetricsSnapshot {
	return NormalizerMetricsSnapshot{
		Processed:      atomic.LoadUint64(&m.processed),
		Padded:         atomic.LoadUint64(&m.padded),
		PaddingBytes:   atomic.LoadUint64(&m.paddingBytes),
		JitterApplied:  atomic.LoadUint64(&m.jitterApplied),
		JitterTotalMS:  atomic.LoadUint64(&m.jitterTotalMS),
		CoverGenerated: atomic.LoadUint64(&m.coverGenerated),
	}
}

// AvgPaddingBytes is the mean padding overhead per padded message.
func (s NormalizerMetricsSnapshot) AvgPaddingBytes() float64 {
	if s.Padded == 0 {
		return 0
	}
	return float64(s.PaddingBytes) / float64(s.Padded)
}

// AvgJitterMS is the mean applied jitter in milliseconds.
func (s NormalizerMetricsSnapshot) AvgJitterMS() float64 {
	if s.JitterApplied == 0 {
		return 0
	}
	return float64(s.JitterTotalMS) / float64(s.JitterApplied)
}

// PaddingRatio is the fraction of processed messages that were padded.
func (s NormalizerMetricsSnapshot) PaddingRatio() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Padded) / float64(s.Processed)
}

// TrafficNormalizer sequences the enabled shaping features.
type TrafficNormalizer struct {
	config  NormalizerConfig
	jitter  *TimingJitter
	metrics *NormalizerMetrics
}

// NewTrafficNormalizer creates a normalizer for the given config.
func NewTrafficNormalizer(config NormalizerConfig) *TrafficNormalizer {
	jitter := DisabledTimingJitter()
	if config.JitterEnabled && config.JitterMaxMS > 0 {
		jitter = NewTimingJitterRange(config.JitterMinMS, config.JitterMaxMS)
	}
	return &TrafficNormalizer{
		config:  config,
		jitter:  jitter,
		metrics: NewNormalizerMetrics(),
	}
}

// NewTrafficNormalizerForLevel creates a normalizer for a privacy
// level.
func NewTrafficNormalizerForLevel(level PrivacyLevel) *TrafficNormalizer {
	return NewTrafficNormalizer(NormalizerConfigForLevel(level))
}

// Config returns the normalizer configuration.
func (n *TrafficNormalizer) Config() NormalizerConfig { return n.config }

// Metrics returns the normalizer's counters.
func (n *TrafficNormalizer) Metrics() *NormalizerMetrics { return n.metrics }

// PrepareMessage runs the padding stage. The result goes into the
// onion wrap; padding before encryption means relays only ever see
// bucket-sized ciphertexts. Payloads too large for the length header
// pass through unpadded: they already dwarf every bucket, so padding
// would hide nothing.
func (n *TrafficNormalizer) PrepareMessage(payload []byte) (PreparedMessage, error) {
	n.metrics.recordProcessed()

	if !n.config.PaddingEnabled || len(payload) > MaxPaddedPayloadSize {
		return PreparedMessage{
			Payload:      append([]byte(nil), payload...),
			OriginalSize: len(payload),
		}, nil
	}

	padded, err := PadToBucket(payload)
	if err != nil {
		return PreparedMessage{}, err
	}
	prepared := PreparedMessage{
		Payload:      padded,
		OriginalSize: len(payload),
		WasPadded:    true,
		BucketSize:   len(padded),
	}
	n.metrics.recordPadded(prepared.PaddingOverhead())
	return prepared, nil
}

// ApplyJitter sleeps for a random in-range delay, or returns
// immediately when jitter is off. Honors ctx cancellation.
func (n *TrafficNormalizer) ApplyJitter(ctx context.Context) (time.Duration, error) {
	delay, err := n.jitter.Apply(ctx)
	if err != nil {
		return 0, err
	}
	if delay > 0 {
		n.metrics.recordJitter(uint64(delay.Milliseconds()))
	}
	return delay, nil
}

// ShouldGenerateCover reports whether a cover schedule should run.
func (n *TrafficNormalizer) ShouldGenerateCover() bool {
	return n.config.CoverTrafficEnabled && n.config.CoverRatePerMin > 0
}

// CoverInterval returns the gap between scheduled cover messages, and
// false when cover traffic is off.
func (n *TrafficNormalizer) CoverInterval() (time.Duration, bool) {
	if !n.ShouldGenerateCover() {
		return 0, false
	}
	return time.Duration(float64(time.Minute) / float64(n.config.CoverRatePerMin)), true
}

// RecordCoverGenerated counts one emitted cover message.
func (n *TrafficNormalizer) RecordCoverGenerated() { n.metrics.recordCover() }
