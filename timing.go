package privacy

import (
	"context"
	"math/rand"
	"time"
)

// Timing jitter for traffic analysis resistance.
//
// Before a private-path message leaves the node, a random delay is
// applied within a configured range. An observer who sees a transaction
// enter the gossip layer at the exit hop cannot line its timestamp up
// with traffic leaving a suspected origin, because every send is
// shifted by an unpredictable amount.

// Default jitter delay bounds in milliseconds.
const (
	DefaultMinDelayMS uint64 = 50
	DefaultMaxDelayMS uint64 = 200
)

// TimingJitterConfig bounds the random delay.
type TimingJitterConfig struct {
	// MinDelayMS is the minimum delay in milliseconds.
	MinDelayMS uint64
	// MaxDelayMS is the maximum delay in milliseconds, inclusive.
	MaxDelayMS uint64
}

// DefaultTimingJitterConfig returns the 50-200 ms default range.
func DefaultTimingJitterConfig() TimingJitterConfig {
	return TimingJitterConfig{MinDelayMS: DefaultMinDelayMS, MaxDelayMS: DefaultMaxDelayMS}
}

// NewTimingJitterConfig builds a config with the given range.
//
// Panics if minMS > maxMS: an inverted range is a programming error.
func NewTimingJitterConfig(minMS, maxMS uint64) TimingJitterConfig {
	if minMS > maxMS {
		panic("privacy: jitter minimum exceeds maximum")
	}
	return TimingJitterConfig{MinDelayMS: minMS, MaxDelayMS: maxMS}
}

// DisabledTimingJitterConfig returns a zero-delay config.
func DisabledTimingJitterConfig() TimingJitterConfig {
	return TimingJitterConfig{}
}

// IsDisabled reports whether both bounds are zero.
func (c TimingJitterConfig) IsDisabled() bool {
	return c.MinDelayMS == 0 && c.MaxDelayMS == 0
}

// TimingJitter draws random delays from a configured range.
type TimingJitter struct {
	config TimingJitterConfig
}

// NewTimingJitter creates a jitter generator.
func NewTimingJitter(config TimingJitterConfig) *TimingJitter {
	return &TimingJitter{config: config}
}

// NewTimingJitterRange creates a generator for [minMS, maxMS]. Panics on
// an inverted range.
func NewTimingJitterRange(minMS, maxMS uint64) *TimingJitter {
	return NewTimingJitter(NewTimingJitterConfig(minMS, maxMS))
}

// DisabledTimingJitter creates a generator that always returns zero.
func DisabledTimingJitter() *TimingJitter {
	return NewTimingJitter(DisabledTimingJitterConfig())
}

// Config returns the configured bounds.
func (j *TimingJitter) Config() TimingJitterConfig { return j.config }

// IsDisabled reports whether delays are always zero.
func (j *TimingJitter) IsDisabled() bool { return j.config.IsDisabled() }

// Delay returns a delay uniformly distributed in [min, max].
func (j *TimingJitter) Delay() time.Duration {
	if j.config.IsDisabled() {
		return 0
	}
	span := j.config.MaxDelayMS - j.config.MinDelayMS + 1
	ms := j.config.MinDelayMS + uint64(rand.Int63n(int64(span)))
	return time.Duration(ms) * time.Millisecond
}

// DelayWithRand draws the delay from the provided source, for
// deterministic tests.
func (j *TimingJitter) DelayWithRand(rng *rand.Rand) time.Duration {
	if j.config.IsDisabled() {
		return 0
	}
	span := j.config.MaxDelayMS - j.config.MinDelayMS + 1
	ms := j.config.MinDelayMS + uint64(rng.Int63n(int64(span)))
	return time.Duration(ms) * time.Millisecond
}

// Apply sleeps for one sampled delay and returns the delay that was
// applied. Context cancellation aborts the sleep early; the send that
// would have followed must then be abandoned, not rushed out.
func (j *TimingJitter) Apply(ctx context.Context) (time.Duration, error) {
	delay := j.Delay()
	if delay == 0 {
		return 0, ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return delay, nil
	}
}
