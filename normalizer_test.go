package privacy

import (
	"context"
	"testing"
	"time"
)

func TestNormalizerLevelConfigs(t *testing.T) {
	standard := NormalizerConfigForLevel(LevelStandard)
	if standard.HasNormalization() {
		t.Fatalf("standard level should disable shaping: %+v", standard)
	}

	enhanced := NormalizerConfigForLevel(LevelEnhanced)
	if !enhanced.PaddingEnabled || !enhanced.JitterEnabled || enhanced.CoverTrafficEnabled {
		t.Fatalf("enhanced config wrong: %+v", enhanced)
	}
	if enhanced.JitterMinMS != DefaultMinDelayMS || enhanced.JitterMaxMS != DefaultMaxDelayMS {
		t.Fatalf("enhanced jitter range wrong: %d-%d", enhanced.JitterMinMS, enhanced.JitterMaxMS)
	}

	maximum := NormalizerConfigForLevel(LevelMaximum)
	if !maximum.PaddingEnabled || !maximum.JitterEnabled || !maximum.CoverTrafficEnabled {
		t.Fatalf("maximum config wrong: %+v", maximum)
	}
	if maximum.JitterMinMS != DefaultJitterMinMS || maximum.JitterMaxMS != DefaultJitterMaxMS {
		t.Fatalf("maximum jitter range wrong: %d-%d", maximum.JitterMinMS, maximum.JitterMaxMS)
	}
	if maximum.CoverRatePerMin != 4 {
		t.Fatalf("maximum cover rate = %d, want 4", maximum.CoverRatePerMin)
	}
}

func TestPrepareMessagePadding(t *testing.T) {
	normalizer := NewTrafficNormalizerForLevel(LevelEnhanced)
	payload := []byte("transaction bytes")

	prepared, err := normalizer.PrepareMessage(payload)
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if !prepared.WasPadded {
		t.Fatal("enhanced level should pad")
	}
	if !IsValidBucket(len(prepared.Payload)) {
		t.Fatalf("prepared size %d is not a bucket", len(prepared.Payload))
	}
	if prepared.OriginalSize != len(payload) {
		t.Fatal("original size not recorded")
	}
	if prepared.PaddingOverhead() != len(prepared.Payload)-len(payload) {
		t.Fatal("overhead miscomputed")
	}

	// The padded payload must unpad back to the original.
	recovered, err := Unpad(prepared.Payload)
	if err != nil || string(recovered) != string(payload) {
		t.Fatalf("unpad failed: %v", err)
	}
}

func TestPrepareMessageNoPadding(t *testing.T) {
	normalizer := NewTrafficNormalizerForLevel(LevelStandard)
	payload := []byte("as-is payload")

	prepared, err := normalizer.PrepareMessage(payload)
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if prepared.WasPadded || prepared.BucketSize != 0 {
		t.Fatalf("standard level padded: %+v", prepared)
	}
	if string(prepared.Payload) != string(payload) {
		t.Fatal("payload altered without padding")
	}
	if prepared.PaddingOverhead() != 0 {
		t.Fatal("unpadded message reports overhead")
	}

	// The returned payload is a copy; mutating it must not touch the
	// caller's slice.
	prepared.Payload[0] = 'X'
	if payload[0] == 'X' {
		t.Fatal("prepared payload aliases the input")
	}
}

func TestPrepareMessageOversizePassthrough(t *testing.T) {
	normalizer := NewTrafficNormalizerForLevel(LevelEnhanced)
	payload := make([]byte, MaxPaddedPayloadSize+1)

	prepared, err := normalizer.PrepareMessage(payload)
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if prepared.WasPadded || prepared.BucketSize != 0 {
		t.Fatalf("oversize payload padded: %+v", prepared)
	}
	if len(prepared.Payload) != len(payload) {
		t.Fatalf("payload length changed: %d", len(prepared.Payload))
	}
	if prepared.OriginalSize != len(payload) {
		t.Fatal("original size not recorded")
	}
	if normalizer.Metrics().Snapshot().Padded != 0 {
		t.Fatal("passthrough counted as padded")
	}
}

func TestNormalizerMetrics(t *testing.T) {
	normalizer := NewTrafficNormalizerForLevel(LevelEnhanced)

	normalizer.PrepareMessage([]byte("one"))
	normalizer.PrepareMessage([]byte("two"))

	snap := normalizer.Metrics().Snapshot()
	if snap.Processed != 2 || snap.Padded != 2 {
		t.Fatalf("metrics = %+v", snap)
	}
	if snap.PaddingRatio() != 1.0 {
		t.Fatalf("PaddingRatio = %f, want 1", snap.PaddingRatio())
	}
	if snap.AvgPaddingBytes() <= 0 {
		t.Fatal("padding overhead not accumulated")
	}
}

func TestApplyJitterDisabled(t *testing.T) {
	normalizer := NewTrafficNormalizerForLevel(LevelStandard)

	start := time.Now()
	delay, err := normalizer.ApplyJitter(context.Background())
	if err != nil || delay != 0 {
		t.Fatalf("ApplyJitter = %v, %v", delay, err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatal("disabled jitter slept")
	}
	if normalizer.Metrics().Snapshot().JitterApplied != 0 {
		t.Fatal("zero delay counted as jitter")
	}
}

func TestApplyJitterCounted(t *testing.T) {
	normalizer := NewTrafficNormalizer(NormalizerConfig{
		JitterEnabled: true,
		JitterMinMS:   10,
		JitterMaxMS:   20,
	})

	delay, err := normalizer.ApplyJitter(context.Background())
	if err != nil {
		t.Fatalf("ApplyJitter: %v", err)
	}
	if delay < 10*time.Millisecond || delay > 20*time.Millisecond {
		t.Fatalf("delay %v outside range", delay)
	}

	snap := normalizer.Metrics().Snapshot()
	if snap.JitterApplied != 1 {
		t.Fatal("jitter not counted")
	}
	if snap.AvgJitterMS() < 10 || snap.AvgJitterMS() > 20 {
		t.Fatalf("AvgJitterMS = %f", snap.AvgJitterMS())
	}
}

func TestCoverInterval(t *testing.T) {
	maximum := NewTrafficNormalizerForLevel(LevelMaximum)
	if !maximum.ShouldGenerateCover() {
		t.Fatal("maximum level should schedule cover")
	}
	interval, ok := maximum.CoverInterval()
	if !ok || interval != 15*time.Second {
		t.Fatalf("interval = %v ok=%v, want 15s at 4/min", interval, ok)
	}

	standard := NewTrafficNormalizerForLevel(LevelStandard)
	if standard.ShouldGenerateCover() {
		t.Fatal("standard level should not schedule cover")
	}
	if _, ok := standard.CoverInterval(); ok {
		t.Fatal("disabled cover reported an interval")
	}
}

func TestRecordCoverGenerated(t *testing.T) {
	normalizer := NewTrafficNormalizerForLevel(LevelMaximum)
	normalizer.RecordCoverGenerated()
	normalizer.RecordCoverGenerated()
	if normalizer.Metrics().Snapshot().CoverGenerated != 2 {
		t.Fatal("cover generation not counted")
	}
}
