package privacy

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestJitterDelayWithinRange(t *testing.T) {
	jitter := NewTimingJitterRange(50, 200)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		delay := jitter.DelayWithRand(rng)
		if delay < 50*time.Millisecond || delay > 200*time.Millisecond {
			t.Fatalf("delay %v outside [50ms, 200ms]", delay)
		}
	}
}

func TestJitterCoversFullRange(t *testing.T) {
	jitter := NewTimingJitterRange(0, 3)
	rng := rand.New(rand.NewSource(2))

	seen := make(map[time.Duration]bool)
	for i := 0; i < 200; i++ {
		seen[jitter.DelayWithRand(rng)] = true
	}
	// All four millisecond values should appear; the maximum is inclusive.
	if len(seen) != 4 {
		t.Fatalf("saw %d distinct delays, want 4", len(seen))
	}
}

func TestDisabledJitter(t *testing.T) {
	jitter := DisabledTimingJitter()
	if !jitter.IsDisabled() {
		t.Fatal("disabled jitter not reported disabled")
	}
	if jitter.Delay() != 0 {
		t.Fatal("disabled jitter produced a delay")
	}

	start := time.Now()
	delay, err := jitter.Apply(context.Background())
	if err != nil || delay != 0 {
		t.Fatalf("Apply = %v, %v", delay, err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatal("disabled jitter slept")
	}
}

func TestJitterInvertedRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("inverted range should panic")
		}
	}()
	NewTimingJitterRange(200, 50)
}

func TestJitterApplySleeps(t *testing.T) {
	jitter := NewTimingJitterRange(20, 30)

	start := time.Now()
	delay, err := jitter.Apply(context.Background())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if delay < 20*time.Millisecond || delay > 30*time.Millisecond {
		t.Fatalf("reported delay %v outside range", delay)
	}
	if elapsed < delay {
		t.Fatalf("slept %v, reported %v", elapsed, delay)
	}
}

func TestJitterApplyCancelled(t *testing.T) {
	jitter := NewTimingJitterRange(5000, 5000)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := jitter.Apply(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not abort the sleep")
	}
}

func TestDefaultJitterConfig(t *testing.T) {
	config := DefaultTimingJitterConfig()
	if config.MinDelayMS != DefaultMinDelayMS || config.MaxDelayMS != DefaultMaxDelayMS {
		t.Fatalf("defaults = %d-%d", config.MinDelayMS, config.MaxDelayMS)
	}
	if config.IsDisabled() {
		t.Fatal("default config reported disabled")
	}
}
