package privacy

import (
	"testing"
	"time"
)

func TestTokenBucketStartsFull(t *testing.T) {
	bucket := NewTokenBucket(5, 1)
	for i := 0; i < 5; i++ {
		if !bucket.TryConsume(1) {
			t.Fatalf("consume %d failed on a full bucket", i)
		}
	}
	if bucket.TryConsume(1) {
		t.Fatal("consume succeeded on an empty bucket")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	// 100 tokens/sec refill so the test stays fast.
	bucket := NewTokenBucket(2, 100)
	bucket.TryConsume(2)
	if bucket.TryConsume(1) {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(30 * time.Millisecond)
	if !bucket.TryConsume(1) {
		t.Fatal("bucket did not refill")
	}
}

func TestTokenBucketCapacityCap(t *testing.T) {
	bucket := NewTokenBucket(2, 1000)
	time.Sleep(10 * time.Millisecond)
	bucket.TryConsume(1)
	if bucket.AvailableTokens() > bucket.Capacity() {
		t.Fatalf("tokens %f exceed capacity %f", bucket.AvailableTokens(), bucket.Capacity())
	}
}

func TestBandwidthTracker(t *testing.T) {
	tracker := NewBandwidthTracker(1000)
	if !tracker.TryConsume(600) {
		t.Fatal("consume under the cap rejected")
	}
	if !tracker.TryConsume(400) {
		t.Fatal("consume up to the cap rejected")
	}
	if tracker.TryConsume(1) {
		t.Fatal("consume over the cap admitted")
	}
	if tracker.CurrentUsage() != 1000 {
		t.Fatalf("CurrentUsage = %d, want 1000", tracker.CurrentUsage())
	}

	tracker.Reset()
	if tracker.CurrentUsage() != 0 {
		t.Fatal("Reset left usage behind")
	}
}

func TestRelayRateLimiterDisabled(t *testing.T) {
	limits := DefaultRelayRateLimits()
	limits.Enabled = false
	limiter := NewRelayRateLimiter(limits)

	peer := PeerID("any")
	for i := 0; i < 10_000; i++ {
		if limiter.CheckRelay(peer, 1<<20) != VerdictAllowed {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestRelayRateLimiterCircuitCreates(t *testing.T) {
	limits := DefaultRelayRateLimits()
	limiter := NewRelayRateLimiter(limits)
	peer := PeerID("builder")

	// Burst capacity is twice the per-minute rate.
	burst := int(limits.CircuitCreatesPerMin * 2)
	for i := 0; i < burst; i++ {
		if limiter.CheckCircuitCreate(peer) != VerdictAllowed {
			t.Fatalf("create %d rejected inside the burst", i)
		}
	}
	if limiter.CheckCircuitCreate(peer) == VerdictAllowed {
		t.Fatal("create admitted over the burst")
	}
	if limiter.Violations(peer) != 1 {
		t.Fatalf("Violations = %d, want 1", limiter.Violations(peer))
	}
}

func TestRelayRateLimiterBandwidth(t *testing.T) {
	limits := DefaultRelayRateLimits()
	limiter := NewRelayRateLimiter(limits)
	peer := PeerID("bulk")

	// One message over the per-second byte budget.
	if limiter.CheckRelay(peer, int(limits.RelayBandwidthPerSec)+1) == VerdictAllowed {
		t.Fatal("over-budget message admitted")
	}
}

func TestRelayRateLimiterViolationsEscalate(t *testing.T) {
	limits := DefaultRelayRateLimits()
	limits.ViolationThreshold = 3
	limiter := NewRelayRateLimiter(limits)
	peer := PeerID("flooder")

	// Drain the relay burst.
	burst := int(limits.RelayMsgsPerSec * 2)
	for i := 0; i < burst; i++ {
		limiter.CheckRelay(peer, 1)
	}

	verdicts := []RateLimitVerdict{
		limiter.CheckRelay(peer, 1),
		limiter.CheckRelay(peer, 1),
		limiter.CheckRelay(peer, 1),
	}
	if verdicts[0] != VerdictRateLimited || verdicts[1] != VerdictRateLimited {
		t.Fatalf("early violations should rate-limit, got %v", verdicts)
	}
	if verdicts[2] != VerdictDisconnect {
		t.Fatalf("violation at the threshold should disconnect, got %v", verdicts[2])
	}

	flagged := limiter.TakeFlaggedPeers()
	if len(flagged) != 1 || !flagged[0].Equal(peer) {
		t.Fatalf("flagged peers = %v", flagged)
	}
	if len(limiter.TakeFlaggedPeers()) != 0 {
		t.Fatal("TakeFlaggedPeers did not clear the list")
	}
}

func TestRelayRateLimiterPerPeerIsolation(t *testing.T) {
	limiter := NewRelayRateLimiter(DefaultRelayRateLimits())

	// Exhaust one peer; another must be unaffected.
	burst := int(DefaultRelayMsgsPerSec * 2)
	noisy := PeerID("noisy")
	for i := 0; i <= burst; i++ {
		limiter.CheckRelay(noisy, 1)
	}
	if limiter.Violations(noisy) == 0 {
		t.Fatal("noisy peer recorded no violations")
	}
	if limiter.CheckRelay(PeerID("quiet"), 1) != VerdictAllowed {
		t.Fatal("quiet peer penalised for another peer's flood")
	}
}

func TestRelayRateLimiterRemovePeer(t *testing.T) {
	limiter := NewRelayRateLimiter(DefaultRelayRateLimits())
	peer := PeerID("gone")

	burst := int(DefaultRelayMsgsPerSec * 2)
	for i := 0; i <= burst; i++ {
		limiter.CheckRelay(peer, 1)
	}
	if limiter.Violations(peer) == 0 {
		t.Fatal("expected a violation before removal")
	}

	limiter.RemovePeer(peer)
	if limiter.Violations(peer) != 0 {
		t.Fatal("RemovePeer left state behind")
	}
}
