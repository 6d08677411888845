package privacy

import (
	"testing"
	"time"
)

func testCircuit(t *testing.T, lifetime time.Duration) *OutboundCircuit {
	t.Helper()
	hops := [CircuitHops]PeerID{PeerID("entry"), PeerID("middle"), PeerID("exit")}
	keys := [CircuitHops]*SymmetricKey{mustKey(t), mustKey(t), mustKey(t)}
	return newCircuitExactLifetime(mustCircuitID(t), hops, keys, lifetime)
}

func TestOutboundCircuitAccessors(t *testing.T) {
	c := testCircuit(t, time.Minute)

	if !c.EntryHop().Equal(PeerID("entry")) {
		t.Fatal("wrong entry hop")
	}
	if !c.MiddleHop().Equal(PeerID("middle")) {
		t.Fatal("wrong middle hop")
	}
	if !c.ExitHop().Equal(PeerID("exit")) {
		t.Fatal("wrong exit hop")
	}

	for i := 0; i < CircuitHops; i++ {
		key, err := c.HopKey(i)
		if err != nil || key == nil {
			t.Fatalf("HopKey(%d): %v", i, err)
		}
	}
	if _, err := c.HopKey(CircuitHops); err == nil {
		t.Fatal("out-of-range hop index accepted")
	}
	if _, err := c.HopKey(-1); err == nil {
		t.Fatal("negative hop index accepted")
	}
}

func TestOutboundCircuitExpiry(t *testing.T) {
	fresh := testCircuit(t, time.Hour)
	if fresh.IsExpired() {
		t.Fatal("fresh circuit reported expired")
	}
	if fresh.TimeRemaining() == 0 {
		t.Fatal("fresh circuit reports no time remaining")
	}

	expired := testCircuit(t, -time.Second)
	if !expired.IsExpired() {
		t.Fatal("past-lifetime circuit not expired")
	}
	if expired.TimeRemaining() != 0 {
		t.Fatal("expired circuit reports time remaining")
	}
}

func TestCircuitLifetimeJitter(t *testing.T) {
	hops := [CircuitHops]PeerID{PeerID("a"), PeerID("b"), PeerID("c")}
	keys := [CircuitHops]*SymmetricKey{mustKey(t), mustKey(t), mustKey(t)}

	base := DefaultRotationInterval
	c := NewOutboundCircuit(mustCircuitID(t), hops, keys, base)

	lifetime := c.ExpiresAt().Sub(c.CreatedAt())
	if lifetime < base || lifetime >= base+MaxLifetimeJitter {
		t.Fatalf("jittered lifetime %v outside [%v, %v)", lifetime, base, base+MaxLifetimeJitter)
	}
}

func TestCircuitPoolDefaults(t *testing.T) {
	pool := NewCircuitPool(CircuitPoolConfig{})
	cfg := pool.Config()
	if cfg.MinCircuits != DefaultMinCircuits {
		t.Fatalf("MinCircuits = %d, want %d", cfg.MinCircuits, DefaultMinCircuits)
	}
	if cfg.RotationInterval != DefaultRotationInterval {
		t.Fatalf("RotationInterval = %v, want %v", cfg.RotationInterval, DefaultRotationInterval)
	}
}

func TestCircuitPoolAddAndCount(t *testing.T) {
	pool := NewCircuitPool(DefaultCircuitPoolConfig())
	if !pool.NeedsMoreCircuits() {
		t.Fatal("empty pool should need circuits")
	}
	if pool.GetCircuit() != nil {
		t.Fatal("empty pool returned a circuit")
	}

	for i := 0; i < DefaultMinCircuits; i++ {
		pool.AddCircuit(testCircuit(t, time.Hour))
	}
	if pool.ActiveCount() != DefaultMinCircuits {
		t.Fatalf("ActiveCount = %d, want %d", pool.ActiveCount(), DefaultMinCircuits)
	}
	if pool.NeedsMoreCircuits() {
		t.Fatal("full pool should not need circuits")
	}
	if pool.GetCircuit() == nil {
		t.Fatal("populated pool returned nil")
	}
}

func TestCircuitPoolExpiredNotSelected(t *testing.T) {
	pool := NewCircuitPool(DefaultCircuitPoolConfig())
	pool.AddCircuit(testCircuit(t, -time.Second))

	if pool.ActiveCount() != 0 {
		t.Fatal("expired circuit counted as active")
	}
	if pool.TotalCount() != 1 {
		t.Fatal("expired circuit should still be held until eviction")
	}
	if pool.GetCircuit() != nil {
		t.Fatal("expired circuit selected")
	}
}

func TestCircuitPoolRemoveExpired(t *testing.T) {
	pool := NewCircuitPool(DefaultCircuitPoolConfig())
	live := testCircuit(t, time.Hour)
	expired := testCircuit(t, -time.Second)
	pool.AddCircuit(live)
	pool.AddCircuit(expired)

	if removed := pool.RemoveExpired(); removed != 1 {
		t.Fatalf("RemoveExpired = %d, want 1", removed)
	}
	if pool.TotalCount() != 1 {
		t.Fatal("live circuit evicted")
	}

	// Eviction wipes the expired circuit's keys.
	key, _ := expired.HopKey(0)
	var zero SymmetricKey
	if !key.Equal(&zero) {
		t.Fatal("expired circuit keys not wiped")
	}
}

func TestCircuitPoolRemoveByID(t *testing.T) {
	pool := NewCircuitPool(DefaultCircuitPoolConfig())
	c := testCircuit(t, time.Hour)
	pool.AddCircuit(c)

	if !pool.RemoveCircuit(c.ID()) {
		t.Fatal("known circuit not removed")
	}
	if pool.RemoveCircuit(c.ID()) {
		t.Fatal("removal reported twice")
	}
	if pool.TotalCount() != 0 {
		t.Fatal("pool not empty after removal")
	}
}

func TestCircuitPoolClear(t *testing.T) {
	pool := NewCircuitPool(DefaultCircuitPoolConfig())
	c := testCircuit(t, time.Hour)
	pool.AddCircuit(c)
	pool.AddCircuit(testCircuit(t, time.Hour))

	pool.Clear()
	if pool.TotalCount() != 0 {
		t.Fatal("Clear left circuits behind")
	}

	key, _ := c.HopKey(2)
	var zero SymmetricKey
	if !key.Equal(&zero) {
		t.Fatal("Clear did not wipe keys")
	}
}

func TestGetCircuitKeysSurviveEviction(t *testing.T) {
	pool := NewCircuitPool(DefaultCircuitPoolConfig())
	pooled := testCircuit(t, 30*time.Millisecond)
	pool.AddCircuit(pooled)

	held := pool.GetCircuit()
	if held == nil {
		t.Fatal("no circuit returned")
	}
	entryKey, _ := held.HopKey(0)
	realEntryKey := entryKey.Duplicate()

	// Maintenance runs between circuit selection and the send.
	time.Sleep(50 * time.Millisecond)
	if removed := pool.RemoveExpired(); removed != 1 {
		t.Fatalf("RemoveExpired = %d, want 1", removed)
	}

	// The held copy must still carry the real keys, not wiped ones.
	var zero SymmetricKey
	for i := 0; i < CircuitHops; i++ {
		key, err := held.HopKey(i)
		if err != nil {
			t.Fatalf("HopKey(%d): %v", i, err)
		}
		if key.Equal(&zero) {
			t.Fatalf("hop %d key wiped under the holder", i)
		}
	}

	// An onion built from the held circuit must open under the real
	// entry key; a zero key must not peel it.
	wrapped, err := WrapOnion([]byte("late broadcast"), held.Hops(), held.HopKeys())
	if err != nil {
		t.Fatalf("WrapOnion: %v", err)
	}
	if _, err := DecryptLayer(&zero, wrapped); err == nil {
		t.Fatal("onion outer layer opened under an all-zero key")
	}
	if _, err := DecryptLayer(realEntryKey, wrapped); err != nil {
		t.Fatalf("outer layer did not open under the entry key: %v", err)
	}

	// Release wipes only the holder's copies.
	held.Release()
	key, _ := held.HopKey(0)
	if !key.Equal(&zero) {
		t.Fatal("Release did not wipe the held copy")
	}
}

func TestCircuitPoolRandomSelection(t *testing.T) {
	pool := NewCircuitPool(DefaultCircuitPoolConfig())
	first := testCircuit(t, time.Hour)
	second := testCircuit(t, time.Hour)
	pool.AddCircuit(first)
	pool.AddCircuit(second)

	seen := make(map[CircuitID]bool)
	for i := 0; i < 200; i++ {
		seen[pool.GetCircuit().ID()] = true
	}
	if len(seen) != 2 {
		t.Fatalf("selection over 200 draws hit %d of 2 circuits", len(seen))
	}
}
