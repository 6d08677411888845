package privacy

import (
	"strings"
	"testing"
)

func TestNewCircuitIDUnique(t *testing.T) {
	a := mustCircuitID(t)
	b := mustCircuitID(t)
	if a == b {
		t.Fatal("two generated circuit ids collided")
	}
}

func TestCircuitIDFromBytes(t *testing.T) {
	raw := make([]byte, CircuitIDLen)
	for i := range raw {
		raw[i] = byte(i)
	}

	id, ok := CircuitIDFromBytes(raw)
	if !ok {
		t.Fatal("valid length rejected")
	}
	if string(id.Bytes()) != string(raw) {
		t.Fatal("round trip mismatch")
	}

	if _, ok := CircuitIDFromBytes(raw[:CircuitIDLen-1]); ok {
		t.Fatal("short slice accepted")
	}
	if _, ok := CircuitIDFromBytes(append(raw, 0)); ok {
		t.Fatal("long slice accepted")
	}
}

func TestCircuitIDStringTruncated(t *testing.T) {
	id := mustCircuitID(t)
	if len(id.String()) != 16 {
		t.Fatalf("String should render 8 bytes of hex, got %q", id.String())
	}
}

func TestSymmetricKeyFromBytes(t *testing.T) {
	raw := make([]byte, SymmetricKeyLen)
	raw[0] = 0xAB

	key, ok := SymmetricKeyFromBytes(raw)
	if !ok {
		t.Fatal("valid length rejected")
	}
	if key.Bytes()[0] != 0xAB {
		t.Fatal("key material not copied")
	}

	if _, ok := SymmetricKeyFromBytes(raw[:16]); ok {
		t.Fatal("short key accepted")
	}
}

func TestSymmetricKeyEqualAndDuplicate(t *testing.T) {
	key := mustKey(t)
	dup := key.Duplicate()

	if !key.Equal(dup) {
		t.Fatal("duplicate should equal the original")
	}
	if key.Equal(nil) {
		t.Fatal("nil comparison should be false")
	}

	// Zeroing the duplicate must not touch the original.
	dup.Zero()
	if key.Equal(dup) {
		t.Fatal("zeroed duplicate still equals original")
	}
}

func TestSymmetricKeyZero(t *testing.T) {
	key := mustKey(t)
	key.Zero()
	for _, b := range key.Bytes() {
		if b != 0 {
			t.Fatal("Zero left key material behind")
		}
	}
}

func TestSymmetricKeyStringHidesMaterial(t *testing.T) {
	raw := make([]byte, SymmetricKeyLen)
	for i := range raw {
		raw[i] = 0x42
	}
	key, _ := SymmetricKeyFromBytes(raw)

	s := key.String()
	if strings.Contains(s, "4242") {
		t.Fatalf("String leaked key bytes: %s", s)
	}
	if !strings.Contains(s, "sha256:") {
		t.Fatalf("expected fingerprint form, got %s", s)
	}
}

func TestPeerIDEqual(t *testing.T) {
	a := PeerID("peer-a")
	if !a.Equal(PeerID("peer-a")) {
		t.Fatal("identical ids not equal")
	}
	if a.Equal(PeerID("peer-b")) {
		t.Fatal("different ids equal")
	}
	if a.Equal(PeerID("peer-a-longer")) {
		t.Fatal("prefix match treated as equal")
	}
}
