package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Core identifiers and key material for the privacy layer.
//
// CircuitID values travel on the wire and index relay state; SymmetricKey
// values never leave the process and are wiped when a circuit is torn down.

const (
	// CircuitIDLen is the length of circuit identifiers in bytes.
	CircuitIDLen = 16

	// SymmetricKeyLen is the length of hop keys in bytes (256-bit
	// ChaCha20-Poly1305).
	SymmetricKeyLen = 32
)

// CircuitID is a unique identifier for a relay circuit.
//
// Circuit IDs are 16-byte random values. Each circuit through the relay
// network carries one, and relays use it to look up the hop key for a
// received message. CircuitID is comparable and usable as a map key.
type CircuitID [CircuitIDLen]byte

// NewCircuitID generates a random circuit identifier from crypto/rand.
func NewCircuitID() (CircuitID, error) {
	var id CircuitID
	if _, err := rand.Read(id[:]); err != nil {
		return CircuitID{}, fmt.Errorf("failed to generate circuit id: %w", err)
	}
	return id, nil
}

// CircuitIDFromBytes builds a CircuitID from a slice. The slice must be
// exactly CircuitIDLen bytes.
func CircuitIDFromBytes(b []byte) (CircuitID, bool) {
	var id CircuitID
	if len(b) != CircuitIDLen {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// Bytes returns the raw identifier bytes.
func (id CircuitID) Bytes() []byte { return id[:] }

// String renders the first 8 bytes as hex, enough to correlate log lines
// without printing the full identifier.
func (id CircuitID) String() string {
	return hex.EncodeToString(id[:8])
}

// GoString keeps %#v output short; only the first 4 bytes appear.
func (id CircuitID) GoString() string {
	return fmt.Sprintf("CircuitID(%s)", hex.EncodeToString(id[:4]))
}

// SymmetricKey is a 256-bit key for one hop of a circuit.
//
// Keys are held in fixed arrays so Zero can reliably wipe them. There is
// no implicit copying API: Duplicate exists so that a second copy of key
// material is always a visible, intentional act in the code.
type SymmetricKey struct {
	k [SymmetricKeyLen]byte
}

// NewSymmetricKey generates a random key from crypto/rand.
func NewSymmetricKey() (*SymmetricKey, error) {
	key := &SymmetricKey{}
	if _, err := rand.Read(key.k[:]); err != nil {
		return nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	return key, nil
}

// SymmetricKeyFromBytes builds a key from a slice. The slice must be
// exactly SymmetricKeyLen bytes; the caller retains responsibility for
// wiping the source.
func SymmetricKeyFromBytes(b []byte) (*SymmetricKey, bool) {
	if len(b) != SymmetricKeyLen {
		return nil, false
	}
	key := &SymmetricKey{}
	copy(key.k[:], b)
	return key, true
}

// Bytes exposes the raw key material for cipher construction. Callers
// must not log or retain the returned slice.
func (s *SymmetricKey) Bytes() []byte { return s.k[:] }

// Equal reports whether two keys hold the same material.
func (s *SymmetricKey) Equal(other *SymmetricKey) bool {
	if other == nil {
		return false
	}
	return s.k == other.k
}

// Duplicate returns an independent copy of the key. Both copies must be
// zeroed separately.
func (s *SymmetricKey) Duplicate() *SymmetricKey {
	dup := &SymmetricKey{}
	dup.k = s.k
	return dup
}

// Zero wipes the key material. Call when the owning circuit is removed.
func (s *SymmetricKey) Zero() {
	for i := range s.k {
		s.k[i] = 0
	}
}

// String prints a SHA-256 fingerprint prefix instead of the key itself,
// so accidental logging of a key value stays harmless.
func (s *SymmetricKey) String() string {
	sum := sha256.Sum256(s.k[:])
	return fmt.Sprintf("SymmetricKey(sha256:%s)", hex.EncodeToString(sum[:4]))
}

// PeerID identifies a relay peer. The privacy layer treats it as opaque
// bytes; the forward-layer wire format limits it to MaxPeerIDSize bytes.
type PeerID []byte

// String renders the peer id as hex for logging.
func (p PeerID) String() string { return hex.EncodeToString(p) }

// Equal reports byte equality between two peer ids.
func (p PeerID) Equal(other PeerID) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}
