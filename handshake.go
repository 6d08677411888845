package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Telescoping circuit handshake.
//
// Circuits are built one hop at a time: a CREATE message carrying a fresh
// ephemeral X25519 public key goes to the hop (directly for the entry hop,
// tunnelled through already-established layers for the middle and exit
// hops), the hop answers with a CREATED message carrying its own ephemeral
// public key, and both sides derive the hop key with HKDF-SHA256. No hop
// learns more than its predecessor and successor.

const (
	// X25519KeySize is the byte length of X25519 public and private keys.
	X25519KeySize = 32

	// HandshakeTimeout bounds how long a pending handshake may wait for
	// its CREATED response before being discarded.
	HandshakeTimeout = 30 * time.Second
)

// Domain separation inputs for circuit key derivation. Changing either
// breaks compatibility with every deployed node.
var (
	circuitKeyDomain = []byte("botho-circuit-v1")
	hkdfSaltPrefix   = []byte("botho-circuit-salt-")
)

// X25519KeyPair holds an ephemeral Curve25519 keypair for one handshake.
type X25519KeyPair struct {
	privateKey [X25519KeySize]byte
	publicKey  [X25519KeySize]byte
}

// GenerateX25519KeyPair creates a keypair from crypto/rand.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	kp := &X25519KeyPair{}
	if _, err := rand.Read(kp.privateKey[:]); err != nil {
		return nil, fmt.Errorf("failed to generate X25519 private key: %w", err)
	}
	curve25519.ScalarBaseMult(&kp.publicKey, &kp.privateKey)
	return kp, nil
}

// PublicKey returns the public half for transmission.
func (kp *X25519KeyPair) PublicKey() [X25519KeySize]byte { return kp.publicKey }

// SharedSecret performs the X25519 key exchange with a peer's public key.
func (kp *X25519KeyPair) SharedSecret(theirPublic [X25519KeySize]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kp.privateKey[:], theirPublic[:])
	if err != nil {
		return nil, fmt.Errorf("x25519 key exchange failed: %w", err)
	}
	return secret, nil
}

// Zero wipes the private key material.
func (kp *X25519KeyPair) Zero() {
	for i := range kp.privateKey {
		kp.privateKey[i] = 0
	}
}

// handshakeState tracks one pending CREATE. The ephemeral key is nilled
// out when consumed so completion can happen at most once.
type handshakeState struct {
	ephemeral *X25519KeyPair
	circuitID CircuitID
	startedAt time.Time
}

// CircuitHandshake manages key establishment for one circuit hop at a
// time. It is a linear state machine: InitiateCreate arms it,
// CompleteCreate (or Cancel) consumes the state, and only then may a new
// handshake begin. Not safe for concurrent use; the circuit builder owns
// one instance per build.
type CircuitHandshake struct {
	state *handshakeState
}

// NewCircuitHandshake returns an idle handshake instance.
func NewCircuitHandshake() *CircuitHandshake {
	return &CircuitHandshake{}
}

// InitiateCreate begins a handshake for circuitID and returns the CREATE
// message to send to the hop. The ephemeral private key stays inside the
// handshake until CompleteCreate consumes it.
//
// Panics if a handshake is already in progress: overlapping initiations
// are a programming error, not a runtime condition.
func (h *CircuitHandshake) InitiateCreate(circuitID CircuitID) (*CircuitCreateMsg, error) {
	if h.state != nil {
		panic("privacy: cannot initiate a handshake while one is in progress")
	}

	kp, err := GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("handshake initiation: %w", err)
	}

	h.state = &handshakeState{
		ephemeral: kp,
		circuitID: circuitID,
		startedAt: time.Now(),
	}

	return &CircuitCreateMsg{
		CircuitID:       circuitID,
		EphemeralPubKey: kp.PublicKey(),
	}, nil
}

// CompleteCreate finishes the handshake with the hop's CREATED response
// and returns the derived hop key. The pending state is consumed whether
// or not completion succeeds, so a failed handshake must be restarted
// from InitiateCreate.
func (h *CircuitHandshake) CompleteCreate(theirPubKey [X25519KeySize]byte, circuitID CircuitID) (*SymmetricKey, error) {
	state := h.state
	h.state = nil
	if state == nil {
		return nil, ErrNoPendingHandshake
	}
	defer state.ephemeral.Zero()

	if state.circuitID != circuitID {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrCircuitIDMismatch, state.circuitID, circuitID)
	}
	if time.Since(state.startedAt) > HandshakeTimeout {
		return nil, fmt.Errorf("%w: pending for %v", ErrHandshakeTimeout, time.Since(state.startedAt).Round(time.Millisecond))
	}

	secret, err := state.ephemeral.SharedSecret(theirPubKey)
	if err != nil {
		return nil, fmt.Errorf("handshake completion: %w", err)
	}

	return deriveCircuitKey(secret, circuitID)
}

// IsInProgress reports whether a CREATE is awaiting its response.
func (h *CircuitHandshake) IsInProgress() bool { return h.state != nil }

// IsExpired reports whether the pending handshake has exceeded
// HandshakeTimeout. Idle handshakes are never expired.
func (h *CircuitHandshake) IsExpired() bool {
	return h.state != nil && time.Since(h.state.startedAt) > HandshakeTimeout
}

// Cancel discards the pending handshake, wiping the ephemeral key. Safe
// to call when idle.
func (h *CircuitHandshake) Cancel() {
	if h.state != nil {
		h.state.ephemeral.Zero()
		h.state = nil
	}
}

// RespondToCreate handles a CREATE received as a relay hop: it generates
// an ephemeral keypair, derives the hop key, and returns the CREATED
// response together with the key the relay must store for this circuit.
func RespondToCreate(circuitID CircuitID, theirPubKey [X25519KeySize]byte) (*CircuitCreatedMsg, *SymmetricKey, error) {
	kp, err := GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("handshake response: %w", err)
	}
	defer kp.Zero()

	secret, err := kp.SharedSecret(theirPubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake response: %w", err)
	}

	key, err := deriveCircuitKey(secret, circuitID)
	if err != nil {
		return nil, nil, err
	}

	resp := &CircuitCreatedMsg{
		CircuitID:       circuitID,
		EphemeralPubKey: kp.PublicKey(),
	}
	return resp, key, nil
}

// deriveCircuitKey expands an X25519 shared secret into a 256-bit hop
// key with HKDF-SHA256. The salt binds the key to the circuit id, so the
// same peers building two circuits never share a key.
func deriveCircuitKey(sharedSecret []byte, circuitID CircuitID) (*SymmetricKey, error) {
	salt := make([]byte, 0, len(hkdfSaltPrefix)+CircuitIDLen)
	salt = append(salt, hkdfSaltPrefix...)
	salt = append(salt, circuitID.Bytes()...)

	reader := hkdf.New(sha256.New, sharedSecret, salt, circuitKeyDomain)
	keyBytes := make([]byte, SymmetricKeyLen)
	if _, err := io.ReadFull(reader, keyBytes); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}

	key, ok := SymmetricKeyFromBytes(keyBytes)
	if !ok {
		return nil, fmt.Errorf("hkdf produced %d bytes, want %d", len(keyBytes), SymmetricKeyLen)
	}
	for i := range keyBytes {
		keyBytes[i] = 0
	}
	return key, nil
}
