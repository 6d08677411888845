package privacy

import (
	"errors"
	"testing"
	"time"
)

func mustCircuitID(t *testing.T) CircuitID {
	t.Helper()
	id, err := NewCircuitID()
	if err != nil {
		t.Fatalf("NewCircuitID: %v", err)
	}
	return id
}

func TestHandshakeKeyAgreement(t *testing.T) {
	id := mustCircuitID(t)

	handshake := NewCircuitHandshake()
	create, err := handshake.InitiateCreate(id)
	if err != nil {
		t.Fatalf("InitiateCreate: %v", err)
	}
	if create.CircuitID != id {
		t.Fatal("CREATE carries the wrong circuit id")
	}

	created, relayKey, err := RespondToCreate(create.CircuitID, create.EphemeralPubKey)
	if err != nil {
		t.Fatalf("RespondToCreate: %v", err)
	}

	initiatorKey, err := handshake.CompleteCreate(created.EphemeralPubKey, id)
	if err != nil {
		t.Fatalf("CompleteCreate: %v", err)
	}

	if !initiatorKey.Equal(relayKey) {
		t.Fatal("initiator and relay derived different hop keys")
	}
}

func TestHandshakeKeyBoundToCircuitID(t *testing.T) {
	// The same peers building two circuits must derive distinct keys.
	idA := mustCircuitID(t)
	idB := mustCircuitID(t)

	kpInitiator, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	kpRelay, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}

	secret, err := kpInitiator.SharedSecret(kpRelay.PublicKey())
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}

	keyA, err := deriveCircuitKey(secret, idA)
	if err != nil {
		t.Fatalf("deriveCircuitKey: %v", err)
	}
	keyB, err := deriveCircuitKey(secret, idB)
	if err != nil {
		t.Fatalf("deriveCircuitKey: %v", err)
	}

	if keyA.Equal(keyB) {
		t.Fatal("keys for different circuits must differ")
	}
}

func TestHandshakeCircuitIDMismatch(t *testing.T) {
	handshake := NewCircuitHandshake()
	create, err := handshake.InitiateCreate(mustCircuitID(t))
	if err != nil {
		t.Fatalf("InitiateCreate: %v", err)
	}

	created, _, err := RespondToCreate(create.CircuitID, create.EphemeralPubKey)
	if err != nil {
		t.Fatalf("RespondToCreate: %v", err)
	}

	if _, err := handshake.CompleteCreate(created.EphemeralPubKey, mustCircuitID(t)); !errors.Is(err, ErrCircuitIDMismatch) {
		t.Fatalf("expected ErrCircuitIDMismatch, got %v", err)
	}
}

func TestHandshakeCompleteWithoutInitiate(t *testing.T) {
	handshake := NewCircuitHandshake()
	var pub [X25519KeySize]byte
	if _, err := handshake.CompleteCreate(pub, mustCircuitID(t)); !errors.Is(err, ErrNoPendingHandshake) {
		t.Fatalf("expected ErrNoPendingHandshake, got %v", err)
	}
}

func TestHandshakeStateConsumedOnFailure(t *testing.T) {
	handshake := NewCircuitHandshake()
	id := mustCircuitID(t)
	if _, err := handshake.InitiateCreate(id); err != nil {
		t.Fatalf("InitiateCreate: %v", err)
	}

	var pub [X25519KeySize]byte
	if _, err := handshake.CompleteCreate(pub, mustCircuitID(t)); err == nil {
		t.Fatal("expected mismatch error")
	}

	// The failed completion consumed the state; a retry must re-initiate.
	if handshake.IsInProgress() {
		t.Fatal("handshake state should be consumed after failed completion")
	}
	if _, err := handshake.CompleteCreate(pub, id); !errors.Is(err, ErrNoPendingHandshake) {
		t.Fatalf("expected ErrNoPendingHandshake on reuse, got %v", err)
	}
}

func TestHandshakeDoubleInitiatePanics(t *testing.T) {
	handshake := NewCircuitHandshake()
	if _, err := handshake.InitiateCreate(mustCircuitID(t)); err != nil {
		t.Fatalf("InitiateCreate: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("second InitiateCreate should panic")
		}
	}()
	handshake.InitiateCreate(mustCircuitID(t))
}

func TestHandshakeCancel(t *testing.T) {
	handshake := NewCircuitHandshake()
	if _, err := handshake.InitiateCreate(mustCircuitID(t)); err != nil {
		t.Fatalf("InitiateCreate: %v", err)
	}
	if !handshake.IsInProgress() {
		t.Fatal("handshake should be in progress")
	}

	handshake.Cancel()
	if handshake.IsInProgress() {
		t.Fatal("cancel should clear the pending state")
	}

	// Cancel when idle is a no-op.
	handshake.Cancel()
}

func TestHandshakeTimeout(t *testing.T) {
	handshake := NewCircuitHandshake()
	id := mustCircuitID(t)
	create, err := handshake.InitiateCreate(id)
	if err != nil {
		t.Fatalf("InitiateCreate: %v", err)
	}

	// Backdate the pending handshake past its deadline.
	handshake.state.startedAt = time.Now().Add(-HandshakeTimeout - time.Second)
	if !handshake.IsExpired() {
		t.Fatal("backdated handshake should report expired")
	}

	created, _, err := RespondToCreate(create.CircuitID, create.EphemeralPubKey)
	if err != nil {
		t.Fatalf("RespondToCreate: %v", err)
	}
	if _, err := handshake.CompleteCreate(created.EphemeralPubKey, id); !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
}

func TestDerivedKeyUsableForOnion(t *testing.T) {
	id := mustCircuitID(t)

	handshake := NewCircuitHandshake()
	create, err := handshake.InitiateCreate(id)
	if err != nil {
		t.Fatalf("InitiateCreate: %v", err)
	}
	created, relayKey, err := RespondToCreate(create.CircuitID, create.EphemeralPubKey)
	if err != nil {
		t.Fatalf("RespondToCreate: %v", err)
	}
	senderKey, err := handshake.CompleteCreate(created.EphemeralPubKey, id)
	if err != nil {
		t.Fatalf("CompleteCreate: %v", err)
	}

	encrypted, err := EncryptExitLayer(senderKey, []byte("tx"))
	if err != nil {
		t.Fatalf("EncryptExitLayer: %v", err)
	}
	layer, err := DecryptLayer(relayKey, encrypted)
	if err != nil {
		t.Fatalf("relay could not decrypt with its derived key: %v", err)
	}
	if !layer.IsExit || string(layer.Inner) != "tx" {
		t.Fatal("round trip through derived keys failed")
	}
}

func TestX25519KeyPairZero(t *testing.T) {
	kp, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	kp.Zero()
	if kp.privateKey != ([X25519KeySize]byte{}) {
		t.Fatal("Zero left private key material behind")
	}
}
