package privacy

import (
	"errors"
	"fmt"
)

// Standard privacy-layer error types
//
// These errors follow Go 1.13+ error wrapping conventions and can be
// checked using errors.Is() and errors.As(). Sentinel errors cover the
// common, expected failure conditions; error types carry extra context
// where a bare sentinel would lose information.

// Sentinel errors for onion codec, handshake, and broadcast failures
var (
	// ErrLayerTooShort indicates an onion layer smaller than the minimum
	// nonce + tag + type byte envelope. Such layers cannot carry a valid
	// AEAD ciphertext and are rejected before any decryption attempt.
	ErrLayerTooShort = errors.New("privacy: onion layer too short")

	// ErrDecryptionFailed indicates AEAD authentication failed for a layer.
	// Deliberately carries no detail about which byte failed; a relay
	// learns only that the layer was not addressed to it.
	ErrDecryptionFailed = errors.New("privacy: layer decryption failed")

	// ErrEncryptionFailed indicates the AEAD seal operation failed.
	ErrEncryptionFailed = errors.New("privacy: layer encryption failed")

	// ErrEmptyRelayPath indicates WrapOnion was called with no hops.
	ErrEmptyRelayPath = errors.New("privacy: empty relay path")

	// ErrForwardLayerTruncated indicates a decrypted forward layer ended
	// before the declared peer id or carried no inner payload.
	ErrForwardLayerTruncated = errors.New("privacy: forward layer truncated")

	// ErrInvalidPeerID indicates a forward layer naming an empty next
	// hop. There is nowhere to forward to, so the layer is malformed.
	ErrInvalidPeerID = errors.New("privacy: invalid peer id in forward layer")

	// ErrNoPendingHandshake indicates CompleteCreate or Cancel was called
	// with no handshake in progress for that circuit.
	ErrNoPendingHandshake = errors.New("privacy: no handshake in progress")

	// ErrCircuitIDMismatch indicates a CREATED response referenced a
	// different circuit than the pending CREATE.
	ErrCircuitIDMismatch = errors.New("privacy: circuit id mismatch in handshake response")

	// ErrHandshakeTimeout indicates the pending handshake exceeded its
	// deadline and was discarded.
	ErrHandshakeTimeout = errors.New("privacy: handshake timed out")

	// ErrNoCircuit indicates a private broadcast was requested while the
	// circuit pool had no usable circuit. Callers should queue and retry
	// after the pool is rebuilt.
	ErrNoCircuit = errors.New("privacy: no circuit available")

	// ErrCoverTrafficRequiresConstantRate indicates a configuration that
	// enables cover traffic without constant-rate transmission. Cover
	// messages on an on-demand schedule are trivially distinguishable.
	ErrCoverTrafficRequiresConstantRate = errors.New("privacy: cover traffic requires constant-rate transmission")

	// ErrOnionRoutingDisabled indicates a preset or operation that
	// requires onion routing was requested with onion routing off.
	ErrOnionRoutingDisabled = errors.New("privacy: onion routing is disabled")

	// ErrRateLimited indicates a peer exceeded its relay rate limit.
	ErrRateLimited = errors.New("privacy: rate limit exceeded")

	// ErrPaddingInvalid indicates a padded message whose length header
	// does not fit inside the message.
	ErrPaddingInvalid = errors.New("privacy: invalid padded message")

	// ErrTransmitterStopped indicates an enqueue after the constant-rate
	// transmitter shut down.
	ErrTransmitterStopped = errors.New("privacy: transmitter stopped")

	// ErrInsufficientRelays indicates hop selection could not find enough
	// subnet-diverse candidates to build a circuit.
	ErrInsufficientRelays = errors.New("privacy: not enough diverse relays for a circuit")
)

// InvalidLayerTypeError reports an unrecognised layer type byte in a
// decrypted onion plaintext. Only LayerTypeForward and LayerTypeExit are
// valid; anything else means corruption or a protocol mismatch.
type InvalidLayerTypeError struct {
	Type byte
}

func (e *InvalidLayerTypeError) Error() string {
	return fmt.Sprintf("privacy: invalid layer type 0x%02x", e.Type)
}

// PeerIDTooLongError reports a peer id exceeding MaxPeerIDSize bytes.
// The forward-layer length prefix is a single byte, so ids longer than
// MaxPeerIDSize are rejected at encrypt time rather than silently
// truncated.
type PeerIDTooLongError struct {
	Len int
}

func (e *PeerIDTooLongError) Error() string {
	return fmt.Sprintf("privacy: peer id too long (%d bytes, max %d)", e.Len, MaxPeerIDSize)
}

// ConfigValidationError wraps a config field failure with the field name
// so operators can find the offending TOML key.
type ConfigValidationError struct {
	Field string
	Err   error
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("privacy: config field %q: %v", e.Field, e.Err)
}

func (e *ConfigValidationError) Unwrap() error { return e.Err }
