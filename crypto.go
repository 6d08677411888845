package privacy

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Layered onion encryption for transaction broadcast.
//
// Each hop of a circuit holds one symmetric key. The sender wraps the
// payload in three AEAD layers, innermost first; each relay peels one
// layer and either forwards the remainder or, at the exit, recovers the
// payload. ChaCha20-Poly1305 authenticates every layer, so a relay that
// tampers with a message produces a decryption failure at the next hop
// rather than a malleable ciphertext.
//
// Wire format per layer: [nonce (12 bytes)][ciphertext][tag (16 bytes)].
// The tag is appended by the AEAD; a fresh random nonce is generated for
// every seal.

const (
	// NonceSize is the ChaCha20-Poly1305 nonce length in bytes.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the Poly1305 authentication tag length in bytes.
	TagSize = chacha20poly1305.Overhead

	// MaxPeerIDSize is the maximum encoded peer id length in a forward
	// layer. The length prefix is one byte, but ids are capped well below
	// 255 to bound layer growth.
	MaxPeerIDSize = 64

	// MinLayerSize is the smallest possible encrypted layer: nonce, tag,
	// and a single plaintext type byte.
	MinLayerSize = NonceSize + TagSize + 1

	// MinForwardPlaintext is the smallest decrypted forward layer: type
	// byte, length byte, and at least one byte of peer id.
	MinForwardPlaintext = 3
)

// Layer type bytes, the first plaintext byte of every decrypted layer.
const (
	// LayerTypeForward instructs a relay to pass the inner data on.
	LayerTypeForward byte = 0x01
	// LayerTypeExit instructs the final relay to broadcast the payload.
	LayerTypeExit byte = 0x02
)

// DecryptedLayer is the result of peeling one onion layer. Exactly one
// of the two interpretations applies, selected by IsExit.
type DecryptedLayer struct {
	// IsExit is true when this relay is the final hop.
	IsExit bool

	// NextHop is the peer to forward Inner to. Set only for forward
	// layers.
	NextHop PeerID

	// Inner is the still-encrypted remainder for the next hop (forward
	// layers) or the fully decrypted payload (exit layers).
	Inner []byte
}

// sealLayer encrypts plaintext under key with a fresh random nonce and
// returns nonce || ciphertext || tag.
func sealLayer(key *SymmetricKey, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce generation: %v", ErrEncryptionFailed, err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// openLayer reverses sealLayer. Authentication failure is reported as
// ErrDecryptionFailed with no further detail.
func openLayer(key *SymmetricKey, encrypted []byte) ([]byte, error) {
	if len(encrypted) < MinLayerSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrLayerTooShort, len(encrypted), MinLayerSize)
	}

	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonce := encrypted[:NonceSize]
	ciphertext := encrypted[NonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptExitLayer builds the innermost onion layer. The exit relay
// decrypts it to plaintext 0x02 || payload and broadcasts the payload.
func EncryptExitLayer(key *SymmetricKey, payload []byte) ([]byte, error) {
	plaintext := make([]byte, 0, 1+len(payload))
	plaintext = append(plaintext, LayerTypeExit)
	plaintext = append(plaintext, payload...)
	return sealLayer(key, plaintext)
}

// EncryptForwardLayer wraps inner for a relay that should forward it to
// nextHop. The plaintext is 0x01 || len(nextHop) || nextHop || inner.
func EncryptForwardLayer(key *SymmetricKey, nextHop PeerID, inner []byte) ([]byte, error) {
	if len(nextHop) > MaxPeerIDSize {
		return nil, &PeerIDTooLongError{Len: len(nextHop)}
	}

	s := NewStream(make([]byte, 0, 2+len(nextHop)+len(inner)))
	if err := s.WriteByte(LayerTypeForward); err != nil {
		return nil, err
	}
	if err := s.WriteLenPrefixedBytes(nextHop); err != nil {
		return nil, err
	}
	if _, err := s.Write(inner); err != nil {
		return nil, err
	}
	return sealLayer(key, s.Bytes())
}

// DecryptLayer peels one layer and reports whether to forward or exit.
//
// Returns ErrDecryptionFailed when the key does not authenticate the
// layer, ErrLayerTooShort / ErrForwardLayerTruncated for malformed
// input, and InvalidLayerTypeError for an unknown type byte.
func DecryptLayer(key *SymmetricKey, encrypted []byte) (*DecryptedLayer, error) {
	plaintext, err := openLayer(key, encrypted)
	if err != nil {
		return nil, err
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrLayerTooShort)
	}

	switch plaintext[0] {
	case LayerTypeForward:
		if len(plaintext) < MinForwardPlaintext {
			return nil, ErrForwardLayerTruncated
		}
		peerLen := int(plaintext[1])
		if peerLen == 0 {
			return nil, ErrInvalidPeerID
		}
		if peerLen > MaxPeerIDSize {
			return nil, &PeerIDTooLongError{Len: peerLen}
		}
		if len(plaintext) < 2+peerLen {
			return nil, ErrForwardLayerTruncated
		}
		nextHop := make(PeerID, peerLen)
		copy(nextHop, plaintext[2:2+peerLen])
		inner := make([]byte, len(plaintext)-2-peerLen)
		copy(inner, plaintext[2+peerLen:])
		return &DecryptedLayer{NextHop: nextHop, Inner: inner}, nil

	case LayerTypeExit:
		payload := make([]byte, len(plaintext)-1)
		copy(payload, plaintext[1:])
		return &DecryptedLayer{IsExit: true, Inner: payload}, nil

	default:
		return nil, &InvalidLayerTypeError{Type: plaintext[0]}
	}
}

// WrapOnion wraps payload in three layers for a circuit.
//
// hops lists the relays in path order [entry, middle, exit] and keys
// holds the matching hop keys. The returned message is addressed to the
// entry hop: it peels the outer layer and finds the middle hop's id, the
// middle hop finds the exit's id, and the exit recovers the payload.
func WrapOnion(payload []byte, hops [3]PeerID, keys [3]*SymmetricKey) ([]byte, error) {
	for i, hop := range hops {
		if len(hop) == 0 {
			return nil, fmt.Errorf("%w: hop %d has empty peer id", ErrEmptyRelayPath, i)
		}
	}

	wrapped, err := EncryptExitLayer(keys[2], payload)
	if err != nil {
		return nil, fmt.Errorf("exit layer: %w", err)
	}

	wrapped, err = EncryptForwardLayer(keys[1], hops[2], wrapped)
	if err != nil {
		return nil, fmt.Errorf("middle layer: %w", err)
	}

	wrapped, err = EncryptForwardLayer(keys[0], hops[1], wrapped)
	if err != nil {
		return nil, fmt.Errorf("entry layer: %w", err)
	}

	return wrapped, nil
}
