package privacy

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Gossip envelopes and inner payload formats.
//
// Two encodings coexist here. The envelopes that travel between peers
// over gossip (handshake messages and onion relay messages) are CBOR
// with canonical encoding, so field additions stay backward compatible.
// The inner payload recovered by the exit hop uses a fixed binary
// format: its first byte distinguishes a real transaction (0x01) from a
// cover message (0xFF), and that byte must sit at a known offset
// regardless of encoder version.

// Envelope kind bytes for the CBOR gossip envelope.
const (
	msgKindCreate  uint8 = 1
	msgKindCreated uint8 = 2
	msgKindRelay   uint8 = 3
)

// InnerTypeTransaction marks an inner payload carrying a transaction.
const InnerTypeTransaction byte = 0x01

// TxHashSize is the SHA-256 transaction hash length.
const TxHashSize = sha256.Size

var cborEnc cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("privacy: cbor enc mode: %v", err))
	}
	cborEnc = em
}

// circuitEnvelope is the on-the-wire shape of every circuit gossip
// message. Integer keys keep the envelope small.
type circuitEnvelope struct {
	Kind      uint8  `cbor:"1,keyasint"`
	CircuitID []byte `cbor:"2,keyasint"`
	Body      []byte `cbor:"3,keyasint"`
}

// CircuitCreateMsg is round one of the telescoping handshake: the
// initiator's ephemeral public key for one hop.
type CircuitCreateMsg struct {
	CircuitID       CircuitID
	EphemeralPubKey [X25519KeySize]byte
}

// Encode serializes the CREATE message into a gossip envelope.
func (m *CircuitCreateMsg) Encode() ([]byte, error) {
	return cborEnc.Marshal(&circuitEnvelope{
		Kind:      msgKindCreate,
		CircuitID: m.CircuitID.Bytes(),
		Body:      m.EphemeralPubKey[:],
	})
}

// CircuitCreatedMsg is the hop's response: its own ephemeral public key
// for the same circuit.
type CircuitCreatedMsg struct {
	CircuitID       CircuitID
	EphemeralPubKey [X25519KeySize]byte
}

// Encode serializes the CREATED message into a gossip envelope.
func (m *CircuitCreatedMsg) Encode() ([]byte, error) {
	return cborEnc.Marshal(&circuitEnvelope{
		Kind:      msgKindCreated,
		CircuitID: m.CircuitID.Bytes(),
		Body:      m.EphemeralPubKey[:],
	})
}

// OnionRelayMsg carries one wrapped onion between adjacent hops. The
// circuit id is cleartext so the receiving relay can look up its hop
// key; everything else is inside the onion.
type OnionRelayMsg struct {
	CircuitID CircuitID
	Onion     []byte
}

// Encode serializes the relay message into a gossip envelope.
func (m *OnionRelayMsg) Encode() ([]byte, error) {
	return cborEnc.Marshal(&circuitEnvelope{
		Kind:      msgKindRelay,
		CircuitID: m.CircuitID.Bytes(),
		Body:      m.Onion,
	})
}

// DecodeCircuitMessage parses a gossip envelope and returns one of
// *CircuitCreateMsg, *CircuitCreatedMsg, or *OnionRelayMsg.
func DecodeCircuitMessage(data []byte) (interface{}, error) {
	var env circuitEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("circuit envelope decode failed: %w", err)
	}

	circuitID, ok := CircuitIDFromBytes(env.CircuitID)
	if !ok {
		return nil, fmt.Errorf("circuit envelope has %d-byte circuit id, want %d", len(env.CircuitID), CircuitIDLen)
	}

	switch env.Kind {
	case msgKindCreate, msgKindCreated:
		if len(env.Body) != X25519KeySize {
			return nil, fmt.Errorf("handshake envelope has %d-byte public key, want %d", len(env.Body), X25519KeySize)
		}
		var pubKey [X25519KeySize]byte
		copy(pubKey[:], env.Body)
		if env.Kind == msgKindCreate {
			return &CircuitCreateMsg{CircuitID: circuitID, EphemeralPubKey: pubKey}, nil
		}
		return &CircuitCreatedMsg{CircuitID: circuitID, EphemeralPubKey: pubKey}, nil

	case msgKindRelay:
		return &OnionRelayMsg{CircuitID: circuitID, Onion: env.Body}, nil

	default:
		return nil, fmt.Errorf("unknown circuit envelope kind %d", env.Kind)
	}
}

// InnerMessage is the payload recovered at the exit hop: either a real
// transaction with its hash, or a recognised cover message.
type InnerMessage struct {
	// IsCover is true when the payload was cover traffic. TxData and
	// TxHash are empty in that case.
	IsCover bool

	// TxData is the serialized transaction.
	TxData []byte

	// TxHash is the SHA-256 hash the sender claims for TxData.
	TxHash [TxHashSize]byte
}

// NewTransactionMessage builds an inner message for txData, computing
// its hash.
func NewTransactionMessage(txData []byte) *InnerMessage {
	return &InnerMessage{
		TxData: txData,
		TxHash: sha256.Sum256(txData),
	}
}

// Encode produces the exit-hop binary format:
// transactions are 0x01 || tx_hash[32] || tx_data, cover messages keep
// the CoverMarker layout produced by the cover generator.
func (m *InnerMessage) Encode() ([]byte, error) {
	if m.IsCover {
		return nil, errors.New("privacy: cover messages are encoded by the cover generator")
	}
	s := NewStream(make([]byte, 0, 1+TxHashSize+len(m.TxData)))
	if err := s.WriteByte(InnerTypeTransaction); err != nil {
		return nil, err
	}
	if _, err := s.Write(m.TxHash[:]); err != nil {
		return nil, err
	}
	if _, err := s.Write(m.TxData); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

// DecodeInnerMessage parses an exit payload. Cover messages decode to an
// InnerMessage with IsCover set; callers drop them after counting.
func DecodeInnerMessage(data []byte) (*InnerMessage, error) {
	if len(data) == 0 {
		return nil, errors.New("privacy: empty inner message")
	}

	switch data[0] {
	case CoverMarker:
		return &InnerMessage{IsCover: true}, nil

	case InnerTypeTransaction:
		s := NewStream(data[1:])
		var hash [TxHashSize]byte
		if _, err := io.ReadFull(s, hash[:]); err != nil {
			return nil, fmt.Errorf("inner message missing tx hash: %w", err)
		}
		txData := make([]byte, s.Len())
		copy(txData, s.Bytes())
		return &InnerMessage{TxData: txData, TxHash: hash}, nil

	default:
		return nil, fmt.Errorf("unknown inner message type 0x%02x", data[0])
	}
}

// VerifyHash recomputes the transaction hash and compares it to the
// sender's claim.
func (m *InnerMessage) VerifyHash() bool {
	if m.IsCover {
		return false
	}
	return sha256.Sum256(m.TxData) == m.TxHash
}
