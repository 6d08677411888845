package privacy

import (
	"bytes"
	"fmt"
)

// Stream provides binary serialization for the privacy layer's inner
// message formats. It wraps bytes.Buffer and adds the encodings shared by
// the inner transaction format and the cover message format.
//
// The gossip envelopes (handshake and relay messages) use CBOR instead;
// Stream is for the bit-exact formats that must match other
// implementations byte for byte.
type Stream struct {
	*bytes.Buffer
}

// NewStream creates a new Stream from a byte slice.
func NewStream(buf []byte) *Stream {
	return &Stream{bytes.NewBuffer(buf)}
}

// WriteLenPrefixedBytes writes data prefixed by its length as a single
// byte. Format: [length:1 byte][data]. Limits data to 255 bytes. The
// forward onion layer uses this encoding for the next-hop peer id.
func (s *Stream) WriteLenPrefixedBytes(data []byte) error {
	if len(data) > 255 {
		return fmt.Errorf("data too long: %d bytes (max 255)", len(data))
	}
	if err := s.WriteByte(uint8(len(data))); err != nil {
		return err
	}
	_, err := s.Write(data)
	return err
}

// ReadLenPrefixedBytes reads data written by WriteLenPrefixedBytes.
func (s *Stream) ReadLenPrefixedBytes() ([]byte, error) {
	length, err := s.ReadByte()
	if err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if length == 0 {
		return data, nil
	}
	n, err := s.Read(data)
	if err != nil {
		return nil, err
	}
	if n != int(length) {
		return nil, fmt.Errorf("short read: got %d of %d prefixed bytes", n, length)
	}
	return data, nil
}
