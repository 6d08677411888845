package privacy

import (
	"bytes"
	"testing"
)

func TestLenPrefixedBytesRoundTrip(t *testing.T) {
	for _, payload := range [][]byte{
		nil,
		{},
		[]byte("peer-id"),
		bytes.Repeat([]byte{0xAB}, 255),
	} {
		s := NewStream(nil)
		if err := s.WriteLenPrefixedBytes(payload); err != nil {
			t.Fatalf("WriteLenPrefixedBytes(%d bytes): %v", len(payload), err)
		}
		got, err := s.ReadLenPrefixedBytes()
		if err != nil {
			t.Fatalf("ReadLenPrefixedBytes(%d bytes): %v", len(payload), err)
		}
		if !bytes.Equal(got, payload) && len(payload) != 0 {
			t.Fatalf("round trip lost data: %q != %q", got, payload)
		}
	}
}

func TestLenPrefixedBytesTooLong(t *testing.T) {
	s := NewStream(nil)
	if err := s.WriteLenPrefixedBytes(make([]byte, 256)); err == nil {
		t.Fatal("256-byte value accepted by a one-byte length prefix")
	}
}

func TestLenPrefixedBytesShortRead(t *testing.T) {
	// Header claims ten bytes; only three follow.
	s := NewStream([]byte{10, 'a', 'b', 'c'})
	if _, err := s.ReadLenPrefixedBytes(); err == nil {
		t.Fatal("truncated value parsed")
	}

	empty := NewStream(nil)
	if _, err := empty.ReadLenPrefixedBytes(); err == nil {
		t.Fatal("empty stream parsed")
	}
}
