package privacy

import (
	"encoding/binary"
	"fmt"
	"math/rand"
)

// Message padding to fixed bucket sizes.
//
// Without padding, an observer can fingerprint transactions by their
// exact byte length even through encryption. Padded messages only ever
// appear in one of five sizes, collapsing the length side channel to
// log2(5) bits.
//
// Padded format: [length: u16 little-endian][payload][random fill].
// The little-endian header is part of the cross-implementation wire
// format and must not change.

const (
	// LengthHeaderSize is the padded-format length prefix in bytes.
	LengthHeaderSize = 2

	// MaxPaddedPayloadSize is the largest payload the u16 header can
	// describe.
	MaxPaddedPayloadSize = 0xFFFF
)

// SizeBuckets are the allowed padded message sizes in bytes, smallest
// first.
var SizeBuckets = [5]int{512, 2048, 8192, 32768, 131072}

// PadToBucket pads payload to the smallest bucket that fits it. The
// remainder after the payload is filled with random bytes so padding is
// indistinguishable from content.
//
// Payloads larger than MaxPaddedPayloadSize cannot be represented by
// the length header and are rejected.
func PadToBucket(payload []byte) ([]byte, error) {
	if len(payload) > MaxPaddedPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrPaddingInvalid, len(payload), MaxPaddedPayloadSize)
	}

	bucket := selectBucket(len(payload) + LengthHeaderSize)
	padded := make([]byte, bucket)
	binary.LittleEndian.PutUint16(padded[:LengthHeaderSize], uint16(len(payload)))
	copy(padded[LengthHeaderSize:], payload)

	fill := padded[LengthHeaderSize+len(payload):]
	if len(fill) > 0 {
		rng := globalRand()
		for i := range fill {
			fill[i] = byte(rng.Intn(256))
		}
	}
	return padded, nil
}

// Unpad validates a padded message and extracts the original payload.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < LengthHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is below the length header", ErrPaddingInvalid, len(padded))
	}
	if !IsValidBucket(len(padded)) {
		return nil, fmt.Errorf("%w: %d bytes is not a bucket size", ErrPaddingInvalid, len(padded))
	}

	length := int(binary.LittleEndian.Uint16(padded[:LengthHeaderSize]))
	available := len(padded) - LengthHeaderSize
	if length > available {
		return nil, fmt.Errorf("%w: header claims %d bytes, only %d available", ErrPaddingInvalid, length, available)
	}

	payload := make([]byte, length)
	copy(payload, padded[LengthHeaderSize:LengthHeaderSize+length])
	return payload, nil
}

// selectBucket returns the smallest bucket holding needed bytes, or the
// largest bucket when nothing fits (the caller splits oversized
// messages).
func selectBucket(needed int) int {
	for _, bucket := range SizeBuckets {
		if bucket >= needed {
			return bucket
		}
	}
	return SizeBuckets[len(SizeBuckets)-1]
}

// IsValidBucket reports whether size is one of the allowed padded
// sizes.
func IsValidBucket(size int) bool {
	for _, bucket := range SizeBuckets {
		if bucket == size {
			return true
		}
	}
	return false
}

// BucketForPayload returns the padded size a payload of the given
// length would occupy.
func BucketForPayload(payloadLen int) int {
	return selectBucket(payloadLen + LengthHeaderSize)
}

// PaddingOverhead returns the bytes spent on fill for a payload of the
// given length.
func PaddingOverhead(payloadLen int) int {
	return BucketForPayload(payloadLen) - payloadLen - LengthHeaderSize
}

// padWithRand is the deterministic variant used by tests to verify the
// fill bytes are drawn from the supplied source.
func padWithRand(payload []byte, rng *rand.Rand) ([]byte, error) {
	if len(payload) > MaxPaddedPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrPaddingInvalid, len(payload), MaxPaddedPayloadSize)
	}
	bucket := selectBucket(len(payload) + LengthHeaderSize)
	padded := make([]byte, bucket)
	binary.LittleEndian.PutUint16(padded[:LengthHeaderSize], uint16(len(payload)))
	copy(padded[LengthHeaderSize:], payload)
	for i := LengthHeaderSize + len(payload); i < bucket; i++ {
		padded[i] = byte(rng.Intn(256))
	}
	return padded, nil
}
