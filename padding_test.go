package privacy

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestPadToBucketRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 100, 510, 511, 2046, 8190, 32766, 65535} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		padded, err := PadToBucket(payload)
		if err != nil {
			t.Fatalf("PadToBucket(%d bytes): %v", size, err)
		}
		if !IsValidBucket(len(padded)) {
			t.Fatalf("padded size %d is not a bucket", len(padded))
		}

		recovered, err := Unpad(padded)
		if err != nil {
			t.Fatalf("Unpad(%d bytes): %v", size, err)
		}
		if !bytes.Equal(recovered, payload) {
			t.Fatalf("round trip mismatch for %d-byte payload", size)
		}
	}
}

func TestBucketSelection(t *testing.T) {
	cases := []struct {
		payloadLen int
		bucket     int
	}{
		{0, 512},
		{510, 512},
		{511, 2048},
		{2046, 2048},
		{2047, 8192},
		{8190, 8192},
		{8191, 32768},
		{32766, 32768},
		{32767, 131072},
		{65535, 131072},
	}
	for _, tc := range cases {
		if got := BucketForPayload(tc.payloadLen); got != tc.bucket {
			t.Errorf("BucketForPayload(%d) = %d, want %d", tc.payloadLen, got, tc.bucket)
		}
	}
}

func TestPadToBucketTooLarge(t *testing.T) {
	payload := make([]byte, MaxPaddedPayloadSize+1)
	if _, err := PadToBucket(payload); !errors.Is(err, ErrPaddingInvalid) {
		t.Fatalf("expected ErrPaddingInvalid, got %v", err)
	}
}

func TestUnpadRejectsNonBucketSizes(t *testing.T) {
	if _, err := Unpad(make([]byte, 513)); !errors.Is(err, ErrPaddingInvalid) {
		t.Fatalf("non-bucket size accepted: %v", err)
	}
	if _, err := Unpad([]byte{0x01}); !errors.Is(err, ErrPaddingInvalid) {
		t.Fatalf("sub-header input accepted: %v", err)
	}
}

func TestUnpadRejectsLyingHeader(t *testing.T) {
	padded := make([]byte, 512)
	// Header claims more payload than the bucket holds.
	padded[0] = 0xFF
	padded[1] = 0xFF
	if _, err := Unpad(padded); !errors.Is(err, ErrPaddingInvalid) {
		t.Fatalf("oversized length header accepted: %v", err)
	}
}

func TestPaddingOverhead(t *testing.T) {
	if got := PaddingOverhead(100); got != 512-100-LengthHeaderSize {
		t.Fatalf("PaddingOverhead(100) = %d", got)
	}
	if got := PaddingOverhead(510); got != 0 {
		t.Fatalf("a payload exactly filling a bucket should have zero overhead, got %d", got)
	}
}

func TestPaddingFillIsRandom(t *testing.T) {
	payload := []byte("short")
	rng := rand.New(rand.NewSource(7))

	padded, err := padWithRand(payload, rng)
	if err != nil {
		t.Fatalf("padWithRand: %v", err)
	}

	fill := padded[LengthHeaderSize+len(payload):]
	zeros := 0
	for _, b := range fill {
		if b == 0 {
			zeros++
		}
	}
	// Random fill should not be mostly zero bytes.
	if zeros > len(fill)/8 {
		t.Fatalf("fill looks non-random: %d/%d zero bytes", zeros, len(fill))
	}
}

func TestIsValidBucket(t *testing.T) {
	for _, bucket := range SizeBuckets {
		if !IsValidBucket(bucket) {
			t.Errorf("bucket %d not recognised", bucket)
		}
	}
	for _, size := range []int{0, 511, 513, 131073} {
		if IsValidBucket(size) {
			t.Errorf("size %d wrongly recognised as a bucket", size)
		}
	}
}
