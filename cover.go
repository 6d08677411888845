package privacy

import (
	"math/rand"
)

// Cover traffic generation for traffic analysis resistance.
//
// Cover messages are dummy payloads matching the size distribution of
// real transactions. They enter the onion pipeline like any other
// private message, so an observer of any single link cannot tell them
// apart from genuine broadcasts. Only the exit hop, after full
// decryption, sees the marker byte and discards them.
//
// Real transactions typically fall into three size ranges:
// small (200-300 bytes, simple transfers), medium (300-450, standard
// transactions with change), large (450-600, multi-input transactions).
// The generator matches that distribution with weighted selection.

const (
	// CoverMarker is the first plaintext byte of every cover payload.
	// Visible only after exit-layer decryption.
	CoverMarker byte = 0xFF

	// MinCoverSize and MaxCoverSize bound cover payload lengths in
	// bytes.
	MinCoverSize = 200
	MaxCoverSize = 600
)

// DefaultSizeWeights is the category distribution [small, medium,
// large] matching observed real-transaction sizes.
var DefaultSizeWeights = [3]uint32{30, 50, 20}

// SizeCategory is one bucket of the cover size distribution.
type SizeCategory int

const (
	// SizeSmall covers 200-300 byte payloads.
	SizeSmall SizeCategory = iota
	// SizeMedium covers 300-450 byte payloads.
	SizeMedium
	// SizeLarge covers 450-600 byte payloads.
	SizeLarge
)

// Range returns the inclusive payload size bounds for the category.
func (c SizeCategory) Range() (min, max int) {
	switch c {
	case SizeSmall:
		return 200, 300
	case SizeMedium:
		return 300, 450
	default:
		return 450, 600
	}
}

// RandomSize draws a size uniformly within the category.
func (c SizeCategory) RandomSize(rng *rand.Rand) int {
	min, max := c.Range()
	return min + rng.Intn(max-min+1)
}

// CoverMessage is one dummy payload. Payload holds random bytes; the
// marker travels as the first byte of the serialized form.
type CoverMessage struct {
	Payload []byte
}

// GenerateCoverMessage draws a size from the default distribution and
// fills the payload with random bytes.
func GenerateCoverMessage() *CoverMessage {
	return GenerateCoverMessageWithRand(globalRand())
}

// GenerateCoverMessageWithRand is the deterministic-RNG variant for
// tests.
func GenerateCoverMessageWithRand(rng *rand.Rand) *CoverMessage {
	gen := NewCoverTrafficGenerator(DefaultCoverTrafficConfig())
	return gen.GenerateWithRand(rng)
}

// CoverMessageWithSize builds a cover message of the given payload
// size, clamped to [MinCoverSize, MaxCoverSize].
func CoverMessageWithSize(size int) *CoverMessage {
	return coverMessageWithSizeAndRand(size, globalRand())
}

func coverMessageWithSizeAndRand(size int, rng *rand.Rand) *CoverMessage {
	if size < MinCoverSize {
		size = MinCoverSize
	}
	if size > MaxCoverSize {
		size = MaxCoverSize
	}
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(rng.Intn(256))
	}
	return &CoverMessage{Payload: payload}
}

// Bytes serializes the message: [CoverMarker][payload].
func (m *CoverMessage) Bytes() []byte {
	out := make([]byte, 0, 1+len(m.Payload))
	out = append(out, CoverMarker)
	out = append(out, m.Payload...)
	return out
}

// SerializedSize returns the marker plus payload length.
func (m *CoverMessage) SerializedSize() int { return 1 + len(m.Payload) }

// CoverMessageFromBytes parses a serialized cover message. Returns
// false when the data is empty or does not start with the marker.
func CoverMessageFromBytes(data []byte) (*CoverMessage, bool) {
	if len(data) == 0 || data[0] != CoverMarker {
		return nil, false
	}
	payload := make([]byte, len(data)-1)
	copy(payload, data[1:])
	return &CoverMessage{Payload: payload}, true
}

// IsCoverPayload reports whether data carries the cover marker.
func IsCoverPayload(data []byte) bool {
	return len(data) > 0 && data[0] == CoverMarker
}

// CoverTrafficConfig tunes the size distribution.
type CoverTrafficConfig struct {
	// SizeWeights are the category weights [small, medium, large].
	SizeWeights [3]uint32
	// MinSize and MaxSize clamp generated payload sizes.
	MinSize int
	MaxSize int
}

// DefaultCoverTrafficConfig matches the real-transaction distribution.
func DefaultCoverTrafficConfig() CoverTrafficConfig {
	return CoverTrafficConfig{
		SizeWeights: DefaultSizeWeights,
		MinSize:     MinCoverSize,
		MaxSize:     MaxCoverSize,
	}
}

// UniformCoverTrafficConfig weights every category equally.
func UniformCoverTrafficConfig() CoverTrafficConfig {
	config := DefaultCoverTrafficConfig()
	config.SizeWeights = [3]uint32{1, 1, 1}
	return config
}

// CoverTrafficGenerator produces cover messages with a configurable
// size distribution.
type CoverTrafficGenerator struct {
	config CoverTrafficConfig
}

// NewCoverTrafficGenerator creates a generator. Zero-valued weights or
// bounds fall back to the defaults.
func NewCoverTrafficGenerator(config CoverTrafficConfig) *CoverTrafficGenerator {
	if config.SizeWeights == ([3]uint32{}) {
		config.SizeWeights = DefaultSizeWeights
	}
	if config.MinSize <= 0 {
		config.MinSize = MinCoverSize
	}
	if config.MaxSize <= 0 {
		config.MaxSize = MaxCoverSize
	}
	return &CoverTrafficGenerator{config: config}
}

// Config returns the generator configuration.
func (g *CoverTrafficGenerator) Config() CoverTrafficConfig { return g.config }

// Generate produces one cover message.
func (g *CoverTrafficGenerator) Generate() *CoverMessage {
	return g.GenerateWithRand(globalRand())
}

// GenerateWithRand produces one cover message from the given source.
func (g *CoverTrafficGenerator) GenerateWithRand(rng *rand.Rand) *CoverMessage {
	size := g.GenerateSize(rng)
	return coverMessageWithSizeAndRand(size, rng)
}

// GenerateSize draws just a payload size from the configured
// distribution, clamped to the configured bounds.
func (g *CoverTrafficGenerator) GenerateSize(rng *rand.Rand) int {
	category := g.selectCategory(rng)
	min, max := category.Range()
	if min < g.config.MinSize {
		min = g.config.MinSize
	}
	if max > g.config.MaxSize {
		max = g.config.MaxSize
	}
	if max <= min {
		return min
	}
	return min + rng.Intn(max-min+1)
}

// selectCategory samples the weighted categorical distribution.
func (g *CoverTrafficGenerator) selectCategory(rng *rand.Rand) SizeCategory {
	total := g.config.SizeWeights[0] + g.config.SizeWeights[1] + g.config.SizeWeights[2]
	if total == 0 {
		return SizeMedium
	}
	draw := uint32(rng.Intn(int(total)))
	if draw < g.config.SizeWeights[0] {
		return SizeSmall
	}
	if draw < g.config.SizeWeights[0]+g.config.SizeWeights[1] {
		return SizeMedium
	}
	return SizeLarge
}

// GenerateBatch produces count cover messages.
func (g *CoverTrafficGenerator) GenerateBatch(count int) []*CoverMessage {
	rng := globalRand()
	out := make([]*CoverMessage, count)
	for i := range out {
		out[i] = g.GenerateWithRand(rng)
	}
	return out
}

// CoverTrafficStats accumulates distribution statistics over generated
// messages. Not safe for concurrent use; each generator loop owns one.
type CoverTrafficStats struct {
	TotalMessages uint64
	TotalBytes    uint64
	ByCategory    [3]uint64
	MinSize       int
	MaxSize       int
}

// Record accounts one generated message.
func (s *CoverTrafficStats) Record(msg *CoverMessage) {
	size := len(msg.Payload)
	s.TotalMessages++
	s.TotalBytes += uint64(size)

	switch {
	case size <= 300:
		s.ByCategory[0]++
	case size <= 450:
		s.ByCategory[1]++
	default:
		s.ByCategory[2]++
	}

	if s.TotalMessages == 1 || size < s.MinSize {
		s.MinSize = size
	}
	if size > s.MaxSize {
		s.MaxSize = size
	}
}

// AverageSize returns the mean payload size, zero before any record.
func (s *CoverTrafficStats) AverageSize() float64 {
	if s.TotalMessages == 0 {
		return 0
	}
	return float64(s.TotalBytes) / float64(s.TotalMessages)
}

// Distribution returns the percentage split across categories.
func (s *CoverTrafficStats) Distribution() [3]float64 {
	if s.TotalMessages == 0 {
		return [3]float64{}
	}
	total := float64(s.TotalMessages)
	return [3]float64{
		float64(s.ByCategory[0]) / total * 100,
		float64(s.ByCategory[1]) / total * 100,
		float64(s.ByCategory[2]) / total * 100,
	}
}
