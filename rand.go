package privacy

import (
	"math/rand"
)

// globalRand returns a fresh pseudo-random source seeded from the
// thread-safe global generator. Cover sizing and lifetime jitter are
// not security-critical randomness; key material always comes from
// crypto/rand.
func globalRand() *rand.Rand {
	return rand.New(rand.NewSource(rand.Int63()))
}
