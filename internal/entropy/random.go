// Package entropy provides the random sources used by the stochastic systems
// (residential spawning, despawning, tech assists). Every system takes a Source
// explicitly so tests can supply a seeded or scripted generator.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand"
	"sync"
)

// Source yields uniform random numbers.
type Source interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Intn returns a value in [0, n). n must be positive.
	Intn(n int) int
}

// Seeded is a deterministic source backed by math/rand.
type Seeded struct {
	rng *mrand.Rand
}

// NewSeeded creates a deterministic source from seed.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: mrand.New(mrand.NewSource(seed))}
}

func (s *Seeded) Float64() float64 { return s.rng.Float64() }
func (s *Seeded) Intn(n int) int   { return s.rng.Intn(n) }

// Crypto draws from crypto/rand. Used when no seed is configured.
type Crypto struct{}

func (Crypto) Float64() float64 { return cryptoFloat() }

func (Crypto) Intn(n int) int {
	if n <= 0 {
		panic("entropy: Intn called with non-positive n")
	}
	return min(int(cryptoFloat()*float64(n)), n-1)
}

// cryptoFloat keeps the top 53 bits of a crypto/rand word as a mantissa.
// A failed read falls back to the midpoint.
func cryptoFloat() float64 {
	var word [8]byte
	if _, err := rand.Read(word[:]); err != nil {
		return 0.5
	}
	return math.Ldexp(float64(binary.BigEndian.Uint64(word[:])>>11), -53)
}

// Sequence replays a fixed list of floats, cycling when exhausted.
// Intn maps the next float onto [0, n).
type Sequence struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

// NewSequence creates a scripted source. With no values it always yields 0.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return math.Min(math.Max(v, 0), math.Nextafter(1, 0))
}

func (s *Sequence) Intn(n int) int {
	if n <= 0 {
		panic("entropy: Intn called with non-positive n")
	}
	v := int(s.Float64() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}
