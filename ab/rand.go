package ab

import (
	"math/rand/v2"

	exprand "golang.org/x/exp/rand"
)

// Rand is the source of randomness for the strategies. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
	Uint64() uint64
}

// NewRand returns a deterministic PCG source for reproducible runs.
func NewRand(seed uint64) *rand.Rand {
	return NewRandWithSeeds(seed, seed)
}

func NewRandWithSeeds(seed1, seed2 uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed1, seed2))
}

// globalRand uses the process-wide source, which is safe for concurrent use.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Uint64() uint64   { return rand.Uint64() }

// source feeds a Rand into the gonum distributions.
type source struct {
	Rand
}

// Seed is a no-op, the underlying Rand owns its seed.
func (source) Seed(uint64) {}

var _ exprand.Source = source{}
