package testutil

import (
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// Frames generates num frames of the given dimension with values in [0, 1).
// Uses a single backing array.
func (r *RNG) Frames(num, dimension int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimension)
	frames := make([][]float32, num)
	for i := range num {
		f := data[i*dimension : (i+1)*dimension]
		for j := range f {
			f[j] = r.rand.Float32()
		}
		frames[i] = f
	}
	return frames
}

// Labels generates a per-frame class sequence made of runs of 1 to 4
// frames, the shape forced alignments have.
func (r *RNG) Labels(num, classes int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, 0, num)
	for len(out) < num {
		c := r.rand.Intn(classes)
		run := 1 + r.rand.Intn(4)
		for range min(run, num-len(out)) {
			out = append(out, c)
		}
	}
	return out
}
