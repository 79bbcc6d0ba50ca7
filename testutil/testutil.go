package testutil

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/mesibo/patann/distance"
)

// SearchResult is one nearest-neighbor result.
type SearchResult struct {
	ID       int64
	Distance float32
}

// RNG is a seeded, goroutine-safe random source.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates an RNG with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a pseudo-random number in [0, n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0, 1).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with values in [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// generate builds num vectors sharing one backing array. The caller must
// not hold r.mu.
func (r *RNG) generate(num, dim int, fill func(vec []float32)) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)
	for i := range num {
		vec := data[i*dim : (i+1)*dim : (i+1)*dim]
		fill(vec)
		vectors[i] = vec
	}
	return vectors
}

// UniformVectors generates vectors with values in [0, 1).
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	return r.generate(num, dim, func(vec []float32) {
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
	})
}

// UniformRangeVectors generates vectors with values in [-1, 1).
func (r *RNG) UniformRangeVectors(num, dim int) [][]float32 {
	return r.generate(num, dim, func(vec []float32) {
		for j := range vec {
			vec[j] = r.rand.Float32()*2 - 1
		}
	})
}

// GaussianVectors generates vectors from a standard normal distribution.
func (r *RNG) GaussianVectors(num, dim int) [][]float32 {
	return r.generate(num, dim, func(vec []float32) {
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
	})
}

// UnitVectors generates L2-normalized vectors, uniform on the hypersphere.
func (r *RNG) UnitVectors(num, dim int) [][]float32 {
	return r.generate(num, dim, func(vec []float32) {
		for {
			for j := range vec {
				vec[j] = float32(r.rand.NormFloat64())
			}
			if distance.NormalizeL2InPlace(vec) {
				return
			}
		}
	})
}

// ClusteredVectors generates vectors scattered with Gaussian noise of the
// given spread around clusters random unit centroids.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)
	i := 0
	return r.generate(num, dim, func(vec []float32) {
		c := centroids[i%clusters]
		i++
		for j := range vec {
			vec[j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
	})
}

// Perturb returns a copy of vec with every component moved by a uniform
// offset in [-eps, eps).
func (r *RNG) Perturb(vec []float32, eps float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v + (r.rand.Float32()*2-1)*eps
	}
	return out
}

// ExactTopK returns the k nearest vectors to query by brute force, ordered
// by ascending distance and then by id. Ids are positions in vectors.
func ExactTopK(query []float32, vectors [][]float32, k int, distFunc distance.Func) []SearchResult {
	results := make([]SearchResult, len(vectors))
	for i, v := range vectors {
		results[i] = SearchResult{ID: int64(i), Distance: distFunc(query, v)}
	}
	slices.SortFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// ComputeRecall returns the share of the ground truth ids found in
// approximate. Two empty lists have recall 1.
func ComputeRecall(groundTruth []SearchResult, approximate []int64) float64 {
	if len(groundTruth) == 0 {
		if len(approximate) == 0 {
			return 1
		}
		return 0
	}

	found := make(map[int64]struct{}, len(approximate))
	for _, id := range approximate {
		found[id] = struct{}{}
	}
	hits := 0
	for _, r := range groundTruth {
		if _, ok := found[r.ID]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(groundTruth))
}

// MeanRecall averages recalls, returning NaN for an empty input.
func MeanRecall(recalls []float64) float64 {
	if len(recalls) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, r := range recalls {
		sum += r
	}
	return sum / float64(len(recalls))
}
