package testutil

import (
	"math"
	"testing"

	"github.com/mesibo/patann/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniformVectors(8, 32)

	require.Len(t, v, 8)
	assert.Len(t, v[0], 32)
	for _, vec := range v {
		for _, x := range vec {
			assert.GreaterOrEqual(t, x, float32(0))
			assert.Less(t, x, float32(1))
		}
	}
}

func TestUniformRangeVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniformRangeVectors(8, 32)

	require.Len(t, v, 8)
	for _, x := range v[1] {
		assert.GreaterOrEqual(t, x, float32(-1))
		assert.Less(t, x, float32(1))
	}
}

func TestVectorsDoNotShareCapacity(t *testing.T) {
	rng := NewRNG(1)
	v := rng.UniformVectors(2, 4)

	_ = append(v[0], 42)
	assert.NotEqual(t, float32(42), v[1][0])
}

func TestUnitVectors(t *testing.T) {
	rng := NewRNG(4711)

	for _, vec := range rng.UnitVectors(8, 32) {
		assert.InDelta(t, 1.0, float64(distance.Dot(vec, vec)), 1e-5)
	}
}

func TestClusteredVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.ClusteredVectors(100, 32, 5, 0.01)

	require.Len(t, v, 100)
	// Vectors i and i+5 share a centroid.
	assert.Less(t, distance.SquaredL2(v[0], v[5]), distance.SquaredL2(v[0], v[1]))
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.UniformVectors(1, 10)

	rng.Reset()
	v2 := rng.UniformVectors(1, 10)

	assert.Equal(t, v1, v2)
}

func TestPerturb(t *testing.T) {
	rng := NewRNG(7)
	vec := []float32{1, 2, 3}

	p := rng.Perturb(vec, 0.01)

	assert.Equal(t, []float32{1, 2, 3}, vec)
	for i := range vec {
		assert.InDelta(t, vec[i], p[i], 0.01)
	}
}

func TestExactTopK(t *testing.T) {
	vectors := [][]float32{{3}, {1}, {2}, {1}, {10}}

	got := ExactTopK([]float32{0}, vectors, 3, distance.SquaredL2)

	assert.Equal(t, []SearchResult{
		{ID: 1, Distance: 1},
		{ID: 3, Distance: 1},
		{ID: 2, Distance: 4},
	}, got)

	assert.Len(t, ExactTopK([]float32{0}, vectors, 10, distance.SquaredL2), 5)
}

func TestComputeRecall(t *testing.T) {
	truth := []SearchResult{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}

	assert.Equal(t, 1.0, ComputeRecall(truth, []int64{4, 3, 2, 1}))
	assert.Equal(t, 0.5, ComputeRecall(truth, []int64{1, 3, 9}))
	assert.Equal(t, 0.0, ComputeRecall(truth, nil))
	assert.Equal(t, 1.0, ComputeRecall(nil, nil))
}

func TestMeanRecall(t *testing.T) {
	assert.InDelta(t, 0.75, MeanRecall([]float64{0.5, 1}), 1e-9)
	assert.True(t, math.IsNaN(MeanRecall(nil)))
}
