package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
		{"Unrolled", []float32{1, 1, 1, 1, 1, 1, 1}, []float32{2, 2, 2, 2, 2, 2, 2}, 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Dot(tt.a, tt.b), 1e-5)
		})
	}
}

func TestMetrics(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}

	tests := []struct {
		metric   Metric
		expected float32
	}{
		{L2Square, 25},
		{L2, 5},
		{Manhattan, 7},
		{InnerProduct, -25},
		{Cosine, float32(1 - 25/(math.Sqrt(14)*math.Sqrt(61)))},
	}

	for _, tt := range tests {
		t.Run(tt.metric.String(), func(t *testing.T) {
			got, err := Distance(a, b, tt.metric)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-5)
		})
	}
}

func TestDistance_DimensionMismatch(t *testing.T) {
	_, err := Distance([]float32{1, 2}, []float32{1, 2, 3}, L2Square)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDistance_UnknownMetric(t *testing.T) {
	_, err := Distance([]float32{1}, []float32{1}, Metric(99))
	assert.ErrorIs(t, err, ErrUnknownMetric)
	assert.False(t, Metric(99).Valid())
}

func TestSymmetryAndIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	metrics := []Metric{L2Square, L2, Cosine, InnerProduct, Manhattan}

	for trial := 0; trial < 50; trial++ {
		a := make([]float32, 128)
		b := make([]float32, 128)
		for i := range a {
			a[i] = rng.Float32()*2 - 1
			b[i] = rng.Float32()*2 - 1
		}
		for _, m := range metrics {
			ab, err := Distance(a, b, m)
			require.NoError(t, err)
			ba, err := Distance(b, a, m)
			require.NoError(t, err)
			assert.Equal(t, ab, ba, "metric %v not symmetric", m)
		}
		for _, m := range []Metric{L2Square, L2, Manhattan} {
			aa, err := Distance(a, a, m)
			require.NoError(t, err)
			assert.Zero(t, aa, "metric %v", m)
		}
		cc, err := Distance(a, a, Cosine)
		require.NoError(t, err)
		assert.InDelta(t, 0, cc, 1e-6)
	}
}

func TestCosineZeroVector(t *testing.T) {
	zero := []float32{0, 0}
	assert.Equal(t, float32(1), CosineDistance(zero, []float32{1, 0}))
	assert.Equal(t, float32(1), CosineDistance([]float32{1, 0}, zero))
	assert.Zero(t, CosineDistance(zero, zero))

	d, err := Distance(zero, []float32{0, 0}, Cosine)
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestParseMetric(t *testing.T) {
	for _, m := range []Metric{L2Square, L2, Cosine, InnerProduct, Manhattan} {
		got, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	got, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, L2Square, got)

	_, err = ParseMetric("hamming")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestNormalizeL2InPlace(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0}))
	assert.False(t, NormalizeL2InPlace(nil))
}

func BenchmarkSquaredL2(b *testing.B) {
	x := make([]float32, 128)
	y := make([]float32, 128)
	for i := range x {
		x[i] = float32(i)
		y[i] = float32(128 - i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = SquaredL2(x, y)
	}
}
