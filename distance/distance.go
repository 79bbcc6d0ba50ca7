// Package distance provides the distance metrics used by patann indexes.
package distance

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrDimensionMismatch is returned when two vectors have different lengths.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// ErrUnknownMetric is returned for metrics outside the supported set.
var ErrUnknownMetric = errors.New("unknown metric")

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	// L2Square is the squared Euclidean distance.
	L2Square Metric = iota
	// L2 is the Euclidean distance.
	L2
	// Cosine is 1 - cosine similarity.
	Cosine
	// InnerProduct is the negated dot product, so smaller is closer.
	InnerProduct
	// Manhattan is the L1 distance.
	Manhattan
)

func (m Metric) String() string {
	switch m {
	case L2Square:
		return "l2_square"
	case L2:
		return "l2"
	case Cosine:
		return "cosine"
	case InnerProduct:
		return "inner_product"
	case Manhattan:
		return "manhattan"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	return m >= L2Square && m <= Manhattan
}

// ParseMetric resolves a metric name as produced by Metric.String.
// A few common aliases are accepted.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "l2_square", "l2sq", "squared_l2", "l2square":
		return L2Square, nil
	case "l2", "euclidean":
		return L2, nil
	case "cosine", "cos":
		return Cosine, nil
	case "inner_product", "ip", "dot":
		return InnerProduct, nil
	case "manhattan", "l1":
		return Manhattan, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Func computes the distance between two vectors of equal length.
// Implementations do not check lengths and do not allocate.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case L2Square:
		return SquaredL2, nil
	case L2:
		return Euclidean, nil
	case Cosine:
		return CosineDistance, nil
	case InnerProduct:
		return NegativeDot, nil
	case Manhattan:
		return L1, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMetric, m)
	}
}

// Distance computes the distance between a and b under metric m.
func Distance(a, b []float32, m Metric) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	fn, err := Provider(m)
	if err != nil {
		return 0, err
	}
	return fn(a, b), nil
}

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) float32 {
	b = b[:len(a)]
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}
	return (s0 + s1) + (s2 + s3)
}

// SquaredL2 calculates the squared Euclidean distance.
func SquaredL2(a, b []float32) float32 {
	b = b[:len(a)]
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	for ; i < len(a); i++ {
		d := a[i] - b[i]
		s0 += d * d
	}
	return (s0 + s1) + (s2 + s3)
}

// Euclidean calculates the L2 distance.
func Euclidean(a, b []float32) float32 {
	return float32(math.Sqrt(float64(SquaredL2(a, b))))
}

// L1 calculates the Manhattan distance.
func L1(a, b []float32) float32 {
	b = b[:len(a)]
	var s float32
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		s += d
	}
	return s
}

// NegativeDot returns -dot(a, b).
func NegativeDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// CosineDistance returns 1 - cos(a, b). Two zero vectors are at distance 0;
// a zero vector is at distance 1 from any other vector.
func CosineDistance(a, b []float32) float32 {
	b = b[:len(a)]
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	switch {
	case na == 0 && nb == 0:
		return 0
	case na == 0 || nb == 0:
		return 1
	}
	// na*nb is commutative, so the result is symmetric bit-for-bit.
	d := 1 - dot/float32(math.Sqrt(float64(na)*float64(nb)))
	if d < 0 {
		return 0
	}
	return d
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}
