// Package distance implements the metrics a patann index can be configured
// with.
//
// # Supported Metrics
//
//   - L2Square: squared Euclidean distance (default)
//   - L2: Euclidean distance
//   - Cosine: 1 - cosine similarity
//   - InnerProduct: negated dot product
//   - Manhattan: L1 distance
//
// Every metric is symmetric: Distance(a, b, m) == Distance(b, a, m) bit for
// bit. L2Square, L2 and Manhattan are exactly zero for identical vectors.
//
// # Usage
//
//	d, err := distance.Distance(a, b, distance.L2Square)
//
//	fn, _ := distance.Provider(distance.Cosine) // hot path, no allocation
//	d = fn(a, b)
package distance
