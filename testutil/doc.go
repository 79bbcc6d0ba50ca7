// Package testutil provides helpers for tests, benchmarks and demos:
// seeded vector generators, brute-force ground truth and recall.
//
//	rng := testutil.NewRNG(4711)
//	data := rng.UniformVectors(100, 128)
//	truth := testutil.ExactTopK(query, data, 10, distance.SquaredL2)
//	recall := testutil.ComputeRecall(truth, approx)
package testutil
