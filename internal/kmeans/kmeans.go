package kmeans

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/mesibo/patann/distance"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidInput is returned for empty or misaligned training data.
var ErrInvalidInput = errors.New("kmeans: invalid input")

// minParallel is the vector count below which assignment runs inline.
const minParallel = 2048

// Config controls a training run.
type Config struct {
	K       int
	MaxIter int
	Metric  distance.Metric
	Seed    int64
	Workers int // 0 means GOMAXPROCS
}

// Result holds trained centroids and the final assignment of every
// training vector.
type Result struct {
	Centroids   []float32 // K * dim, flattened
	Assignments []int
	Iterations  int
}

// K returns the number of centroids.
func (r *Result) K(dim int) int {
	return len(r.Centroids) / dim
}

// Train clusters the flattened vectors into at most cfg.K groups using
// k-means++ seeding followed by Lloyd iterations. If there are fewer vectors
// than cfg.K, each vector becomes its own centroid.
func Train(ctx context.Context, vectors []float32, dim int, cfg Config) (*Result, error) {
	if dim <= 0 || len(vectors) == 0 || len(vectors)%dim != 0 || cfg.K <= 0 {
		return nil, ErrInvalidInput
	}
	distFunc, err := distance.Provider(cfg.Metric)
	if err != nil {
		return nil, err
	}

	n := len(vectors) / dim
	k := min(cfg.K, n)
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 25
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	centroids, err := seed(ctx, vectors, dim, k, rng)
	if err != nil {
		return nil, err
	}

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	dists := make([]float32, n)
	counts := make([]int, k)
	sums := make([]float64, k*dim)

	iter := 0
	for ; iter < cfg.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed, err := assign(ctx, vectors, dim, centroids, assignments, dists, distFunc, workers)
		if err != nil {
			return nil, err
		}
		if changed == 0 && iter > 0 {
			break
		}

		clear(sums)
		clear(counts)
		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			row := sums[c*dim : (c+1)*dim]
			for d, v := range vec {
				row[d] += float64(v)
			}
			counts[c]++
		}

		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				continue
			}
			scale := 1 / float64(counts[j])
			for d := 0; d < dim; d++ {
				centroids[j*dim+d] = float32(sums[j*dim+d] * scale)
			}
		}
		reseedEmpty(vectors, dim, centroids, counts, assignments, dists)
	}

	// Final assignment against the final centroids.
	if _, err := assign(ctx, vectors, dim, centroids, assignments, dists, distFunc, workers); err != nil {
		return nil, err
	}

	return &Result{Centroids: centroids, Assignments: assignments, Iterations: iter}, nil
}

// seed picks k initial centroids with k-means++ over squared L2, which
// keeps the sampling weights non-negative for every metric.
func seed(ctx context.Context, vectors []float32, dim, k int, rng *rand.Rand) ([]float32, error) {
	n := len(vectors) / dim
	centroids := make([]float32, k*dim)

	first := rng.Intn(n)
	copy(centroids[:dim], vectors[first*dim:(first+1)*dim])

	minDist := make([]float64, n)
	for i := range minDist {
		minDist[i] = math.Inf(1)
	}

	for c := 1; c < k; c++ {
		if c%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		prev := centroids[(c-1)*dim : c*dim]
		var total float64
		for i := 0; i < n; i++ {
			d := float64(distance.SquaredL2(vectors[i*dim:(i+1)*dim], prev))
			if d < minDist[i] {
				minDist[i] = d
			}
			total += minDist[i]
		}

		pick := 0
		if total > 0 {
			target := rng.Float64() * total
			for i := 0; i < n; i++ {
				target -= minDist[i]
				if target <= 0 {
					pick = i
					break
				}
				pick = i
			}
		} else {
			// All points coincide with chosen centroids.
			pick = c % n
		}
		copy(centroids[c*dim:(c+1)*dim], vectors[pick*dim:(pick+1)*dim])
	}
	return centroids, nil
}

// assign updates assignments and distances in place and returns the number
// of vectors whose assignment changed.
func assign(ctx context.Context, vectors []float32, dim int, centroids []float32,
	assignments []int, dists []float32, distFunc distance.Func, workers int) (int, error) {
	n := len(assignments)

	if n < minParallel || workers == 1 {
		return assignRange(vectors, dim, centroids, assignments, dists, distFunc, 0, n), nil
	}

	chunk := (n + workers - 1) / workers
	changed := make([]int, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, n)
		if start >= end {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			changed[w] = assignRange(vectors, dim, centroids, assignments, dists, distFunc, start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, c := range changed {
		total += c
	}
	return total, nil
}

func assignRange(vectors []float32, dim int, centroids []float32,
	assignments []int, dists []float32, distFunc distance.Func, start, end int) int {
	changed := 0
	for i := start; i < end; i++ {
		best, d := Nearest(vectors[i*dim:(i+1)*dim], centroids, dim, distFunc)
		dists[i] = d
		if assignments[i] != best {
			assignments[i] = best
			changed++
		}
	}
	return changed
}

// reseedEmpty moves every empty centroid onto the vector that is farthest
// from its current centroid. Ties go to the lower index.
func reseedEmpty(vectors []float32, dim int, centroids []float32, counts, assignments []int, dists []float32) {
	var taken map[int]bool
	for j, c := range counts {
		if c != 0 {
			continue
		}
		if taken == nil {
			taken = make(map[int]bool)
		}
		far := -1
		for i, d := range dists {
			if taken[i] || counts[assignments[i]] <= 1 {
				continue
			}
			if far < 0 || d > dists[far] {
				far = i
			}
		}
		if far < 0 {
			return
		}
		taken[far] = true
		counts[assignments[far]]--
		counts[j] = 1
		assignments[far] = j
		dists[far] = 0
		copy(centroids[j*dim:(j+1)*dim], vectors[far*dim:(far+1)*dim])
	}
}

// Nearest returns the index of the closest centroid to vec and its distance.
// Ties go to the lower index.
func Nearest(vec, centroids []float32, dim int, distFunc distance.Func) (int, float32) {
	best := -1
	minDist := float32(math.Inf(1))
	for j := 0; j < len(centroids)/dim; j++ {
		d := distFunc(vec, centroids[j*dim:(j+1)*dim])
		if best < 0 || d < minDist {
			minDist = d
			best = j
		}
	}
	return best, minDist
}

// CentroidDist pairs a centroid index with its distance to a query.
type CentroidDist struct {
	ID   int
	Dist float32
}

// Rank returns all centroids ordered by distance to query, ties by index.
func Rank(query, centroids []float32, dim int, distFunc distance.Func) []CentroidDist {
	k := len(centroids) / dim
	out := make([]CentroidDist, k)
	for i := 0; i < k; i++ {
		out[i] = CentroidDist{ID: i, Dist: distFunc(query, centroids[i*dim:(i+1)*dim])}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dist != out[j].Dist {
			return out[i].Dist < out[j].Dist
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stride returns at most limit evenly spaced indexes in [0, n).
func Stride(n, limit int) []int {
	if limit <= 0 || n <= limit {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, limit)
	step := float64(n) / float64(limit)
	for i := range out {
		out[i] = int(float64(i) * step)
	}
	return out
}
