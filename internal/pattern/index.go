package pattern

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/mesibo/patann/distance"
	"github.com/mesibo/patann/internal/kmeans"
)

var (
	// ErrAlreadyExists is returned when an id is inserted twice.
	ErrAlreadyExists = errors.New("pattern: id already indexed")
	// ErrDimensionMismatch is returned for vectors of the wrong length.
	ErrDimensionMismatch = errors.New("pattern: dimension mismatch")
	// ErrInvalidID is returned for ids outside the supported range.
	ErrInvalidID = errors.New("pattern: invalid id")
)

const (
	// DefaultMaxConstellations caps the constellation count.
	DefaultMaxConstellations = 1024
	// DefaultMaxIter bounds Lloyd iterations during a repartition.
	DefaultMaxIter = 10
	// trainPerConstellation bounds the training sample of a repartition.
	trainPerConstellation = 256
)

// Config configures an Index.
type Config struct {
	Dim               int
	Metric            distance.Metric
	ConstellationSize int
	MaxConstellations int
	MaxIter           int
	Seed              int64
	Workers           int
}

func (c *Config) normalize() {
	if c.ConstellationSize <= 0 {
		c.ConstellationSize = 1
	}
	if c.MaxConstellations <= 0 {
		c.MaxConstellations = DefaultMaxConstellations
	}
	if c.MaxIter <= 0 {
		c.MaxIter = DefaultMaxIter
	}
}

// TargetConstellations returns how many constellations n vectors are split
// into: ceil(n / ConstellationSize), capped by MaxConstellations.
func (c Config) TargetConstellations(n int64) int {
	if n <= 0 {
		return 0
	}
	size := int64(max(c.ConstellationSize, 1))
	t := (n + size - 1) / size
	maxC := int64(c.MaxConstellations)
	if maxC <= 0 {
		maxC = DefaultMaxConstellations
	}
	return int(min(t, maxC))
}

// VectorSource gives read access to stored vectors.
type VectorSource interface {
	View(id int64) ([]float32, error)
}

// Index maintains the constellation snapshots of one vector index.
type Index struct {
	mu       sync.Mutex // serializes writers
	cfg      Config
	distFunc distance.Func

	snap      atomic.Pointer[Snapshot]
	readySnap atomic.Pointer[Snapshot]
	ready     atomic.Bool
}

// New creates an empty Index.
func New(cfg Config) (*Index, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("pattern: invalid dimension %d", cfg.Dim)
	}
	cfg.normalize()
	fn, err := distance.Provider(cfg.Metric)
	if err != nil {
		return nil, err
	}
	idx := &Index{cfg: cfg, distFunc: fn}
	idx.snap.Store(emptySnapshot(cfg.Dim))
	return idx, nil
}

// Config returns the index configuration.
func (idx *Index) Config() Config {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.cfg
}

// SetMetric changes the metric. Constellations must be rebuilt afterwards.
func (idx *Index) SetMetric(m distance.Metric) error {
	fn, err := distance.Provider(m)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cfg.Metric = m
	idx.distFunc = fn
	return nil
}

// SetConstellationSize changes the target constellation size. It takes
// effect at the next repartition.
func (idx *Index) SetConstellationSize(n int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cfg.ConstellationSize = max(n, 1)
}

// DistFunc returns the distance function of the current metric.
func (idx *Index) DistFunc() distance.Func {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.distFunc
}

// Snapshot returns the current snapshot.
func (idx *Index) Snapshot() *Snapshot {
	return idx.snap.Load()
}

// ReadySnapshot returns the snapshot current at the last SetReady(true), or
// nil if the index was never ready.
func (idx *Index) ReadySnapshot() *Snapshot {
	return idx.readySnap.Load()
}

// Size returns the number of indexed vectors.
func (idx *Index) Size() int64 {
	return idx.snap.Load().Len()
}

// IsReady reports whether the index was marked ready and has not been
// written to since.
func (idx *Index) IsReady() bool {
	return idx.ready.Load()
}

// SetReady marks the index ready or not. Marking it ready records the
// current snapshot as the last ready snapshot.
func (idx *Index) SetReady(ready bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ready {
		idx.readySnap.Store(idx.snap.Load())
	}
	idx.ready.Store(ready)
}

// Candidates returns the candidate ids for query from the current snapshot.
func (idx *Index) Candidates(query []float32, radius float32, minCount int) *roaring.Bitmap {
	return idx.snap.Load().Candidates(query, idx.DistFunc(), radius, minCount)
}

// Insert assigns a single vector to its nearest constellation.
func (idx *Index) Insert(id int64, vec []float32) error {
	return idx.InsertBatch([]int64{id}, [][]float32{vec})
}

// InsertBatch assigns vectors to their nearest constellations and publishes
// one new snapshot. Either the whole batch is applied or none of it.
//
// While the index holds fewer constellations than its target for the new
// size, a vector far from every signature opens a new constellation.
func (idx *Index) InsertBatch(ids []int64, vecs [][]float32) error {
	if len(ids) != len(vecs) {
		return fmt.Errorf("pattern: %d ids for %d vectors", len(ids), len(vecs))
	}
	if len(ids) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	seen := make(map[int64]struct{}, len(ids))
	for i, id := range ids {
		if id < 0 || id > math.MaxUint32 {
			return fmt.Errorf("%w: %d", ErrInvalidID, id)
		}
		if len(vecs[i]) != idx.cfg.Dim {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, idx.cfg.Dim, len(vecs[i]))
		}
		if _, dup := seen[id]; dup || cur.all.Contains(uint32(id)) {
			return fmt.Errorf("%w: %d", ErrAlreadyExists, id)
		}
		seen[id] = struct{}{}
	}

	next := &Snapshot{
		dim:       cur.dim,
		centroids: cur.centroids,
		members:   slices.Clone(cur.members),
		all:       cur.all.Clone(),
		rebuiltAt: cur.rebuiltAt,
	}
	cloned := make(map[int]bool)
	size := cur.Len()

	for i, id := range ids {
		size++
		c := -1
		var d float32
		if len(next.members) > 0 {
			c, d = kmeans.Nearest(vecs[i], next.centroids, next.dim, idx.distFunc)
		}
		if c < 0 || (len(next.members) < idx.cfg.TargetConstellations(size) && d > 0) {
			next.centroids = append(slices.Clip(next.centroids), vecs[i]...)
			next.members = append(next.members, roaring.New())
			c = len(next.members) - 1
			cloned[c] = true
		}
		if !cloned[c] {
			next.members[c] = next.members[c].Clone()
			cloned[c] = true
		}
		next.members[c].Add(uint32(id))
		next.all.Add(uint32(id))
	}

	idx.snap.Store(next)
	idx.ready.Store(false)
	return nil
}

// Rebuild repartitions every indexed vector from scratch.
//
// Training vectors are ordered by content before seeding, so the result
// depends only on the stored vectors and the configuration, not on the
// order in which they were inserted.
func (idx *Index) Rebuild(ctx context.Context, src VectorSource) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	n := cur.Len()
	if n == 0 {
		return nil
	}
	dim := idx.cfg.Dim

	ids := make([]int64, 0, n)
	vecs := make([][]float32, 0, n)
	it := cur.all.Iterator()
	for it.HasNext() {
		id := int64(it.Next())
		v, err := src.View(id)
		if err != nil {
			return fmt.Errorf("pattern: read vector %d: %w", id, err)
		}
		ids = append(ids, id)
		vecs = append(vecs, v)
	}

	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		if c := compareVectors(vecs[a], vecs[b]); c != 0 {
			return c
		}
		return cmp.Compare(ids[a], ids[b])
	})

	k := idx.cfg.TargetConstellations(n)
	sample := kmeans.Stride(len(order), k*trainPerConstellation)
	train := make([]float32, 0, len(sample)*dim)
	for _, i := range sample {
		train = append(train, vecs[order[i]]...)
	}

	res, err := kmeans.Train(ctx, train, dim, kmeans.Config{
		K:       k,
		MaxIter: idx.cfg.MaxIter,
		Metric:  idx.cfg.Metric,
		Seed:    idx.cfg.Seed,
		Workers: idx.cfg.Workers,
	})
	if err != nil {
		return fmt.Errorf("pattern: repartition: %w", err)
	}

	members := make([]*roaring.Bitmap, res.K(dim))
	for i := range members {
		members[i] = roaring.New()
	}
	if len(sample) == len(order) {
		for i, c := range res.Assignments {
			members[c].Add(uint32(ids[order[sample[i]]]))
		}
	} else {
		for i, j := range order {
			if i%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			c, _ := kmeans.Nearest(vecs[j], res.Centroids, dim, idx.distFunc)
			members[c].Add(uint32(ids[j]))
		}
	}

	next := &Snapshot{dim: dim, all: cur.all, rebuiltAt: n}
	for c, bm := range members {
		if bm.IsEmpty() {
			continue
		}
		bm.RunOptimize()
		next.members = append(next.members, bm)
		next.centroids = append(next.centroids, res.Centroids[c*dim:(c+1)*dim]...)
	}

	idx.snap.Store(next)
	return nil
}

// Load replaces the current state with a deserialized snapshot.
func (idx *Index) Load(s *Snapshot) error {
	if s.dim != idx.cfg.Dim {
		return fmt.Errorf("%w: snapshot has %d, want %d", ErrDimensionMismatch, s.dim, idx.cfg.Dim)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.snap.Store(s)
	idx.ready.Store(false)
	return nil
}

func compareVectors(a, b []float32) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}
