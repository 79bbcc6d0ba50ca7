package pattern

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/mesibo/patann/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource [][]float32

func (s sliceSource) View(id int64) ([]float32, error) {
	if id < 0 || id >= int64(len(s)) {
		return nil, fmt.Errorf("no vector %d", id)
	}
	return s[id], nil
}

func randomVectors(n, dim int, seed int64) sliceSource {
	rng := rand.New(rand.NewSource(seed))
	out := make(sliceSource, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()
		}
		out[i] = v
	}
	return out
}

func newIndex(t *testing.T, dim, size int) *Index {
	t.Helper()
	idx, err := New(Config{Dim: dim, Metric: distance.L2Square, ConstellationSize: size, Seed: 1})
	require.NoError(t, err)
	return idx
}

func insertAll(t *testing.T, idx *Index, vecs sliceSource) {
	t.Helper()
	ids := make([]int64, len(vecs))
	for i := range ids {
		ids[i] = int64(i)
	}
	require.NoError(t, idx.InsertBatch(ids, vecs))
}

func TestTargetConstellations(t *testing.T) {
	cfg := Config{ConstellationSize: 16, MaxConstellations: 4}
	assert.Equal(t, 0, cfg.TargetConstellations(0))
	assert.Equal(t, 1, cfg.TargetConstellations(1))
	assert.Equal(t, 1, cfg.TargetConstellations(16))
	assert.Equal(t, 2, cfg.TargetConstellations(17))
	assert.Equal(t, 4, cfg.TargetConstellations(1000))
}

func TestInsert_DuplicateID(t *testing.T) {
	idx := newIndex(t, 2, 4)
	require.NoError(t, idx.Insert(0, []float32{1, 1}))

	err := idx.Insert(0, []float32{2, 2})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = idx.InsertBatch([]int64{1, 1}, [][]float32{{0, 0}, {0, 1}})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, int64(1), idx.Size())
}

func TestInsert_DimensionMismatch(t *testing.T) {
	idx := newIndex(t, 3, 4)
	err := idx.Insert(0, []float32{1, 1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, int64(0), idx.Size())
}

func TestInsertBatch_SnapshotIsolation(t *testing.T) {
	idx := newIndex(t, 4, 8)
	vecs := randomVectors(64, 4, 1)

	insertAll(t, idx, vecs[:32])
	before := idx.Snapshot()
	beforeCounts := make([]uint64, before.NumConstellations())
	for i := range beforeCounts {
		beforeCounts[i] = before.Members(i).GetCardinality()
	}

	ids := make([]int64, 32)
	for i := range ids {
		ids[i] = int64(32 + i)
	}
	require.NoError(t, idx.InsertBatch(ids, vecs[32:]))

	// The old snapshot is untouched.
	assert.Equal(t, int64(32), before.Len())
	for i := range beforeCounts {
		assert.Equal(t, beforeCounts[i], before.Members(i).GetCardinality())
	}
	assert.Equal(t, int64(64), idx.Size())
}

func TestInsert_ConstellationCountBounded(t *testing.T) {
	idx := newIndex(t, 8, 16)
	insertAll(t, idx, randomVectors(100, 8, 2))

	snap := idx.Snapshot()
	assert.LessOrEqual(t, snap.NumConstellations(), 7)
	assert.Equal(t, int64(100), snap.Len())
	assert.Equal(t, int64(100), snap.Drift())
}

func TestCandidates_Empty(t *testing.T) {
	idx := newIndex(t, 2, 4)
	assert.True(t, idx.Candidates([]float32{0, 0}, 100, 10).IsEmpty())
}

func TestCandidates_RadiusAndMinCount(t *testing.T) {
	idx := newIndex(t, 2, 4)
	// Three well separated groups of four.
	var vecs sliceSource
	for _, c := range []float32{0, 100, 1000} {
		for i := 0; i < 4; i++ {
			vecs = append(vecs, []float32{c + float32(i)*0.1, c})
		}
	}
	insertAll(t, idx, vecs)
	require.NoError(t, idx.Rebuild(context.Background(), vecs))
	require.Equal(t, 3, idx.Snapshot().NumConstellations())

	q := []float32{0, 0}

	// Zero radius and a small k: only the nearest constellation.
	got := idx.Candidates(q, 0, 1)
	assert.Equal(t, uint64(4), got.GetCardinality())
	assert.True(t, got.Contains(0))

	// k larger than one constellation pulls in the next nearest.
	got = idx.Candidates(q, 0, 5)
	assert.Equal(t, uint64(8), got.GetCardinality())
	assert.False(t, got.Contains(8))

	// k larger than the index returns everything.
	got = idx.Candidates(q, 0, 100)
	assert.Equal(t, uint64(12), got.GetCardinality())
}

func TestRebuild_Deterministic(t *testing.T) {
	vecs := randomVectors(500, 8, 3)

	a := newIndex(t, 8, 16)
	insertAll(t, a, vecs)
	require.NoError(t, a.Rebuild(context.Background(), vecs))

	// Same content, different insertion order.
	b := newIndex(t, 8, 16)
	for i := len(vecs) - 1; i >= 0; i-- {
		require.NoError(t, b.Insert(int64(i), vecs[i]))
	}
	require.NoError(t, b.Rebuild(context.Background(), vecs))

	sa, sb := a.Snapshot(), b.Snapshot()
	require.Equal(t, sa.NumConstellations(), sb.NumConstellations())
	assert.Equal(t, sa.centroids, sb.centroids)
	for i := 0; i < sa.NumConstellations(); i++ {
		assert.True(t, sa.Members(i).Equals(sb.Members(i)))
	}
	assert.Equal(t, int64(0), sa.Drift())
	assert.Equal(t, int64(500), sa.RebuiltAt())
}

func TestRebuild_SampledTraining(t *testing.T) {
	vecs := randomVectors(3000, 4, 4)
	idx, err := New(Config{Dim: 4, Metric: distance.L2Square, ConstellationSize: 1000, Seed: 1})
	require.NoError(t, err)
	insertAll(t, idx, vecs)
	require.NoError(t, idx.Rebuild(context.Background(), vecs))

	st := idx.Snapshot().Stats()
	assert.Equal(t, int64(3000), st.Indexed)
	assert.LessOrEqual(t, st.Constellations, 3)
	assert.Positive(t, st.Smallest)
}

func TestRebuild_Canceled(t *testing.T) {
	vecs := randomVectors(100, 4, 5)
	idx := newIndex(t, 4, 8)
	insertAll(t, idx, vecs)
	before := idx.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, idx.Rebuild(ctx, vecs), context.Canceled)
	assert.Same(t, before, idx.Snapshot())
}

func TestReadyState(t *testing.T) {
	idx := newIndex(t, 2, 4)
	assert.False(t, idx.IsReady())
	assert.Nil(t, idx.ReadySnapshot())

	require.NoError(t, idx.Insert(0, []float32{1, 2}))
	idx.SetReady(true)
	assert.True(t, idx.IsReady())
	ready := idx.ReadySnapshot()
	require.NotNil(t, ready)

	require.NoError(t, idx.Insert(1, []float32{3, 4}))
	assert.False(t, idx.IsReady())
	assert.Same(t, ready, idx.ReadySnapshot())
	assert.Equal(t, int64(1), ready.Len())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	vecs := randomVectors(200, 6, 6)
	idx := newIndex(t, 6, 20)
	insertAll(t, idx, vecs)
	require.NoError(t, idx.Rebuild(context.Background(), vecs))
	require.NoError(t, idx.Insert(200, vecs[0]))

	var buf bytes.Buffer
	_, err := idx.Snapshot().WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadSnapshot(&buf)
	require.NoError(t, err)

	want := idx.Snapshot()
	assert.Equal(t, want.centroids, got.centroids)
	assert.Equal(t, want.Len(), got.Len())
	assert.Equal(t, want.RebuiltAt(), got.RebuiltAt())
	for i := 0; i < want.NumConstellations(); i++ {
		assert.True(t, want.Members(i).Equals(got.Members(i)))
	}

	other := newIndex(t, 6, 20)
	require.NoError(t, other.Load(got))
	assert.Equal(t, int64(201), other.Size())

	_, err = ReadSnapshot(bytes.NewReader([]byte("nope")))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}
