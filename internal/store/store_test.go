package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/mesibo/patann/internal/fs"
	"github.com/mesibo/patann/internal/vlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(dim int, base float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = base + float32(i)
	}
	return v
}

func TestMemory_AppendGet(t *testing.T) {
	s := NewMemory(3)

	for i := 0; i < chunkVectors+5; i++ {
		id, err := s.Append(vec(3, float32(i)))
		require.NoError(t, err)
		assert.Equal(t, int64(i), id)
	}
	assert.Equal(t, int64(chunkVectors+5), s.Count())

	got, err := s.Get(chunkVectors + 2)
	require.NoError(t, err)
	assert.Equal(t, vec(3, float32(chunkVectors+2)), got)

	// Get returns a copy.
	got[0] = -1
	again, err := s.Get(chunkVectors + 2)
	require.NoError(t, err)
	assert.Equal(t, float32(chunkVectors+2), again[0])

	_, err = s.Get(-1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(s.Count())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_AppendCopiesInput(t *testing.T) {
	s := NewMemory(2)
	in := []float32{1, 2}
	id, err := s.Append(in)
	require.NoError(t, err)
	in[0] = 99

	v, err := s.View(id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)
}

func TestAppend_DimensionMismatch(t *testing.T) {
	s := NewMemory(4)
	id, err := s.Append([]float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, int64(-1), id)
	assert.Equal(t, int64(0), s.Count())
}

func TestAppend_Concurrent(t *testing.T) {
	s := NewMemory(8)
	const workers, per = 8, 200

	var wg sync.WaitGroup
	ids := make([][]int64, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id, err := s.Append(vec(8, float32(w)))
				if err != nil {
					t.Error(err)
					return
				}
				ids[w] = append(ids[w], id)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, list := range ids {
		for _, id := range list {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, workers*per)
	assert.Equal(t, int64(workers*per), s.Count())
}

func TestDisk_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")

	s, err := OpenDisk(nil, path, 4, vlog.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, s.Persistent())
	for i := 0; i < 20; i++ {
		_, err := s.Append(vec(4, float32(i)))
		require.NoError(t, err)
	}
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	_, err = s.Append(vec(4, 0))
	assert.ErrorIs(t, err, ErrClosed)

	s, err = OpenDisk(nil, path, 4, vlog.DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(20), s.Count())
	got, err := s.Get(7)
	require.NoError(t, err)
	assert.Equal(t, vec(4, 7), got)

	id, err := s.Append(vec(4, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(20), id)
}

func TestDisk_WriteFailureLeavesCountUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	ffs := fs.NewFaultyFS(nil)

	s, err := OpenDisk(ffs, path, 4, vlog.DefaultOptions())
	require.NoError(t, err)
	_, err = s.Append(vec(4, 1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Rules apply to files opened after they are added.
	ffs.AddRule("vectors.log", fs.Fault{FailAfterBytes: 0})
	s, err = OpenDisk(ffs, path, 4, vlog.DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(vec(4, 2))
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, int64(1), s.Count())
}
