package vlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mesibo/patann/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(dim int, base float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = base + float32(i)*0.5
	}
	return v
}

func TestAppendReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	const dim = 4

	l, err := Open(nil, path, dim, DefaultOptions())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Append(uint64(i), vec(dim, float32(i))))
	}
	assert.Equal(t, int64(10), l.Count())
	require.NoError(t, l.Close())

	count, err := CountFile(nil, path, dim)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)

	var ids []uint64
	n, err := Replay(nil, path, dim, func(id uint64, v []float32) error {
		ids = append(ids, id)
		assert.Equal(t, vec(dim, float32(id)), v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Len(t, ids, 10)

	gotDim, err := ReadDimension(nil, path)
	require.NoError(t, err)
	assert.Equal(t, dim, gotDim)
}

func TestOpen_TruncatesTornRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	const dim = 3

	l, err := Open(nil, path, dim, Options{Durability: DurabilitySync})
	require.NoError(t, err)
	require.NoError(t, l.Append(0, vec(dim, 1)))
	require.NoError(t, l.Append(1, vec(dim, 2)))
	require.NoError(t, l.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, err = Open(nil, path, dim, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.Count())
	require.NoError(t, l.Append(2, vec(dim, 3)))
	require.NoError(t, l.Close())

	n, err := Replay(nil, path, dim, func(uint64, []float32) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestReplay_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	const dim = 2

	l, err := Open(nil, path, dim, DefaultOptions())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(uint64(i), vec(dim, float32(i))))
	}
	require.NoError(t, l.Close())

	// Damage the middle record; the one after it is intact.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[headerSize+RecordSize(dim)+5] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	n, err := Replay(nil, path, dim, func(uint64, []float32) error { return nil })
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, int64(1), n)
}

func TestTornTail_ZeroedRecords(t *testing.T) {
	for _, zeroed := range []int{1, 3} {
		path := filepath.Join(t.TempDir(), "vectors.log")
		const dim = 8
		const total = 10

		l, err := Open(nil, path, dim, DefaultOptions())
		require.NoError(t, err)
		for i := 0; i < total; i++ {
			require.NoError(t, l.Append(uint64(i), vec(dim, float32(i))))
		}
		require.NoError(t, l.Close())

		// The file length reached the disk but the last records did not.
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		tail := int64(zeroed) * RecordSize(dim)
		clear(data[int64(len(data))-tail:])
		require.NoError(t, os.WriteFile(path, data, 0o644))

		var ids []uint64
		n, err := Replay(nil, path, dim, func(id uint64, _ []float32) error {
			ids = append(ids, id)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(total-zeroed), n)
		assert.Len(t, ids, total-zeroed)

		l, err = Open(nil, path, dim, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, int64(total-zeroed), l.Count())
		require.NoError(t, l.Append(uint64(total-zeroed), vec(dim, 99)))
		require.NoError(t, l.Close())

		n, err = Replay(nil, path, dim, func(uint64, []float32) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, int64(total-zeroed+1), n)
	}
}

func TestReplay_UsesFileSystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	const dim = 4

	l, err := Open(nil, path, dim, DefaultOptions())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(uint64(i), vec(dim, float32(i))))
	}
	require.NoError(t, l.Close())

	// A wrapped file is read without a mapping.
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("vectors.log", fs.Fault{FailAfterBytes: -1})
	var got [][]float32
	n, err := Replay(ffs, path, dim, func(_ uint64, v []float32) error {
		got = append(got, append([]float32(nil), v...))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, vec(dim, 4), got[4])

	ffs.AddRule("vectors.log", fs.Fault{FailOnOpen: true})
	_, err = Replay(ffs, path, dim, func(uint64, []float32) error { return nil })
	assert.ErrorIs(t, err, fs.ErrInjected)

	_, err = Replay(ffs, filepath.Join(t.TempDir(), "missing.log"), dim, func(uint64, []float32) error { return nil })
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen_DimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")

	l, err := Open(nil, path, 4, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = Open(nil, path, 8, DefaultOptions())
	assert.ErrorIs(t, err, ErrDimension)

	_, err = Replay(nil, path, 8, func(uint64, []float32) error { return nil })
	assert.ErrorIs(t, err, ErrDimension)
}

func TestOpen_InvalidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a vector log"), 0o644))

	_, err := Open(nil, path, 4, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestAppend_FailureLeavesLogUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	const dim = 4

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("vectors.log", fs.Fault{FailAfterBytes: headerSize + RecordSize(dim)})

	l, err := Open(ffs, path, dim, DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, l.Append(0, vec(dim, 0)))
	err = l.Append(1, vec(dim, 1))
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, int64(1), l.Count())

	assert.ErrorIs(t, l.Append(2, vec(3, 0)), ErrDimension)
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Append(3, vec(dim, 0)), os.ErrClosed)

	n, err := CountFile(nil, path, dim)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAppend_SyncFailureRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	const dim = 2

	l, err := Open(nil, path, dim, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, l.Append(0, vec(dim, 0)))
	require.NoError(t, l.Close())

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("vectors.log", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	l, err = Open(ffs, path, dim, Options{Durability: DurabilitySync})
	require.NoError(t, err)
	assert.ErrorIs(t, l.Append(1, vec(dim, 1)), fs.ErrInjected)
	assert.Equal(t, int64(1), l.Count())
	_ = l.Close()

	n, err := CountFile(nil, path, dim)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCountFile_Missing(t *testing.T) {
	n, err := CountFile(nil, filepath.Join(t.TempDir(), "missing.log"), 4)
	require.NoError(t, err)
	assert.Zero(t, n)
}
