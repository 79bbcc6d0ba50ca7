package queue

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopK_KeepsBest(t *testing.T) {
	h := NewTopK(3)
	for i, d := range []float32{5, 1, 4, 2, 3, 0.5} {
		h.Push(int64(i), d)
	}
	assert.Equal(t, 3, h.Len())
	assert.True(t, h.Full())

	w, ok := h.Worst()
	require.True(t, ok)
	assert.Equal(t, float32(2), w.Distance)

	got := h.Drain()
	assert.Equal(t, []Item{{5, 0.5}, {1, 1}, {3, 2}}, got)
	assert.Equal(t, 0, h.Len())
}

func TestTopK_TieBreakByID(t *testing.T) {
	h := NewTopK(2)
	h.Push(9, 1)
	h.Push(4, 1)
	h.Push(7, 1)
	assert.False(t, h.Push(8, 1))

	assert.Equal(t, []Item{{4, 1}, {7, 1}}, h.Drain())
}

func TestTopK_ZeroK(t *testing.T) {
	h := NewTopK(0)
	assert.False(t, h.Push(1, 1))
	assert.Empty(t, h.Drain())
	_, ok := h.Worst()
	assert.False(t, ok)
}

func TestTopK_MatchesSort(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	items := make([]Item, 1000)
	for i := range items {
		// Coarse distances produce many ties.
		items[i] = Item{ID: int64(i), Distance: float32(rng.Intn(50))}
	}

	h := NewTopK(25)
	for _, it := range items {
		h.Push(it.ID, it.Distance)
	}

	sort.Slice(items, func(i, j int) bool { return worse(items[j], items[i]) })
	assert.Equal(t, items[:25], h.Drain())

	h.Reset(5)
	h.Push(1, 1)
	assert.Equal(t, 1, h.Len())
}
