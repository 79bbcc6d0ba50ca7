// Package queue provides the bounded heap used to collect top-K results.
package queue

// Item is a candidate result.
type Item struct {
	ID       int64
	Distance float32
}

// worse reports whether a ranks after b: larger distance, ties by larger id.
func worse(a, b Item) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.ID > b.ID
}

// TopK keeps the k best items seen so far in a max-heap keyed on
// (distance, id). The root is the current worst item.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a heap holding at most k items.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]Item, 0, k)}
}

// Reset empties the heap and sets a new bound, reusing storage.
func (h *TopK) Reset(k int) {
	h.k = k
	h.items = h.items[:0]
}

// Len returns the number of items held.
func (h *TopK) Len() int { return len(h.items) }

// Full reports whether the heap holds k items.
func (h *TopK) Full() bool { return len(h.items) >= h.k }

// Worst returns the current worst item.
func (h *TopK) Worst() (Item, bool) {
	if len(h.items) == 0 {
		return Item{}, false
	}
	return h.items[0], true
}

// Push offers an item. It reports whether the item was kept.
func (h *TopK) Push(id int64, dist float32) bool {
	if h.k <= 0 {
		return false
	}
	it := Item{ID: id, Distance: dist}
	if len(h.items) < h.k {
		h.items = append(h.items, it)
		h.siftUp(len(h.items) - 1)
		return true
	}
	if !worse(h.items[0], it) {
		return false
	}
	h.items[0] = it
	h.siftDown(0)
	return true
}

// Drain empties the heap and returns its items in ascending
// (distance, id) order.
func (h *TopK) Drain() []Item {
	out := make([]Item, len(h.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = h.pop()
	}
	return out
}

func (h *TopK) pop() Item {
	n := len(h.items)
	root := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	if n-1 > 0 {
		h.siftDown(0)
	}
	return root
}

func (h *TopK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !worse(h.items[i], h.items[p]) {
			return
		}
		h.items[i], h.items[p] = h.items[p], h.items[i]
		i = p
	}
}

func (h *TopK) siftDown(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && worse(h.items[r], h.items[l]) {
			best = r
		}
		if !worse(h.items[best], h.items[i]) {
			return
		}
		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}
