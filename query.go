package patann

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mesibo/patann/internal/queue"
)

// IndexRadius makes a session use the radius of its index at query time.
const IndexRadius float32 = -1

// ctxCheckInterval is how many candidates are scored between context
// checks.
const ctxCheckInterval = 1024

// Neighbor is one query result.
type Neighbor struct {
	ID       int64
	Distance float32
}

// QuerySession runs top-K queries against an index and holds the results
// of the last one. A session runs one query at a time; independent
// sessions may query concurrently.
type QuerySession struct {
	idx    *Index
	radius float32
	k      int
	heap   *queue.TopK

	busy atomic.Bool

	mu       sync.Mutex
	closed   bool
	listener QueryListener
	results  []queue.Item
	wg       sync.WaitGroup // asynchronous query in flight
}

// CreateQuerySession creates a session returning up to k results. Radius
// is a percentage of the distance to the nearest constellation, or
// IndexRadius to follow the index.
func (idx *Index) CreateQuerySession(radius float32, k int) (*QuerySession, error) {
	if idx.destroyed.Load() {
		return nil, fmt.Errorf("%w: %w", ErrIndexNotConfigured, ErrIndexDestroyed)
	}
	if k <= 0 {
		return nil, invalidConfig("k %d must be positive", k)
	}
	if radius != IndexRadius {
		if err := validateRadius(radius); err != nil {
			return nil, err
		}
	}
	return &QuerySession{
		idx:    idx,
		radius: radius,
		k:      k,
		heap:   queue.NewTopK(k),
	}, nil
}

// SetListener registers the listener receiving QueryAsync results. Nil
// removes it.
func (s *QuerySession) SetListener(l QueryListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// begin claims the session for one query. async also registers the query
// with the session wait group before Destroy can observe it.
func (s *QuerySession) begin(async bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.idx.destroyed.Load() {
		return ErrIndexDestroyed
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrSessionBusy
	}
	if async {
		s.wg.Add(1)
	}
	return nil
}

// Query runs a query for the k nearest neighbors of vec and stores the
// results in the session. A k of zero or less uses the session k.
//
// Results are ordered by ascending distance, ties by lower id. An empty
// index yields no results. While the index is building, queries are served
// from the last ready state; before the first one they fail with
// ErrIndexNotReady.
func (s *QuerySession) Query(ctx context.Context, vec []float32, k int) error {
	if err := s.begin(false); err != nil {
		return err
	}
	defer s.busy.Store(false)

	_, err := s.run(ctx, vec, k)
	return err
}

// QueryAsync validates the request and runs it on a separate goroutine.
// The outcome is delivered to the session listener as a QueryEvent.
func (s *QuerySession) QueryAsync(ctx context.Context, vec []float32, k int) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return ErrNoListener
	}

	idx := s.idx
	if err := checkDim(idx.dim, len(vec)); err != nil {
		return err
	}
	if err := s.begin(true); err != nil {
		return err
	}

	idx.mu.RLock()
	if idx.destroyed.Load() {
		idx.mu.RUnlock()
		s.busy.Store(false)
		s.wg.Done()
		return ErrIndexDestroyed
	}
	idx.queries.Add(1)
	idx.mu.RUnlock()

	query := slices.Clone(vec)
	go func() {
		defer idx.queries.Done()
		defer s.wg.Done()

		items, err := s.run(ctx, query, k)
		ev := QueryEvent{Session: s, Err: err}
		if err == nil {
			ev.IDs, ev.Distances = split(items)
		}
		s.busy.Store(false)
		idx.dispatch.Post(func() { l(ev) })
	}()
	return nil
}

func (s *QuerySession) run(ctx context.Context, vec []float32, k int) ([]queue.Item, error) {
	if k <= 0 {
		k = s.k
	}
	start := time.Now()
	items, scored, err := s.search(ctx, vec, k)

	s.mu.Lock()
	s.results = items
	s.mu.Unlock()

	idx := s.idx
	took := time.Since(start)
	idx.metrics.RecordQuery(k, scored, took, err)
	idx.logger.LogQuery(ctx, k, scored, len(items), took, err)
	return items, err
}

// search collects the candidates of the serving snapshot and keeps the k
// nearest by exact distance.
func (s *QuerySession) search(ctx context.Context, vec []float32, k int) ([]queue.Item, int, error) {
	idx := s.idx
	if err := idx.enter(); err != nil {
		return nil, 0, err
	}
	defer idx.mu.RUnlock()

	if err := checkDim(idx.dim, len(vec)); err != nil {
		return nil, 0, err
	}
	snap, err := idx.servingSnapshot()
	if err != nil || snap == nil {
		return nil, 0, err
	}

	radius := s.radius
	if radius == IndexRadius {
		radius = idx.Radius()
	}
	distFunc := idx.pattern.DistFunc()
	candidates := snap.Candidates(vec, distFunc, radius, k)

	s.heap.Reset(k)
	scored := 0
	it := candidates.Iterator()
	for it.HasNext() {
		if scored%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, scored, err
			}
		}
		id := int64(it.Next())
		v, err := idx.store.View(id)
		if err != nil {
			return nil, scored, translateError(err)
		}
		s.heap.Push(id, distFunc(vec, v))
		scored++
	}
	return s.heap.Drain(), scored, nil
}

func split(items []queue.Item) ([]int64, []float32) {
	ids := make([]int64, len(items))
	dists := make([]float32, len(items))
	for i, it := range items {
		ids[i] = it.ID
		dists[i] = it.Distance
	}
	return ids, dists
}

// Results returns the ids of the last query, nearest first.
func (s *QuerySession) Results() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, _ := split(s.results)
	return ids
}

// ResultDistances returns the distances of the last query, in the order of
// Results.
func (s *QuerySession) ResultDistances() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, dists := split(s.results)
	return dists
}

// Result returns the last query results as pairs.
func (s *QuerySession) Result() []Neighbor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Neighbor, len(s.results))
	for i, it := range s.results {
		out[i] = Neighbor{ID: it.ID, Distance: it.Distance}
	}
	return out
}

// K returns the default result count of the session.
func (s *QuerySession) K() int { return s.k }

// Destroy closes the session after waiting for its asynchronous query, if
// any. Calling it again is a no-op.
func (s *QuerySession) Destroy() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	s.results = nil
	s.mu.Unlock()
}
