package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mesibo/patann/internal/pattern"
	"github.com/mesibo/patann/internal/resource"
)

var (
	// ErrTimeout is returned by WaitReady when the timeout elapses.
	ErrTimeout = errors.New("builder: timed out waiting for ready")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("builder: closed")
)

const (
	// DefaultBatchSize is the number of ids indexed per batch.
	DefaultBatchSize = 256
	// DefaultRebuildRatio is the drift, relative to the size at the last
	// repartition, that triggers the next one. Between repartitions new
	// vectors join their nearest constellation.
	DefaultRebuildRatio = 0.2
)

// State is the build state of an index.
type State int32

const (
	// StateEmpty means no vectors were queued.
	StateEmpty State = iota
	// StateBuilding means queued vectors are not yet indexed.
	StateBuilding
	// StateReady means every queued vector is indexed.
	StateReady
	// StateFailed means a build error occurred. It is terminal.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Progress is a build progress report.
type Progress struct {
	Indexed int64
	Total   int64
	Ready   bool
	Err     error
}

// PersistFunc stores a snapshot after a cycle, before the index is marked
// ready.
type PersistFunc func(ctx context.Context, snap *pattern.Snapshot) error

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithResourceController shares background slots with other builders.
func WithResourceController(rc *resource.Controller) Option {
	return func(b *Builder) {
		b.rc = rc
	}
}

// WithBatchSize sets the number of ids indexed per batch.
func WithBatchSize(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithRebuildRatio sets the minimum drift, relative to the size at the last
// repartition, that triggers a full repartition at the end of a cycle. Zero
// repartitions after every cycle. The default is DefaultRebuildRatio.
func WithRebuildRatio(r float64) Option {
	return func(b *Builder) {
		if r >= 0 {
			b.rebuildRatio = r
		}
	}
}

// WithManualStart keeps queued work idle until Start is called.
func WithManualStart() Option {
	return func(b *Builder) {
		b.started = false
	}
}

// WithPersist sets the snapshot persist hook.
func WithPersist(fn PersistFunc) Option {
	return func(b *Builder) {
		b.persist = fn
	}
}

// WithProgress sets the progress callback. It is called from the worker
// goroutine, sometimes with internal locks held, so it must not block or
// call back into the Builder.
func WithProgress(fn func(Progress)) Option {
	return func(b *Builder) {
		b.progress = fn
	}
}

// Builder schedules background index construction.
type Builder struct {
	src   pattern.VectorSource
	index *pattern.Index

	logger       *slog.Logger
	rc           *resource.Controller
	batchSize    int
	rebuildRatio float64
	persist      PersistFunc
	progress     func(Progress)

	mu       sync.Mutex
	state    State
	pending  []int64
	indexed  int64
	total    int64
	err      error
	started  bool
	closed   bool
	force    bool          // repartition at the end of the next cycle
	settled  chan struct{} // closed on Ready or Failed
	cycles   int64
	rebuilds int64
	lastTook time.Duration

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Builder and starts its worker.
func New(src pattern.VectorSource, index *pattern.Index, opts ...Option) *Builder {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Builder{
		src:          src,
		index:        index,
		logger:       slog.New(slog.DiscardHandler),
		batchSize:    DefaultBatchSize,
		rebuildRatio: DefaultRebuildRatio,
		started:      true,
		settled:      make(chan struct{}),
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(1)
	go b.run()
	return b
}

// Enqueue queues ids for indexing.
func (b *Builder) Enqueue(ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.pending = append(b.pending, ids...)
	b.total += int64(len(ids))
	if b.state == StateFailed {
		return nil
	}
	b.enterBuilding()
	b.signal()
	return nil
}

// Invalidate forces a full repartition of everything indexed so far, for
// example after the metric changed.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.state == StateFailed || b.total == 0 {
		return
	}
	b.force = true
	b.enterBuilding()
	b.signal()
}

// enterBuilding moves to Building. The caller holds b.mu.
func (b *Builder) enterBuilding() {
	if b.state == StateBuilding {
		return
	}
	if b.state == StateReady {
		b.settled = make(chan struct{})
	}
	b.state = StateBuilding
	b.index.SetReady(false)
}

// signal wakes the worker if the build is started. The caller holds b.mu.
func (b *Builder) signal() {
	if !b.started {
		return
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Start releases queued work in manual mode. It is a no-op otherwise.
func (b *Builder) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	b.signal()
}

// Restore marks n already indexed vectors as built, e.g. after loading a
// persisted snapshot.
func (b *Builder) Restore(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.indexed = n
	b.total = n
	if n == 0 {
		return
	}
	b.state = StateReady
	b.index.SetReady(true)
	select {
	case <-b.settled:
	default:
		close(b.settled)
	}
}

// State returns the current state.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the build error in the Failed state.
func (b *Builder) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Progress returns the current progress.
func (b *Builder) Progress() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.report()
}

// Cycles returns the number of completed build cycles and the duration of
// the last one.
func (b *Builder) Cycles() (int64, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cycles, b.lastTook
}

// Repartitions returns the number of full repartitions run so far.
func (b *Builder) Repartitions() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rebuilds
}

// report builds a progress report. The caller holds b.mu.
func (b *Builder) report() Progress {
	return Progress{
		Indexed: b.indexed,
		Total:   b.total,
		Ready:   b.state == StateReady,
		Err:     b.err,
	}
}

// WaitReady blocks until the index is Ready or Failed. A zero timeout
// checks once; a negative timeout waits for ctx only.
func (b *Builder) WaitReady(ctx context.Context, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		b.mu.Lock()
		state, err, settled, closed := b.state, b.err, b.settled, b.closed
		b.mu.Unlock()

		switch {
		case state == StateReady:
			return nil
		case state == StateFailed:
			return err
		case closed:
			return ErrClosed
		case timeout == 0:
			return ErrTimeout
		}

		select {
		case <-settled:
		case <-expired:
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-b.ctx.Done():
		}
	}
}

// Close stops the worker after the batch in flight and waits for it to
// exit. Queued work that was not indexed is dropped.
func (b *Builder) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}

func (b *Builder) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
		}

		if err := b.rc.AcquireBackground(b.ctx); err != nil {
			return
		}
		err := b.cycle()
		b.rc.ReleaseBackground()

		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.fail(err)
		}
	}
}

// cycle indexes everything queued, then finishes the cycle.
func (b *Builder) cycle() error {
	b.mu.Lock()
	idle := b.state != StateBuilding
	b.mu.Unlock()
	if idle {
		return nil
	}

	start := time.Now()
	for {
		for {
			batch, ok := b.take()
			if !ok {
				return nil
			}
			if len(batch) == 0 {
				break
			}
			if err := b.indexBatch(batch); err != nil {
				return err
			}
		}

		if err := b.finish(); err != nil {
			return err
		}

		b.mu.Lock()
		if len(b.pending) > 0 || b.force {
			// More work arrived while finishing.
			b.mu.Unlock()
			continue
		}
		if b.state != StateBuilding {
			b.mu.Unlock()
			return nil
		}
		b.state = StateReady
		b.index.SetReady(true)
		b.cycles++
		b.lastTook = time.Since(start)
		p := b.report()
		// Report before waking waiters so a returned WaitReady implies the
		// ready report was handed off.
		b.emit(p)
		close(b.settled)
		b.mu.Unlock()

		b.logger.Debug("index ready", "indexed", p.Indexed, "took", b.lastTook)
		return nil
	}
}

// take removes up to batchSize queued ids. It reports false when the
// builder must not proceed.
func (b *Builder) take() ([]int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || !b.started || b.state == StateFailed {
		return nil, false
	}
	n := min(len(b.pending), b.batchSize)
	batch := make([]int64, n)
	copy(batch, b.pending[:n])
	b.pending = b.pending[n:]
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return batch, true
}

func (b *Builder) indexBatch(ids []int64) error {
	vecs := make([][]float32, len(ids))
	for i, id := range ids {
		v, err := b.src.View(id)
		if err != nil {
			return fmt.Errorf("read vector %d: %w", id, err)
		}
		vecs[i] = v
	}
	if err := b.index.InsertBatch(ids, vecs); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}

	b.mu.Lock()
	b.indexed += int64(len(ids))
	p := b.report()
	b.mu.Unlock()

	b.emit(p)
	return nil
}

// finish runs the end-of-cycle repartition and persistence.
func (b *Builder) finish() error {
	b.mu.Lock()
	force := b.force
	b.force = false
	b.mu.Unlock()

	snap := b.index.Snapshot()
	if snap.Len() > 0 && (force || b.shouldRebuild(snap)) {
		start := time.Now()
		if err := b.index.Rebuild(b.ctx, b.src); err != nil {
			return fmt.Errorf("repartition: %w", err)
		}
		b.mu.Lock()
		b.rebuilds++
		b.mu.Unlock()
		b.logger.Debug("repartitioned",
			"vectors", snap.Len(),
			"constellations", b.index.Snapshot().NumConstellations(),
			"took", time.Since(start))
	}

	if b.persist != nil {
		if err := b.persist(b.ctx, b.index.Snapshot()); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}
	return nil
}

func (b *Builder) shouldRebuild(snap *pattern.Snapshot) bool {
	drift := snap.Drift()
	if drift == 0 {
		return false
	}
	base := snap.RebuiltAt()
	if base == 0 {
		return true
	}
	ratio := float64(drift) / float64(base)
	return ratio >= b.rebuildRatio || math.IsInf(ratio, 1)
}

func (b *Builder) fail(err error) {
	b.mu.Lock()
	b.state = StateFailed
	b.err = err
	b.index.SetReady(false)
	b.emit(b.report())
	select {
	case <-b.settled:
	default:
		close(b.settled)
	}
	b.mu.Unlock()

	b.logger.Error("index build failed", "error", err)
}

func (b *Builder) emit(p Progress) {
	if b.progress != nil {
		b.progress(p)
	}
}
