package patann

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mesibo/patann/distance"
	"github.com/mesibo/patann/internal/builder"
	"github.com/mesibo/patann/internal/event"
	"github.com/mesibo/patann/internal/pattern"
	"github.com/mesibo/patann/internal/persist"
	"github.com/mesibo/patann/internal/store"
	"github.com/mesibo/patann/internal/vlog"
)

// Index is an approximate nearest-neighbor index over vectors of a fixed
// dimension. All methods are safe for concurrent use.
type Index struct {
	// mu is held shared by every call that touches storage and exclusively
	// by Destroy, to drain in-flight calls, and by Backup.
	mu          sync.RWMutex
	destroyed   atomic.Bool
	destroyOnce sync.Once
	destroyErr  error

	dim     int
	opts    options
	logger  *Logger
	metrics MetricsCollector

	cfgMu             sync.Mutex
	metric            distance.Metric
	radius            float32
	constellationSize int
	destroyOnDelete   bool

	store    *store.Store
	pattern  *pattern.Index
	builder  *builder.Builder
	dispatch *event.Dispatcher[func()]
	queries  sync.WaitGroup // asynchronous queries in flight

	listenerMu sync.Mutex
	listener   IndexListener

	// On-disk indexes only.
	layout     *persist.Layout
	persistMu  sync.Mutex // serializes snapshot writes
	manifestMu sync.Mutex
	manifest   *persist.Manifest
}

// CreateInMemoryIndex creates an index that keeps everything in memory.
func CreateInMemoryIndex(dim int, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	if dim <= 0 {
		return nil, invalidConfig("dimension %d must be positive", dim)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	idx, err := newIndex(dim, o, store.NewMemory(dim), nil)
	if err != nil {
		return nil, err
	}
	idx.logger.Info("index created", "dimension", dim, "metric", o.metric)
	return idx, nil
}

// CreateOnDiskIndex creates or reopens the index name under path. An empty
// path selects the user cache directory.
//
// Reopening restores every stored vector and continues id assignment after
// the last one. The persisted metric, radius and constellation size are
// kept unless set again through options. When a persisted snapshot covers
// every stored vector the index is ready immediately; otherwise the stored
// vectors are indexed again in the background.
func CreateOnDiskIndex(dim int, path, name string, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	if dim <= 0 {
		return nil, invalidConfig("dimension %d must be positive", dim)
	}

	layout, err := persist.NewLayout(o.fs, path, name)
	if err != nil {
		return nil, translateError(err)
	}

	prev, err := layout.ReadManifest()
	switch {
	case errors.Is(err, persist.ErrNoManifest):
		prev = nil
	case err != nil:
		return nil, storageError("read manifest", err)
	default:
		if prev.Dimension != dim {
			return nil, &DimensionMismatchError{Expected: prev.Dimension, Actual: dim}
		}
		if err := o.restore(prev); err != nil {
			return nil, err
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	if err := layout.Create(); err != nil {
		return nil, storageError("create index directory", err)
	}
	st, err := store.OpenDisk(layout.FS(), layout.LogPath(), dim, vlog.Options{Durability: o.durability})
	if err != nil {
		return nil, translateError(err)
	}

	idx, err := newIndex(dim, o, st, layout)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if prev != nil {
		m := *prev
		idx.manifest = &m
	} else {
		idx.manifest = persist.NewManifest(dim)
	}

	if err := idx.recover(prev); err != nil {
		_ = idx.teardown()
		return nil, err
	}
	if err := idx.updateManifest(nil); err != nil {
		_ = idx.teardown()
		return nil, err
	}

	idx.logger.Info("index opened",
		"dir", layout.Dir(),
		"dimension", dim,
		"vectors", st.Count(),
		"state", idx.State())
	return idx, nil
}

func newIndex(dim int, o options, st *store.Store, layout *persist.Layout) (*Index, error) {
	pidx, err := pattern.New(pattern.Config{
		Dim:               dim,
		Metric:            o.metric,
		ConstellationSize: o.constellationSize,
		MaxConstellations: o.maxConstellations,
		Seed:              o.seed,
	})
	if err != nil {
		return nil, translateError(err)
	}

	idx := &Index{
		dim:               dim,
		opts:              o,
		logger:            o.logger,
		metrics:           o.metrics,
		metric:            o.metric,
		radius:            o.radius,
		constellationSize: o.constellationSize,
		store:             st,
		pattern:           pidx,
		layout:            layout,
	}
	if layout != nil {
		idx.logger = idx.logger.With("index", layout.Dir())
	}
	idx.dispatch = event.NewDispatcher(func(fn func()) { fn() })

	bopts := []builder.Option{
		builder.WithLogger(idx.logger.Logger),
		builder.WithResourceController(o.rc),
		builder.WithBatchSize(o.batchSize),
		builder.WithRebuildRatio(o.rebuildRatio),
		builder.WithProgress(idx.onProgress),
	}
	if o.manualBuild {
		bopts = append(bopts, builder.WithManualStart())
	}
	if layout != nil {
		bopts = append(bopts, builder.WithPersist(idx.persistSnapshot))
	}
	idx.builder = builder.New(st, pidx, bopts...)
	return idx, nil
}

// restore adopts the persisted settings the caller did not set explicitly.
func (o *options) restore(m *persist.Manifest) error {
	if !o.metricSet && m.Metric != "" {
		metric, err := distance.ParseMetric(m.Metric)
		if err != nil {
			return storageError("manifest metric", err)
		}
		o.metric = metric
	}
	if !o.radiusSet {
		o.radius = m.Radius
	}
	if !o.sizeSet && m.ConstellationSize > 0 {
		o.constellationSize = m.ConstellationSize
	}
	return nil
}

// recover loads the persisted snapshot when it covers every stored vector
// under the same layout, and queues everything for indexing otherwise.
func (idx *Index) recover(prev *persist.Manifest) error {
	n := idx.store.Count()
	if n == 0 {
		return nil
	}

	if prev != nil && prev.SnapshotCount == n && prev.SameLayout(idx.currentManifest()) {
		snap, err := idx.layout.ReadSnapshot()
		switch {
		case err == nil && snap.Len() == n:
			if err := idx.pattern.Load(snap); err == nil {
				idx.builder.Restore(n)
				idx.logger.Info("snapshot loaded", "vectors", n, "constellations", snap.NumConstellations())
				return nil
			}
		case err != nil && !errors.Is(err, persist.ErrNoSnapshot):
			idx.logger.Warn("discarding snapshot", "error", err)
		}
	}
	if prev != nil && prev.SnapshotCount > 0 {
		if err := idx.layout.RemoveSnapshot(); err != nil {
			return storageError("remove stale snapshot", err)
		}
		idx.manifestMu.Lock()
		idx.manifest.SnapshotCount = 0
		idx.manifestMu.Unlock()
	}

	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i)
	}
	idx.logger.Info("reindexing stored vectors", "vectors", n)
	return translateError(idx.builder.Enqueue(ids...))
}

// enter takes the shared lifecycle lock. The caller releases it with
// idx.mu.RUnlock when enter succeeds.
func (idx *Index) enter() error {
	idx.mu.RLock()
	if idx.destroyed.Load() {
		idx.mu.RUnlock()
		return ErrIndexDestroyed
	}
	return nil
}

// SetDistanceType changes the distance metric. Existing vectors are
// repartitioned under the new metric in the background.
func (idx *Index) SetDistanceType(m distance.Metric) error {
	if err := idx.enter(); err != nil {
		return err
	}
	defer idx.mu.RUnlock()

	if !m.Valid() {
		return invalidConfig("unknown metric %v", m)
	}
	idx.cfgMu.Lock()
	changed := idx.metric != m
	idx.metric = m
	idx.cfgMu.Unlock()
	if !changed {
		return nil
	}

	if err := idx.pattern.SetMetric(m); err != nil {
		return translateError(err)
	}
	idx.builder.Invalidate()
	return idx.updateManifest(nil)
}

// SetRadius sets the default search radius used by sessions created with
// IndexRadius. The radius is a percentage: constellations whose signature
// lies within the distance to the nearest one plus radius percent of it are
// scanned.
func (idx *Index) SetRadius(r float32) error {
	if err := idx.enter(); err != nil {
		return err
	}
	defer idx.mu.RUnlock()

	if err := validateRadius(r); err != nil {
		return err
	}
	idx.cfgMu.Lock()
	idx.radius = r
	idx.cfgMu.Unlock()
	return idx.updateManifest(nil)
}

// SetConstellationSize sets the target number of vectors per
// constellation. Existing vectors are repartitioned in the background.
func (idx *Index) SetConstellationSize(n int) error {
	if err := idx.enter(); err != nil {
		return err
	}
	defer idx.mu.RUnlock()

	if n < 1 {
		return invalidConfig("constellation size %d must be positive", n)
	}
	idx.cfgMu.Lock()
	changed := idx.constellationSize != n
	idx.constellationSize = n
	idx.cfgMu.Unlock()
	if !changed {
		return nil
	}

	idx.pattern.SetConstellationSize(n)
	idx.builder.Invalidate()
	return idx.updateManifest(nil)
}

// DestroyIndexOnDelete makes Destroy remove the on-disk files of the index.
func (idx *Index) DestroyIndexOnDelete(destroy bool) {
	idx.cfgMu.Lock()
	defer idx.cfgMu.Unlock()
	idx.destroyOnDelete = destroy
}

// Dimension returns the vector dimension.
func (idx *Index) Dimension() int { return idx.dim }

// Metric returns the current distance metric.
func (idx *Index) Metric() distance.Metric {
	idx.cfgMu.Lock()
	defer idx.cfgMu.Unlock()
	return idx.metric
}

// Radius returns the default search radius.
func (idx *Index) Radius() float32 {
	idx.cfgMu.Lock()
	defer idx.cfgMu.Unlock()
	return idx.radius
}

// ConstellationSize returns the target constellation size.
func (idx *Index) ConstellationSize() int {
	idx.cfgMu.Lock()
	defer idx.cfgMu.Unlock()
	return idx.constellationSize
}

// Dir returns the directory of an on-disk index, or "" for in-memory ones.
func (idx *Index) Dir() string {
	if idx.layout == nil {
		return ""
	}
	return idx.layout.Dir()
}

// AddVector stores a copy of vec and queues it for indexing. It returns the
// new vector id, or -1 and an error.
func (idx *Index) AddVector(vec []float32) (int64, error) {
	start := time.Now()
	id, err := idx.addVector(vec)
	n := 1
	if err != nil {
		n = 0
	}
	idx.metrics.RecordInsert(n, time.Since(start), err)
	idx.logger.LogInsert(context.Background(), id, n, err)
	return id, err
}

func (idx *Index) addVector(vec []float32) (int64, error) {
	if err := idx.enter(); err != nil {
		return -1, err
	}
	defer idx.mu.RUnlock()

	if err := checkDim(idx.dim, len(vec)); err != nil {
		return -1, err
	}
	id, err := idx.store.Append(vec)
	if err != nil {
		return -1, translateError(err)
	}
	if err := idx.builder.Enqueue(id); err != nil {
		return -1, translateError(err)
	}
	return id, nil
}

// AddVectors stores a batch of vectors. Every vector is checked before any
// is stored. On a storage error the ids stored so far are returned with the
// error.
func (idx *Index) AddVectors(vecs [][]float32) ([]int64, error) {
	start := time.Now()
	ids, err := idx.addVectors(vecs)
	idx.metrics.RecordInsert(len(ids), time.Since(start), err)
	var last int64 = -1
	if len(ids) > 0 {
		last = ids[len(ids)-1]
	}
	idx.logger.LogInsert(context.Background(), last, len(ids), err)
	return ids, err
}

func (idx *Index) addVectors(vecs [][]float32) ([]int64, error) {
	if err := idx.enter(); err != nil {
		return nil, err
	}
	defer idx.mu.RUnlock()

	for i, v := range vecs {
		if err := checkDim(idx.dim, len(v)); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}

	ids := make([]int64, 0, len(vecs))
	var err error
	for _, v := range vecs {
		id, aerr := idx.store.Append(v)
		if aerr != nil {
			err = translateError(aerr)
			break
		}
		ids = append(ids, id)
	}
	if qerr := idx.builder.Enqueue(ids...); qerr != nil && err == nil {
		err = translateError(qerr)
	}
	return ids, err
}

// GetVector returns a copy of the vector stored under id.
func (idx *Index) GetVector(id int64) ([]float32, error) {
	if err := idx.enter(); err != nil {
		return nil, err
	}
	defer idx.mu.RUnlock()

	v, err := idx.store.Get(id)
	return v, translateError(err)
}

// Distance computes the distance between a and b under the index metric.
func (idx *Index) Distance(a, b []float32) (float32, error) {
	if err := checkDim(idx.dim, len(a)); err != nil {
		return 0, err
	}
	if err := checkDim(idx.dim, len(b)); err != nil {
		return 0, err
	}
	d, err := distance.Distance(a, b, idx.Metric())
	return d, translateError(err)
}

// IsIndexReady reports whether every inserted vector is indexed.
func (idx *Index) IsIndexReady() bool {
	return !idx.destroyed.Load() && idx.builder.State() == builder.StateReady
}

// State returns the build state.
func (idx *Index) State() State {
	return stateOf(idx.builder.State())
}

// Progress returns how many inserted vectors are indexed.
func (idx *Index) Progress() BuildProgress {
	p := idx.builder.Progress()
	return BuildProgress{Indexed: p.Indexed, Total: p.Total}
}

// Build starts indexing in an index created with WithManualBuild. Indexes
// without it build on their own and Build is a no-op.
func (idx *Index) Build() error {
	if err := idx.enter(); err != nil {
		return err
	}
	defer idx.mu.RUnlock()
	idx.builder.Start()
	return nil
}

// WaitForIndexReady waits, up to the timeout set by WithReadyTimeout, for
// every inserted vector to be indexed.
func (idx *Index) WaitForIndexReady(ctx context.Context) error {
	return idx.WaitForIndexReadyTimeout(ctx, idx.opts.readyTimeout)
}

// WaitForIndexReadyTimeout waits up to timeout for the index to become
// ready. A zero timeout checks once without waiting and a negative one
// waits until ctx is done. A failed build is reported as ErrIndexNotReady
// wrapping the build error.
func (idx *Index) WaitForIndexReadyTimeout(ctx context.Context, timeout time.Duration) error {
	if idx.destroyed.Load() {
		return ErrIndexDestroyed
	}

	err := idx.builder.WaitReady(ctx, timeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, builder.ErrTimeout):
		return fmt.Errorf("%w: index not ready after %v", ErrTimeout, timeout)
	case errors.Is(err, builder.ErrClosed):
		return ErrIndexDestroyed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: build failed: %w", ErrIndexNotReady, translateError(err))
	}
}

// SetIndexListener registers the listener for build events. Nil removes
// it.
func (idx *Index) SetIndexListener(l IndexListener) {
	idx.listenerMu.Lock()
	defer idx.listenerMu.Unlock()
	idx.listener = l
}

// onProgress runs on the builder goroutine and must not block.
func (idx *Index) onProgress(p builder.Progress) {
	ev := IndexEvent{
		Indexed: p.Indexed,
		Total:   p.Total,
		Ready:   p.Ready,
		Err:     translateError(p.Err),
	}
	idx.dispatch.Post(func() { idx.deliver(ev) })
}

func (idx *Index) deliver(ev IndexEvent) {
	idx.logger.LogBuild(context.Background(), ev.Indexed, ev.Total, ev.Ready, ev.Err)
	if ev.Ready || ev.Err != nil {
		_, took := idx.builder.Cycles()
		idx.metrics.RecordBuild(ev.Indexed, took, ev.Err)
	}

	idx.listenerMu.Lock()
	l := idx.listener
	idx.listenerMu.Unlock()
	if l != nil {
		l(ev)
	}
}

// servingSnapshot returns the snapshot queries run against. A nil snapshot
// with a nil error means the index is empty.
func (idx *Index) servingSnapshot() (*pattern.Snapshot, error) {
	state := idx.builder.State()
	switch state {
	case builder.StateEmpty:
		return nil, nil
	case builder.StateFailed:
		return nil, fmt.Errorf("%w: %w", ErrIndexNotReady, translateError(idx.builder.Err()))
	}
	if idx.pattern.IsReady() {
		return idx.pattern.Snapshot(), nil
	}
	if snap := idx.pattern.ReadySnapshot(); snap != nil {
		return snap, nil
	}
	if state == builder.StateReady {
		return idx.pattern.Snapshot(), nil
	}
	return nil, ErrIndexNotReady
}

// GetIndexSize returns the number of vectors in the index. With pathOnly it
// returns the number of vectors persisted on disk, read without loading
// them, which is 0 for in-memory indexes.
func (idx *Index) GetIndexSize(pathOnly bool) int64 {
	if !pathOnly {
		return idx.store.Count()
	}
	if !idx.store.Persistent() {
		return 0
	}
	n, err := idx.layout.VectorCount()
	if err != nil {
		idx.logger.Warn("count persisted vectors", "error", err)
		return 0
	}
	return n
}

// IndexSizeAt returns the number of vectors persisted for index name under
// path without opening it. Missing or unreadable indexes count as 0.
func IndexSizeAt(path, name string) int64 {
	layout, err := persist.NewLayout(nil, path, name)
	if err != nil {
		return 0
	}
	n, err := layout.VectorCount()
	if err != nil {
		return 0
	}
	return n
}

// Stats describes an index.
type Stats struct {
	Dimension             int
	Metric                distance.Metric
	Radius                float32
	ConstellationSize     int
	State                 State
	Vectors               int64
	Indexed               int64
	Constellations        int
	SmallestConstellation int
	LargestConstellation  int
	Drift                 int64
	Repartitions          int64
	BuildCycles           int64
	LastBuild             time.Duration
	Dir                   string
	DiskBytes             int64
}

// Stats returns a summary of the index.
func (idx *Index) Stats() Stats {
	idx.cfgMu.Lock()
	st := Stats{
		Dimension:         idx.dim,
		Metric:            idx.metric,
		Radius:            idx.radius,
		ConstellationSize: idx.constellationSize,
	}
	idx.cfgMu.Unlock()

	ps := idx.pattern.Snapshot().Stats()
	st.State = idx.State()
	st.Vectors = idx.store.Count()
	st.Indexed = ps.Indexed
	st.Constellations = ps.Constellations
	st.SmallestConstellation = ps.Smallest
	st.LargestConstellation = ps.Largest
	st.Drift = ps.Drift
	st.Repartitions = idx.builder.Repartitions()
	st.BuildCycles, st.LastBuild = idx.builder.Cycles()
	if idx.layout != nil {
		st.Dir = idx.layout.Dir()
		st.DiskBytes, _ = idx.layout.DiskSize()
	}
	return st
}

// Flush makes inserted vectors durable. When the index is ready its
// constellation snapshot is written too. It is a no-op for in-memory
// indexes.
func (idx *Index) Flush(ctx context.Context) error {
	if err := idx.enter(); err != nil {
		return err
	}
	defer idx.mu.RUnlock()
	return idx.flush(ctx)
}

func (idx *Index) flush(ctx context.Context) error {
	if !idx.store.Persistent() {
		return nil
	}
	if err := idx.store.Flush(); err != nil {
		return translateError(err)
	}
	if idx.builder.State() == builder.StateReady {
		if snap := idx.pattern.ReadySnapshot(); snap != nil {
			return idx.persistSnapshot(ctx, snap)
		}
	}
	return idx.updateManifest(nil)
}

// persistSnapshot writes snap and the manifest describing it.
func (idx *Index) persistSnapshot(ctx context.Context, snap *pattern.Snapshot) error {
	idx.persistMu.Lock()
	defer idx.persistMu.Unlock()

	start := time.Now()
	var n int64
	err := idx.store.Flush()
	if err == nil {
		n, err = idx.layout.WriteSnapshot(ctx, snap, idx.opts.compression, idx.opts.rc)
		if err != nil {
			err = storageError("write snapshot", err)
		}
	}
	if err == nil {
		err = idx.updateManifest(func(m *persist.Manifest) {
			m.SnapshotCount = snap.Len()
		})
	}
	idx.metrics.RecordFlush(n, time.Since(start), err)
	idx.logger.LogPersist(ctx, idx.layout.Dir(), n, err)
	return translateError(err)
}

// currentManifest returns the manifest as it would be written now.
func (idx *Index) currentManifest() *persist.Manifest {
	idx.manifestMu.Lock()
	defer idx.manifestMu.Unlock()
	m := *idx.manifest
	idx.fillManifest(&m)
	return &m
}

func (idx *Index) fillManifest(m *persist.Manifest) {
	idx.cfgMu.Lock()
	m.Metric = idx.metric.String()
	m.Radius = idx.radius
	m.ConstellationSize = idx.constellationSize
	idx.cfgMu.Unlock()

	m.MaxConstellations = idx.opts.maxConstellations
	m.Seed = idx.opts.seed
	m.Compression = idx.opts.compression.String()
	m.VectorCount = idx.store.Count()
}

// updateManifest refreshes and rewrites the manifest of an on-disk index.
func (idx *Index) updateManifest(fn func(m *persist.Manifest)) error {
	if idx.layout == nil {
		return nil
	}
	idx.manifestMu.Lock()
	defer idx.manifestMu.Unlock()

	idx.fillManifest(idx.manifest)
	if fn != nil {
		fn(idx.manifest)
	}
	if err := idx.layout.WriteManifest(idx.manifest); err != nil {
		return storageError("write manifest", err)
	}
	return nil
}

// Destroy waits for in-flight calls and asynchronous queries, stops the
// builder and releases the index. Sessions of a destroyed index fail with
// ErrIndexDestroyed. With DestroyIndexOnDelete the on-disk files are
// removed; otherwise they stay for a later CreateOnDiskIndex.
//
// If ctx ends while queries are still running, Destroy returns its error
// and may be called again. Destroy must not be called from a listener.
func (idx *Index) Destroy(ctx context.Context) error {
	// Taking the lock exclusively waits out every call holding it shared.
	idx.mu.Lock()
	idx.destroyed.Store(true)
	idx.mu.Unlock()

	done := make(chan struct{})
	go func() {
		idx.queries.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("destroy: %w", ctx.Err())
	}

	idx.destroyOnce.Do(func() {
		idx.destroyErr = idx.teardown()
	})
	return idx.destroyErr
}

func (idx *Index) teardown() error {
	idx.builder.Close()
	idx.dispatch.Close()

	idx.cfgMu.Lock()
	remove := idx.destroyOnDelete && idx.layout != nil
	idx.cfgMu.Unlock()

	var errs []error
	if idx.layout != nil && !remove {
		errs = append(errs, idx.updateManifest(nil))
	}
	if err := idx.store.Close(); err != nil {
		errs = append(errs, translateError(err))
	}
	if remove {
		if err := idx.layout.Remove(); err != nil {
			errs = append(errs, storageError("remove index", err))
		}
	}

	err := errors.Join(errs...)
	idx.logger.Info("index destroyed", "removed", remove, "error", err)
	return err
}

func validateRadius(r float32) error {
	if r < 0 || math.IsNaN(float64(r)) || math.IsInf(float64(r), 0) {
		return invalidConfig("radius %v must be a non-negative finite number", r)
	}
	return nil
}

func storageError(op string, err error) error {
	if errors.Is(err, ErrStorageFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
