package patann

import (
	"log/slog"
	"time"

	"github.com/mesibo/patann/distance"
	"github.com/mesibo/patann/internal/builder"
	"github.com/mesibo/patann/internal/fs"
	"github.com/mesibo/patann/internal/pattern"
	"github.com/mesibo/patann/internal/persist"
	"github.com/mesibo/patann/internal/resource"
	"github.com/mesibo/patann/internal/vlog"
)

const (
	// DefaultRadius is the default search radius, in percent of the
	// distance to the nearest constellation.
	DefaultRadius float32 = 100
	// DefaultConstellationSize is the default target number of vectors per
	// constellation.
	DefaultConstellationSize = 16
	// DefaultReadyTimeout bounds WaitForIndexReady.
	DefaultReadyTimeout = 30 * time.Second
)

// Durability controls when inserted vectors reach stable storage in
// on-disk indexes.
type Durability = vlog.Durability

const (
	// DurabilityAsync leaves vectors in the OS page cache until Flush.
	DurabilityAsync = vlog.DurabilityAsync
	// DurabilitySync fsyncs after every insertion.
	DurabilitySync = vlog.DurabilitySync
)

// Compression selects how constellation snapshots are compressed on disk.
type Compression = persist.Compression

// Snapshot compression algorithms.
const (
	CompressionNone = persist.CompressionNone
	CompressionLZ4  = persist.CompressionLZ4
	CompressionZSTD = persist.CompressionZSTD
)

// ResourceController shares background build slots and a snapshot write
// budget between indexes.
type ResourceController = resource.Controller

// ResourceConfig configures a ResourceController.
type ResourceConfig = resource.Config

// NewResourceController creates a ResourceController.
func NewResourceController(cfg ResourceConfig) *ResourceController {
	return resource.NewController(cfg)
}

// FileSystem is the file system seam used by on-disk indexes.
type FileSystem = fs.FileSystem

type options struct {
	logger            *Logger
	metrics           MetricsCollector
	readyTimeout      time.Duration
	manualBuild       bool
	batchSize         int
	rebuildRatio      float64
	maxConstellations int
	seed              int64
	durability        Durability
	compression       Compression
	fs                fs.FileSystem
	rc                *resource.Controller

	metric            distance.Metric
	radius            float32
	constellationSize int

	// set when the caller chose the value explicitly
	metricSet, radiusSet, sizeSet bool
}

// Option configures an index at creation.
type Option func(*options)

// WithLogger configures structured logging. Nil disables logging.
//
//	idx, _ := patann.CreateInMemoryIndex(128, patann.WithLogger(patann.NewJSONLogger(slog.LevelInfo)))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel sets a text logger at the given level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector. Nil disables metrics.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithReadyTimeout sets the bound used by WaitForIndexReady.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.readyTimeout = d
	}
}

// WithManualBuild keeps inserted vectors queued until Build is called.
func WithManualBuild() Option {
	return func(o *options) {
		o.manualBuild = true
	}
}

// WithBuildBatchSize sets how many vectors the builder indexes per
// progress report.
func WithBuildBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithRebuildRatio sets the drift, relative to the size at the last full
// repartition, that triggers a new repartition when a build cycle ends.
// Zero repartitions at the end of every cycle. The default is 0.2.
func WithRebuildRatio(r float64) Option {
	return func(o *options) {
		o.rebuildRatio = r
	}
}

// WithMaxConstellations caps the number of constellations.
func WithMaxConstellations(n int) Option {
	return func(o *options) {
		o.maxConstellations = n
	}
}

// WithSeed sets the seed of the repartition.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithDurability sets the vector log durability of on-disk indexes.
func WithDurability(d Durability) Option {
	return func(o *options) {
		o.durability = d
	}
}

// WithCompression sets the snapshot compression of on-disk indexes.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithFileSystem replaces the file system of on-disk indexes.
func WithFileSystem(fsys FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithResourceController shares build slots and the snapshot write budget
// with other indexes.
func WithResourceController(rc *ResourceController) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithMetric sets the initial distance metric.
func WithMetric(m distance.Metric) Option {
	return func(o *options) {
		o.metric = m
		o.metricSet = true
	}
}

// WithRadius sets the initial search radius.
func WithRadius(r float32) Option {
	return func(o *options) {
		o.radius = r
		o.radiusSet = true
	}
}

// WithConstellationSize sets the initial target constellation size.
func WithConstellationSize(n int) Option {
	return func(o *options) {
		o.constellationSize = n
		o.sizeSet = true
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:            NoopLogger(),
		metrics:           NoopMetricsCollector{},
		readyTimeout:      DefaultReadyTimeout,
		batchSize:         builder.DefaultBatchSize,
		rebuildRatio:      builder.DefaultRebuildRatio,
		maxConstellations: pattern.DefaultMaxConstellations,
		durability:        DurabilityAsync,
		compression:       CompressionZSTD,
		fs:                fs.Default,
		metric:            distance.L2Square,
		radius:            DefaultRadius,
		constellationSize: DefaultConstellationSize,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func (o *options) validate() error {
	if !o.metric.Valid() {
		return invalidConfig("unknown metric %v", o.metric)
	}
	if err := validateRadius(o.radius); err != nil {
		return err
	}
	if o.constellationSize < 1 {
		return invalidConfig("constellation size %d must be positive", o.constellationSize)
	}
	if o.maxConstellations < 1 {
		return invalidConfig("max constellations %d must be positive", o.maxConstellations)
	}
	if o.batchSize < 1 {
		return invalidConfig("build batch size %d must be positive", o.batchSize)
	}
	if o.rebuildRatio < 0 {
		return invalidConfig("rebuild ratio %v must not be negative", o.rebuildRatio)
	}
	return nil
}
