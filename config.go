package patann

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mesibo/patann/distance"
	"github.com/mesibo/patann/internal/persist"
	"gopkg.in/yaml.v3"
)

// Config describes an index in a YAML file.
//
//	dimension: 128
//	storage:
//	  path: ./data
//	  name: demo
//	  durability: sync
//	search:
//	  metric: l2_square
//	  radius: 100
//	  constellation_size: 16
type Config struct {
	Dimension int           `yaml:"dimension"`
	Storage   StorageConfig `yaml:"storage"`
	Search    SearchConfig  `yaml:"search"`
	Build     BuildConfig   `yaml:"build"`
	Log       LogConfig     `yaml:"log"`
}

// StorageConfig selects on-disk storage. An empty Name keeps the index in
// memory.
type StorageConfig struct {
	Path            string `yaml:"path"`
	Name            string `yaml:"name"`
	Durability      string `yaml:"durability"`
	Compression     string `yaml:"compression"`
	DestroyOnDelete bool   `yaml:"destroy_on_delete"`
}

// SearchConfig holds the search parameters.
type SearchConfig struct {
	Metric            string   `yaml:"metric"`
	Radius            *float32 `yaml:"radius"`
	ConstellationSize int      `yaml:"constellation_size"`
	MaxConstellations int      `yaml:"max_constellations"`
	Seed              int64    `yaml:"seed"`
}

// BuildConfig holds the background build parameters.
type BuildConfig struct {
	Manual       bool          `yaml:"manual"`
	BatchSize    int           `yaml:"batch_size"`
	RebuildRatio *float64      `yaml:"rebuild_ratio"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	Workers      int64         `yaml:"workers"`
	IOLimit      int64         `yaml:"io_limit_bytes_per_sec"`
}

// LogConfig selects the logger. An empty Level disables logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads a YAML config file. A relative storage path is resolved
// against the directory of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if p := cfg.Storage.Path; p != "" && !filepath.IsAbs(p) {
		cfg.Storage.Path = filepath.Join(filepath.Dir(path), p)
	}
	return cfg, nil
}

// ParseConfig parses YAML config data.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", ErrInvalidConfiguration, err)
	}
	if cfg.Dimension <= 0 {
		return nil, invalidConfig("dimension %d must be positive", cfg.Dimension)
	}
	return &cfg, nil
}

// Options converts the config into index options.
func (c *Config) Options() ([]Option, error) {
	var opts []Option

	if c.Search.Metric != "" {
		m, err := distance.ParseMetric(c.Search.Metric)
		if err != nil {
			return nil, translateError(err)
		}
		opts = append(opts, WithMetric(m))
	}
	if c.Search.Radius != nil {
		opts = append(opts, WithRadius(*c.Search.Radius))
	}
	if c.Search.ConstellationSize != 0 {
		opts = append(opts, WithConstellationSize(c.Search.ConstellationSize))
	}
	if c.Search.MaxConstellations != 0 {
		opts = append(opts, WithMaxConstellations(c.Search.MaxConstellations))
	}
	if c.Search.Seed != 0 {
		opts = append(opts, WithSeed(c.Search.Seed))
	}

	if c.Build.Manual {
		opts = append(opts, WithManualBuild())
	}
	if c.Build.BatchSize != 0 {
		opts = append(opts, WithBuildBatchSize(c.Build.BatchSize))
	}
	if c.Build.RebuildRatio != nil {
		opts = append(opts, WithRebuildRatio(*c.Build.RebuildRatio))
	}
	if c.Build.ReadyTimeout != 0 {
		opts = append(opts, WithReadyTimeout(c.Build.ReadyTimeout))
	}
	if c.Build.Workers > 0 || c.Build.IOLimit > 0 {
		opts = append(opts, WithResourceController(NewResourceController(ResourceConfig{
			MaxBackgroundWorkers: c.Build.Workers,
			IOLimitBytesPerSec:   c.Build.IOLimit,
		})))
	}

	switch strings.ToLower(c.Storage.Durability) {
	case "", "async":
	case "sync":
		opts = append(opts, WithDurability(DurabilitySync))
	default:
		return nil, invalidConfig("unknown durability %q", c.Storage.Durability)
	}
	if c.Storage.Compression != "" {
		comp, err := persist.ParseCompression(c.Storage.Compression)
		if err != nil {
			return nil, translateError(err)
		}
		opts = append(opts, WithCompression(comp))
	}

	if c.Log.Level != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
			return nil, invalidConfig("log level %q", c.Log.Level)
		}
		switch strings.ToLower(c.Log.Format) {
		case "", "text":
			opts = append(opts, WithLogger(NewTextLogger(level)))
		case "json":
			opts = append(opts, WithLogger(NewJSONLogger(level)))
		default:
			return nil, invalidConfig("unknown log format %q", c.Log.Format)
		}
	}
	return opts, nil
}

// CreateFromConfig creates the index described by cfg. Extra options are
// applied after the ones derived from cfg.
func CreateFromConfig(cfg *Config, extra ...Option) (*Index, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	var idx *Index
	if cfg.Storage.Name == "" {
		idx, err = CreateInMemoryIndex(cfg.Dimension, opts...)
	} else {
		idx, err = CreateOnDiskIndex(cfg.Dimension, cfg.Storage.Path, cfg.Storage.Name, opts...)
	}
	if err != nil {
		return nil, err
	}
	idx.DestroyIndexOnDelete(cfg.Storage.DestroyOnDelete)
	return idx, nil
}
