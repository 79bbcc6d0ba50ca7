package persist

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mesibo/patann/internal/fs"
	"github.com/vmihailenco/msgpack/v5"
)

// ManifestVersion is the current manifest format version.
const ManifestVersion = 1

// ErrNoManifest is returned when an index directory has no manifest.
var ErrNoManifest = errors.New("persist: no manifest")

// Manifest records the configuration and state of a persisted index.
type Manifest struct {
	Version           int       `msgpack:"version"`
	ID                string    `msgpack:"id"`
	Dimension         int       `msgpack:"dimension"`
	Metric            string    `msgpack:"metric"`
	Radius            float32   `msgpack:"radius"`
	ConstellationSize int       `msgpack:"constellation_size"`
	MaxConstellations int       `msgpack:"max_constellations"`
	Seed              int64     `msgpack:"seed"`
	Compression       string    `msgpack:"compression"`
	VectorCount       int64     `msgpack:"vector_count"`
	SnapshotCount     int64     `msgpack:"snapshot_count"`
	CreatedAt         time.Time `msgpack:"created_at"`
	UpdatedAt         time.Time `msgpack:"updated_at"`
}

// NewManifest returns a manifest with a fresh id.
func NewManifest(dim int) *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		Version:   ManifestVersion,
		ID:        uuid.NewString(),
		Dimension: dim,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SameLayout reports whether snapshots written under m can be loaded under
// o: everything that shapes constellations must match.
func (m *Manifest) SameLayout(o *Manifest) bool {
	return m.Dimension == o.Dimension &&
		m.Metric == o.Metric &&
		m.ConstellationSize == o.ConstellationSize &&
		m.MaxConstellations == o.MaxConstellations &&
		m.Seed == o.Seed
}

// WriteManifest replaces the manifest atomically.
func (l *Layout) WriteManifest(m *Manifest) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("persist: encode manifest: %w", err)
	}
	if err := fs.WriteFileAtomic(l.fs, l.ManifestPath(), data); err != nil {
		return fmt.Errorf("persist: write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the manifest.
func (l *Layout) ReadManifest() (*Manifest, error) {
	data, err := fs.ReadFile(l.fs, l.ManifestPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("persist: read manifest: %w", err)
	}
	var m Manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("persist: decode manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("persist: unsupported manifest version %d", m.Version)
	}
	return &m, nil
}
