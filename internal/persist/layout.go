package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesibo/patann/internal/fs"
	"github.com/mesibo/patann/internal/vlog"
)

// File names inside an index directory.
const (
	ManifestFile = "MANIFEST"
	LogFile      = "vectors.log"
	SnapshotFile = "constellations.snap"
)

// ErrInvalidName is returned for index names that are not a single path
// element.
var ErrInvalidName = errors.New("persist: invalid index name")

// DefaultRoot returns the directory used when no path is given: the user
// cache directory, or the temp directory if there is none.
func DefaultRoot() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "patann")
	}
	return filepath.Join(os.TempDir(), "patann")
}

// Layout locates the files of one index.
type Layout struct {
	fs  fs.FileSystem
	dir string
}

// NewLayout returns the layout of index name under root. An empty root
// means DefaultRoot.
func NewLayout(fsys fs.FileSystem, root, name string) (*Layout, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if fsys == nil {
		fsys = fs.Default
	}
	if root == "" {
		root = DefaultRoot()
	}
	return &Layout{fs: fsys, dir: filepath.Join(root, name)}, nil
}

// FS returns the file system of the layout.
func (l *Layout) FS() fs.FileSystem { return l.fs }

// Dir returns the index directory.
func (l *Layout) Dir() string { return l.dir }

// ManifestPath returns the path of the manifest.
func (l *Layout) ManifestPath() string { return filepath.Join(l.dir, ManifestFile) }

// LogPath returns the path of the vector log.
func (l *Layout) LogPath() string { return filepath.Join(l.dir, LogFile) }

// SnapshotPath returns the path of the constellation snapshot.
func (l *Layout) SnapshotPath() string { return filepath.Join(l.dir, SnapshotFile) }

// Create makes the index directory.
func (l *Layout) Create() error {
	return l.fs.MkdirAll(l.dir, 0o755)
}

// Exists reports whether a vector log or manifest is present.
func (l *Layout) Exists() bool {
	for _, p := range []string{l.LogPath(), l.ManifestPath()} {
		if _, err := l.fs.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// VectorCount returns the number of complete records in the vector log,
// computed from its size without reading the vectors. A missing log counts
// as zero.
func (l *Layout) VectorCount() (int64, error) {
	dim, err := vlog.ReadDimension(l.fs, l.LogPath())
	if err != nil {
		// A log torn before its header was written holds no vectors.
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, vlog.ErrInvalidHeader) {
			return 0, nil
		}
		return 0, err
	}
	return vlog.CountFile(l.fs, l.LogPath(), dim)
}

// DiskSize returns the total size of the files in the index directory.
func (l *Layout) DiskSize() (int64, error) {
	entries, err := l.fs.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Files returns the names of the index files that exist, in a stable order.
func (l *Layout) Files() []string {
	var out []string
	for _, name := range []string{ManifestFile, LogFile, SnapshotFile} {
		if _, err := l.fs.Stat(filepath.Join(l.dir, name)); err == nil {
			out = append(out, name)
		}
	}
	return out
}

// Remove deletes the index directory and everything in it.
func (l *Layout) Remove() error {
	return l.fs.RemoveAll(l.dir)
}

// RemoveSnapshot deletes the constellation snapshot, if any.
func (l *Layout) RemoveSnapshot() error {
	err := l.fs.Remove(l.SnapshotPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
