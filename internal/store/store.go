// Package store holds the raw vectors of an index.
//
// Vectors live in fixed-size chunks that are never reallocated, so a view
// returned by View stays valid for the lifetime of the store. In on-disk mode
// every append is written to the vector log before the new id becomes
// visible.
package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mesibo/patann/internal/fs"
	"github.com/mesibo/patann/internal/vlog"
)

const chunkVectors = 1024

var (
	// ErrDimensionMismatch is returned when a vector has the wrong length.
	ErrDimensionMismatch = errors.New("store: dimension mismatch")
	// ErrNotFound is returned for ids that were never stored.
	ErrNotFound = errors.New("store: not found")
	// ErrStorage wraps vector log failures.
	ErrStorage = errors.New("store: storage failure")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Store is an append-only vector store.
type Store struct {
	dim int

	mu     sync.Mutex // serializes appends and chunk growth
	chunks atomic.Pointer[[][]float32]
	count  atomic.Int64
	closed bool

	log *vlog.Log // nil for in-memory stores
}

// NewMemory creates an in-memory store for vectors of dimension dim.
func NewMemory(dim int) *Store {
	s := &Store{dim: dim}
	empty := make([][]float32, 0)
	s.chunks.Store(&empty)
	return s
}

// OpenDisk opens the vector log at path, replays it and returns a store
// that appends to it. Replayed ids must be dense and ascending from zero.
func OpenDisk(fsys fs.FileSystem, path string, dim int, opts vlog.Options) (*Store, error) {
	s := NewMemory(dim)

	var expect uint64
	if _, err := vlog.Replay(fsys, path, dim, func(id uint64, vec []float32) error {
		if id != expect {
			return fmt.Errorf("%w: id %d at position %d", vlog.ErrCorrupt, id, expect)
		}
		expect++
		s.appendLocked(vec)
		return nil
	}); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: replay: %w", ErrStorage, err)
	}

	l, err := vlog.Open(fsys, path, dim, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if l.Count() != s.Count() {
		_ = l.Close()
		return nil, fmt.Errorf("%w: log has %d records, replayed %d", ErrStorage, l.Count(), s.Count())
	}
	s.log = l
	return s, nil
}

// Dim returns the vector dimension.
func (s *Store) Dim() int {
	return s.dim
}

// Append stores a copy of vec and returns its id.
func (s *Store) Append(vec []float32) (int64, error) {
	if len(vec) != s.dim {
		return -1, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dim, len(vec))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return -1, ErrClosed
	}

	id := s.count.Load()
	if s.log != nil {
		if err := s.log.Append(uint64(id), vec); err != nil {
			return -1, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}
	return s.appendLocked(vec), nil
}

// appendLocked copies vec into the arena. The caller holds s.mu or owns s
// exclusively.
func (s *Store) appendLocked(vec []float32) int64 {
	id := s.count.Load()
	chunks := *s.chunks.Load()
	ci := int(id / chunkVectors)
	if ci == len(chunks) {
		grown := make([][]float32, len(chunks)+1)
		copy(grown, chunks)
		grown[ci] = make([]float32, chunkVectors*s.dim)
		s.chunks.Store(&grown)
		chunks = grown
	}
	off := int(id%chunkVectors) * s.dim
	copy(chunks[ci][off:off+s.dim], vec)

	// Publishing the count last makes the vector visible only once written.
	s.count.Store(id + 1)
	return id
}

// View returns a read-only view of the stored vector. The caller must not
// modify it.
func (s *Store) View(id int64) ([]float32, error) {
	if id < 0 || id >= s.count.Load() {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	chunks := *s.chunks.Load()
	off := int(id%chunkVectors) * s.dim
	return chunks[id/chunkVectors][off : off+s.dim : off+s.dim], nil
}

// Get returns a copy of the stored vector.
func (s *Store) Get(id int64) ([]float32, error) {
	v, err := s.View(id)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// Count returns the number of stored vectors.
func (s *Store) Count() int64 {
	return s.count.Load()
}

// Persistent reports whether the store is backed by a vector log.
func (s *Store) Persistent() bool {
	return s.log != nil
}

// Flush syncs the vector log. It is a no-op for in-memory stores.
func (s *Store) Flush() error {
	if s.log == nil {
		return nil
	}
	if err := s.log.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// Close closes the vector log. Views stay readable; appends fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.log != nil {
		if err := s.log.Close(); err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}
	return nil
}
