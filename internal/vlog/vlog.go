package vlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mesibo/patann/internal/fs"
	"github.com/mesibo/patann/internal/mmap"
)

// Durability controls when appended records reach stable storage.
type Durability int

const (
	// DurabilityAsync leaves records in the OS page cache until Sync.
	DurabilityAsync Durability = iota
	// DurabilitySync fsyncs after every append.
	DurabilitySync
)

func (d Durability) String() string {
	switch d {
	case DurabilityAsync:
		return "async"
	case DurabilitySync:
		return "sync"
	default:
		return fmt.Sprintf("Durability(%d)", int(d))
	}
}

// Options configures a Log.
type Options struct {
	Durability Durability
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{Durability: DurabilityAsync}
}

// Log is an open vector log.
type Log struct {
	mu      sync.Mutex
	fs      fs.FileSystem
	file    fs.File
	path    string
	dim     int
	opts    Options
	size    int64
	scratch []byte
	closed  bool
	lastErr error // set when the file could not be restored after a failed write
}

// Open opens or creates the log at path for vectors of dimension dim.
// A torn tail is truncated away: a trailing partial record, or a trailing
// run of full-length records that fail their checksum.
func Open(fsys fs.FileSystem, path string, dim int, opts Options) (*Log, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrDimension, dim)
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := stat.Size()

	if size == 0 {
		header := make([]byte, headerSize)
		encodeHeader(header, dim)
		if _, err := f.Write(header); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		size = headerSize
	} else {
		header := make([]byte, headerSize)
		if _, err := f.ReadAt(header, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
		}
		got, err := decodeHeader(header)
		if err != nil {
			f.Close()
			return nil, err
		}
		if got != dim {
			f.Close()
			return nil, fmt.Errorf("%w: log has %d, want %d", ErrDimension, got, dim)
		}
		n, err := intactRecords(fileReader(f), size, dim)
		if err != nil {
			f.Close()
			return nil, err
		}
		valid := headerSize + n*RecordSize(dim)
		if valid != size {
			if err := fsys.Truncate(path, valid); err != nil {
				f.Close()
				return nil, err
			}
			size = valid
		}
	}

	if _, err := f.Seek(size, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	return &Log{
		fs:      fsys,
		file:    f,
		path:    path,
		dim:     dim,
		opts:    opts,
		size:    size,
		scratch: make([]byte, RecordSize(dim)),
	}, nil
}

// Append writes one record. With DurabilitySync the record is fsynced
// before Append returns. A failed append leaves the log unchanged.
func (l *Log) Append(id uint64, vec []float32) error {
	if len(vec) != l.dim {
		return fmt.Errorf("%w: record has %d, want %d", ErrDimension, len(vec), l.dim)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return os.ErrClosed
	}
	if l.lastErr != nil {
		return l.lastErr
	}

	encodeRecord(l.scratch, id, vec)
	n, err := l.file.Write(l.scratch)
	if err == nil && l.opts.Durability == DurabilitySync {
		err = l.file.Sync()
	}
	if err != nil {
		if n > 0 || l.opts.Durability == DurabilitySync {
			l.rollback()
		}
		return err
	}

	l.size += int64(n)
	return nil
}

// rollback cuts the file back to the last complete record.
func (l *Log) rollback() {
	if err := l.fs.Truncate(l.path, l.size); err != nil {
		l.lastErr = fmt.Errorf("vlog: rollback failed: %w", err)
		return
	}
	if _, err := l.file.Seek(l.size, io.SeekStart); err != nil {
		l.lastErr = fmt.Errorf("vlog: rollback failed: %w", err)
	}
}

// Sync commits appended records to stable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return os.ErrClosed
	}
	if l.lastErr != nil {
		return l.lastErr
	}
	return l.file.Sync()
}

// Size returns the current size of the log in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Count returns the number of records in the log.
func (l *Log) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return CountRecords(l.size, l.dim)
}

// Close syncs and closes the log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return os.ErrClosed
	}
	l.closed = true

	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	return errors.Join(syncErr, closeErr)
}

// CountRecords returns how many complete records fit in a log of fileSize bytes.
func CountRecords(fileSize int64, dim int) int64 {
	if dim <= 0 || fileSize <= headerSize {
		return 0
	}
	return (fileSize - headerSize) / RecordSize(dim)
}

// CountFile returns the number of complete records in the log at path
// without reading it. A missing file has zero records.
func CountFile(fsys fs.FileSystem, path string, dim int) (int64, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	fi, err := fsys.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return CountRecords(fi.Size(), dim), nil
}

// readFunc returns n bytes of a log starting at off. The slice is only
// valid until the next call.
type readFunc func(off int64, n int) ([]byte, error)

func fileReader(r io.ReaderAt) readFunc {
	var buf []byte
	return func(off int64, n int) ([]byte, error) {
		if cap(buf) < n {
			buf = make([]byte, n)
		}
		buf = buf[:n]
		if _, err := r.ReadAt(buf, off); err != nil {
			return nil, err
		}
		return buf, nil
	}
}

// intactRecords returns the number of complete records of a log of size
// bytes, minus any trailing run of records that fail their checksum. Such a
// run is what a crash leaves behind when the file length reached the disk
// before the data did.
func intactRecords(read readFunc, size int64, dim int) (int64, error) {
	recSize := RecordSize(dim)
	n := CountRecords(size, dim)
	for n > 0 {
		rec, err := read(headerSize+(n-1)*recSize, int(recSize))
		if err != nil {
			return 0, err
		}
		if checksumOK(rec) {
			break
		}
		n--
	}
	return n, nil
}

// Replay opens the log at path through fsys and calls fn for every intact
// record in order. The vector passed to fn is reused between calls. A torn
// tail is skipped the same way Open truncates it; a bad checksum before the
// last intact record is ErrCorrupt. Replay returns the number of records
// visited.
func Replay(fsys fs.FileSystem, path string, dim int, fn func(id uint64, vec []float32) error) (int64, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := stat.Size()
	if size == 0 {
		return 0, nil
	}

	read := fileReader(f)
	if osf, ok := f.(*os.File); ok {
		m, err := mmap.Map(osf)
		if err != nil {
			return 0, err
		}
		defer m.Close()
		_ = m.Advise(mmap.AccessSequential)
		read = m.Region
	}

	header, err := read(0, headerSize)
	if err != nil {
		return 0, ErrInvalidHeader
	}
	got, err := decodeHeader(header)
	if err != nil {
		return 0, err
	}
	if got != dim {
		return 0, fmt.Errorf("%w: log has %d, want %d", ErrDimension, got, dim)
	}

	n, err := intactRecords(read, size, dim)
	if err != nil {
		return 0, err
	}
	recSize := RecordSize(dim)
	vec := make([]float32, dim)
	for i := int64(0); i < n; i++ {
		rec, err := read(headerSize+i*recSize, int(recSize))
		if err != nil {
			return i, err
		}
		id, err := decodeRecord(rec, vec)
		if err != nil {
			return i, fmt.Errorf("record %d: %w", i, err)
		}
		if err := fn(id, vec); err != nil {
			return i, err
		}
	}
	return n, nil
}

// ReadDimension returns the dimension recorded in the header of the log at path.
func ReadDimension(fsys fs.FileSystem, path string) (int, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, ErrInvalidHeader
	}
	return decodeHeader(header)
}
