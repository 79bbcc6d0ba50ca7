package pattern

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	snapshotMagic   = "PCST"
	snapshotVersion = 1
)

// ErrInvalidSnapshot is returned when a serialized snapshot is malformed.
var ErrInvalidSnapshot = errors.New("pattern: invalid snapshot")

// WriteTo serializes the snapshot: a fixed header, the centroids, then each
// member bitmap in the portable roaring format with a length prefix.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 0, 24+len(s.centroids)*4)
	buf = append(buf, snapshotMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, snapshotVersion)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.members)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.rebuiltAt))
	for _, f := range s.centroids {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}

	total, err := w.Write(buf)
	written := int64(total)
	if err != nil {
		return written, err
	}

	for _, bm := range s.members {
		data, err := bm.ToBytes()
		if err != nil {
			return written, err
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
		n, err := w.Write(lenBuf[:])
		written += int64(n)
		if err != nil {
			return written, err
		}
		n, err = w.Write(data)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadSnapshot deserializes a snapshot written by WriteTo.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var header [24]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrInvalidSnapshot, err)
	}
	if string(header[:4]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidSnapshot)
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidSnapshot, v)
	}
	dim := int(binary.LittleEndian.Uint32(header[8:12]))
	count := int(binary.LittleEndian.Uint32(header[12:16]))
	rebuiltAt := int64(binary.LittleEndian.Uint64(header[16:24]))
	if dim <= 0 || count < 0 || rebuiltAt < 0 {
		return nil, fmt.Errorf("%w: dim %d count %d", ErrInvalidSnapshot, dim, count)
	}

	raw := make([]byte, count*dim*4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: centroids: %w", ErrInvalidSnapshot, err)
	}
	s := &Snapshot{
		dim:       dim,
		centroids: make([]float32, count*dim),
		members:   make([]*roaring.Bitmap, count),
		rebuiltAt: rebuiltAt,
	}
	for i := range s.centroids {
		s.centroids[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	var lenBuf [4]byte
	for i := range s.members {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: bitmap %d: %w", ErrInvalidSnapshot, i, err)
		}
		data := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("%w: bitmap %d: %w", ErrInvalidSnapshot, i, err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("%w: bitmap %d: %w", ErrInvalidSnapshot, i, err)
		}
		s.members[i] = bm
	}

	if count == 0 {
		s.all = roaring.New()
	} else {
		s.all = roaring.FastOr(s.members...)
	}
	if s.rebuiltAt > s.Len() {
		return nil, fmt.Errorf("%w: rebuilt at %d of %d", ErrInvalidSnapshot, s.rebuiltAt, s.Len())
	}
	return s, nil
}
