package persist

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/mesibo/patann/internal/fs"
	"github.com/mesibo/patann/internal/pattern"
	"github.com/mesibo/patann/internal/resource"
)

const (
	snapshotMagic      = "PSNF"
	snapshotHeaderSize = 8
	snapshotTrailer    = 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	// ErrNoSnapshot is returned when no snapshot file exists.
	ErrNoSnapshot = errors.New("persist: no snapshot")
	// ErrCorrupt is returned when a snapshot fails validation.
	ErrCorrupt = errors.New("persist: corrupt snapshot")
)

// WriteSnapshot serializes, compresses and atomically replaces the snapshot
// file. Writes are paced by rc. It returns the file size.
func (l *Layout) WriteSnapshot(ctx context.Context, snap *pattern.Snapshot, c Compression, rc *resource.Controller) (int64, error) {
	var raw bytes.Buffer
	if _, err := snap.WriteTo(&raw); err != nil {
		return 0, fmt.Errorf("persist: encode snapshot: %w", err)
	}
	block, err := compressBlock(raw.Bytes(), c)
	if err != nil {
		return 0, fmt.Errorf("persist: compress snapshot: %w", err)
	}

	out := make([]byte, 0, snapshotHeaderSize+len(block)+snapshotTrailer)
	out = append(out, snapshotMagic...)
	out = append(out, byte(c), 0, 0, 0)
	out = append(out, block...)
	out = binary.LittleEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))

	err = fs.WriteAtomic(l.fs, l.SnapshotPath(), func(w io.Writer) error {
		_, err := resource.NewRateLimitedWriter(ctx, w, rc).Write(out)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("persist: write snapshot: %w", err)
	}
	return int64(len(out)), nil
}

// ReadSnapshot loads and validates the snapshot file.
func (l *Layout) ReadSnapshot() (*pattern.Snapshot, error) {
	data, err := fs.ReadFile(l.fs, l.SnapshotPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("persist: read snapshot: %w", err)
	}
	if len(data) < snapshotHeaderSize+snapshotTrailer || string(data[:4]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}

	body := data[:len(data)-snapshotTrailer]
	want := binary.LittleEndian.Uint32(data[len(data)-snapshotTrailer:])
	if got := crc32.Checksum(body, castagnoli); got != want {
		return nil, fmt.Errorf("%w: checksum %08x, want %08x", ErrCorrupt, got, want)
	}

	raw, err := decompressBlock(body[snapshotHeaderSize:], Compression(data[4]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	snap, err := pattern.ReadSnapshot(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return snap, nil
}
