package vlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
)

const (
	magic      = "PATANNVL"
	version    = 1
	headerSize = 16
)

var (
	// ErrInvalidHeader is returned when the file is not a vector log.
	ErrInvalidHeader = errors.New("vlog: invalid header")
	// ErrIncompatibleVersion is returned for logs written by another format version.
	ErrIncompatibleVersion = errors.New("vlog: incompatible version")
	// ErrDimension is returned when a log or record does not match the expected dimension.
	ErrDimension = errors.New("vlog: dimension mismatch")
	// ErrCorrupt is returned when a record fails its checksum.
	ErrCorrupt = errors.New("vlog: corrupt record")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// RecordSize returns the encoded size of one record for dimension dim.
func RecordSize(dim int) int64 {
	return 4 + 8 + 4*int64(dim)
}

func encodeHeader(dst []byte, dim int) {
	copy(dst[0:8], magic)
	binary.LittleEndian.PutUint32(dst[8:12], version)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(dim))
}

func decodeHeader(src []byte) (int, error) {
	if len(src) < headerSize || string(src[0:8]) != magic {
		return 0, ErrInvalidHeader
	}
	if v := binary.LittleEndian.Uint32(src[8:12]); v != version {
		return 0, ErrIncompatibleVersion
	}
	return int(binary.LittleEndian.Uint32(src[12:16])), nil
}

// encodeRecord writes one record into dst, which must be RecordSize(len(vec)) long.
func encodeRecord(dst []byte, id uint64, vec []float32) {
	binary.LittleEndian.PutUint64(dst[4:12], id)
	off := 12
	for _, v := range vec {
		binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(v))
		off += 4
	}
	binary.LittleEndian.PutUint32(dst[0:4], crc32.Checksum(dst[4:], castagnoli))
}

// checksumOK reports whether the record in src matches its checksum.
func checksumOK(src []byte) bool {
	return len(src) >= 4 && binary.LittleEndian.Uint32(src[0:4]) == crc32.Checksum(src[4:], castagnoli)
}

// decodeRecord verifies and decodes one record into vec.
func decodeRecord(src []byte, vec []float32) (uint64, error) {
	if int64(len(src)) != RecordSize(len(vec)) {
		return 0, ErrDimension
	}
	if !checksumOK(src) {
		return 0, ErrCorrupt
	}
	id := binary.LittleEndian.Uint64(src[4:12])
	off := 12
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[off:]))
		off += 4
	}
	return id, nil
}
