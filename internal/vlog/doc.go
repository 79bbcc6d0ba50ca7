// Package vlog implements the append-only vector log backing on-disk
// indexes.
//
// # File Format
//
//	header: magic "PATANNVL" (8) | version uint32 | dimension uint32
//	record: crc32c uint32 | id uint64 | dimension × float32
//
// All integers and floats are little-endian. Records have a fixed size for a
// given dimension, so the number of persisted vectors follows from the file
// size alone ([CountFile]) without reading the log.
//
// A torn tail is cut off when the log is opened and skipped by [Replay]: a
// trailing partial record, or trailing full-length records that fail their
// checksum because the file grew before their data reached the disk. A
// checksum mismatch followed by an intact record is reported as [ErrCorrupt].
package vlog
