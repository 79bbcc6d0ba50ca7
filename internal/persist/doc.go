// Package persist manages the on-disk files of an index.
//
// An index named "demo" under root R lives in R/demo/:
//
//	MANIFEST             msgpack-encoded Manifest, replaced atomically
//	vectors.log          append-only vector log
//	constellations.snap  compressed constellation snapshot, CRC32C trailer
//
// The vector log is the source of truth. The snapshot only saves the
// repartition on reopen and is ignored when it does not match the log.
package persist
