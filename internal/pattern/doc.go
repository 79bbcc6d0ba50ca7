// Package pattern implements the constellation index that bounds the
// candidate set of a query.
//
// Vectors are grouped into constellations. Each constellation has a
// signature (its centroid) and a roaring bitmap of member ids. A query ranks
// constellations by the distance from the query to their signatures and
// only scans the members of the constellations within its radius.
//
// The index state is an immutable Snapshot. Writers build the next snapshot
// copy-on-write, cloning only the bitmaps they touch, and publish it with a
// single atomic store. Readers load a snapshot once and never observe a
// partially applied batch.
package pattern
