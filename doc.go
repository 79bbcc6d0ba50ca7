// Package patann is an embeddable approximate nearest-neighbor index for
// float32 vectors.
//
// Vectors are grouped into constellations, clusters of about
// ConstellationSize members whose signature is their centroid. A query
// ranks the signatures by distance, scans every constellation within the
// search radius of the nearest one and keeps the K closest vectors by exact
// distance. Indexing runs in the background, so insertion never waits for
// the partition to be rebuilt.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, _ := patann.CreateInMemoryIndex(128)
//	defer idx.Destroy(ctx)
//
//	for _, v := range vectors {
//		idx.AddVector(v)
//	}
//	idx.WaitForIndexReady(ctx)
//
//	s, _ := idx.CreateQuerySession(patann.IndexRadius, 10)
//	defer s.Destroy()
//	s.Query(ctx, query, 10)
//	ids, dists := s.Results(), s.ResultDistances()
//
// # Storage
//
// CreateOnDiskIndex keeps vectors in an append-only log and persists the
// constellations after every build cycle, so a reopened index is ready
// without rebuilding:
//
//	idx, _ := patann.CreateOnDiskIndex(128, "./data", "demo",
//		patann.WithDurability(patann.DurabilitySync))
//
// Backup copies an on-disk index to a blob store (memory, local
// directory, S3 or MinIO) and RestoreOnDiskIndex brings it back.
//
// # Radius
//
// The radius is a percentage. With the nearest signature at distance d,
// every constellation whose signature lies within d + |d|*radius/100 is
// scanned. Zero scans only the nearest ones; larger values trade speed for
// recall. When fewer than K vectors are covered, the next nearest
// constellations are added until K are.
//
// # Build State
//
// An index is Empty until the first insertion, then Building until every
// inserted vector is indexed and Ready afterwards. A failed build moves it
// to Failed for good. Queries issued while Building use the last Ready
// partition. Progress is reported through SetIndexListener.
//
// # Errors
//
// Errors wrap the sentinels in errors.go and are checked with errors.Is:
//
//	if errors.Is(err, patann.ErrDimensionMismatch) { ... }
package patann
