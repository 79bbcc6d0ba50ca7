// Package fs provides the filesystem seam used by on-disk indexes.
//
//   - [FileSystem] / [File]: the operations the vector log and the
//     persistence layer need
//   - [LocalFS]: the os-backed implementation ([Default])
//   - [FaultyFS]: a wrapper that injects write, sync and open failures so
//     storage error paths can be tested
//
// Tests inject a FaultyFS where production code uses fs.Default:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("constellations", fs.Fault{FailOnSync: true})
package fs
