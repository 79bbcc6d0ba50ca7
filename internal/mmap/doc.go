// Package mmap maps files read-only into memory.
//
// The vector log is replayed from a mapping instead of through buffered
// reads, so opening a large on-disk index touches each page once and never
// copies record payloads through an intermediate buffer.
//
//	m, err := mmap.Open("vectors.log")
//	if err != nil { ... }
//	defer m.Close()
//	_ = m.Advise(mmap.AccessSequential)
//	hdr, err := m.Region(0, 16)
//
// Unix uses mmap(2)/madvise(2); Windows uses CreateFileMapping and treats
// Advise as a no-op.
package mmap
