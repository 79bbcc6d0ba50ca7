// Package blobstore abstracts the remote storage that on-disk indexes are
// backed up to and restored from.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process, for tests
//   - LocalStore: a directory on the local file system
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible servers
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Implementations must be safe for concurrent use.
package blobstore
