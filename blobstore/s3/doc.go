// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//	    return err
//	}
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "patann/")
//
//	err = idx.Backup(ctx, store, "nightly")
//
// # Features
//
//   - Range reads for blob downloads
//   - Multipart streaming uploads through the transfer manager
//   - CRC32C integrity checksums on every upload
//   - Automatic pagination for listing
package s3
