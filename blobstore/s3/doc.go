// Package s3 provides an S3-backed blobstore.Store for segment blobs.
//
// # Usage
//
//	client := s3.NewFromConfig(awsCfg)
//	store := s3blob.NewStore(client, "my-bucket", "vectors/")
//
// # Features
//
//   - Range reads for efficient partial fetches during query dispatch
//   - Multipart uploads with CRC32C checksums for large segments
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
