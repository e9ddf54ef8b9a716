// Package blobstore is the read path for finished columns and the write
// path for published archives.
//
// A column reader never cares where the bytes live: local columns are
// memory-mapped by [LocalStore], tests use [MemoryStore], and published
// namespaces can be read straight from object storage through the s3 and
// minio subpackages.
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Blobs that can hand out their bytes without copying implement [Mappable];
// [ReadAll] takes that path when available.
package blobstore
