// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// Published column archives are read back with ranged GETs and written with
// the multipart upload manager:
//
//	store, err := s3.New(ctx, "openalex-columns",
//	    s3.WithPrefix("2024-06/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//	err = archive.Publish(ctx, columns, store, "derived")
package s3
