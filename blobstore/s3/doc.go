// Package s3 provides an S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "corpora",
//	    s3.WithPrefix("swbd/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// Headers and frame ranges are fetched with ranged GETs, so wrapping the
// store in a blobstore.CachingStore is recommended for small utterances.
package s3
