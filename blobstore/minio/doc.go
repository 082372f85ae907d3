// Package minio provides a BlobStore on the MinIO client for MinIO and other
// S3-compatible object stores (Ceph, Garage, SeaweedFS).
//
//	store, err := minio.Dial("localhost:9000", "minioadmin", "minioadmin", false, "corpora", "swbd/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Reads are ranged GETs. Create streams into PutObject through a pipe.
package minio
