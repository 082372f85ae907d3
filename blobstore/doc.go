// Package blobstore abstracts the backing store that corpus files are read
// from.
//
// Sources need random reads: one header per utterance at construction and
// one frame range per utterance on page-in. Script, state list and MLF files
// are streamed whole through OpenReader. Blobs that implement Mappable are
// decoded in place. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, memory-mapped reads
//   - MemoryStore: in-memory blobs for tests
//   - CachingStore: block cache in front of any store (useful for remote stores)
//   - FaultyStore: injects read failures for paging tests
//   - s3.Store, minio.Store: object storage with range reads
package blobstore
