// Package cache provides an LRU cache for immutable byte blocks.
//
// Two key spaces share the implementation:
//   - CacheKindBlob: fixed-size blocks of remote blobs (see blobstore.CachingStore)
//   - CacheKindChunk: compressed images of released chunks (spill cache)
package cache

import (
	"context"
)

// CacheKind separates key spaces.
type CacheKind uint8

const (
	CacheKindUnknown CacheKind = iota
	CacheKindBlob              // blob store blocks
	CacheKindChunk             // spilled chunk images
)

// CacheKey identifies a cached block.
type CacheKey struct {
	Kind CacheKind
	// Path identifies the origin: a blob name or a source name.
	Path string
	// Offset is a logical block identifier (block index or chunk id).
	Offset uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key CacheKey) (b []byte, ok bool)
	// Set caches a block. The cache retains b; callers must not modify it afterwards.
	Set(ctx context.Context, key CacheKey, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key CacheKey) bool)
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}
