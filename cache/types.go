package cache

import (
	"context"

	"github.com/reynaldliu/milvus/model"
)

// Kind separates key spaces and tuning between different block consumers.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindSegmentBlock is a raw or index-artifact byte block read from a segment blob.
	KindSegmentBlock
	// KindPostings is a blacklist bitmap block.
	KindPostings
)

// Key must be stable across processes and snapshot-safe. ManifestID lets a
// cached value be scoped to a point-in-time segment population, so a merge
// or compaction that replaces a segment id does not serve stale blocks.
type Key struct {
	Kind      Kind
	SegmentID model.SegmentID
	ManifestID uint64
	// Offset is a logical block identifier (byte offset / block index).
	Offset uint64
	// Path identifies the source blob name for generic blob-level caching
	// (blobstore.CachingStore), used when SegmentID alone is insufficient.
	Path string
}

// BlockCache is a byte-oriented cache for immutable blocks. Returned slices
// must be treated as read-only by the caller.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches a block. Implementations may copy or retain; callers must
	// treat b as immutable afterward.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Close releases any resources held by the cache.
	Close() error
	// Stats returns cumulative hit/miss counts.
	Stats() (hits, misses int64)
}
