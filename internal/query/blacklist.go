package query

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/reynaldliu/milvus/model"
)

// Blacklists is a per-collection soft-delete bitset, recomputed at load from
// DELETE WAL records and consulted at search time to mask out deleted ids.
type Blacklists struct {
	mu   sync.RWMutex
	bits map[string]*roaring64.Bitmap // collectionID -> deleted primary keys
}

// NewBlacklists creates an empty set of per-collection blacklists.
func NewBlacklists() *Blacklists {
	return &Blacklists{bits: make(map[string]*roaring64.Bitmap)}
}

// Delete marks ids soft-deleted for a collection.
func (b *Blacklists) Delete(collectionID string, ids []model.PrimaryKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bm, ok := b.bits[collectionID]
	if !ok {
		bm = roaring64.New()
		b.bits[collectionID] = bm
	}
	for _, id := range ids {
		bm.Add(uint64(id))
	}
}

// IsDeleted reports whether id is soft-deleted in collectionID.
func (b *Blacklists) IsDeleted(collectionID string, id model.PrimaryKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bm, ok := b.bits[collectionID]
	if !ok {
		return false
	}
	return bm.Contains(uint64(id))
}

// Snapshot returns a frozen copy of a collection's blacklist for use by a
// single query's worker fan-out, so concurrent deletes during the query
// cannot introduce inconsistent masking across segments.
func (b *Blacklists) Snapshot(collectionID string) *roaring64.Bitmap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bm, ok := b.bits[collectionID]
	if !ok {
		return roaring64.New()
	}
	return bm.Clone()
}
