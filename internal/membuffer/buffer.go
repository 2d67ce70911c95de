// Package membuffer implements the per-collection in-memory accumulator of
// inserts and deletes pending since the last successful flush.
//
// A vector entering Append at LSN L is either visible in a RAW segment with
// flush_lsn >= L, or still present in the buffer and recoverable from WAL —
// MemBuffer never discards data except through a committed Flush.
package membuffer

import (
	"sync"

	"github.com/reynaldliu/milvus/model"
)

// pending holds one collection/partition's not-yet-flushed state.
type pending struct {
	mu       sync.Mutex
	records  []model.Record
	deletes  map[model.PrimaryKey]model.LSN // tombstone LSN per id
	bytes    int64
	maxLSN   model.LSN
}

func newPending() *pending {
	return &pending{deletes: make(map[model.PrimaryKey]model.LSN)}
}

// key identifies a (collection, partition) buffer.
type key struct {
	collectionID string
	partitionTag string
}

// Buffer is the process-wide MemBuffer: one pending accumulator per
// collection/partition pair, each independently locked.
type Buffer struct {
	dimension func(collectionID string) (int, error)

	mu       sync.RWMutex
	byKey    map[key]*pending
}

// New creates an empty Buffer. dimension is consulted to reject inserts
// with a mismatched vector width.
func New(dimension func(collectionID string) (int, error)) *Buffer {
	return &Buffer{dimension: dimension, byKey: make(map[key]*pending)}
}

func (b *Buffer) getOrCreate(collectionID, partitionTag string) *pending {
	k := key{collectionID, partitionTag}

	b.mu.RLock()
	p, ok := b.byKey[k]
	b.mu.RUnlock()
	if ok {
		return p
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok = b.byKey[k]; ok {
		return p
	}
	p = newPending()
	b.byKey[k] = p
	return p
}

// Append adds a batch of records to the buffer, O(records). Rejects the
// whole batch if any record's vector width mismatches the collection's
// dimension.
func (b *Buffer) Append(collectionID, partitionTag string, records []model.Record, lsn model.LSN) error {
	dim, err := b.dimension(collectionID)
	if err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Vector) != dim {
			return model.NewError(model.ErrDimensionMismatch,
				"record vector width does not match collection dimension")
		}
	}

	p := b.getOrCreate(collectionID, partitionTag)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, records...)
	for _, r := range records {
		p.bytes += int64(len(r.Vector))*4 + 8
	}
	if lsn > p.maxLSN {
		p.maxLSN = lsn
	}
	return nil
}

// AppendDelete records a tombstone LSN per id against the root collection's
// buffer (deletes apply at the collection level; partitions share the
// parent's blacklist scope at query time).
func (b *Buffer) AppendDelete(collectionID string, ids []model.PrimaryKey, lsn model.LSN) error {
	p := b.getOrCreate(collectionID, "")
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if existing, ok := p.deletes[id]; !ok || lsn > existing {
			p.deletes[id] = lsn
		}
	}
	if lsn > p.maxLSN {
		p.maxLSN = lsn
	}
	return nil
}

// SizeBytes returns the estimated in-memory footprint of all pending data.
func (b *Buffer) SizeBytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, p := range b.byKey {
		p.mu.Lock()
		total += p.bytes
		p.mu.Unlock()
	}
	return total
}

// RowCount returns the number of pending (not yet flushed) insert rows
// across every collection and partition.
func (b *Buffer) RowCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, p := range b.byKey {
		p.mu.Lock()
		total += int64(len(p.records))
		p.mu.Unlock()
	}
	return total
}

// CollectionsWithPending returns every collection id holding unflushed data.
func (b *Buffer) CollectionsWithPending() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for k, p := range b.byKey {
		p.mu.Lock()
		has := len(p.records) > 0 || len(p.deletes) > 0
		p.mu.Unlock()
		if has && !seen[k.collectionID] {
			seen[k.collectionID] = true
			out = append(out, k.collectionID)
		}
	}
	return out
}

// drain atomically takes and clears one (collection, partition) buffer's
// pending state, replacing it with a fresh empty pending so concurrent
// appends racing the flush land in the next generation.
func (b *Buffer) drain(collectionID, partitionTag string) (records []model.Record, deletes map[model.PrimaryKey]model.LSN, maxLSN model.LSN) {
	p := b.getOrCreate(collectionID, partitionTag)
	p.mu.Lock()
	defer p.mu.Unlock()
	records, deletes, maxLSN = p.records, p.deletes, p.maxLSN
	p.records = nil
	p.deletes = make(map[model.PrimaryKey]model.LSN)
	p.bytes = 0
	return
}

// partitionTagsFor returns every partition tag (including the root "") that
// currently holds pending records for collectionID.
func (b *Buffer) partitionTagsFor(collectionID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var tags []string
	for k, p := range b.byKey {
		if k.collectionID != collectionID {
			continue
		}
		p.mu.Lock()
		has := len(p.records) > 0
		p.mu.Unlock()
		if has {
			tags = append(tags, k.partitionTag)
		}
	}
	return tags
}
