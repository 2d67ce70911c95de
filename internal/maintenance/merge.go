package maintenance

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/reynaldliu/milvus/blobstore"
	"github.com/reynaldliu/milvus/internal/membuffer"
	"github.com/reynaldliu/milvus/internal/metastore"
	"github.com/reynaldliu/milvus/internal/ongoingops"
	"github.com/reynaldliu/milvus/model"
)

// MergeConfig tunes the merge/compaction pool.
type MergeConfig struct {
	// Concurrency bounds how many merge batches run at once. Zero means 1.
	Concurrency int
	// BuildIndexThreshold: a merged segment with row_count at or above this
	// is stamped TO_INDEX instead of RAW.
	BuildIndexThreshold int64
	// CompactThreshold: Compact rewrites a segment when
	// deletedRowCount/totalRowCount exceeds this fraction.
	CompactThreshold float64
}

// Merger implements the merge/compaction pool.
type Merger struct {
	Catalog *metastore.Store
	Blobs   blobstore.Store
	Ongoing *ongoingops.Set
	Config  MergeConfig
}

// deletionChecker matches query.Blacklists' IsDeleted method by shape, so
// Compact can consult the live blacklist without importing the query
// package (which itself depends on maintenance-adjacent internals).
type deletionChecker interface {
	IsDeleted(collectionID string, id model.PrimaryKey) bool
}

// MergeCollection runs one pass of spec §4.4's merge pool over a single
// collection: gather filesToMerge, greedily pack size-descending batches up
// to target_segment_size, and merge each batch concurrently.
func (m *Merger) MergeCollection(ctx context.Context, collectionID string) error {
	coll, err := m.Catalog.DescribeCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	segs, err := m.Catalog.FilesToMerge(ctx, collectionID)
	if err != nil {
		return err
	}
	batches := packBatches(segs, coll.TargetSegmentSize)

	sem := semaphore.NewWeighted(int64(concurrencyOrDefault(m.Config.Concurrency)))
	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range batches {
		if len(batch) < 2 {
			continue // batches of size 1 are skipped per spec
		}
		batch := batch
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return m.mergeBatch(gctx, collectionID, batch)
		})
	}
	return g.Wait()
}

// packBatches greedily packs segments (already sorted size-descending by
// FilesToMerge) into batches that approach targetSize without exceeding it.
func packBatches(segs []model.Segment, targetSize int64) [][]model.Segment {
	var batches [][]model.Segment
	var current []model.Segment
	var currentBytes int64
	for _, s := range segs {
		if len(current) > 0 && currentBytes+s.Bytes > targetSize {
			batches = append(batches, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, s)
		currentBytes += s.Bytes
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func concurrencyOrDefault(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// mergeBatch concatenates a batch's raw rows into one new segment, then in
// a single MetaStore transaction transitions the new segment to RAW (or
// TO_INDEX, if BuildIndexThreshold is met) and all inputs to TO_DELETE.
func (m *Merger) mergeBatch(ctx context.Context, collectionID string, batch []model.Segment) error {
	ids := make([]model.SegmentID, len(batch))
	for i, s := range batch {
		ids[i] = s.ID
	}
	release := m.Ongoing.Acquire(ids...)
	defer release()

	var merged []model.Record
	var maxFlushLSN model.LSN
	for _, s := range batch {
		blob, err := m.Blobs.Open(ctx, membuffer.BlobName(collectionID, s))
		if err != nil {
			return model.WrapError(model.ErrIO, "open merge input blob", err)
		}
		data := make([]byte, blob.Size())
		_, err = blob.ReadAt(ctx, data, 0)
		blob.Close()
		if err != nil {
			return model.WrapError(model.ErrIO, "read merge input blob", err)
		}
		records, err := membuffer.DecodeRawSegment(data)
		if err != nil {
			return err
		}
		merged = append(merged, records...)
		if s.FlushLSN > maxFlushLSN {
			maxFlushLSN = s.FlushLSN
		}
	}

	newSeg, err := m.Catalog.CreateSegment(ctx, model.Segment{
		Collection:     collectionID,
		SegmentGroupID: newGroupIDFrom(batch),
		FileID:         collectionID + "-merge-" + newFileSuffix(),
		RowCount:       int64(len(merged)),
		FlushLSN:       maxFlushLSN,
	})
	if err != nil {
		return err
	}
	// NEW_MERGE is a catalog-invisible shadow state while the blob write
	// is in flight; a crash here leaves a shadow row PurgeShadowSegments
	// removes on restart, and the inputs remain untouched and searchable.
	newSeg.Kind = model.SegmentNewMerge
	if err := m.Catalog.UpdateSegment(ctx, newSeg); err != nil {
		return err
	}

	payload := membuffer.EncodeRawSegment(merged)
	if err := m.Blobs.Put(ctx, membuffer.BlobName(collectionID, newSeg), payload); err != nil {
		return model.WrapError(model.ErrIO, "write merged segment blob", err)
	}
	newSeg.Bytes = int64(len(payload))
	if newSeg.RowCount >= m.Config.BuildIndexThreshold && m.Config.BuildIndexThreshold > 0 {
		newSeg.Kind = model.SegmentToIndex
	} else {
		newSeg.Kind = model.SegmentRaw
	}

	toUpdate := make([]model.Segment, 0, len(batch)+1)
	toUpdate = append(toUpdate, newSeg)
	for _, s := range batch {
		s.Kind = model.SegmentToDelete
		toUpdate = append(toUpdate, s)
	}
	return m.Catalog.UpdateSegments(ctx, toUpdate)
}
