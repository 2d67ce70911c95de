package maintenance

import (
	"context"

	"github.com/reynaldliu/milvus/internal/membuffer"
	"github.com/reynaldliu/milvus/model"
)

// Compact implements the operator-invoked variant of spec §4.4: for each
// RAW/INDEX segment in collectionID, if the fraction of its rows that are
// blacklisted exceeds CompactThreshold, rewrite it dropping tombstoned
// rows. Compaction of a single segment is the unit of atomicity — one
// segment's rewrite never blocks or depends on another's.
func (m *Merger) Compact(ctx context.Context, collectionID string, deleted deletionChecker) error {
	segs, err := m.Catalog.FilesByKind(ctx, collectionID, []model.SegmentKind{model.SegmentRaw, model.SegmentIndex})
	if err != nil {
		return err
	}
	for _, seg := range segs {
		if err := m.compactSegment(ctx, collectionID, seg, deleted); err != nil {
			return err
		}
	}
	return nil
}

func (m *Merger) compactSegment(ctx context.Context, collectionID string, seg model.Segment, deleted deletionChecker) error {
	release := m.Ongoing.Acquire(seg.ID)
	defer release()

	blob, err := m.Blobs.Open(ctx, membuffer.BlobName(collectionID, seg))
	if err != nil {
		return model.WrapError(model.ErrIO, "open compaction input blob", err)
	}
	data := make([]byte, blob.Size())
	_, err = blob.ReadAt(ctx, data, 0)
	blob.Close()
	if err != nil {
		return model.WrapError(model.ErrIO, "read compaction input blob", err)
	}
	records, err := membuffer.DecodeRawSegment(data)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	live := records[:0:0]
	deletedCount := 0
	for _, r := range records {
		if deleted != nil && deleted.IsDeleted(collectionID, r.PK) {
			deletedCount++
			continue
		}
		live = append(live, r)
	}
	if float64(deletedCount)/float64(len(records)) <= m.Config.CompactThreshold {
		return nil
	}

	newSeg, err := m.Catalog.CreateSegment(ctx, model.Segment{
		Collection:     collectionID,
		SegmentGroupID: newGroupIDFrom(nil),
		FileID:         collectionID + "-compact-" + newFileSuffix(),
		RowCount:       int64(len(live)),
		FlushLSN:       seg.FlushLSN,
	})
	if err != nil {
		return err
	}

	payload := membuffer.EncodeRawSegment(live)
	if err := m.Blobs.Put(ctx, membuffer.BlobName(collectionID, newSeg), payload); err != nil {
		return model.WrapError(model.ErrIO, "write compacted segment blob", err)
	}
	newSeg.Bytes = int64(len(payload))
	newSeg.Kind = seg.Kind // same-kind replacement, per spec

	old := seg
	old.Kind = model.SegmentToDelete
	return m.Catalog.UpdateSegments(ctx, []model.Segment{newSeg, old})
}
