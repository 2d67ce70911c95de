package membuffer

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/reynaldliu/milvus/blobstore"
	"github.com/reynaldliu/milvus/internal/hash"
	"github.com/reynaldliu/milvus/internal/metastore"
	"github.com/reynaldliu/milvus/model"
)

// rawSegmentMagic tags the opaque raw-vector blob format MemBuffer writes
// through blobstore.Store. The on-disk codec of a segment's vector payload
// is otherwise treated as opaque per the storage core's scope: this is the
// minimal concrete shape needed to round-trip a flush.
const rawSegmentMagic = "MVRAW001"

// Flusher seals MemBuffer contents into immutable RAW segments. It composes
// a blobstore.Store (standing in for the opaque SegmentStore collaborator)
// and the metastore catalog, and is the only place membuffer touches disk.
type Flusher struct {
	Buffer   *Buffer
	Blobs    blobstore.Store
	Catalog  *metastore.Store
	// TargetSegmentSize overrides the collection's own value when non-zero;
	// tests use this to force splitting with small fixtures.
	TargetSegmentSize int64
}

// Flush seals all pending data for collectionID as one or more NEW segments
// per partition (splitting when target_segment_size would be exceeded),
// writes raw blobs, transitions NEW->RAW in one MetaStore update per
// segment, and returns the produced segments. On any failure the NEW rows
// are left for shadow cleanup.
func (f *Flusher) Flush(ctx context.Context, collectionID string) ([]model.Segment, error) {
	coll, err := f.Catalog.DescribeCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	targetSize := coll.TargetSegmentSize
	if f.TargetSegmentSize > 0 {
		targetSize = f.TargetSegmentSize
	}

	partitionIDByTag := make(map[string]string)
	if partitions, err := f.Catalog.ShowPartitions(ctx, collectionID); err == nil {
		for _, p := range partitions {
			partitionIDByTag[p.PartitionTag] = p.ID
		}
	}

	var produced []model.Segment
	maxLSN := coll.FlushLSN
	flushLSNByCollection := map[string]model.LSN{collectionID: maxLSN}

	for _, tag := range f.Buffer.partitionTagsFor(collectionID) {
		// Root-collection writes use an empty partition tag and stay
		// attributed to collectionID; partition writes are segmented under
		// the partition's own collection row so filesToSearch scoped to one
		// partition tag never sees a sibling partition's (or the root's) data.
		segCollectionID := collectionID
		if tag != "" {
			id, ok := partitionIDByTag[tag]
			if !ok {
				continue // partition was dropped concurrently; its records stay buffered and later flushes skip them while no partition has this tag
			}
			segCollectionID = id
		}

		records, deletes, tagMaxLSN := f.Buffer.drain(collectionID, tag)
		_ = deletes // delete tombstones are applied via the blacklist, not segment rewriting
		if tagMaxLSN > maxLSN {
			maxLSN = tagMaxLSN
		}
		if tagMaxLSN > flushLSNByCollection[segCollectionID] {
			flushLSNByCollection[segCollectionID] = tagMaxLSN
		}
		if len(records) == 0 {
			continue
		}

		for _, batch := range splitBySize(records, coll.Dimension, targetSize) {
			seg, err := f.writeSegment(ctx, segCollectionID, batch, flushLSNByCollection[segCollectionID])
			if err != nil {
				return produced, err
			}
			seg.Kind = model.SegmentRaw
			if err := f.Catalog.UpdateSegment(ctx, seg); err != nil {
				return produced, err
			}
			seg.Kind = model.SegmentRaw
			produced = append(produced, seg)
		}
	}

	for id, lsn := range flushLSNByCollection {
		if err := f.Catalog.SetCollectionFlushLsn(ctx, id, lsn); err != nil {
			return produced, err
		}
	}
	return produced, nil
}

// FlushAll flushes every collection with pending data.
func (f *Flusher) FlushAll(ctx context.Context) ([]model.Segment, error) {
	var all []model.Segment
	for _, id := range f.Buffer.CollectionsWithPending() {
		segs, err := f.Flush(ctx, id)
		if err != nil {
			return all, err
		}
		all = append(all, segs...)
	}
	return all, nil
}

func splitBySize(records []model.Record, dim int, targetSize int64) [][]model.Record {
	rowSize := int64(8 + dim*4)
	if targetSize <= 0 || rowSize == 0 {
		return [][]model.Record{records}
	}
	rowsPerSegment := int(targetSize / rowSize)
	if rowsPerSegment < 1 {
		rowsPerSegment = 1
	}
	var batches [][]model.Record
	for len(records) > 0 {
		n := rowsPerSegment
		if n > len(records) {
			n = len(records)
		}
		batches = append(batches, records[:n])
		records = records[n:]
	}
	return batches
}

func (f *Flusher) writeSegment(ctx context.Context, collectionID string, records []model.Record, flushLSN model.LSN) (model.Segment, error) {
	fileID := collectionID + "-" + xid.New().String()

	seg, err := f.Catalog.CreateSegment(ctx, model.Segment{
		Collection:     collectionID,
		SegmentGroupID: newSegmentGroupID(),
		FileID:         fileID,
		RowCount:       int64(len(records)),
		FlushLSN:       flushLSN,
	})
	if err != nil {
		return model.Segment{}, err
	}

	payload := encodeRawSegment(records)
	if err := f.Blobs.Put(ctx, BlobName(collectionID, seg), payload); err != nil {
		return model.Segment{}, model.WrapError(model.ErrIO, "write raw segment blob", err)
	}
	seg.Bytes = int64(len(payload))
	seg.DateBucket = int32(time.Now().Unix() / 86400)
	return seg, nil
}

// BlobName derives a segment's blob path from its collection and group id,
// so any package holding a model.Segment (query dispatch, maintenance) can
// locate its blob without threading the string through the catalog.
func BlobName(collectionID string, seg model.Segment) string {
	return collectionID + "/" + strconv.FormatUint(seg.SegmentGroupID, 10) + "/" + seg.FileID
}

// newSegmentGroupID derives a fresh group id from xid's embedded timestamp
// and counter so groups stay roughly time-ordered without a shared counter.
func newSegmentGroupID() uint64 {
	id := xid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// EncodeRawSegment serializes records into the raw-segment blob format.
// Exported so the maintenance package can rewrite merged/compacted blobs
// with the same codec Flush uses.
func EncodeRawSegment(records []model.Record) []byte {
	return encodeRawSegment(records)
}

func encodeRawSegment(records []model.Record) []byte {
	dim := 0
	if len(records) > 0 {
		dim = len(records[0].Vector)
	}
	size := len(rawSegmentMagic) + 4 + 4 + len(records)*(8+dim*4) + 4
	buf := make([]byte, 0, size)
	buf = append(buf, rawSegmentMagic...)

	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, uint32(dim))
	buf = append(buf, tmp...)
	binary.LittleEndian.PutUint32(tmp, uint32(len(records)))
	buf = append(buf, tmp...)

	for _, r := range records {
		tmp8 := make([]byte, 8)
		binary.LittleEndian.PutUint64(tmp8, uint64(r.PK))
		buf = append(buf, tmp8...)
		for _, v := range r.Vector {
			binary.LittleEndian.PutUint32(tmp, math.Float32bits(v))
			buf = append(buf, tmp...)
		}
	}

	crc := hash.CRC32C(buf)
	binary.LittleEndian.PutUint32(tmp, crc)
	buf = append(buf, tmp...)
	return buf
}

// DecodeRawSegment parses a blob written by encodeRawSegment, verifying its
// checksum. Exported for the query dispatch and maintenance packages, which
// read segment blobs back to search or merge them.
func DecodeRawSegment(data []byte) ([]model.Record, error) {
	magicLen := len(rawSegmentMagic)
	if len(data) < magicLen+4+4+4 || string(data[:magicLen]) != rawSegmentMagic {
		return nil, model.NewError(model.ErrIO, "invalid raw segment header")
	}
	body := data[:len(data)-4]
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	if hash.CRC32C(body) != want {
		return nil, model.NewError(model.ErrIO, "raw segment checksum mismatch")
	}

	off := magicLen
	dim := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	count := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	records := make([]model.Record, count)
	for i := 0; i < count; i++ {
		if len(data) < off+8+dim*4 {
			return nil, model.NewError(model.ErrIO, "raw segment truncated")
		}
		pk := model.PrimaryKey(binary.LittleEndian.Uint64(data[off:]))
		off += 8
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		records[i] = model.Record{PK: pk, Vector: vec}
	}
	return records, nil
}
