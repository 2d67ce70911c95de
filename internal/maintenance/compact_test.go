package maintenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reynaldliu/milvus/internal/membuffer"
	"github.com/reynaldliu/milvus/internal/ongoingops"
	"github.com/reynaldliu/milvus/model"
)

type fakeDeleted struct {
	ids map[model.PrimaryKey]bool
}

func (f fakeDeleted) IsDeleted(_ string, id model.PrimaryKey) bool {
	return f.ids[id]
}

func TestCompactRewritesWhenOverThreshold(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, buf := newTestFixture(t)

	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 1, Metric: model.MetricL2, TargetSegmentSize: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, buf.Append("c1", "", []model.Record{
		{PK: 1, Vector: []float32{1}},
		{PK: 2, Vector: []float32{2}},
		{PK: 3, Vector: []float32{3}},
		{PK: 4, Vector: []float32{4}},
	}, 1))
	flusher := &membuffer.Flusher{Buffer: buf, Blobs: blobs, Catalog: catalog}
	_, err = flusher.Flush(ctx, "c1")
	require.NoError(t, err)

	merger := &Merger{Catalog: catalog, Blobs: blobs, Ongoing: ongoingops.New(), Config: MergeConfig{CompactThreshold: 0.4}}
	deleted := fakeDeleted{ids: map[model.PrimaryKey]bool{1: true, 2: true, 3: true}} // 3/4 deleted > 0.4
	require.NoError(t, merger.Compact(ctx, "c1", deleted))

	segs, err := catalog.FilesToSearch(ctx, "c1", nil)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.EqualValues(t, 1, segs[0].RowCount)

	blob, err := blobs.Open(ctx, membuffer.BlobName("c1", segs[0]))
	require.NoError(t, err)
	data := make([]byte, blob.Size())
	_, err = blob.ReadAt(ctx, data, 0)
	require.NoError(t, err)
	recs, err := membuffer.DecodeRawSegment(data)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.PrimaryKey(4), recs[0].PK)
}

func TestCompactSkipsWhenUnderThreshold(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, buf := newTestFixture(t)

	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 1, Metric: model.MetricL2, TargetSegmentSize: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, buf.Append("c1", "", []model.Record{
		{PK: 1, Vector: []float32{1}},
		{PK: 2, Vector: []float32{2}},
	}, 1))
	flusher := &membuffer.Flusher{Buffer: buf, Blobs: blobs, Catalog: catalog}
	_, err = flusher.Flush(ctx, "c1")
	require.NoError(t, err)

	merger := &Merger{Catalog: catalog, Blobs: blobs, Ongoing: ongoingops.New(), Config: MergeConfig{CompactThreshold: 0.9}}
	deleted := fakeDeleted{ids: map[model.PrimaryKey]bool{1: true}}
	require.NoError(t, merger.Compact(ctx, "c1", deleted))

	segs, err := catalog.FilesToSearch(ctx, "c1", nil)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.EqualValues(t, 2, segs[0].RowCount) // untouched
}
