package maintenance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reynaldliu/milvus/blobstore"
	"github.com/reynaldliu/milvus/internal/membuffer"
	"github.com/reynaldliu/milvus/internal/metastore"
	"github.com/reynaldliu/milvus/internal/ongoingops"
	"github.com/reynaldliu/milvus/model"
)

func newTestFixture(t *testing.T) (*metastore.Store, blobstore.Store, *membuffer.Buffer) {
	t.Helper()
	catalog, err := metastore.Open(context.Background(), filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	blobs := blobstore.NewMemoryStore()
	buf := membuffer.New(func(id string) (int, error) {
		c, err := catalog.DescribeCollection(context.Background(), id)
		if err != nil {
			return 0, err
		}
		return c.Dimension, nil
	})
	return catalog, blobs, buf
}

func TestMergeCollectionPacksAndTransitions(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, buf := newTestFixture(t)

	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 2, Metric: model.MetricL2, TargetSegmentSize: 1 << 20})
	require.NoError(t, err)

	// Flush three tiny separate batches so filesToMerge sees 3 RAW segments.
	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Append("c1", "", []model.Record{{PK: model.PrimaryKey(i + 1), Vector: []float32{float32(i), float32(i)}}}, model.LSN(i+1)))
		flusher := &membuffer.Flusher{Buffer: buf, Blobs: blobs, Catalog: catalog}
		_, err := flusher.Flush(ctx, "c1")
		require.NoError(t, err)
	}

	before, err := catalog.FilesToSearch(ctx, "c1", nil)
	require.NoError(t, err)
	require.Len(t, before, 3)

	merger := &Merger{Catalog: catalog, Blobs: blobs, Ongoing: ongoingops.New(), Config: MergeConfig{Concurrency: 2}}
	require.NoError(t, merger.MergeCollection(ctx, "c1"))

	after, err := catalog.FilesToSearch(ctx, "c1", nil)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.EqualValues(t, 3, after[0].RowCount)
	assert.Equal(t, model.SegmentRaw, after[0].Kind)

	blob, err := blobs.Open(ctx, membuffer.BlobName("c1", after[0]))
	require.NoError(t, err)
	data := make([]byte, blob.Size())
	_, err = blob.ReadAt(ctx, data, 0)
	require.NoError(t, err)
	recs, err := membuffer.DecodeRawSegment(data)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestMergeSkipsSingletonBatch(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, buf := newTestFixture(t)

	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 2, Metric: model.MetricL2, TargetSegmentSize: 4}) // tiny target forces 1-per-batch
	require.NoError(t, err)
	require.NoError(t, buf.Append("c1", "", []model.Record{{PK: 1, Vector: []float32{1, 1}}}, 1))
	flusher := &membuffer.Flusher{Buffer: buf, Blobs: blobs, Catalog: catalog}
	_, err = flusher.Flush(ctx, "c1")
	require.NoError(t, err)

	merger := &Merger{Catalog: catalog, Blobs: blobs, Ongoing: ongoingops.New()}
	require.NoError(t, merger.MergeCollection(ctx, "c1"))

	after, err := catalog.FilesToSearch(ctx, "c1", nil)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, model.SegmentRaw, after[0].Kind) // untouched, not merged away
}

func TestMergeStampsToIndexAboveThreshold(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, buf := newTestFixture(t)

	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 1, Metric: model.MetricL2, TargetSegmentSize: 1 << 20})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, buf.Append("c1", "", []model.Record{{PK: model.PrimaryKey(i + 1), Vector: []float32{float32(i)}}}, model.LSN(i+1)))
		flusher := &membuffer.Flusher{Buffer: buf, Blobs: blobs, Catalog: catalog}
		_, err := flusher.Flush(ctx, "c1")
		require.NoError(t, err)
	}

	merger := &Merger{Catalog: catalog, Blobs: blobs, Ongoing: ongoingops.New(), Config: MergeConfig{BuildIndexThreshold: 2}}
	require.NoError(t, merger.MergeCollection(ctx, "c1"))

	after, err := catalog.FilesByKind(ctx, "c1", []model.SegmentKind{model.SegmentToIndex})
	require.NoError(t, err)
	require.Len(t, after, 1)
}
