package query

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

func newDispatcher(catalog *metastore.Store, blobs blobstore.Store) *Dispatcher {
	return &Dispatcher{
		Catalog:    catalog,
		Blobs:      blobs,
		Ongoing:    ongoingops.New(),
		Blacklists: NewBlacklists(),
	}
}

func TestQueryReturnsNearestByL2(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, buf := newTestFixture(t)

	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 2, Metric: model.MetricL2, TargetSegmentSize: 1 << 20})
	require.NoError(t, err)

	require.NoError(t, buf.Append("c1", "", []model.Record{
		{PK: 1, Vector: []float32{0, 0}},
		{PK: 2, Vector: []float32{10, 10}},
		{PK: 3, Vector: []float32{1, 1}},
	}, 1))

	flusher := &membuffer.Flusher{Buffer: buf, Blobs: blobs, Catalog: catalog}
	_, err = flusher.Flush(ctx, "c1")
	require.NoError(t, err)

	d := newDispatcher(catalog, blobs)
	results, err := d.Query(ctx, model.QueryRequest{
		CollectionID: "c1",
		K:            2,
		Vectors:      [][]float32{{0, 0}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Candidates, 2)
	assert.Equal(t, model.PrimaryKey(1), results[0].Candidates[0].PK)
	assert.Equal(t, model.PrimaryKey(3), results[0].Candidates[1].PK)
}

func TestQueryHonorsBlacklist(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, buf := newTestFixture(t)

	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 2, Metric: model.MetricL2, TargetSegmentSize: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, buf.Append("c1", "", []model.Record{
		{PK: 1, Vector: []float32{0, 0}},
		{PK: 2, Vector: []float32{1, 1}},
	}, 1))
	flusher := &membuffer.Flusher{Buffer: buf, Blobs: blobs, Catalog: catalog}
	_, err = flusher.Flush(ctx, "c1")
	require.NoError(t, err)

	d := newDispatcher(catalog, blobs)
	d.Blacklists.Delete("c1", []model.PrimaryKey{1})

	results, err := d.Query(ctx, model.QueryRequest{
		CollectionID: "c1",
		K:            5,
		Vectors:      [][]float32{{0, 0}},
	})
	require.NoError(t, err)
	require.Len(t, results[0].Candidates, 1)
	assert.Equal(t, model.PrimaryKey(2), results[0].Candidates[0].PK)
}

func TestQueryUnknownPartitionTagsAllNotFound(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, _ := newTestFixture(t)
	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 2, Metric: model.MetricL2, TargetSegmentSize: 1 << 20})
	require.NoError(t, err)

	d := newDispatcher(catalog, blobs)
	_, err = d.Query(ctx, model.QueryRequest{
		CollectionID:  "c1",
		PartitionTags: []string{"nope"},
		K:             1,
		Vectors:       [][]float32{{0, 0}},
	})
	assert.True(t, model.Is(err, model.ErrNotFound))
}

func TestGetVectorByIDScansSegments(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, buf := newTestFixture(t)
	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 2, Metric: model.MetricL2, TargetSegmentSize: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, buf.Append("c1", "", []model.Record{{PK: 7, Vector: []float32{3, 4}}}, 1))
	flusher := &membuffer.Flusher{Buffer: buf, Blobs: blobs, Catalog: catalog}
	_, err = flusher.Flush(ctx, "c1")
	require.NoError(t, err)

	d := newDispatcher(catalog, blobs)
	vec, err := d.GetVectorByID(ctx, "c1", 7)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, vec)

	_, err = d.GetVectorByID(ctx, "c1", 999)
	assert.True(t, model.Is(err, model.ErrNotFound))
}
