package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reynaldliu/milvus/model"
)

func openTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dir := t.TempDir()
	base := []Option{WithWALEnable(true), WithAutoFlushInterval(3600), WithInsertBufferSizeMB(0)}
	e, err := Open(context.Background(), append([]Option{WithDataPath(dir)}, append(base, opts...)...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func vec(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)
	}
	return v
}

func TestInsertFlushQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)

	batch := model.Batch{
		CollectionID: "c1",
		Records: []model.Record{
			{PK: 1, Vector: vec(4, 0)},
			{PK: 2, Vector: vec(4, 10)},
		},
	}
	require.NoError(t, e.Insert(ctx, batch))

	// Unflushed inserts live only in the MemBuffer; the dispatcher only ever
	// searches catalog-visible (flushed) segments.
	res, err := e.Query(ctx, model.QueryRequest{CollectionID: "c1", K: 2, Vectors: [][]float32{vec(4, 0)}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Empty(t, res[0].Candidates)

	require.NoError(t, e.Flush(ctx, "c1"))

	size, err := e.Size(ctx, "c1")
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	got, err := e.GetVectorByID(ctx, "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, vec(4, 0), got)

	res, err = e.Query(ctx, model.QueryRequest{CollectionID: "c1", K: 2, Vectors: [][]float32{vec(4, 0)}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.NotEmpty(t, res[0].Candidates)
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)

	err = e.Insert(ctx, model.Batch{CollectionID: "c1", Records: []model.Record{{PK: 1, Vector: vec(3, 0)}}})
	assert.True(t, model.Is(err, model.ErrDimensionMismatch))
}

func TestDeleteMasksQueryResults(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)

	require.NoError(t, e.Insert(ctx, model.Batch{CollectionID: "c1", Records: []model.Record{
		{PK: 1, Vector: vec(4, 0)},
		{PK: 2, Vector: vec(4, 0.1)},
	}}))
	require.NoError(t, e.Flush(ctx, "c1"))

	require.NoError(t, e.Delete(ctx, model.DeleteBatch{CollectionID: "c1", IDs: []model.PrimaryKey{1}}))

	res, err := e.Query(ctx, model.QueryRequest{CollectionID: "c1", K: 10, Vectors: [][]float32{vec(4, 0)}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	for _, cand := range res[0].Candidates {
		assert.NotEqual(t, model.PrimaryKey(1), cand.PK)
	}
}

func TestInsertAgainstDroppingCollectionFails(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)
	require.NoError(t, e.Insert(ctx, model.Batch{CollectionID: "c1", Records: []model.Record{{PK: 1, Vector: vec(4, 0)}}}))
	require.NoError(t, e.Flush(ctx, "c1"))

	require.NoError(t, e.DropCollection(ctx, "c1"))

	err = e.Insert(ctx, model.Batch{CollectionID: "c1", Records: []model.Record{{PK: 2, Vector: vec(4, 0)}}})
	assert.True(t, model.Is(err, model.ErrNotFound))

	err = e.Delete(ctx, model.DeleteBatch{CollectionID: "c1", IDs: []model.PrimaryKey{1}})
	assert.True(t, model.Is(err, model.ErrNotFound))
}

func TestDropCollectionCoercesSegmentsToDelete(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)
	require.NoError(t, e.Insert(ctx, model.Batch{CollectionID: "c1", Records: []model.Record{{PK: 1, Vector: vec(4, 0)}}}))
	require.NoError(t, e.Flush(ctx, "c1"))

	require.NoError(t, e.DropCollection(ctx, "c1"))

	segs, err := e.catalog.FilesByKind(ctx, "c1", []model.SegmentKind{model.SegmentToDelete})
	require.NoError(t, err)
	assert.NotEmpty(t, segs, "flushed segment should be coerced to TO_DELETE at drop time, not left RAW")

	// Query against a dropped collection fails at the catalog lookup rather
	// than searching its segments.
	_, err = e.Query(ctx, model.QueryRequest{CollectionID: "c1", K: 1, Vectors: [][]float32{vec(4, 0)}})
	assert.Error(t, err)
}

func TestCreateAndDescribeIndex(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)

	require.NoError(t, e.CreateIndex(ctx, "c1", model.IndexKindHNSW, []byte(`{"M":16}`), model.MetricL2))

	kind, params, built, err := e.DescribeIndex(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.IndexKindHNSW, kind)
	assert.Equal(t, []byte(`{"M":16}`), params)
	assert.False(t, built, "no INDEX-kind segment exists yet")

	require.NoError(t, e.DropIndex(ctx, "c1"))
	kind, _, _, err = e.DescribeIndex(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.IndexKindFlat, kind)
}

func TestPartitionLifecycle(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)

	p, err := e.CreatePartition(ctx, "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "c1", p.Owner)

	parts, err := e.ListPartitions(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, parts, 1)

	require.NoError(t, e.Insert(ctx, model.Batch{CollectionID: "c1", PartitionTag: "p1", Records: []model.Record{{PK: 1, Vector: vec(4, 0)}}}))
	require.NoError(t, e.Flush(ctx, "c1"))

	res, err := e.Query(ctx, model.QueryRequest{CollectionID: "c1", PartitionTags: []string{"p1"}, K: 1, Vectors: [][]float32{vec(4, 0)}})
	require.NoError(t, err)
	require.Len(t, res, 1)

	require.NoError(t, e.DropPartition(ctx, "c1", "p1"))
	parts, err = e.ListPartitions(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestCompactAfterMultipleFlushes(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Insert(ctx, model.Batch{CollectionID: "c1", Records: []model.Record{
			{PK: model.PrimaryKey(i + 1), Vector: vec(4, float32(i))},
		}}))
		require.NoError(t, e.Flush(ctx, "c1"))
	}

	require.NoError(t, e.Compact(ctx, "c1"))

	size, err := e.Size(ctx, "c1")
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestDropAllRemovesEveryCollection(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)
	_, err = e.CreateCollection(ctx, "c2", 4, model.MetricL2, 1)
	require.NoError(t, err)

	require.NoError(t, e.DropAll(ctx))

	cols, err := e.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestWALDisabledStillAssignsMonotonicLSN(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, WithWALEnable(false))
	_, err := e.CreateCollection(ctx, "c1", 4, model.MetricL2, 1)
	require.NoError(t, err)

	require.NoError(t, e.Insert(ctx, model.Batch{CollectionID: "c1", Records: []model.Record{{PK: 1, Vector: vec(4, 0)}}}))
	require.NoError(t, e.Insert(ctx, model.Batch{CollectionID: "c1", Records: []model.Record{{PK: 2, Vector: vec(4, 1)}}}))

	first := e.nextLSN()
	second := e.nextLSN()
	assert.Greater(t, second, first)
}
