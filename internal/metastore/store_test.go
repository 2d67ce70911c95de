package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reynaldliu/milvus/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "meta.db")
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateDescribeDropCollection(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c, err := s.CreateCollection(ctx, model.Collection{
		ID: "c1", Dimension: 128, Metric: model.MetricL2, TargetSegmentSize: 1 << 20,
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)

	_, err = s.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 128})
	assert.True(t, model.Is(err, model.ErrAlreadyExists))

	got, err := s.DescribeCollection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 128, got.Dimension)

	has, err := s.HasCollection(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.DropCollection(ctx, "c1"))
	require.NoError(t, s.DropCollection(ctx, "c1")) // idempotent

	_, err = s.DescribeCollection(ctx, "c1")
	assert.True(t, model.Is(err, model.ErrNotFound))
}

func TestPartitionInvariants(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateCollection(ctx, model.Collection{ID: "c", Dimension: 4, TargetSegmentSize: 1024})
	require.NoError(t, err)

	p1, err := s.CreatePartition(ctx, "c", "", "a", 0)
	require.NoError(t, err)
	assert.Equal(t, "c", p1.Owner)

	_, err = s.CreatePartition(ctx, "c", "", "a", 0)
	assert.True(t, model.Is(err, model.ErrAlreadyExists))

	_, err = s.CreatePartition(ctx, p1.ID, "", "b", 0)
	assert.True(t, model.Is(err, model.ErrInvalidArg))

	parts, err := s.ShowPartitions(ctx, "c")
	require.NoError(t, err)
	require.Len(t, parts, 1)

	require.NoError(t, s.DropPartitionByTag(ctx, "c", "a"))
	parts, err = s.ShowPartitions(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestSegmentLifecycleQueries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateCollection(ctx, model.Collection{ID: "c", Dimension: 4, TargetSegmentSize: 1000})
	require.NoError(t, err)

	seg, err := s.CreateSegment(ctx, model.Segment{Collection: "c", FileID: "f1", Bytes: 500, RowCount: 10})
	require.NoError(t, err)
	assert.Equal(t, model.SegmentNew, seg.Kind)

	seg.Kind = model.SegmentRaw
	require.NoError(t, s.UpdateSegment(ctx, seg))

	visible, err := s.FilesToSearch(ctx, "c", nil)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, model.SegmentRaw, visible[0].Kind)

	toMerge, err := s.FilesToMerge(ctx, "c")
	require.NoError(t, err)
	require.Len(t, toMerge, 1)

	n, err := s.MarkTooSmallRawAsToIndex(ctx, "c", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	toIndex, err := s.FilesToIndex(ctx)
	require.NoError(t, err)
	require.Len(t, toIndex, 1)
}

func TestUpdateSegmentCoercesToDeleteOnDroppedCollection(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateCollection(ctx, model.Collection{ID: "c", Dimension: 4, TargetSegmentSize: 1000})
	require.NoError(t, err)
	seg, err := s.CreateSegment(ctx, model.Segment{Collection: "c", FileID: "f1"})
	require.NoError(t, err)

	require.NoError(t, s.DropCollection(ctx, "c"))

	seg.Kind = model.SegmentRaw
	require.NoError(t, s.UpdateSegment(ctx, seg))

	rows, err := s.FilesByKind(ctx, "c", []model.SegmentKind{model.SegmentToDelete})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.SegmentToDelete, rows[0].Kind)
}

func TestCleanExpiredHonorsOngoingOps(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateCollection(ctx, model.Collection{ID: "c", Dimension: 4, TargetSegmentSize: 1000})
	require.NoError(t, err)
	seg, err := s.CreateSegment(ctx, model.Segment{Collection: "c", FileID: "f1"})
	require.NoError(t, err)
	seg.Kind = model.SegmentToDelete
	require.NoError(t, s.UpdateSegment(ctx, seg))

	// Not yet past TTL: nothing removed.
	removed, err := s.CleanExpired(ctx, time.Hour, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)

	// Past TTL but referenced: skipped.
	removed, err = s.CleanExpired(ctx, -time.Hour, func(id model.SegmentID) bool { return id == seg.ID })
	require.NoError(t, err)
	assert.Empty(t, removed)

	// Past TTL and unreferenced: removed. Running twice is idempotent.
	removed, err = s.CleanExpired(ctx, -time.Hour, nil)
	require.NoError(t, err)
	require.Len(t, removed, 1)

	removed, err = s.CleanExpired(ctx, -time.Hour, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestGlobalAndFlushLsn(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	lsn, err := s.GetGlobalLsn(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, lsn)

	require.NoError(t, s.SetGlobalLsn(ctx, 42))
	lsn, err = s.GetGlobalLsn(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 42, lsn)

	_, err = s.CreateCollection(ctx, model.Collection{ID: "c", Dimension: 4, TargetSegmentSize: 1000})
	require.NoError(t, err)
	require.NoError(t, s.SetCollectionFlushLsn(ctx, "c", 10))
	got, err := s.GetCollectionFlushLsn(ctx, "c")
	require.NoError(t, err)
	assert.EqualValues(t, 10, got)
}
