package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reynaldliu/milvus/model"
)

func TestTimerRunsCleanupSweep(t *testing.T) {
	ctx := context.Background()
	catalog, blobs, buf := newTestFixture(t)
	_ = blobs
	_ = buf

	_, err := catalog.CreateCollection(ctx, model.Collection{ID: "c1", Dimension: 1, Metric: model.MetricL2, TargetSegmentSize: 1 << 20})
	require.NoError(t, err)

	timer := &Timer{
		Catalog: catalog,
		Config: TimerConfig{
			CleanupInterval: 20 * time.Millisecond,
			WALRetentionTTL: time.Hour,
		},
		StillReferenced: func(model.SegmentID) bool { return false },
	}
	timer.Start()
	time.Sleep(60 * time.Millisecond)
	timer.Stop()
}
