package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/reynaldliu/milvus/internal/metastore"
	"github.com/reynaldliu/milvus/model"
)

// TimerConfig controls the periodic cleanup task.
type TimerConfig struct {
	CleanupInterval  time.Duration
	WALRetentionTTL  time.Duration
	DiskQuotaBytes   int64
}

// Timer runs spec §4.4's timer task: every CleanupInterval, expire
// TO_DELETE segments past the WAL retention TTL, then archive by disk
// quota, measured over all segments in the catalog rather than per
// collection. Grounded on the teacher's
// wg/closeCh background-loop idiom (engine.go).
type Timer struct {
	Catalog *metastore.Store
	Config  TimerConfig
	// StillReferenced reports whether a segment id is pinned by an
	// in-flight operation (query, merge, index build); wired to
	// ongoingops.Set.Referenced.
	StillReferenced func(model.SegmentID) bool
	// OnExpired is called with every segment CleanExpired removed from the
	// catalog this sweep, so the caller can delete the backing blob. Nil is
	// fine when the caller has no blob store to reclaim (tests).
	OnExpired func([]model.Segment)

	wg      sync.WaitGroup
	closeCh chan struct{}
	once    sync.Once
}

// Start launches the background ticker loop. Stop must be called to shut
// it down.
func (t *Timer) Start() {
	t.closeCh = make(chan struct{})
	t.wg.Add(1)
	go t.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (t *Timer) Stop() {
	t.once.Do(func() {
		close(t.closeCh)
	})
	t.wg.Wait()
}

func (t *Timer) run() {
	defer t.wg.Done()
	interval := t.Config.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.closeCh:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Timer) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, _ := t.Catalog.CleanExpired(ctx, t.Config.WALRetentionTTL, t.StillReferenced)
	if len(expired) > 0 && t.OnExpired != nil {
		t.OnExpired(expired)
	}
	if t.Config.DiskQuotaBytes > 0 {
		_, _ = t.Catalog.ArchiveByDiskQuota(ctx, t.Config.DiskQuotaBytes)
	}
}
