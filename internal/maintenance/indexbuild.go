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

// IndexBuilder is the external collaborator that turns a RAW/TO_INDEX
// segment's rows into an ANN index artifact. The core treats its internals
// as opaque; it only needs the artifact bytes back to persist.
type IndexBuilder interface {
	Build(ctx context.Context, seg model.Segment, records []model.Record) (artifact []byte, err error)
}

// IndexBuildConfig tunes the index-build pool.
type IndexBuildConfig struct {
	Concurrency int
}

// Indexer implements the index-build pool.
type Indexer struct {
	Catalog *metastore.Store
	Blobs   blobstore.Store
	Ongoing *ongoingops.Set
	Builder IndexBuilder
	Tracker *IndexFailedTracker
	Config  IndexBuildConfig
}

// artifactSuffix names the built-index blob relative to its segment's own
// blob path, so a segment's raw payload and its index artifact are
// addressable siblings under the same segment group directory.
const artifactSuffix = ".idx"

// RunOnce implements one sweep of spec §4.4's index-build pool: for every
// TO_INDEX segment not already exhausted in Tracker, acquire a per-segment
// build lease, hand it to Builder, and transition to INDEX on success.
func (ix *Indexer) RunOnce(ctx context.Context) error {
	segs, err := ix.Catalog.FilesToIndex(ctx)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(int64(concurrencyOrDefault(ix.Config.Concurrency)))
	g, gctx := errgroup.WithContext(ctx)
	for _, seg := range segs {
		if ix.Tracker != nil && ix.Tracker.Skip(seg.ID) {
			continue
		}
		seg := seg
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return ix.buildOne(gctx, seg)
		})
	}
	return g.Wait()
}

func (ix *Indexer) buildOne(ctx context.Context, seg model.Segment) error {
	// The build lease is tracked in OngoingOps so a concurrent cleanup
	// sweep cannot erase the segment out from under an in-flight build.
	release := ix.Ongoing.Acquire(seg.ID)
	defer release()

	blob, err := ix.Blobs.Open(ctx, membuffer.BlobName(seg.Collection, seg))
	if err != nil {
		ix.recordFailure(seg.ID)
		return model.WrapError(model.ErrIO, "open index build input blob", err)
	}
	data := make([]byte, blob.Size())
	_, err = blob.ReadAt(ctx, data, 0)
	blob.Close()
	if err != nil {
		ix.recordFailure(seg.ID)
		return model.WrapError(model.ErrIO, "read index build input blob", err)
	}
	records, err := membuffer.DecodeRawSegment(data)
	if err != nil {
		ix.recordFailure(seg.ID)
		return err
	}

	artifact, err := ix.Builder.Build(ctx, seg, records)
	if err != nil {
		ix.recordFailure(seg.ID)
		return nil // bounded retry: swallow so the sweep continues over other segments
	}

	if err := ix.Blobs.Put(ctx, membuffer.BlobName(seg.Collection, seg)+artifactSuffix, artifact); err != nil {
		ix.recordFailure(seg.ID)
		return model.WrapError(model.ErrIO, "write index artifact", err)
	}

	seg.Kind = model.SegmentIndex
	if err := ix.Catalog.UpdateSegment(ctx, seg); err != nil {
		ix.recordFailure(seg.ID)
		return err
	}
	if ix.Tracker != nil {
		ix.Tracker.ClearSuccess(seg.ID)
	}
	return nil
}

func (ix *Indexer) recordFailure(id model.SegmentID) {
	if ix.Tracker != nil {
		ix.Tracker.RecordFailure(id)
	}
}
