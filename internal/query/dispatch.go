// Package query implements the concurrent query dispatch layer described in
// the storage core's data-plane contract: fan out a search across a
// collection's visible segments, merge per-segment top-K results into a
// single ranked answer, and honor a per-collection soft-delete blacklist
// throughout.
package query

import (
	"context"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/reynaldliu/milvus/blobstore"
	"github.com/reynaldliu/milvus/cache"
	"github.com/reynaldliu/milvus/internal/metastore"
	"github.com/reynaldliu/milvus/internal/ongoingops"
	"github.com/reynaldliu/milvus/model"
)

// Dispatcher is the query pool: it holds no per-query state, so a single
// instance is shared by every caller of Query/QueryByID/QueryByFileID.
type Dispatcher struct {
	Catalog    *metastore.Store
	Blobs      blobstore.Store
	Cache      cache.BlockCache // optional; nil disables block caching
	Ongoing    *ongoingops.Set
	Blacklists *Blacklists

	// Kernel builds the SearchKernel for a segment's engine type. Segments
	// with no built index (RAW/TO_INDEX) always use the flat fallback
	// regardless of what Kernel returns for IndexKindUnset.
	Kernel func(engine model.IndexKind, metric model.Metric) SearchKernel

	// Concurrency bounds the number of segments searched in parallel per
	// query. Zero means unbounded (errgroup default).
	Concurrency int
}

func defaultKernel(_ model.IndexKind, metric model.Metric) SearchKernel {
	return FlatKernel{Metric: metric}
}

func (d *Dispatcher) kernelFor(seg model.Segment, metric model.Metric) SearchKernel {
	if seg.Kind == model.SegmentIndex && d.Kernel != nil {
		return d.Kernel(seg.EngineType, metric)
	}
	return defaultKernel(seg.EngineType, metric)
}

// Query implements spec §4.5: resolve partition scope, gather searchable
// segments, fan out, and merge into one top-K result per query row.
func (d *Dispatcher) Query(ctx context.Context, req model.QueryRequest) ([]model.QueryResult, error) {
	coll, err := d.Catalog.DescribeCollection(ctx, req.CollectionID)
	if err != nil {
		return nil, err
	}

	scope, err := d.resolveScope(ctx, req.CollectionID, req.PartitionTags)
	if err != nil {
		return nil, err
	}

	var segments []model.Segment
	for _, cid := range scope {
		segs, err := d.Catalog.FilesToSearch(ctx, cid, req.FileIDs)
		if err != nil {
			return nil, err
		}
		segments = append(segments, segs...)
	}
	if len(segments) == 0 {
		return emptyResults(len(req.Vectors)), nil
	}

	ids := make([]model.SegmentID, len(segments))
	for i, s := range segments {
		ids[i] = s.ID
	}
	release := d.Ongoing.Acquire(ids...)
	defer release()

	blacklist := d.Blacklists.Snapshot(req.CollectionID)

	perSegment := make([][][]model.Candidate, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	if d.Concurrency > 0 {
		g.SetLimit(d.Concurrency)
	}

	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := d.searchSegment(gctx, seg, coll.Metric, req.Vectors, req.K, req.NProbe, blacklist)
			if err != nil {
				return err
			}
			perSegment[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeResults(perSegment, coll.Metric, req.K, len(req.Vectors)), nil
}

// searchSegment loads one segment's blob (through the block cache when
// present) and runs it through the matching kernel.
func (d *Dispatcher) searchSegment(ctx context.Context, seg model.Segment, metric model.Metric, queries [][]float32, k, nprobe int, blacklist *roaring64.Bitmap) ([][]model.Candidate, error) {
	blob, err := d.loadBlob(ctx, seg)
	if err != nil {
		return nil, err
	}
	kernel := d.kernelFor(seg, metric)
	return kernel.Search(seg, blob, queries, k, nprobe, blacklist)
}

func (d *Dispatcher) loadBlob(ctx context.Context, seg model.Segment) ([]byte, error) {
	key := cache.Key{Kind: cache.KindSegmentBlock, SegmentID: seg.ID}
	if d.Cache != nil {
		if b, ok := d.Cache.Get(ctx, key); ok {
			return b, nil
		}
	}

	name := blobNameFor(seg)
	blob, err := d.Blobs.Open(ctx, name)
	if err != nil {
		return nil, model.WrapError(model.ErrIO, "open segment blob", err)
	}
	defer blob.Close()

	data := make([]byte, blob.Size())
	if _, err := blob.ReadAt(ctx, data, 0); err != nil {
		return nil, model.WrapError(model.ErrIO, "read segment blob", err)
	}
	if d.Cache != nil {
		d.Cache.Set(ctx, key, data)
	}
	return data, nil
}

// Preload forces every searchable segment blob of collectionID into the
// block cache, so the first real query after a cold start doesn't pay disk
// latency. A no-op when no Cache is configured.
func (d *Dispatcher) Preload(ctx context.Context, collectionID string) error {
	if d.Cache == nil {
		return nil
	}
	segments, err := d.Catalog.FilesToSearch(ctx, collectionID, nil)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if _, err := d.loadBlob(ctx, seg); err != nil {
			return err
		}
	}
	return nil
}

// resolveScope maps partition tags to their backing collection ids per
// spec §4.5 step 1: empty tags means the root collection only; unknown tags
// are skipped unless all of them are unknown.
func (d *Dispatcher) resolveScope(ctx context.Context, collectionID string, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return []string{collectionID}, nil
	}

	partitions, err := d.Catalog.ShowPartitions(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	byTag := make(map[string]string, len(partitions))
	for _, p := range partitions {
		byTag[p.PartitionTag] = p.ID
	}

	var scope []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if id, ok := byTag[tag]; ok {
			scope = append(scope, id)
		}
	}
	if len(scope) == 0 {
		return nil, model.NewError(model.ErrNotFound, "no matching partition tags")
	}
	return scope, nil
}

// QueryByID implements queryById: resolve the vector for id via
// getVectorById, then delegate to Query with that vector as the sole row.
func (d *Dispatcher) QueryByID(ctx context.Context, collectionID string, partitionTags []string, id model.PrimaryKey, k, nprobe int) (model.QueryResult, error) {
	vec, err := d.GetVectorByID(ctx, collectionID, id)
	if err != nil {
		return model.QueryResult{}, err
	}
	results, err := d.Query(ctx, model.QueryRequest{
		CollectionID:  collectionID,
		PartitionTags: partitionTags,
		K:             k,
		NProbe:        nprobe,
		Vectors:       [][]float32{vec},
	})
	if err != nil {
		return model.QueryResult{}, err
	}
	return results[0], nil
}

// QueryByFileID implements queryByFileId: restrict the searched segment set
// to the given file (blob) ids, primarily for debugging/sharding.
func (d *Dispatcher) QueryByFileID(ctx context.Context, req model.QueryRequest, fileIDs []model.SegmentID) ([]model.QueryResult, error) {
	req.FileIDs = fileIDs
	return d.Query(ctx, req)
}

// GetVectorByID implements getVectorById: scan the collection's visible
// segments, newest first, for a non-blacklisted row with the given primary
// key.
func (d *Dispatcher) GetVectorByID(ctx context.Context, collectionID string, id model.PrimaryKey) ([]float32, error) {
	if d.Blacklists.IsDeleted(collectionID, id) {
		return nil, model.NewError(model.ErrNotFound, "primary key deleted")
	}

	segments, err := d.Catalog.FilesToSearch(ctx, collectionID, nil)
	if err != nil {
		return nil, err
	}
	newestFirst(segments)

	for _, seg := range segments {
		blob, err := d.loadBlob(ctx, seg)
		if err != nil {
			return nil, err
		}
		records, err := decodeForLookup(blob)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.PK == id {
				return r.Vector, nil
			}
		}
	}
	return nil, model.NewError(model.ErrNotFound, "primary key not found")
}
