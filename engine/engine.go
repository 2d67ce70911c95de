package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reynaldliu/milvus/blobstore"
	"github.com/reynaldliu/milvus/cache"
	"github.com/reynaldliu/milvus/internal/fs"
	"github.com/reynaldliu/milvus/internal/maintenance"
	"github.com/reynaldliu/milvus/internal/membuffer"
	"github.com/reynaldliu/milvus/internal/metastore"
	"github.com/reynaldliu/milvus/internal/ongoingops"
	"github.com/reynaldliu/milvus/internal/query"
	"github.com/reynaldliu/milvus/internal/wal"
	"github.com/reynaldliu/milvus/model"
	"github.com/reynaldliu/milvus/resource"
)

// Engine is the facade tying the catalog, WAL, MemBuffer, query dispatcher
// and background maintenance workers into one collection-oriented API. See
// package doc for the three-lock ordering it enforces.
type Engine struct {
	dir string

	catalog *metastore.Store
	walMgr  *wal.Manager
	buf     *membuffer.Buffer
	flusher *membuffer.Flusher

	blobs               blobstore.Store
	blockCache          cache.BlockCache
	resourceController  *resource.Controller
	ongoing             *ongoingops.Set
	blacklists          *query.Blacklists
	dispatcher          *query.Dispatcher
	merger              *maintenance.Merger
	indexer             *maintenance.Indexer
	timer               *maintenance.Timer

	config  Config
	logger  Logger
	metrics MetricsObserver

	memSerialize      sync.Mutex
	flushMergeCompact *keyedMutex
	buildIndexMu      sync.Mutex

	fakeLSN atomic.Uint64 // used only when WALEnable=false

	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// Open constructs an Engine over cfg.DataPath: opening (or creating) the
// catalog and WAL, replaying any WAL records past the catalog's persisted
// global LSN, purging dangling shadow segments left by a prior crash, and
// starting the background flush/merge/index-build/cleanup loops.
func Open(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := DefaultConfig("")
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DataPath == "" {
		return nil, model.NewError(model.ErrInvalidArg, "data_path is required")
	}
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return nil, model.WrapError(model.ErrIO, "create data directory", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	metricsObserver := cfg.MetricsObserver
	if metricsObserver == nil {
		metricsObserver = &NoopMetricsObserver{}
	}

	catalog, err := metastore.Open(ctx, filepath.Join(cfg.DataPath, "meta.db"))
	if err != nil {
		return nil, err
	}

	globalLSN, err := catalog.GetGlobalLsn(ctx)
	if err != nil {
		catalog.Close()
		return nil, err
	}

	blobs := blobstore.NewLocalStore(filepath.Join(cfg.DataPath, "segments"))

	var rc *resource.Controller
	var blockCache cache.BlockCache
	if cfg.InsertBufferSizeMB > 0 {
		rc = resource.NewController(resource.Config{MemoryLimitBytes: int64(cfg.InsertBufferSizeMB) << 20})
		blockCache = cache.NewShardedLRUBlockCache(int64(cfg.InsertBufferSizeMB)<<20, rc)
	}

	buf := membuffer.New(func(collectionID string) (int, error) {
		coll, err := catalog.DescribeCollection(ctx, collectionID)
		if err != nil {
			return 0, err
		}
		return coll.Dimension, nil
	})
	flusher := &membuffer.Flusher{Buffer: buf, Blobs: blobs, Catalog: catalog}

	ongoing := ongoingops.New()
	blacklists := query.NewBlacklists()

	var onArchive func(name string, compressed []byte) error
	if cfg.ArchiveDays > 0 {
		onArchive = func(name string, compressed []byte) error {
			return blobs.Put(context.Background(), "wal-archive/"+name+".lz4", compressed)
		}
	}

	var walMgr *wal.Manager
	if cfg.WALEnable {
		walMgr, err = wal.OpenManager(fs.LocalFS{}, filepath.Join(cfg.DataPath, "wal"), toManagerOptions(cfg.WALOptions, globalLSN, onArchive))
		if err != nil {
			catalog.Close()
			return nil, model.WrapError(model.ErrIO, "open wal", err)
		}

		maxLSN, err := recoverFromWAL(walMgr, globalLSN, buf, blacklists)
		if err != nil {
			catalog.Close()
			walMgr.Close()
			return nil, model.WrapError(model.ErrIO, "replay wal", err)
		}
		if maxLSN > globalLSN {
			if err := catalog.SetGlobalLsn(ctx, maxLSN); err != nil {
				catalog.Close()
				walMgr.Close()
				return nil, err
			}
		}
	}

	if purged, err := catalog.PurgeShadowSegments(ctx); err != nil {
		logger.Warnf("purge shadow segments at startup: %v", err)
	} else {
		for _, seg := range purged {
			if err := blobs.Delete(ctx, membuffer.BlobName(seg.Collection, seg)); err != nil {
				logger.Warnf("delete shadow blob %s: %v", seg.FileID, err)
			}
		}
	}

	dispatcher := &query.Dispatcher{
		Catalog:    catalog,
		Blobs:      blobs,
		Cache:      blockCache,
		Ongoing:    ongoing,
		Blacklists: blacklists,
	}

	merger := &maintenance.Merger{
		Catalog: catalog,
		Blobs:   blobs,
		Ongoing: ongoing,
		Config: maintenance.MergeConfig{
			Concurrency:         cfg.MergeConcurrency,
			BuildIndexThreshold: int64(cfg.TargetSegmentSizeMB) << 20 / 32, // heuristic row estimate; refined by the builder itself
			CompactThreshold:    0.3,
		},
	}

	indexer := &maintenance.Indexer{
		Catalog: catalog,
		Blobs:   blobs,
		Ongoing: ongoing,
		Tracker: maintenance.NewIndexFailedTracker(3),
		Config:  maintenance.IndexBuildConfig{Concurrency: cfg.IndexConcurrency},
	}

	timer := &maintenance.Timer{
		Catalog: catalog,
		Config: maintenance.TimerConfig{
			CleanupInterval: cfg.autoFlushInterval(),
			WALRetentionTTL: cfg.walRetentionTTL(),
			DiskQuotaBytes:  int64(cfg.ArchiveDiskGB) << 30,
		},
		StillReferenced: ongoing.Referenced,
		OnExpired: func(segs []model.Segment) {
			bg := context.Background()
			for _, seg := range segs {
				if err := blobs.Delete(bg, membuffer.BlobName(seg.Collection, seg)); err != nil {
					logger.Warnf("delete expired blob %s: %v", seg.FileID, err)
				}
			}
		},
	}

	e := &Engine{
		dir:                 cfg.DataPath,
		catalog:             catalog,
		walMgr:              walMgr,
		buf:                 buf,
		flusher:             flusher,
		blobs:               blobs,
		blockCache:          blockCache,
		resourceController:  rc,
		ongoing:             ongoing,
		blacklists:          blacklists,
		dispatcher:          dispatcher,
		merger:              merger,
		indexer:             indexer,
		timer:               timer,
		config:              cfg,
		logger:              logger,
		metrics:             metricsObserver,
		flushMergeCompact:   newKeyedMutex(),
		closeCh:             make(chan struct{}),
	}

	e.timer.Start()
	e.wg.Add(2)
	go e.flushLoop()
	go e.maintenanceLoop()

	return e, nil
}

// SetIndexBuilder wires the external ANN index builder. Until set, segments
// stamped TO_INDEX simply accumulate; RunOnce is a no-op with no builder.
func (e *Engine) SetIndexBuilder(builder maintenance.IndexBuilder) {
	e.indexer.Builder = builder
}

// SetSearchKernel wires the external ANN search kernel factory used for
// INDEX-kind segments. RAW/TO_INDEX segments always use the built-in flat
// scan regardless of this setting.
func (e *Engine) SetSearchKernel(kernel func(engine model.IndexKind, metric model.Metric) query.SearchKernel) {
	e.dispatcher.Kernel = kernel
}

func (e *Engine) flushLoop() {
	defer e.wg.Done()
	interval := e.config.autoFlushInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			for _, id := range e.buf.CollectionsWithPending() {
				if err := e.Flush(ctx, id); err != nil {
					e.logger.Warnf("auto flush %s: %v", id, err)
				}
			}
			if e.walMgr != nil {
				if minLSN, err := e.catalog.MinFlushLsn(ctx); err != nil {
					e.logger.Warnf("min flush lsn: %v", err)
				} else if err := e.walMgr.TruncateThrough(minLSN); err != nil {
					e.logger.Warnf("truncate wal: %v", err)
				}
			}
			cancel()
		}
	}
}

func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()
	interval := e.config.autoFlushInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			e.runMaintenanceOnce(ctx)
			cancel()
		}
	}
}

func (e *Engine) runMaintenanceOnce(ctx context.Context) {
	colls, err := e.catalog.AllRootCollections(ctx)
	if err != nil {
		e.logger.Warnf("list collections for maintenance: %v", err)
		return
	}
	for _, coll := range colls {
		if coll.State != model.CollectionNormal {
			continue
		}
		if err := e.Compact(ctx, coll.ID); err != nil {
			e.logger.Warnf("merge/compact %s: %v", coll.ID, err)
		}
	}

	e.buildIndexMu.Lock()
	err = e.indexer.RunOnce(ctx)
	e.buildIndexMu.Unlock()
	if err != nil {
		e.logger.Warnf("index build sweep: %v", err)
	}
}

// Close drains every background loop, then closes the WAL and catalog.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.closeCh)
	e.timer.Stop()
	e.wg.Wait()

	var firstErr error
	if e.walMgr != nil {
		if err := e.walMgr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.blockCache != nil {
		if err := e.blockCache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.catalog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// nextLSN is used only when the WAL is disabled (WithWALEnable(false)),
// letting the write path still assign monotonic sequence numbers.
func (e *Engine) nextLSN() model.LSN {
	return model.LSN(e.fakeLSN.Add(1))
}

// --- Collection / partition management -------------------------------------

func (e *Engine) CreateCollection(ctx context.Context, id string, dimension int, metric model.Metric, targetSegmentSizeMB int) (model.Collection, error) {
	size := int64(targetSegmentSizeMB) << 20
	if size <= 0 {
		size = int64(e.config.TargetSegmentSizeMB) << 20
	}
	return e.catalog.CreateCollection(ctx, model.Collection{
		ID:                id,
		Dimension:         dimension,
		Metric:            metric,
		TargetSegmentSize: size,
	})
}

// DropCollection marks the collection TO_DELETE and immediately coerces its
// current segments to TO_DELETE too, rather than waiting for the next
// unrelated update to touch them. Physical blobs are reclaimed later by the
// Timer's cleanup sweep once WALRetentionTTL has passed and no OngoingOps
// lease still references them — never synchronously here, so an in-flight
// query against this collection is never left with a dangling blob handle.
func (e *Engine) DropCollection(ctx context.Context, id string) error {
	if err := e.catalog.DropCollection(ctx, id); err != nil {
		return err
	}

	segs, err := e.catalog.FilesByKind(ctx, id, []model.SegmentKind{
		model.SegmentRaw, model.SegmentToIndex, model.SegmentIndex,
	})
	if err != nil {
		return err
	}
	if len(segs) > 0 {
		for i := range segs {
			segs[i].Kind = model.SegmentToDelete
		}
		if err := e.catalog.UpdateSegments(ctx, segs); err != nil {
			return err
		}
	}

	if e.blockCache != nil {
		e.blockCache.Invalidate(func(k cache.Key) bool { return true })
	}
	return nil
}

func (e *Engine) DescribeCollection(ctx context.Context, id string) (model.Collection, error) {
	return e.catalog.DescribeCollection(ctx, id)
}

func (e *Engine) ListCollections(ctx context.Context) ([]model.Collection, error) {
	return e.catalog.AllRootCollections(ctx)
}

func (e *Engine) CreatePartition(ctx context.Context, parent, tag string) (model.Collection, error) {
	return e.catalog.CreatePartition(ctx, parent, "", tag, e.currentLSN(ctx))
}

func (e *Engine) DropPartition(ctx context.Context, parent, tag string) error {
	return e.catalog.DropPartitionByTag(ctx, parent, tag)
}

func (e *Engine) ListPartitions(ctx context.Context, parent string) ([]model.Collection, error) {
	return e.catalog.ShowPartitions(ctx, parent)
}

func (e *Engine) currentLSN(ctx context.Context) model.LSN {
	lsn, err := e.catalog.GetGlobalLsn(ctx)
	if err != nil {
		return 0
	}
	return lsn
}

// --- Write path --------------------------------------------------------------

// Insert appends batch to the WAL then to the MemBuffer, in that order:
// either every record is durable before this call returns, or none are.
func (e *Engine) Insert(ctx context.Context, batch model.Batch) error {
	if e.closed.Load() {
		return model.NewError(model.ErrInternal, "engine closed")
	}
	coll, err := e.catalog.DescribeCollection(ctx, batch.CollectionID)
	if err != nil {
		return err
	}
	if coll.State != model.CollectionNormal {
		return model.NewError(model.ErrNotFound, "collection is being dropped")
	}
	if err := validateBatch(batch, coll.Dimension, e.config.Limits); err != nil {
		return err
	}

	lsn, err := e.appendInsertWAL(batch)
	if err != nil {
		return err
	}

	e.memSerialize.Lock()
	defer e.memSerialize.Unlock()
	return e.buf.Append(batch.CollectionID, batch.PartitionTag, batch.Records, lsn)
}

func (e *Engine) appendInsertWAL(batch model.Batch) (model.LSN, error) {
	if e.walMgr == nil {
		return e.nextLSN(), nil
	}
	ids := make([]model.PrimaryKey, len(batch.Records))
	vectors := make([][]float32, len(batch.Records))
	for i, r := range batch.Records {
		ids[i] = r.PK
		vectors[i] = r.Vector
	}
	lsn, err := e.walMgr.Append(&wal.Record{
		Kind:         wal.KindInsert,
		CollectionID: batch.CollectionID,
		PartitionTag: batch.PartitionTag,
		IDs:          ids,
		Vectors:      vectors,
	})
	if err != nil {
		return 0, model.WrapError(model.ErrIO, "wal append insert", err)
	}
	return lsn, nil
}

// Delete soft-deletes ids by both marking the blacklist immediately (so a
// concurrent query never observes a deleted id) and recording a tombstone
// in the MemBuffer so a restart-and-replay reconstructs the same blacklist.
func (e *Engine) Delete(ctx context.Context, batch model.DeleteBatch) error {
	if e.closed.Load() {
		return model.NewError(model.ErrInternal, "engine closed")
	}
	if err := validateDeleteBatch(batch, e.config.Limits); err != nil {
		return err
	}
	coll, err := e.catalog.DescribeCollection(ctx, batch.CollectionID)
	if err != nil {
		return err
	}
	if coll.State != model.CollectionNormal {
		return model.NewError(model.ErrNotFound, "collection is being dropped")
	}

	var lsn model.LSN
	if e.walMgr != nil {
		lsn, err = e.walMgr.Append(&wal.Record{Kind: wal.KindDelete, CollectionID: batch.CollectionID, IDs: batch.IDs})
		if err != nil {
			return model.WrapError(model.ErrIO, "wal append delete", err)
		}
	} else {
		lsn = e.nextLSN()
	}

	e.blacklists.Delete(batch.CollectionID, batch.IDs)

	e.memSerialize.Lock()
	defer e.memSerialize.Unlock()
	return e.buf.AppendDelete(batch.CollectionID, batch.IDs, lsn)
}

// Flush seals MemBuffer contents for collectionID into RAW segments. Held
// under flush_merge_compact so it never overlaps a merge or compaction of
// the same collection.
func (e *Engine) Flush(ctx context.Context, collectionID string) error {
	unlock := e.flushMergeCompact.Lock(collectionID)
	defer unlock()

	if e.walMgr != nil {
		if _, err := e.walMgr.Append(&wal.Record{Kind: wal.KindFlush, CollectionID: collectionID}); err != nil {
			e.logger.Warnf("wal flush marker for %s: %v", collectionID, err)
		}
	}

	start := time.Now()
	e.memSerialize.Lock()
	segs, err := e.flusher.Flush(ctx, collectionID)
	e.memSerialize.Unlock()
	e.metrics.OnFlush(time.Since(start), len(segs), err)
	return err
}

// Compact runs the merge/compaction pool for collectionID: pack small RAW
// segments toward target_segment_size, then rewrite any segment whose
// deleted fraction exceeds the configured threshold.
func (e *Engine) Compact(ctx context.Context, collectionID string) error {
	unlock := e.flushMergeCompact.Lock(collectionID)
	defer unlock()

	start := time.Now()
	err := e.merger.MergeCollection(ctx, collectionID)
	if err == nil {
		err = e.merger.Compact(ctx, collectionID, e.blacklists)
	}
	e.metrics.OnCompaction(time.Since(start), 0, 0, err)
	return err
}

// --- Index management ---------------------------------------------------------

func (e *Engine) CreateIndex(ctx context.Context, collectionID string, kind model.IndexKind, params []byte, metric model.Metric) error {
	e.buildIndexMu.Lock()
	defer e.buildIndexMu.Unlock()
	return e.catalog.UpdateCollectionIndex(ctx, collectionID, kind, params, metric)
}

func (e *Engine) DropIndex(ctx context.Context, collectionID string) error {
	e.buildIndexMu.Lock()
	defer e.buildIndexMu.Unlock()
	return e.catalog.DropCollectionIndex(ctx, collectionID)
}

// DescribeIndex reports the collection's configured index kind and params,
// and whether at least one INDEX-kind segment has been built yet.
func (e *Engine) DescribeIndex(ctx context.Context, collectionID string) (kind model.IndexKind, params []byte, built bool, err error) {
	coll, err := e.catalog.DescribeCollection(ctx, collectionID)
	if err != nil {
		return model.IndexKindUnset, nil, false, err
	}
	segs, err := e.catalog.FilesByKind(ctx, collectionID, []model.SegmentKind{model.SegmentIndex})
	if err != nil {
		return coll.IndexKind, coll.IndexParams, false, err
	}
	return coll.IndexKind, coll.IndexParams, len(segs) > 0, nil
}

// --- Query path ----------------------------------------------------------------

func (e *Engine) Query(ctx context.Context, req model.QueryRequest) ([]model.QueryResult, error) {
	coll, err := e.catalog.DescribeCollection(ctx, req.CollectionID)
	if err != nil {
		return nil, err
	}
	if err := validateQueryRequest(req, coll.Dimension, e.config.Limits); err != nil {
		return nil, err
	}
	return e.dispatcher.Query(ctx, req)
}

func (e *Engine) QueryByID(ctx context.Context, collectionID string, partitionTags []string, id model.PrimaryKey, k, nprobe int) (model.QueryResult, error) {
	return e.dispatcher.QueryByID(ctx, collectionID, partitionTags, id, k, nprobe)
}

func (e *Engine) QueryByFileID(ctx context.Context, req model.QueryRequest, fileIDs []model.SegmentID) ([]model.QueryResult, error) {
	coll, err := e.catalog.DescribeCollection(ctx, req.CollectionID)
	if err != nil {
		return nil, err
	}
	if err := validateQueryRequest(req, coll.Dimension, e.config.Limits); err != nil {
		return nil, err
	}
	return e.dispatcher.QueryByFileID(ctx, req, fileIDs)
}

func (e *Engine) GetVectorByID(ctx context.Context, collectionID string, id model.PrimaryKey) ([]float32, error) {
	return e.dispatcher.GetVectorByID(ctx, collectionID, id)
}

// Preload forces the block cache to warm every searchable segment of
// collectionID, so the first live query after a restart doesn't pay disk
// latency on cold blocks.
func (e *Engine) Preload(ctx context.Context, collectionID string) error {
	return e.dispatcher.Preload(ctx, collectionID)
}

// --- Introspection / lifecycle -------------------------------------------------

// Size sums the byte size of every visible (RAW/TO_INDEX/INDEX) segment
// belonging to collectionID.
func (e *Engine) Size(ctx context.Context, collectionID string) (int64, error) {
	segs, err := e.catalog.FilesToSearch(ctx, collectionID, nil)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range segs {
		total += s.Bytes
	}
	return total, nil
}

// DropAll truncates the catalog and removes every data directory under the
// engine's data path. Intended for tests and full-reset tooling; callers
// must ensure no concurrent operations are in flight.
func (e *Engine) DropAll(ctx context.Context) error {
	colls, err := e.catalog.AllRootCollections(ctx)
	if err != nil {
		return err
	}
	for _, c := range colls {
		if err := e.catalog.DropCollection(ctx, c.ID); err != nil {
			return err
		}
	}
	if e.blockCache != nil {
		e.blockCache.Invalidate(func(cache.Key) bool { return true })
	}
	entries, err := os.ReadDir(filepath.Join(e.dir, "segments"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return model.WrapError(model.ErrIO, "list segment directories", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(e.dir, "segments", entry.Name())); err != nil {
			return model.WrapError(model.ErrIO, "remove segment directory", err)
		}
	}
	return nil
}
