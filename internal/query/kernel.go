package query

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/reynaldliu/milvus/distance"
	"github.com/reynaldliu/milvus/internal/membuffer"
	"github.com/reynaldliu/milvus/model"
)

// SearchKernel scores one segment's blob against a batch of query vectors.
// The core treats ANN index math as an opaque, externally-supplied
// collaborator: real deployments plug in a kernel backed by the built
// IVF/HNSW/DiskANN index for INDEX-kind segments. FlatKernel below is the
// brute-force fallback the core itself ships, used for RAW/TO_INDEX
// segments that have no index yet.
type SearchKernel interface {
	// Search scores blob (as returned by a blobstore.Blob read) against
	// each row of queries, returning up to k candidates per row with ids
	// present in blacklist excluded. nprobe is a hint ignored by kernels
	// that don't partition their search space.
	Search(seg model.Segment, blob []byte, queries [][]float32, k, nprobe int, blacklist *roaring64.Bitmap) ([][]model.Candidate, error)
}

// FlatKernel brute-force scans a raw segment blob, computing the exact
// distance from every query vector to every row. It only understands the
// membuffer raw-segment codec, so it applies to RAW/TO_INDEX segments;
// INDEX-kind segments need a kernel matching their EngineType.
type FlatKernel struct {
	Metric model.Metric
}

// Search implements SearchKernel.
func (k FlatKernel) Search(seg model.Segment, blob []byte, queries [][]float32, kNeighbors, _ int, blacklist *roaring64.Bitmap) ([][]model.Candidate, error) {
	records, err := membuffer.DecodeRawSegment(blob)
	if err != nil {
		return nil, err
	}

	dm, err := distance.FromModelMetric(k.Metric)
	if err != nil {
		return nil, err
	}
	scoreFn, err := distance.Provider(dm)
	if err != nil {
		return nil, err
	}

	out := make([][]model.Candidate, len(queries))
	for qi, q := range queries {
		acc := newTopK(kNeighbors, k.Metric)
		for _, rec := range records {
			if blacklist != nil && blacklist.Contains(uint64(rec.PK)) {
				continue
			}
			acc.offer(model.Candidate{
				PK:        rec.PK,
				Score:     scoreFn(q, rec.Vector),
				SegmentID: seg.ID,
			})
		}
		out[qi] = acc.result()
	}
	return out, nil
}
