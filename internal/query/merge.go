package query

import (
	"sort"

	"github.com/reynaldliu/milvus/internal/membuffer"
	"github.com/reynaldliu/milvus/model"
)

// mergeResults k-way merges each query row's per-segment partial top-K into
// one global top-K, per spec §4.5 step 4.
func mergeResults(perSegment [][][]model.Candidate, metric model.Metric, k, rows int) []model.QueryResult {
	out := make([]model.QueryResult, rows)
	for row := 0; row < rows; row++ {
		acc := newTopK(k, metric)
		for _, segRows := range perSegment {
			if segRows == nil || row >= len(segRows) {
				continue
			}
			for _, c := range segRows[row] {
				acc.offer(c)
			}
		}
		out[row] = model.QueryResult{Candidates: acc.result()}
	}
	return out
}

func emptyResults(rows int) []model.QueryResult {
	out := make([]model.QueryResult, rows)
	for i := range out {
		out[i] = model.QueryResult{}
	}
	return out
}

// newestFirst orders segments by descending FlushLSN so getVectorById scans
// the most recently written data first.
func newestFirst(segments []model.Segment) {
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].FlushLSN > segments[j].FlushLSN
	})
}

func decodeForLookup(blob []byte) ([]model.Record, error) {
	return membuffer.DecodeRawSegment(blob)
}

// blobNameFor derives a segment's blob path the same way membuffer does at
// write time.
func blobNameFor(seg model.Segment) string {
	return membuffer.BlobName(seg.Collection, seg)
}
