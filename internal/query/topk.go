package query

import (
	"container/heap"
	"sort"

	"github.com/reynaldliu/milvus/distance"
	"github.com/reynaldliu/milvus/model"
	"github.com/reynaldliu/milvus/queue"
)

// topK is a bounded best-K accumulator built on queue.PriorityQueue: for an
// ascending-better metric (L2) it keeps a max-heap of the K smallest scores
// seen, so the root is always the current worst-of-the-best and can be
// evicted in O(log K) when a better candidate arrives; for a
// descending-better metric (IP) the roles invert to a min-heap.
type topK struct {
	pq       queue.PriorityQueue
	entries  []model.Candidate
	limit    int
	ascBetter bool
}

func newTopK(k int, metric model.Metric) *topK {
	asc := distance.Ascending(metric)
	return &topK{
		pq:        queue.PriorityQueue{Order: asc},
		limit:     k,
		ascBetter: asc,
	}
}

func (t *topK) offer(c model.Candidate) {
	if t.limit <= 0 {
		return
	}
	if len(t.pq.Items) < t.limit {
		idx := len(t.entries)
		t.entries = append(t.entries, c)
		heap.Push(&t.pq, &queue.PriorityQueueItem{Node: uint32(idx), Distance: c.Score})
		return
	}

	root := t.pq.Items[0]
	var better bool
	if t.ascBetter {
		better = c.Score < root.Distance
	} else {
		better = c.Score > root.Distance
	}
	if !better {
		return
	}
	t.entries[root.Node] = c
	root.Distance = c.Score
	heap.Fix(&t.pq, 0)
}

// result drains the heap into a slice ordered best-first.
func (t *topK) result() []model.Candidate {
	out := make([]model.Candidate, len(t.pq.Items))
	for i, item := range t.pq.Items {
		out[i] = t.entries[item.Node]
	}
	sort.Slice(out, func(i, j int) bool {
		if t.ascBetter {
			return out[i].Score < out[j].Score
		}
		return out[i].Score > out[j].Score
	})
	return out
}
