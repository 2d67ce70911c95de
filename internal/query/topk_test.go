package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reynaldliu/milvus/model"
)

func TestTopKAscendingKeepsSmallest(t *testing.T) {
	tk := newTopK(2, model.MetricL2)
	for _, score := range []float32{5, 1, 9, 3, 0.5} {
		tk.offer(model.Candidate{Score: score})
	}
	got := tk.result()
	assert.Len(t, got, 2)
	assert.Equal(t, float32(0.5), got[0].Score)
	assert.Equal(t, float32(1), got[1].Score)
}

func TestTopKDescendingKeepsLargest(t *testing.T) {
	tk := newTopK(2, model.MetricIP)
	for _, score := range []float32{5, 1, 9, 3, 0.5} {
		tk.offer(model.Candidate{Score: score})
	}
	got := tk.result()
	assert.Len(t, got, 2)
	assert.Equal(t, float32(9), got[0].Score)
	assert.Equal(t, float32(5), got[1].Score)
}

func TestTopKLimitZero(t *testing.T) {
	tk := newTopK(0, model.MetricL2)
	tk.offer(model.Candidate{Score: 1})
	assert.Empty(t, tk.result())
}
