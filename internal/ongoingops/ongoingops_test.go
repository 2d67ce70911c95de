package ongoingops

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reynaldliu/milvus/model"
)

func TestAcquireReleaseRefcounting(t *testing.T) {
	s := New()
	assert.False(t, s.Referenced(1))

	release1 := s.Acquire(1, 2)
	assert.True(t, s.Referenced(1))
	assert.True(t, s.Referenced(2))

	release2 := s.Acquire(2)
	assert.True(t, s.Referenced(2))

	release1()
	assert.False(t, s.Referenced(1))
	assert.True(t, s.Referenced(2)) // still held by release2

	release2()
	assert.False(t, s.Referenced(2))
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := New()
	release := s.Acquire(model.SegmentID(5))
	release()
	release() // must not double-decrement or panic
	assert.False(t, s.Referenced(5))
}
