package maintenance

import (
	"sync"

	"github.com/reynaldliu/milvus/model"
)

// IndexFailedTracker bounds index-build retries per segment: after
// MaxAttempts failures a segment is left TO_INDEX but skipped on future
// sweeps until Clear (config change) resets it.
type IndexFailedTracker struct {
	mu          sync.Mutex
	attempts    map[model.SegmentID]int
	MaxAttempts int
}

// NewIndexFailedTracker creates a tracker with maxAttempts retries per
// segment before it is skipped.
func NewIndexFailedTracker(maxAttempts int) *IndexFailedTracker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &IndexFailedTracker{attempts: make(map[model.SegmentID]int), MaxAttempts: maxAttempts}
}

// RecordFailure increments the attempt count for id and returns true if the
// segment has now exhausted its retry budget.
func (t *IndexFailedTracker) RecordFailure(id model.SegmentID) (exhausted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[id]++
	return t.attempts[id] >= t.MaxAttempts
}

// Skip reports whether id has exhausted its retry budget and should be
// skipped on this sweep.
func (t *IndexFailedTracker) Skip(id model.SegmentID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[id] >= t.MaxAttempts
}

// ClearSuccess drops bookkeeping for a segment that built successfully.
func (t *IndexFailedTracker) ClearSuccess(id model.SegmentID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, id)
}

// Clear resets all bookkeeping, e.g. on index-parameter config change.
func (t *IndexFailedTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = make(map[model.SegmentID]int)
}
