// Package ongoingops tracks segments referenced by an in-flight query or
// merge so the catalog's cleanup pass never erases a blob still in use.
//
// It is modeled as a mapping from segment id to refcount under one lock,
// mirroring the teacher engine's Snapshot.IncRef()/DecRef() convention but
// scoped to individual segment ids rather than whole snapshots.
package ongoingops

import (
	"sync"

	"github.com/reynaldliu/milvus/model"
)

// Set is a lock-protected refcounted set of segment ids. A segment with
// refcount > 0 must not be physically deleted.
type Set struct {
	mu    sync.Mutex
	count map[model.SegmentID]int
}

// New creates an empty Set.
func New() *Set {
	return &Set{count: make(map[model.SegmentID]int)}
}

// Acquire increments the refcount for each id and returns a Release func
// that decrements them. Call Release exactly once, typically via defer, so
// refcounts are released on every exit path including panic.
func (s *Set) Acquire(ids ...model.SegmentID) func() {
	s.mu.Lock()
	for _, id := range ids {
		s.count[id]++
	}
	s.mu.Unlock()

	var released bool
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if released {
			return
		}
		released = true
		for _, id := range ids {
			s.count[id]--
			if s.count[id] <= 0 {
				delete(s.count, id)
			}
		}
	}
}

// Referenced reports whether id currently has a positive refcount.
func (s *Set) Referenced(id model.SegmentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count[id] > 0
}

// Snapshot returns the current set of referenced segment ids, for diagnostics.
func (s *Set) Snapshot() []model.SegmentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]model.SegmentID, 0, len(s.count))
	for id, n := range s.count {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
