// Package maintenance implements the MaintenanceEngine background worker
// pools described in the storage core's design: a merge/compaction pool
// that packs small RAW segments toward target_segment_size and rewrites
// tombstone-heavy segments, an index-build pool that hands TO_INDEX
// segments to an external IndexBuilder, and a timer task that runs catalog
// retention and disk-quota cleanup.
//
// Both pools are errgroup/semaphore-bounded worker groups, grounded on the
// teacher's worker_pool.go sizing conventions; the timer task follows the
// teacher's wg/closeCh background-loop idiom.
package maintenance
