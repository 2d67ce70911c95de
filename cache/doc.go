// Package cache provides an in-memory LRU block cache for segment blobs.
//
// The ShardedLRUBlockCache stores recently read byte ranges from segments
// so the query dispatcher does not refetch the same blocks from a remote
// blobstore.Store on every search. It uses 64-way sharding to keep lock
// contention low under concurrent fan-out search, and optionally tracks
// its footprint against a resource.Controller memory budget.
package cache
