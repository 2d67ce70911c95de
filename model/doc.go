// Package model defines the catalog and write/query types shared across the
// storage-and-execution core: collections, partitions, segments and their
// state machine, the LSN type, and the record/candidate shapes that flow
// through the write path and query dispatch.
//
// # Catalog types
//
//   - Collection: logical dataset row; partitions are Collection rows with
//     Owner set to the parent id
//   - Segment: immutable shard row, tagged with a SegmentKind state
//   - Environment: singleton row holding the global LSN counter
//
// # Write/query types
//
//   - Record, Batch, DeleteBatch: flow from Engine through WAL into MemBuffer
//   - Candidate, QueryRequest, QueryResult: flow through query dispatch
//
// # Errors
//
//   - Error: a {kind, message, cause} result-typed error; see ErrorKind
package model
