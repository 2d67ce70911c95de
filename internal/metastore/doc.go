// Package metastore implements the transactional catalog described by the
// data model: collections (and partitions, realized as collection rows with
// a non-empty owner), segment-file rows with their lifecycle state, and the
// singleton environment row holding the global LSN counter.
//
// It is backed by a SQLite database opened in WAL journal mode through
// modernc.org/sqlite, a pure-Go driver that needs no cgo toolchain. A single
// writer lock serializes mutations so the TO_DELETE coercion and other
// invariants only need to be reasoned about from one goroutine at a time;
// readers run through database/sql's own connection pool without that lock.
package metastore
