// Package blobstore abstracts persistence of immutable segment blobs.
//
// The catalog (internal/metastore) tracks segment rows; the bytes
// themselves — a segment's raw vector payload or its built index
// artifact — live behind a Store. The codec of those bytes is opaque to
// this package and to everything above it: Store only ever sees a name
// and a byte stream.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("blobstore: blob not found")

// Store is the segment persistence contract. Every collection/segment-group
// directory in the catalog's logical layout maps to a flat key space here;
// callers are responsible for namespacing names (e.g.
// "<collection_id>/<segment_group_id>/<file_id>").
type Store interface {
	// Open opens an existing blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create opens a blob for streaming writes. The blob is not visible to
	// Open until Close succeeds.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes a blob in one shot. Equivalent to Create+Write+Close for
	// small payloads (manifests, index params).
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns blob names under prefix, lexicographically sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to an immutable blob.
type Blob interface {
	// ReadAt reads len(p) bytes starting at off, the same contract as
	// io.ReaderAt but context-aware for remote backends.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange returns a stream over [off, off+length).
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	io.Closer
	// Size returns the blob size in bytes.
	Size() int64
}

// Mappable is an optional interface for Blobs backed by a memory mapping.
type Mappable interface {
	// Bytes returns the underlying byte slice. Valid until Close.
	Bytes() ([]byte, error)
}

// WritableBlob is a handle for streaming a new blob into existence.
type WritableBlob interface {
	io.Writer
	io.Closer
	// Sync forces durability of bytes written so far, where the backend
	// supports it (local files); a no-op for backends that are durable
	// once Close returns (S3, MinIO).
	Sync() error
}
