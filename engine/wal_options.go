package engine

import (
	"github.com/reynaldliu/milvus/internal/wal"
	"github.com/reynaldliu/milvus/model"
)

// Durability controls the durability guarantees of the WAL.
//
// This is part of the engine's public API surface; the underlying wal
// package is internal.
type Durability int

const (
	// DurabilityAsync relies on the OS page cache. Fast but risky.
	DurabilityAsync Durability = iota
	// DurabilitySync calls fsync after every write (group-committed). Slow but safe.
	DurabilitySync
)

// WALOptions configures the write-ahead log.
type WALOptions struct {
	Durability  Durability
	RotateBytes int64
}

func DefaultWALOptions() WALOptions {
	return WALOptions{Durability: DurabilitySync, RotateBytes: 64 << 20}
}

func toManagerOptions(o WALOptions, startLSN model.LSN, onArchive func(name string, compressed []byte) error) wal.ManagerOptions {
	// Defensive mapping: default to Sync for unknown values.
	d := o.Durability
	if d != DurabilityAsync && d != DurabilitySync {
		d = DurabilitySync
	}
	return wal.ManagerOptions{
		Durability:  wal.Durability(d),
		RotateBytes: o.RotateBytes,
		StartLSN:    startLSN,
		OnArchive:   onArchive,
	}
}
