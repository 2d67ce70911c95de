package engine

import (
	"github.com/reynaldliu/milvus/internal/membuffer"
	"github.com/reynaldliu/milvus/internal/query"
	"github.com/reynaldliu/milvus/internal/wal"
	"github.com/reynaldliu/milvus/model"
)

// recoverFromWAL replays every WAL record with an LSN greater than
// minFlushLSN into buf and blacklists, restoring MemBuffer state to where it
// was before the crash. FLUSH records are markers only: MemBuffer state for
// the flushed collection was already durable in segment blobs by the time
// the FLUSH record was written, so replay simply skips them.
//
// minFlushLSN is the highest global LSN the catalog had persisted; wal.Manager
// starts replay from there so already-flushed inserts are not re-applied.
// The returned LSN is the highest one seen, used to seed the WAL's own
// atomic LSN counter on reopen.
func recoverFromWAL(m *wal.Manager, minFlushLSN model.LSN, buf *membuffer.Buffer, blacklists *query.Blacklists) (model.LSN, error) {
	var maxLSN model.LSN

	err := m.Replay(minFlushLSN, func(rec *wal.Record) error {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		switch rec.Kind {
		case wal.KindInsert:
			records := make([]model.Record, len(rec.IDs))
			for i, id := range rec.IDs {
				records[i] = model.Record{PK: id, Vector: rec.Vectors[i]}
			}
			return buf.Append(rec.CollectionID, rec.PartitionTag, records, rec.LSN)
		case wal.KindDelete:
			blacklists.Delete(rec.CollectionID, rec.IDs)
			return buf.AppendDelete(rec.CollectionID, rec.IDs, rec.LSN)
		case wal.KindFlush:
			return nil
		default:
			return nil
		}
	})
	if err != nil {
		return maxLSN, err
	}
	return maxLSN, nil
}
