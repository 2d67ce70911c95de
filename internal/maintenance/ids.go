package maintenance

import (
	"encoding/binary"

	"github.com/rs/xid"

	"github.com/reynaldliu/milvus/model"
)

// newGroupIDFrom derives a fresh segment group id for a merge/compaction
// output, independent of its inputs' groups, the same way membuffer mints
// group ids for freshly flushed segments.
func newGroupIDFrom(_ []model.Segment) uint64 {
	id := xid.New()
	return binary.BigEndian.Uint64(id[:8])
}

func newFileSuffix() string {
	return xid.New().String()
}
