package engine

import (
	"os"

	"github.com/reynaldliu/milvus/internal/fs"
)

// syncDir fsyncs a directory entry so a newly created collection or segment
// group directory survives a crash, matching the WAL's own fsync-on-rotate
// discipline.
func syncDir(fsys fs.FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
