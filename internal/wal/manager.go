package wal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/reynaldliu/milvus/internal/fs"
	"github.com/reynaldliu/milvus/model"
)

// Manager owns a directory of rotating WAL files, each named by the LSN of
// its first record (as a zero-padded 20-digit decimal string), so lexical order equals
// LSN order.
type Manager struct {
	mu         sync.Mutex
	fsys       fs.FileSystem
	dir        string
	opts       Options
	rotateSize int64 // bytes; rotate the active file once it grows past this

	active  *WAL
	files   []string // known segment paths, oldest first, excluding active until rotation
	archive func(name string, compressed []byte) error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Durability  Durability
	RotateBytes int64 // rotate once the active file reaches this size; 0 disables rotation
	StartLSN    model.LSN

	// OnArchive, if set, receives an lz4-compressed copy of every rotated
	// segment file just before TruncateThrough removes it, so retention can
	// keep a cold copy instead of discarding history outright. name is the
	// original ".wal" file's base name.
	OnArchive func(name string, compressed []byte) error
}

func segmentName(lsn model.LSN) string {
	return fmt.Sprintf("%020d.wal", uint64(lsn))
}

func parseSegmentLSN(name string) (model.LSN, bool) {
	name = strings.TrimSuffix(filepath.Base(name), ".wal")
	v, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return model.LSN(v), true
}

// OpenManager opens (or creates) the WAL directory, opening the most recent
// segment file as active.
func OpenManager(fsys fs.FileSystem, dir string, opts ManagerOptions) (*Manager, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var segments []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".wal") {
			segments = append(segments, e.Name())
		}
	}
	sort.Strings(segments)

	m := &Manager{
		fsys:       fsys,
		dir:        dir,
		rotateSize: opts.RotateBytes,
		opts:       Options{Durability: opts.Durability, StartLSN: opts.StartLSN},
		archive:    opts.OnArchive,
	}

	var activePath string
	if len(segments) == 0 {
		activePath = filepath.Join(dir, segmentName(opts.StartLSN+1))
	} else {
		m.files = segments[:len(segments)-1]
		activePath = filepath.Join(dir, segments[len(segments)-1])
	}

	w, err := Open(fsys, activePath, m.opts)
	if err != nil {
		return nil, err
	}
	m.active = w
	return m, nil
}

// Append assigns an LSN, writes the record to the active segment, rotating
// to a new segment first if the active one has grown past RotateBytes.
func (m *Manager) Append(rec *Record) (model.LSN, error) {
	m.mu.Lock()
	if m.rotateSize > 0 && m.active.Size() >= m.rotateSize {
		if err := m.rotateLocked(); err != nil {
			m.mu.Unlock()
			return 0, err
		}
	}
	active := m.active
	m.mu.Unlock()

	return active.Append(rec)
}

func (m *Manager) rotateLocked() error {
	old := m.active
	lastLSN := old.LastLSN()
	if err := old.Close(); err != nil {
		return err
	}
	m.files = append(m.files, filepath.Base(old.path))

	next := lastLSN + 1
	path := filepath.Join(m.dir, segmentName(next))
	opts := m.opts
	opts.StartLSN = lastLSN
	w, err := Open(m.fsys, path, opts)
	if err != nil {
		return err
	}
	m.active = w
	return nil
}

// Sync flushes and fsyncs the active segment.
func (m *Manager) Sync() error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	return active.Sync()
}

// Close closes the active segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Close()
}

// segmentPaths returns all segment paths, oldest first, including the active one.
func (m *Manager) segmentPaths() []string {
	paths := make([]string, 0, len(m.files)+1)
	for _, f := range m.files {
		paths = append(paths, filepath.Join(m.dir, f))
	}
	paths = append(paths, m.active.path)
	return paths
}

// Replay iterates every record with LSN > minFlushLSN across all segments in
// ascending LSN order, invoking onRecord for each.
func (m *Manager) Replay(minFlushLSN model.LSN, onRecord func(*Record) error) error {
	m.mu.Lock()
	paths := m.segmentPaths()
	fsys := m.fsys
	m.mu.Unlock()

	for _, path := range paths {
		f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return err
		}
		if _, err := f.Seek(walHeaderSize, 0); err != nil {
			f.Close()
			return err
		}
		r := &Reader{f: f, r: bufio.NewReader(f)}
		for {
			rec, _, err := Decode(r.r)
			if err != nil {
				break // EOF or trailing partial record (unsynced tail)
			}
			if rec.LSN > minFlushLSN {
				if err := onRecord(rec); err != nil {
					f.Close()
					return err
				}
			}
		}
		f.Close()
	}
	return nil
}

// TruncateThrough deletes segment files whose highest LSN is < lsn. The
// active segment is never removed.
func (m *Manager) TruncateThrough(lsn model.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.files[:0]
	for _, name := range m.files {
		// A closed segment's highest LSN is bounded by the next segment's
		// first LSN minus one; since files are ordered by first-LSN and we
		// don't reopen closed segments, use the following segment's first
		// LSN (or the active segment's) as the exclusive upper bound.
		idx := indexOf(m.files, name)
		var upperBound model.LSN
		if idx+1 < len(m.files) {
			upperBound, _ = parseSegmentLSN(m.files[idx+1])
		} else {
			upperBound, _ = parseSegmentLSN(filepath.Base(m.active.path))
		}
		if upperBound != 0 && upperBound-1 < lsn {
			path := filepath.Join(m.dir, name)
			if m.archive != nil {
				if err := m.archiveSegment(path, name); err != nil {
					return err
				}
			}
			if err := m.fsys.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			continue
		}
		kept = append(kept, name)
	}
	m.files = kept
	return nil
}

// archiveSegment lz4-compresses a rotated segment file and hands it to the
// configured OnArchive callback before the segment is removed from disk.
func (m *Manager) archiveSegment(path, name string) error {
	f, err := m.fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return m.archive(name, buf.Bytes())
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
