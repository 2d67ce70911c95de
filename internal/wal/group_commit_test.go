package wal

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/reynaldliu/milvus/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAL_GroupCommit_Concurrency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	opts := Options{Durability: DurabilitySync}
	w, err := Open(nil, path, opts)
	require.NoError(t, err)
	defer w.Close()

	concurrency := 50
	recordsPerGoroutine := 100
	totalRecords := concurrency * recordsPerGoroutine

	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				pk := model.PrimaryKey(uint64(id*recordsPerGoroutine + j))
				rec := &Record{
					Kind:         KindInsert,
					CollectionID: "c1",
					IDs:          []model.PrimaryKey{pk},
					Vectors:      [][]float32{{1.0, 2.0, 3.0}},
				}
				if _, err := w.Append(rec); err != nil {
					panic(err)
				}
			}
		}(i)
	}

	wg.Wait()

	require.NoError(t, w.Close())

	w2, err := Open(nil, path, opts)
	require.NoError(t, err)
	defer w2.Close()

	reader, err := w2.Reader()
	require.NoError(t, err)
	defer reader.Close()

	count := 0
	seenLSN := make(map[model.LSN]bool)
	seenPK := make(map[model.PrimaryKey]bool)
	for {
		rec, err := reader.Next()
		if err != nil {
			break
		}
		count++
		seenLSN[rec.LSN] = true
		seenPK[rec.IDs[0]] = true
	}

	assert.Equal(t, totalRecords, count)
	assert.Equal(t, totalRecords, len(seenLSN))
	assert.Equal(t, totalRecords, len(seenPK))
}

func TestWAL_GroupCommit_Sync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal_sync.log")

	opts := Options{Durability: DurabilitySync}
	w, err := Open(nil, path, opts)
	require.NoError(t, err)
	defer w.Close()

	err = w.Sync()
	assert.NoError(t, err)

	rec := &Record{
		Kind:         KindInsert,
		CollectionID: "c1",
		IDs:          []model.PrimaryKey{1},
		Vectors:      [][]float32{{1.0}},
	}
	_, err = w.Append(rec)
	assert.NoError(t, err)

	err = w.Sync()
	assert.NoError(t, err)
}
