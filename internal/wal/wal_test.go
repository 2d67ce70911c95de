package wal

import (
	"path/filepath"
	"testing"

	"github.com/reynaldliu/milvus/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)

	recs := []*Record{
		{
			Kind:         KindInsert,
			CollectionID: "c1",
			IDs:          []model.PrimaryKey{1},
			Vectors:      [][]float32{{1.0, 2.0, 3.0}},
		},
		{
			Kind:         KindDelete,
			CollectionID: "c1",
			IDs:          []model.PrimaryKey{2},
		},
		{
			Kind:         KindFlush,
			CollectionID: "c1",
		},
	}

	var lsns []model.LSN
	for _, r := range recs {
		lsn, err := w.Append(r)
		require.NoError(t, err)
		lsns = append(lsns, lsn)
	}
	require.NoError(t, w.Close())

	// LSNs are strictly increasing.
	for i := 1; i < len(lsns); i++ {
		assert.Less(t, lsns[i-1], lsns[i])
	}

	w2, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()

	reader, err := w2.Reader()
	require.NoError(t, err)
	defer reader.Close()

	var readRecs []*Record
	for {
		r, err := reader.Next()
		if err != nil {
			break
		}
		readRecs = append(readRecs, r)
	}

	require.Equal(t, len(recs), len(readRecs))
	for i, r := range recs {
		assert.Equal(t, r.Kind, readRecs[i].Kind)
		assert.Equal(t, r.CollectionID, readRecs[i].CollectionID)
		assert.Equal(t, lsns[i], readRecs[i].LSN)
		if r.Kind == KindInsert {
			assert.Equal(t, r.Vectors, readRecs[i].Vectors)
			assert.Equal(t, r.IDs, readRecs[i].IDs)
		}
		if r.Kind == KindDelete {
			assert.Equal(t, r.IDs, readRecs[i].IDs)
		}
	}
}

func TestWALStartLSNSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(nil, path, Options{Durability: DurabilitySync, StartLSN: 100})
	require.NoError(t, err)

	lsn, err := w.Append(&Record{Kind: KindFlush, CollectionID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, model.LSN(101), lsn)
	require.NoError(t, w.Close())
}
