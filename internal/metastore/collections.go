package metastore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/reynaldliu/milvus/model"
)

// CreateCollection assigns an id if schema.ID is empty (from a process-wide
// monotonic id source), stamps CreatedAt, and persists the row. Fails
// ALREADY_EXISTS if a live row with this id exists, or CONFLICT if the
// existing row is TO_DELETE (caller must wait for TTL).
func (s *Store) CreateCollection(ctx context.Context, c model.Collection) (model.Collection, error) {
	if c.ID == "" {
		c.ID = xid.New().String()
	}
	c.CreatedAt = time.Now()

	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		var existingState model.CollectionState
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM collections WHERE collection_id = ? ORDER BY state ASC LIMIT 1`, c.ID).
			Scan(&existingState)
		switch {
		case err == sql.ErrNoRows:
			// no existing row, proceed
		case err != nil:
			return model.WrapError(model.ErrIO, "lookup collection", err)
		case existingState == model.CollectionNormal:
			return model.NewError(model.ErrAlreadyExists, "collection exists: "+c.ID)
		default:
			return model.NewError(model.ErrConflict, "collection pending deletion: "+c.ID)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO collections
				(collection_id, state, dimension, created_on, target_segment_size,
				 engine_type, index_params, metric_type, owner, partition_tag, version, flush_lsn)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.State, c.Dimension, c.CreatedAt.UnixNano(), c.TargetSegmentSize,
			c.IndexKind, c.IndexParams, c.Metric, c.Owner, c.PartitionTag, c.Version, c.FlushLSN)
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "insert collection", err)
		}
		return nil
	})
	if err != nil {
		return model.Collection{}, err
	}
	return c, nil
}

// DropCollection soft-deletes a collection: sets state = TO_DELETE. Idempotent.
func (s *Store) DropCollection(ctx context.Context, id string) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE collections SET state = ? WHERE collection_id = ? AND state = ?`,
			model.CollectionToDelete, id, model.CollectionNormal)
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "drop collection", err)
		}
		return nil
	})
}

const collectionColumns = `collection_id, state, dimension, created_on, target_segment_size,
	engine_type, index_params, metric_type, owner, partition_tag, version, flush_lsn`

func scanCollection(row *sql.Row) (model.Collection, error) {
	var c model.Collection
	var createdOn int64
	if err := row.Scan(&c.ID, &c.State, &c.Dimension, &createdOn, &c.TargetSegmentSize,
		&c.IndexKind, &c.IndexParams, &c.Metric, &c.Owner, &c.PartitionTag, &c.Version, &c.FlushLSN); err != nil {
		return model.Collection{}, err
	}
	c.CreatedAt = time.Unix(0, createdOn)
	return c, nil
}

func scanCollectionRows(rows *sql.Rows) (model.Collection, error) {
	var c model.Collection
	var createdOn int64
	if err := rows.Scan(&c.ID, &c.State, &c.Dimension, &createdOn, &c.TargetSegmentSize,
		&c.IndexKind, &c.IndexParams, &c.Metric, &c.Owner, &c.PartitionTag, &c.Version, &c.FlushLSN); err != nil {
		return model.Collection{}, err
	}
	c.CreatedAt = time.Unix(0, createdOn)
	return c, nil
}

// DescribeCollection reads a live (non-TO_DELETE) collection row.
func (s *Store) DescribeCollection(ctx context.Context, id string) (model.Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE collection_id = ? AND state = ?`,
		id, model.CollectionNormal)
	c, err := scanCollection(row)
	if err == sql.ErrNoRows {
		return model.Collection{}, model.NewError(model.ErrNotFound, "collection not found: "+id)
	}
	if err != nil {
		return model.Collection{}, model.WrapError(model.ErrIO, "describe collection", err)
	}
	return c, nil
}

// HasCollection reports whether a live collection row exists.
func (s *Store) HasCollection(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM collections WHERE collection_id = ? AND state = ?`,
		id, model.CollectionNormal).Scan(&n)
	if err != nil {
		return false, model.WrapError(model.ErrIO, "has collection", err)
	}
	return n > 0, nil
}

// AllRootCollections returns every live collection with no owner.
func (s *Store) AllRootCollections(ctx context.Context) ([]model.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE owner = '' AND state = ? ORDER BY collection_id`,
		model.CollectionNormal)
	if err != nil {
		return nil, model.WrapError(model.ErrIO, "list root collections", err)
	}
	defer rows.Close()

	var out []model.Collection
	for rows.Next() {
		c, err := scanCollectionRows(rows)
		if err != nil {
			return nil, model.WrapError(model.ErrIO, "scan collection", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreatePartition validates non-nesting and tag uniqueness (after trim); if
// name is empty, generates one. Delegates to CreateCollection.
func (s *Store) CreatePartition(ctx context.Context, parent, name, tag string, lsn model.LSN) (model.Collection, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return model.Collection{}, model.NewError(model.ErrInvalidArg, "partition tag must not be empty")
	}

	parentRow, err := s.DescribeCollection(ctx, parent)
	if err != nil {
		return model.Collection{}, err
	}
	if parentRow.IsPartition() {
		return model.Collection{}, model.NewError(model.ErrInvalidArg, "nested partition: "+parent+" is itself a partition")
	}

	existing, err := s.ShowPartitions(ctx, parent)
	if err != nil {
		return model.Collection{}, err
	}
	for _, p := range existing {
		if strings.TrimSpace(p.PartitionTag) == tag {
			return model.Collection{}, model.NewError(model.ErrAlreadyExists, "partition tag exists: "+tag)
		}
	}

	if name == "" {
		name = xid.New().String()
	}

	return s.CreateCollection(ctx, model.Collection{
		ID:                name,
		Dimension:         parentRow.Dimension,
		Metric:            parentRow.Metric,
		IndexKind:         parentRow.IndexKind,
		IndexParams:       parentRow.IndexParams,
		TargetSegmentSize: parentRow.TargetSegmentSize,
		State:             model.CollectionNormal,
		Owner:             parent,
		PartitionTag:      tag,
		FlushLSN:          lsn,
	})
}

// ShowPartitions returns live rows owned by parent.
func (s *Store) ShowPartitions(ctx context.Context, parent string) ([]model.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE owner = ? AND state = ? ORDER BY partition_tag`,
		parent, model.CollectionNormal)
	if err != nil {
		return nil, model.WrapError(model.ErrIO, "show partitions", err)
	}
	defer rows.Close()

	var out []model.Collection
	for rows.Next() {
		c, err := scanCollectionRows(rows)
		if err != nil {
			return nil, model.WrapError(model.ErrIO, "scan partition", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DropPartitionByTag resolves tag to a partition id, then soft-deletes it.
func (s *Store) DropPartitionByTag(ctx context.Context, parent, tag string) error {
	tag = strings.TrimSpace(tag)
	partitions, err := s.ShowPartitions(ctx, parent)
	if err != nil {
		return err
	}
	for _, p := range partitions {
		if strings.TrimSpace(p.PartitionTag) == tag {
			return s.DropCollection(ctx, p.ID)
		}
	}
	return model.NewError(model.ErrNotFound, "partition tag not found: "+tag)
}

// UpdateCollectionIndex writes engine_type/params/metric and converts this
// collection's BACKUP segments back to RAW (reusable after an index-schema
// change).
func (s *Store) UpdateCollectionIndex(ctx context.Context, id string, kind model.IndexKind, params []byte, metric model.Metric) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE collections SET engine_type = ?, index_params = ?, metric_type = ?, version = version + 1
			 WHERE collection_id = ? AND state = ?`,
			kind, params, metric, id, model.CollectionNormal)
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "update collection index", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NewError(model.ErrNotFound, "collection not found: "+id)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE segments SET kind = ?, updated_at = ? WHERE collection_id = ? AND kind = ?`,
			model.SegmentRaw, time.Now().UnixNano(), id, model.SegmentBackup)
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "restore backup segments", err)
		}
		return nil
	})
}

// DropCollectionIndex transitions INDEX segments to TO_DELETE, BACKUP to RAW,
// and resets engine_type to the metric-appropriate default (flat scan).
func (s *Store) DropCollectionIndex(ctx context.Context, id string) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		now := time.Now().UnixNano()
		if _, err := tx.ExecContext(ctx,
			`UPDATE segments SET kind = ?, updated_at = ? WHERE collection_id = ? AND kind = ?`,
			model.SegmentToDelete, now, id, model.SegmentIndex); err != nil {
			return model.WrapError(model.ErrTransactionFailed, "drop index segments", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE segments SET kind = ?, updated_at = ? WHERE collection_id = ? AND kind = ?`,
			model.SegmentRaw, now, id, model.SegmentBackup); err != nil {
			return model.WrapError(model.ErrTransactionFailed, "restore backup segments", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE collections SET engine_type = ?, version = version + 1 WHERE collection_id = ? AND state = ?`,
			model.IndexKindFlat, id, model.CollectionNormal)
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "reset engine type", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NewError(model.ErrNotFound, "collection not found: "+id)
		}
		return nil
	})
}

// GetGlobalLsn reads the singleton environment row's counter.
func (s *Store) GetGlobalLsn(ctx context.Context) (model.LSN, error) {
	var lsn uint64
	err := s.db.QueryRowContext(ctx, `SELECT global_last_lsn FROM environment WHERE id = 1`).Scan(&lsn)
	if err != nil {
		return 0, model.WrapError(model.ErrIO, "get global lsn", err)
	}
	return model.LSN(lsn), nil
}

// SetGlobalLsn upserts the singleton environment row's counter.
func (s *Store) SetGlobalLsn(ctx context.Context, lsn model.LSN) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO environment (id, global_last_lsn) VALUES (1, ?)
			 ON CONFLICT(id) DO UPDATE SET global_last_lsn = excluded.global_last_lsn`,
			uint64(lsn))
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "set global lsn", err)
		}
		return nil
	})
}

// GetCollectionFlushLsn reads a collection's flush_lsn.
func (s *Store) GetCollectionFlushLsn(ctx context.Context, id string) (model.LSN, error) {
	c, err := s.DescribeCollection(ctx, id)
	if err != nil {
		return 0, err
	}
	return c.FlushLSN, nil
}

// SetCollectionFlushLsn advances a collection's flush_lsn.
func (s *Store) SetCollectionFlushLsn(ctx context.Context, id string, lsn model.LSN) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE collections SET flush_lsn = ? WHERE collection_id = ? AND state = ?`,
			uint64(lsn), id, model.CollectionNormal)
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "set flush lsn", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NewError(model.ErrNotFound, "collection not found: "+id)
		}
		return nil
	})
}

// MinFlushLsn returns the lowest flush_lsn across every collection (root and
// partition) still in NORMAL state — the oldest LSN the WAL must still
// retain for crash recovery. Returns 0 (retain everything) if there are no
// NORMAL collections yet.
func (s *Store) MinFlushLsn(ctx context.Context) (model.LSN, error) {
	var lsn sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(flush_lsn) FROM collections WHERE state = ?`, model.CollectionNormal).Scan(&lsn)
	if err != nil {
		return 0, model.WrapError(model.ErrIO, "min flush lsn", err)
	}
	if !lsn.Valid {
		return 0, nil
	}
	return model.LSN(lsn.Int64), nil
}
