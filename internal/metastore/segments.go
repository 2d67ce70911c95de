package metastore

import (
	"context"
	"database/sql"
	"time"

	"github.com/reynaldliu/milvus/model"
)

const segmentColumns = `id, collection_id, segment_group_id, engine_type, file_id, kind,
	bytes, row_count, updated_at, created_at, date_bucket, flush_lsn`

func scanSegmentRows(rows *sql.Rows) (model.Segment, error) {
	var seg model.Segment
	var updatedAt, createdAt int64
	if err := rows.Scan(&seg.ID, &seg.Collection, &seg.SegmentGroupID, &seg.EngineType, &seg.FileID,
		&seg.Kind, &seg.Bytes, &seg.RowCount, &updatedAt, &createdAt, &seg.DateBucket, &seg.FlushLSN); err != nil {
		return model.Segment{}, err
	}
	seg.UpdatedAt = time.Unix(0, updatedAt)
	seg.CreatedAt = time.Unix(0, createdAt)
	return seg, nil
}

// CreateSegment fills in engine_type from the parent collection, stamps
// times, and persists in state NEW.
func (s *Store) CreateSegment(ctx context.Context, seg model.Segment) (model.Segment, error) {
	now := time.Now()
	seg.CreatedAt = now
	seg.UpdatedAt = now
	seg.Kind = model.SegmentNew

	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		var engineType model.IndexKind
		err := tx.QueryRowContext(ctx,
			`SELECT engine_type FROM collections WHERE collection_id = ? AND state = ?`,
			seg.Collection, model.CollectionNormal).Scan(&engineType)
		if err == sql.ErrNoRows {
			return model.NewError(model.ErrNotFound, "collection not found: "+seg.Collection)
		}
		if err != nil {
			return model.WrapError(model.ErrIO, "lookup collection engine type", err)
		}
		seg.EngineType = engineType

		res, err := tx.ExecContext(ctx, `
			INSERT INTO segments
				(collection_id, segment_group_id, engine_type, file_id, kind, bytes, row_count,
				 updated_at, created_at, date_bucket, flush_lsn)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			seg.Collection, seg.SegmentGroupID, seg.EngineType, seg.FileID, seg.Kind, seg.Bytes,
			seg.RowCount, seg.UpdatedAt.UnixNano(), seg.CreatedAt.UnixNano(), seg.DateBucket, uint64(seg.FlushLSN))
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "insert segment", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return model.WrapError(model.ErrIO, "segment last insert id", err)
		}
		seg.ID = model.SegmentID(id)
		return nil
	})
	if err != nil {
		return model.Segment{}, err
	}
	return seg, nil
}

// collectionIsToDelete checks a collection's state within tx.
func collectionIsToDelete(ctx context.Context, tx *sql.Tx, collectionID string) (bool, error) {
	var state model.CollectionState
	err := tx.QueryRowContext(ctx, `SELECT state FROM collections WHERE collection_id = ?`, collectionID).Scan(&state)
	if err == sql.ErrNoRows {
		return true, nil // collection gone entirely: treat like TO_DELETE for coercion purposes
	}
	if err != nil {
		return false, err
	}
	return state == model.CollectionToDelete, nil
}

func updateSegmentTx(ctx context.Context, tx *sql.Tx, seg model.Segment) error {
	toDelete, err := collectionIsToDelete(ctx, tx, seg.Collection)
	if err != nil {
		return model.WrapError(model.ErrIO, "check collection state", err)
	}
	if toDelete {
		seg.Kind = model.SegmentToDelete
	}
	seg.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE segments SET
			segment_group_id = ?, engine_type = ?, file_id = ?, kind = ?, bytes = ?, row_count = ?,
			updated_at = ?, date_bucket = ?, flush_lsn = ?
		WHERE id = ?`,
		seg.SegmentGroupID, seg.EngineType, seg.FileID, seg.Kind, seg.Bytes, seg.RowCount,
		seg.UpdatedAt.UnixNano(), seg.DateBucket, uint64(seg.FlushLSN), uint64(seg.ID))
	if err != nil {
		return model.WrapError(model.ErrTransactionFailed, "update segment", err)
	}
	return nil
}

// UpdateSegment writes back a single segment row; if the parent collection
// is TO_DELETE, the kind is transparently coerced to TO_DELETE.
func (s *Store) UpdateSegment(ctx context.Context, seg model.Segment) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		return updateSegmentTx(ctx, tx, seg)
	})
}

// UpdateSegments writes back a batch in a single transaction, with the same
// TO_DELETE coercion as UpdateSegment.
func (s *Store) UpdateSegments(ctx context.Context, segs []model.Segment) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		for _, seg := range segs {
			if err := updateSegmentTx(ctx, tx, seg); err != nil {
				return err
			}
		}
		return nil
	})
}

// FilesToSearch returns segments visible to a query: kind in
// {RAW, TO_INDEX, INDEX} and the owning collection's state is NORMAL. A
// collection mid-drop (state TO_DELETE) is invisible to search even before
// its segments are individually coerced to TO_DELETE.
func (s *Store) FilesToSearch(ctx context.Context, collectionID string, segmentIDs []model.SegmentID) ([]model.Segment, error) {
	query := `SELECT ` + qualify("segments", segmentColumns) + ` FROM segments
		JOIN collections ON collections.collection_id = segments.collection_id
		WHERE segments.collection_id = ? AND segments.kind IN (?, ?, ?) AND collections.state = ?`
	args := []any{collectionID, model.SegmentRaw, model.SegmentToIndex, model.SegmentIndex, model.CollectionNormal}
	if len(segmentIDs) > 0 {
		query += " AND segments.id IN (" + placeholders(len(segmentIDs)) + ")"
		for _, id := range segmentIDs {
			args = append(args, uint64(id))
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.WrapError(model.ErrIO, "files to search", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

// FilesToMerge returns RAW segments strictly smaller than the collection's
// target_segment_size, sorted by size descending (pack large-first).
func (s *Store) FilesToMerge(ctx context.Context, collectionID string) ([]model.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualify("segments", segmentColumns)+` FROM segments
		JOIN collections ON collections.collection_id = segments.collection_id
		WHERE segments.collection_id = ? AND segments.kind = ?
		  AND segments.bytes < collections.target_segment_size
		  AND collections.state = ?
		ORDER BY segments.bytes DESC`,
		collectionID, model.SegmentRaw, model.CollectionNormal)
	if err != nil {
		return nil, model.WrapError(model.ErrIO, "files to merge", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

// FilesToIndex returns all TO_INDEX segments across all collections.
func (s *Store) FilesToIndex(ctx context.Context) ([]model.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE kind = ?`, model.SegmentToIndex)
	if err != nil {
		return nil, model.WrapError(model.ErrIO, "files to index", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

// FilesByKind is an arbitrary query used by admin ops.
func (s *Store) FilesByKind(ctx context.Context, collectionID string, kinds []model.SegmentKind) ([]model.Segment, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	args := []any{collectionID}
	for _, k := range kinds {
		args = append(args, k)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE collection_id = ? AND kind IN (`+placeholders(len(kinds))+`)`,
		args...)
	if err != nil {
		return nil, model.WrapError(model.ErrIO, "files by kind", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

// MarkTooSmallRawAsToIndex bulk-sets RAW -> TO_INDEX where row_count is at
// or above threshold.
func (s *Store) MarkTooSmallRawAsToIndex(ctx context.Context, collectionID string, threshold int64) (int64, error) {
	var affected int64
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE segments SET kind = ?, updated_at = ? WHERE collection_id = ? AND kind = ? AND row_count >= ?`,
			model.SegmentToIndex, time.Now().UnixNano(), collectionID, model.SegmentRaw, threshold)
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "mark too-small raw as to-index", err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// ArchiveByAge marks the oldest segments TO_DELETE until none remain older
// than the cutoff.
func (s *Store) ArchiveByAge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	var affected int64
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE segments SET kind = ?, updated_at = ? WHERE kind != ? AND created_at < ?`,
			model.SegmentToDelete, time.Now().UnixNano(), model.SegmentToDelete, cutoff)
		if err != nil {
			return model.WrapError(model.ErrTransactionFailed, "archive by age", err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// ArchiveByDiskQuota marks the oldest live segments TO_DELETE until total
// live bytes falls at or below limitBytes.
func (s *Store) ArchiveByDiskQuota(ctx context.Context, limitBytes int64) (int64, error) {
	var affected int64
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		var total int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(bytes), 0) FROM segments WHERE kind != ?`, model.SegmentToDelete).Scan(&total)
		if err != nil {
			return model.WrapError(model.ErrIO, "sum live bytes", err)
		}
		if total <= limitBytes {
			return nil
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT id, bytes FROM segments WHERE kind != ? ORDER BY created_at ASC`, model.SegmentToDelete)
		if err != nil {
			return model.WrapError(model.ErrIO, "scan archivable segments", err)
		}
		type idBytes struct {
			id    int64
			bytes int64
		}
		var candidates []idBytes
		for rows.Next() {
			var ib idBytes
			if err := rows.Scan(&ib.id, &ib.bytes); err != nil {
				rows.Close()
				return model.WrapError(model.ErrIO, "scan archivable segment", err)
			}
			candidates = append(candidates, ib)
		}
		rows.Close()

		now := time.Now().UnixNano()
		for _, c := range candidates {
			if total <= limitBytes {
				break
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE segments SET kind = ?, updated_at = ? WHERE id = ?`,
				model.SegmentToDelete, now, c.id); err != nil {
				return model.WrapError(model.ErrTransactionFailed, "archive segment", err)
			}
			total -= c.bytes
			affected++
		}
		return nil
	})
	return affected, err
}

// CleanExpired removes TO_DELETE rows whose updated_at is older than
// now-ttl, skipping any segment id present in stillReferenced (the
// OngoingOps set). The caller is responsible for erasing the underlying
// blobs for the ids this returns.
func (s *Store) CleanExpired(ctx context.Context, ttl time.Duration, stillReferenced func(model.SegmentID) bool) ([]model.Segment, error) {
	cutoff := time.Now().Add(-ttl).UnixNano()

	var removed []model.Segment
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+segmentColumns+` FROM segments WHERE kind = ? AND updated_at < ?`,
			model.SegmentToDelete, cutoff)
		if err != nil {
			return model.WrapError(model.ErrIO, "scan expired segments", err)
		}
		candidates, err := collectSegments(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for _, seg := range candidates {
			if stillReferenced != nil && stillReferenced(seg.ID) {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE id = ?`, uint64(seg.ID)); err != nil {
				return model.WrapError(model.ErrTransactionFailed, "delete expired segment", err)
			}
			removed = append(removed, seg)
		}

		// A collection marked TO_DELETE with no remaining segment rows is
		// fully purged from the catalog.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM collections WHERE state = ? AND collection_id NOT IN (SELECT DISTINCT collection_id FROM segments)`,
			model.CollectionToDelete); err != nil {
			return model.WrapError(model.ErrTransactionFailed, "purge empty collections", err)
		}
		return nil
	})
	return removed, err
}

// PurgeShadowSegments deletes surviving NEW/NEW_MERGE/NEW_INDEX rows on
// startup: their blobs exist on disk but were never committed visible.
func (s *Store) PurgeShadowSegments(ctx context.Context) ([]model.Segment, error) {
	var purged []model.Segment
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+segmentColumns+` FROM segments WHERE kind IN (?, ?, ?)`,
			model.SegmentNew, model.SegmentNewMerge, model.SegmentNewIndex)
		if err != nil {
			return model.WrapError(model.ErrIO, "scan shadow segments", err)
		}
		shadows, err := collectSegments(rows)
		rows.Close()
		if err != nil {
			return err
		}
		for _, seg := range shadows {
			if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE id = ?`, uint64(seg.ID)); err != nil {
				return model.WrapError(model.ErrTransactionFailed, "purge shadow segment", err)
			}
			purged = append(purged, seg)
		}
		return nil
	})
	return purged, err
}

func collectSegments(rows *sql.Rows) ([]model.Segment, error) {
	var out []model.Segment
	for rows.Next() {
		seg, err := scanSegmentRows(rows)
		if err != nil {
			return nil, model.WrapError(model.ErrIO, "scan segment", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

func qualify(table, cols string) string {
	out := ""
	for i, c := range splitCSV(cols) {
		if i > 0 {
			out += ", "
		}
		out += table + "." + c
	}
	return out
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, trimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, trimSpace(s[start:]))
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t' || s[0] == '\n') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	return s
}
