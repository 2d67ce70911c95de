package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/reynaldliu/milvus/model"
)

// Store is the sqlite-backed catalog. A single writer mutex serializes
// mutations; readers run unlocked through database/sql's connection pool.
type Store struct {
	db *sql.DB

	writeMu sync.Mutex
}

// Open opens (creating if absent) the catalog database at dsn, enables WAL
// journal mode, and verifies the on-disk schema is compatible with the
// version this binary expects.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, model.WrapError(model.ErrIO, "open catalog", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one connection avoids SQLITE_BUSY under WAL
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, model.WrapError(model.ErrIO, "set journal mode", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, model.WrapError(model.ErrIO, "set pragma", err)
	}

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, model.WrapError(model.ErrIncompatibleMeta, "apply schema", err)
	}
	if _, err := db.ExecContext(ctx, initEnvironmentDML); err != nil {
		db.Close()
		return nil, model.WrapError(model.ErrIO, "seed environment row", err)
	}

	s := &Store{db: db}
	if err := s.checkSchemaVersion(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// checkSchemaVersion refuses to start if the stored schema is from a newer,
// incompatible version than this binary understands: never silently drop
// and recreate a table that would lose data.
func (s *Store) checkSchemaVersion(ctx context.Context) error {
	var stored int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_meta WHERE id = 1`).Scan(&stored)
	if err != nil {
		return model.WrapError(model.ErrIncompatibleMeta, "read schema version", err)
	}
	if stored > schemaVersion {
		return model.NewError(model.ErrIncompatibleMeta,
			fmt.Sprintf("catalog schema version %d is newer than supported version %d", stored, schemaVersion))
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWriteLock serializes a mutating transaction through the single writer
// lock, then commits or rolls back depending on fn's outcome.
func (s *Store) withWriteLock(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(model.ErrTransactionFailed, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return model.WrapError(model.ErrTransactionFailed, "commit transaction", err)
	}
	return nil
}
