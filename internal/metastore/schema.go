package metastore

const schemaVersion = 1

// schemaDDL creates the two catalog tables plus the environment singleton,
// matching the persisted catalog schema: collections, segments, environment.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS collections (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id       TEXT NOT NULL,
	state               INTEGER NOT NULL,
	dimension           INTEGER NOT NULL,
	created_on          INTEGER NOT NULL,
	flag                INTEGER NOT NULL DEFAULT 0,
	target_segment_size INTEGER NOT NULL,
	engine_type         INTEGER NOT NULL,
	index_params        BLOB,
	metric_type         INTEGER NOT NULL,
	owner               TEXT NOT NULL DEFAULT '',
	partition_tag       TEXT NOT NULL DEFAULT '',
	version             INTEGER NOT NULL DEFAULT 0,
	flush_lsn           INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_cid_state_live
	ON collections(collection_id)
	WHERE state = 0;

CREATE INDEX IF NOT EXISTS idx_collections_owner ON collections(owner);

CREATE TABLE IF NOT EXISTS segments (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id    TEXT NOT NULL,
	segment_group_id INTEGER NOT NULL,
	engine_type      INTEGER NOT NULL,
	file_id          TEXT NOT NULL UNIQUE,
	kind             INTEGER NOT NULL,
	bytes            INTEGER NOT NULL DEFAULT 0,
	row_count        INTEGER NOT NULL DEFAULT 0,
	updated_at       INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	date_bucket      INTEGER NOT NULL DEFAULT 0,
	flush_lsn        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_segments_collection_kind ON segments(collection_id, kind);

CREATE TABLE IF NOT EXISTS environment (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	global_last_lsn INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_meta (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);
`

const initEnvironmentDML = `
INSERT OR IGNORE INTO environment (id, global_last_lsn) VALUES (1, 0);
INSERT OR IGNORE INTO schema_meta (id, version) VALUES (1, ` + "1" + `);
`
