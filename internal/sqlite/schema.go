package sqlite

import "fmt"

// Engine store DDL. These three stores exist in every database; entity
// namespaces are created per collection on first use. All statements use
// IF NOT EXISTS so a version upgrade adds missing stores without touching
// existing data.
const (
	createPendingOps = `CREATE TABLE IF NOT EXISTS pending_ops (
    pending_id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createTrash = `CREATE TABLE IF NOT EXISTS trash (
    trash_id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    item_id TEXT NOT NULL,
    item_type INTEGER NOT NULL,
    deleted_at TEXT NOT NULL
);`

	createSyncCursors = `CREATE TABLE IF NOT EXISTS sync_cursors (
    collection TEXT PRIMARY KEY,
    last_synced_at TEXT NOT NULL
);`

	idxPendingKind = `CREATE INDEX IF NOT EXISTS idx_pending_kind ON pending_ops(kind, status);`

	// One live trash record per (item_id, item_type), enforced by the engine.
	idxTrashItem = `CREATE UNIQUE INDEX IF NOT EXISTS idx_trash_item ON trash(item_id, item_type);`
)

// engineDDL lists the engine store statements in creation order.
var engineDDL = []string{
	createPendingOps,
	createTrash,
	createSyncCursors,
	idxPendingKind,
	idxTrashItem,
}

// entityTableDDL returns the namespace DDL for a collection. Every collection
// shares the same row shape: the typed payload is an opaque JSON document.
func entityTableDDL(collection string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    status INTEGER NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`, entityTableName(collection))
}

// entityTableName returns the SQLite table name for a collection namespace.
func entityTableName(collection string) string {
	return "entity_" + collection
}
