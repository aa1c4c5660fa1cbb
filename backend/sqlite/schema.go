package sqlite

// Schema version for migration management
const SchemaVersion = 1

// SQL statements for database schema creation

// TasksTableSQL creates the tasks table. sync_status is SYNCED unless the task
// carries local mutations the server has not confirmed.
const TasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL CHECK(type IN ('PICKUP', 'DROP')),
    status TEXT NOT NULL,
    rider_id TEXT NOT NULL,
    customer_name TEXT NOT NULL DEFAULT '',
    customer_phone TEXT,
    customer_address TEXT,
    latitude REAL,
    longitude REAL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    sync_status TEXT NOT NULL DEFAULT 'SYNCED' CHECK(sync_status IN ('SYNCED', 'PENDING', 'FAILED'))
);
`

// TaskActionsTableSQL creates the action log. Only is_synced, retry_count and
// last_error are ever updated.
const TaskActionsTableSQL = `
CREATE TABLE IF NOT EXISTS task_actions (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    action_type TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    latitude REAL,
    longitude REAL,
    notes TEXT,

    -- Sync bookkeeping
    is_synced INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,

    FOREIGN KEY(task_id) REFERENCES tasks(id) ON UPDATE CASCADE ON DELETE CASCADE
);
`

// SchemaVersionTableSQL creates the schema version table for migration tracking
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// TasksIndexesSQL creates indexes on tasks table for common queries
const TasksIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_rider_id ON tasks(rider_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_sync_status ON tasks(sync_status);
`

// TaskActionsIndexesSQL creates indexes backing the unsynced-action scan
const TaskActionsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_task_actions_task_id ON task_actions(task_id);
CREATE INDEX IF NOT EXISTS idx_task_actions_unsynced ON task_actions(is_synced, retry_count, timestamp);
`

// AllTableSchemas returns all table creation statements in order
func AllTableSchemas() []string {
	return []string{
		SchemaVersionTableSQL,
		TasksTableSQL,
		TaskActionsTableSQL,
	}
}

// AllIndexes returns all index creation statements
func AllIndexes() []string {
	return []string{
		TasksIndexesSQL,
		TaskActionsIndexesSQL,
	}
}

// PragmaStatements returns pragma statements to execute on database connection
func PragmaStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL", // Balance between safety and performance
		"PRAGMA busy_timeout = 5000",
	}
}
