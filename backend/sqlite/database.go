package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrSchemaTooNew is returned when the database file was written by a newer
// fieldsync whose schema this build does not know.
var ErrSchemaTooNew = errors.New("database schema is newer than this build")

// Database is the task store's connection plus its on-disk location
type Database struct {
	*sql.DB
	path string
}

// InitDatabase opens the store database, creating the file and schema on
// first use. An empty customPath resolves to the XDG data directory.
func InitDatabase(customPath string) (*Database, error) {
	dbPath, err := GetDatabasePath(customPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}

	// Parent directory may not exist on a fresh device
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: pragmas stay in effect and writers are serialized
	db.SetMaxOpenConns(1)

	database := &Database{DB: db, path: dbPath}

	// Schema before version check, so a brand new file has a version table
	if err := database.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := database.checkSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}

	return database, nil
}

// GetDatabasePath returns where the store lives.
// Priority: customPath > $XDG_DATA_HOME/fieldsync/fieldsync.db > ~/.local/share/fieldsync/fieldsync.db
func GetDatabasePath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}

	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "fieldsync", "fieldsync.db"), nil
	}

	// No XDG: fall back to the conventional location under $HOME
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".local", "share", "fieldsync", "fieldsync.db"), nil
}

func (db *Database) initializeSchema() error {
	// Pragmas first: foreign keys and WAL must be on before any table exists
	for _, pragma := range PragmaStatements() {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %q: %w", pragma, err)
		}
	}

	// Tasks, actions and schema_version
	for _, schema := range AllTableSchemas() {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, index := range AllIndexes() {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return db.recordSchemaVersion()
}

// recordSchemaVersion inserts SchemaVersion once; reopening is a no-op
func (db *Database) recordSchemaVersion() error {
	_, err := db.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		SchemaVersion,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// checkSchemaVersion refuses files migrated by a newer build. Writing to them
// could drop columns that build relies on.
func (db *Database) checkSchemaVersion() error {
	version, err := db.GetSchemaVersion()
	if err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: file has version %d, this build supports %d", ErrSchemaTooNew, version, SchemaVersion)
	}
	return nil
}

// GetSchemaVersion returns the highest schema version applied to the file
func (db *Database) GetSchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Path returns the filesystem path to the database file
func (db *Database) Path() string {
	return db.path
}
