package sqlarchive

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial schema (pre-migration)
// 1 - added inputs_data_hash index on job_records
const currentSchemaVersion = 1

// Archive is an embedded-SQL backend. It satisfies archive.Store when
// opened writable and rejects writes when opened read-only.
type Archive struct {
	id       string
	db       *sql.DB
	writable bool
}

// Open creates or opens a writable SQLite archive at path. Applies
// required pragmas and migrations. Idempotent.
func Open(id, path string) (*Archive, error) {
	return open(id, path, true)
}

// OpenReadOnly opens a SQLite archive for reading only. All
// write-contract calls return archive.ErrReadOnly.
func OpenReadOnly(id, path string) (*Archive, error) {
	return open(id, path, false)
}

func open(id, path string, writable bool) (*Archive, error) {
	if id == "" {
		return nil, fmt.Errorf("open sql archive: empty id")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sql archive %q: %w", id, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sql archive %q: %w", id, err)
	}

	// SQLite supports one writer at a time; a single connection
	// avoids SQLITE_BUSY from our own pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sql archive %q: %w", id, err)
	}
	if writable {
		if err := applySchema(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema to sql archive %q: %w", id, err)
		}
	}

	return &Archive{id: id, db: db, writable: writable}, nil
}

// ID returns the mount identifier.
func (a *Archive) ID() string { return a.id }

// Close closes the database connection.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the inputs_data_hash lookup index for databases
// created before the data-hash matcher existed.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_records_inputs_data
		ON job_records(manifest_hash, inputs_data_hash)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
