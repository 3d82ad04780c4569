package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY,
	key TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	hash TEXT NOT NULL DEFAULT '',
	source_path TEXT NOT NULL,
	status TEXT NOT NULL,
	archive_set TEXT NOT NULL DEFAULT '[]',
	destination_path TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	discovered_at DATETIME,
	completed_at DATETIME,
	finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`

// InitDB opens the SQLite database at path and creates the jobs table if it
// doesn't exist. ":memory:" is accepted for tests.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// A single writer keeps the per-key compare-and-set updates atomic
	// without SQLITE_BUSY handling sprinkled through the repository.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
