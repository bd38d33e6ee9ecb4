// Package sqlitedb opens the SQLite database shared by the job and artifact
// stores.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

// Open opens (or creates) the SQLite database at path. File databases run in
// WAL mode with a busy timeout so the HTTP handlers and workers can share
// them. An in-memory database is pinned to a single connection, since each
// connection would otherwise see its own empty database.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != Memory {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		// WAL mode for better concurrent read performance.
		dsn = path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == Memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite db %s: %w", path, err)
	}
	return db, nil
}
