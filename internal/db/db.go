package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/esnunes/renderpilot/internal/paths"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// DBPath returns the session database location, creating its directory.
// An explicit dir overrides the XDG data directory.
func DBPath(dir string) (string, error) {
	if dir == "" {
		var err error
		dir, err = paths.DataDir()
		if err != nil {
			return "", fmt.Errorf("getting data directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return filepath.Join(dir, "renderpilot.db"), nil
}

func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}
	return db, nil
}
