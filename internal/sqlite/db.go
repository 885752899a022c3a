package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// :memory: databases stable across the pool.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the archive schema.
func (db *DB) RunMigrations() error {
	migration := `
-- Categories table
CREATE TABLE IF NOT EXISTS categories (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    color TEXT NOT NULL,
    rule TEXT,
    sortkey INTEGER NOT NULL
);

-- Sessions table. The creation date is the natural unique key; there is no
-- synthetic id.
CREATE TABLE IF NOT EXISTS sessions (
    creation_date INTEGER PRIMARY KEY,
    sortkey INTEGER NOT NULL
);

-- Archived tabs
CREATE TABLE IF NOT EXISTS tabs (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    title TEXT NOT NULL,
    metadata TEXT NOT NULL,
    key_high INTEGER NOT NULL,
    key_mid INTEGER NOT NULL,
    key_low INTEGER NOT NULL,
    preview_image_url TEXT
);
CREATE INDEX IF NOT EXISTS idx_tabs_url ON tabs(url);

-- Tab <-> category membership
CREATE TABLE IF NOT EXISTS tab_categories (
    tab_id TEXT NOT NULL,
    category_id TEXT NOT NULL,
    PRIMARY KEY (tab_id, category_id),
    FOREIGN KEY (tab_id) REFERENCES tabs(id) ON DELETE CASCADE,
    FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tab_categories_category ON tab_categories(category_id);

-- Tab <-> session membership
CREATE TABLE IF NOT EXISTS tab_sessions (
    tab_id TEXT NOT NULL,
    session_date INTEGER NOT NULL,
    PRIMARY KEY (tab_id, session_date),
    FOREIGN KEY (tab_id) REFERENCES tabs(id) ON DELETE CASCADE,
    FOREIGN KEY (session_date) REFERENCES sessions(creation_date) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tab_sessions_session ON tab_sessions(session_date);

-- Live-tab cache (reconciliation state, not user-visible archive data)
CREATE TABLE IF NOT EXISTS cached_tabs (
    tab_id INTEGER PRIMARY KEY,
    session_date INTEGER NOT NULL,
    metadata TEXT NOT NULL,
    preview_image_url TEXT,
    closed_through_archival INTEGER NOT NULL DEFAULT 0
);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so repositories can run
// standalone or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
