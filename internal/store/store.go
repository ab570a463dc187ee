// Package store provides SQLite persistence for projects, issues, comments,
// users and the sync records linking local issues to GitHub issues.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite database connection.
type Store struct {
	path string
	conn *sql.DB
}

const createProjectsSQL = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    repo_full_name TEXT,
    repo_url TEXT,
    installation_id TEXT,
    sync_enabled INTEGER DEFAULT 0,
    last_sync_at TEXT,
    webhook_secret TEXT
);
`

const createIssuesSQL = `
CREATE TABLE IF NOT EXISTS issues (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL,
    assignee_id TEXT,
    labels TEXT,  -- JSON array of label names
    remote_number INTEGER DEFAULT 0,
    remote_url TEXT,
    sync_enabled INTEGER DEFAULT 0,
    last_synced_at TEXT,
    created_at TEXT,
    updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_id);
`

// remote_comment_id is NULL for locally authored comments; SQLite treats
// NULLs as distinct in unique indexes, so the uniqueness only binds mirrored
// comments.
const createCommentsSQL = `
CREATE TABLE IF NOT EXISTS comments (
    id TEXT PRIMARY KEY,
    issue_id TEXT NOT NULL,
    content TEXT NOT NULL,
    author_id TEXT,
    is_ai INTEGER DEFAULT 0,
    remote_comment_id INTEGER,
    sync_enabled INTEGER DEFAULT 0,
    created_at TEXT,
    UNIQUE(issue_id, remote_comment_id)
);
`

const createUsersSQL = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS accounts (
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    provider_account_id TEXT NOT NULL,
    UNIQUE(provider, provider_account_id)
);
`

// createSyncRecordsSQL defines the 1:1 linkage between local and remote
// issues. issue_id is unique (at most one record per issue) and so is
// (project_id, remote_number): no two local issues may claim the same
// remote issue.
const createSyncRecordsSQL = `
CREATE TABLE IF NOT EXISTS sync_records (
    id TEXT PRIMARY KEY,
    issue_id TEXT NOT NULL UNIQUE,
    project_id TEXT NOT NULL,
    remote_number INTEGER NOT NULL,
    remote_node_id TEXT,
    repo_full_name TEXT NOT NULL,
    last_sync_at TEXT,
    UNIQUE(project_id, remote_number)
);
`

// Open creates or opens a SQLite database at the given path and initializes
// the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer; one connection avoids
	// "database is locked" errors when webhook deliveries overlap.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, ddl := range []string{
		createProjectsSQL,
		createIssuesSQL,
		createCommentsSQL,
		createUsersSQL,
		createSyncRecordsSQL,
	} {
		if _, err := conn.Exec(ddl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &Store{path: path, conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// timeText formats a timestamp for storage; zero times become NULL.
// Nanosecond precision is kept so that cursor comparisons distinguish writes
// landing within the same second.
func timeText(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// parseTime reads a stored RFC3339 timestamp; NULL or empty becomes zero.
func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
