// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without a C
// toolchain. Queries go through jmoiron/sqlx, which adds struct scanning
// (`db:"..."` tags), named parameters and IN-clause expansion on top of
// database/sql without hiding the SQL.
//
// SCHEMA OWNERSHIP:
// This package never creates or alters tables. The schema is owned by the
// migrate package, which must have run to completion before New's *DB
// serves any query.
package sqlite

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database (tests, throwaway runs).
const MemoryPath = ":memory:"

func init() {
	// sqlx does not know the modernc driver name; tell it SQLite uses `?`.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB wraps a sqlx connection pool and provides repository methods.
// One *DB implements SnippetRepository, ShareRepository and UserRepository.
type DB struct {
	conn *sqlx.DB
}

// New opens the SQLite database at dbPath.
//
// dbPath examples:
//   - "data/snippets.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (great for tests, lost on close)
//
// PRAGMAS:
// Pragmas are per connection, so they travel in the DSN and every pooled
// connection gets them:
//   - foreign_keys(1)     → enforce REFERENCES clauses
//   - busy_timeout(5000)  → wait up to 5s on a locked database instead of failing
//   - journal_mode(WAL)   → readers don't block the writer (file databases only)
//
// An in-memory database lives inside a single connection, so the pool is
// pinned to one connection for ":memory:".
func New(dbPath string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if dbPath == MemoryPath {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the underlying pool to the migration runner.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func dsn(dbPath string) string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	if dbPath != MemoryPath {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	// Write time.Time values as "2006-01-02 15:04:05.999999999-07:00" so
	// they sort lexically and parse back into time.Time.
	params.Set("_time_format", "sqlite")
	return dbPath + "?" + params.Encode()
}

// isConstraintViolation reports whether err came from a UNIQUE or PRIMARY
// KEY constraint.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
