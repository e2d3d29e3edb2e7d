// Package dbopen opens the SQLite databases used by texstudio (texture
// catalog, observability, SQL traces) with the same pragmas everywhere.
//
// Every connection gets:
//
//	PRAGMA foreign_keys = ON
//	PRAGMA journal_mode = WAL
//	PRAGMA busy_timeout = 10000
//	PRAGMA synchronous  = NORMAL
//
// The path ":memory:" is pinned to a single connection; a second pooled
// connection would open a different, empty database.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open(":memory:", dbopen.WithSchema(catalog.Schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// MemoryPath is the special path for a process-lifetime database.
const MemoryPath = ":memory:"

type settings struct {
	driver     string
	busyMs     int
	noForeign  bool
	createDir  bool
	statements []string
}

// Option customises Open.
type Option func(*settings)

// WithDriver sets the database/sql driver name. Default: "sqlite".
// The tracing driver registered by package trace is the other one in use.
func WithDriver(name string) Option {
	return func(s *settings) { s.driver = name }
}

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option {
	return func(s *settings) { s.busyMs = ms }
}

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option {
	return func(s *settings) { s.createDir = true }
}

// WithSchema runs ddl once the pragmas are set. Repeatable; statements run
// in order.
func WithSchema(ddl string) Option {
	return func(s *settings) { s.statements = append(s.statements, ddl) }
}

// WithoutForeignKeys leaves PRAGMA foreign_keys off.
func WithoutForeignKeys() Option {
	return func(s *settings) { s.noForeign = true }
}

func (s *settings) pragmas() []string {
	fk := "ON"
	if s.noForeign {
		fk = "OFF"
	}
	return []string{
		"PRAGMA foreign_keys = " + fk,
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyMs),
		"PRAGMA synchronous = NORMAL",
	}
}

// Open opens the SQLite database at path, applies the pragmas and schemas
// and pings it. The caller blank-imports the driver (modernc.org/sqlite
// registers "sqlite").
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{driver: "sqlite", busyMs: 10_000}
	for _, o := range opts {
		o(&s)
	}

	memory := path == MemoryPath
	if s.createDir && !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open(s.driver, path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := prepare(db, append(s.pragmas(), s.statements...)); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}
	return db, nil
}

func prepare(db *sql.DB, stmts []string) error {
	for i, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			if i < 4 {
				return fmt.Errorf("dbopen: %s: %w", q, err)
			}
			return fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	return nil
}

// OpenMemory opens an in-memory database closed by t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(MemoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
