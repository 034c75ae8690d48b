// Package dbopen provides the "database manager" capability object
// Design Note §9 asks for: open/close/execute over the embedded SQLite
// file, injected into the pool at construction instead of a global.
//
// Grounded on the teacher's createConn
// (internal/pool/pool.go): open via database/sql, pin MaxOpenConns/
// MaxIdleConns to 1 so one *sql.DB maps to exactly one physical
// connection, PingContext to verify reachability. The driver itself is
// swapped from the teacher's networked SQL Server driver to
// modernc.org/sqlite (pure Go, no cgo) because spec.md targets a
// single embedded database file.
package dbopen

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Opener is the capability object the pool depends on to create
// physical connections. Its surface is intentionally narrow — open,
// close is handled by the returned *sql.DB itself, execute is
// whatever the caller does with the returned handle.
type Opener struct {
	path string
}

// New creates an Opener bound to a single SQLite file path.
func New(path string) *Opener {
	return &Opener{path: path}
}

// Open establishes one physical connection to the database file,
// applies the multi-reader pragmas spec.md §4.3.2 requires (WAL mode,
// a busy-wait timeout of at least 30s), and verifies reachability via
// PingContext within ctx's deadline.
func (o *Opener) Open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", o.path)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Each *sql.DB here represents exactly one physical connection —
	// the pool manages pooling itself, one level up.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=30000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy_timeout: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}

// Probe issues the trivial liveness query spec.md §4.1 specifies
// ("SELECT 1") against an already-open handle.
func Probe(ctx context.Context, db *sql.DB) error {
	var result int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
