// Package sqlengine wraps the embedded SQLite engine: connection setup,
// a reference-counted prepared-statement cache, nesting-aware
// transactions and registration of user-defined scalar functions invoked
// from triggers. Everything in this package assumes a single writer, as
// required by the surrounding core (see the concurrency design in the
// parent module's specification).
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/driver"
	"github.com/rs/zerolog"

	"github.com/orthancore/indexcore/internal/model"
)

// ScalarFunction is a process-lifetime function registered with the
// engine so that SQL triggers can call back into Go code. Name and Arity
// identify it to SQLite; Call receives the already-decoded arguments and
// never returns a value (the signaling functions in this core are fired
// for their side effect, not for a SQL return value).
type ScalarFunction struct {
	Name  string
	Arity int
	Call  func(args []sqlite3.Value)
}

// Connection is a single-writer handle onto one SQLite database file (or
// ":memory:"). It owns exactly one underlying *sql.Conn: reads and
// writes alike serialize through it, matching the exclusive-locking,
// single-connection model the schema requires.
type Connection struct {
	db   *sql.DB
	conn *sql.Conn
	log  zerolog.Logger

	mu                 sync.Mutex
	transactionNesting int
	needsRollback      bool
	commitHooks        []func(context.Context)

	cache *statementCache
}

// Open opens (creating if necessary) the database at path and applies
// the mandatory pragmas: WAL journaling, normal synchronous durability,
// exclusive locking, case-sensitive LIKE and foreign-key enforcement.
// These are not configurable — the cascade-deletion protocol depends on
// foreign-key enforcement, and exclusive locking is what allows this
// package to assume single-process ownership of the file.
func Open(ctx context.Context, path string, log zerolog.Logger, functions []ScalarFunction) (*Connection, error) {
	db, err := driver.Open(path, func(c *sqlite3.Conn) error {
		for _, fn := range functions {
			f := fn
			err := c.CreateFunction(f.Name, f.Arity, sqlite3.DETERMINISTIC, func(sctx sqlite3.Context, args ...sqlite3.Value) {
				f.Call(args)
				sctx.ResultNull()
			})
			if err != nil {
				return fmt.Errorf("sqlengine: registering %s: %w", f.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlengine: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlengine: acquiring connection: %w", err)
	}

	c := &Connection{
		db:    db,
		conn:  conn,
		log:   log,
		cache: newStatementCache(),
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA locking_mode=EXCLUSIVE",
		"PRAGMA case_sensitive_like=ON",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("sqlengine: applying %q: %w", p, err)
		}
	}

	return c, nil
}

// Close releases the cached statements and the underlying connection.
// A statement whose reference count is non-zero at this point indicates
// a usage bug in the caller and is logged loudly rather than silently
// ignored.
func (c *Connection) Close() error {
	if leaked := c.cache.closeAll(); leaked > 0 {
		c.log.Error().Int("leaked_statements", leaked).Msg("sqlengine: closing connection with rented statements outstanding")
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return c.db.Close()
}

// Conn exposes the underlying *sql.Conn for packages that need to issue ad
// hoc queries the cache/transaction wrappers don't cover (e.g. the
// sqlite_master lookups during schema migration).
func (c *Connection) Conn() *sql.Conn {
	return c.conn
}

// Execute runs a side-effecting statement with no cached plan and no
// bound parameters, matching the "fire and forget" SQL binding primitive
// from the design.
func (c *Connection) Execute(ctx context.Context, sql string) error {
	_, err := c.conn.ExecContext(ctx, sql)
	if err != nil {
		return fmt.Errorf("sqlengine: execute: %w: %v", model.ErrCorruption, err)
	}
	return nil
}

// Logger returns the logger this connection was opened with, so
// higher-level components can derive scoped child loggers.
func (c *Connection) Logger() zerolog.Logger {
	return c.log
}
