package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/orthancore/indexcore/internal/model"
)

// StatementID identifies a cached prepared statement by call-site
// identity: the (file, line) of the Go call that rents it, which is
// stable across invocations and unique enough to key the cache the way
// the original source keys on a SQLITE_FROM_HERE macro expansion.
type StatementID struct {
	File string
	Line int
}

type cacheEntry struct {
	stmt   *sql.Stmt
	rented bool
}

// statementCache owns prepared statements keyed by call-site identity. A
// cached statement may be rented by at most one caller at a time;
// concurrent rental of the same entry is a usage bug and returns
// ErrBadSequenceOfCalls rather than silently sharing the cursor.
type statementCache struct {
	mu      sync.Mutex
	entries map[StatementID]*cacheEntry
}

func newStatementCache() *statementCache {
	return &statementCache{entries: make(map[StatementID]*cacheEntry)}
}

// Statement is a rented handle onto a cached prepared statement. It must
// be released (via Release) when the caller is done stepping it; the
// bound variables and iterator cursor are reset at rent time so a reused
// statement never observes another caller's leftover bindings.
type Statement struct {
	cache *statementCache
	id    StatementID
	stmt  *sql.Stmt
}

// Rent fetches (preparing on first use) the statement for id/sqlText and
// locks it for the caller's exclusive use. It fails if the entry is
// already rented — that indicates reentrant use of the same call site
// within a single logical operation, which the design disallows.
func (c *Connection) Rent(ctx context.Context, id StatementID, sqlText string) (*Statement, error) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	entry, ok := c.cache.entries[id]
	if !ok {
		stmt, err := c.conn.PrepareContext(ctx, sqlText)
		if err != nil {
			return nil, fmt.Errorf("sqlengine: preparing statement: %w", err)
		}
		entry = &cacheEntry{stmt: stmt}
		c.cache.entries[id] = entry
	}

	if entry.rented {
		return nil, fmt.Errorf("sqlengine: %w: statement %v already rented", model.ErrBadSequenceOfCalls, id)
	}
	entry.rented = true

	return &Statement{cache: c.cache, id: id, stmt: entry.stmt}, nil
}

// Release returns the statement to the cache, making it available for
// the next Rent of the same call site.
func (s *Statement) Release() {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	if entry, ok := s.cache.entries[s.id]; ok {
		entry.rented = false
	}
}

// Exec runs the rented statement for its side effect.
func (s *Statement) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	return s.stmt.ExecContext(ctx, args...)
}

// Query runs the rented statement and returns an iterator cursor.
func (s *Statement) Query(ctx context.Context, args ...any) (*sql.Rows, error) {
	return s.stmt.QueryContext(ctx, args...)
}

// QueryRow runs the rented statement expecting at most one result row.
func (s *Statement) QueryRow(ctx context.Context, args ...any) *sql.Row {
	return s.stmt.QueryRowContext(ctx, args...)
}

// closeAll closes every cached statement regardless of rental state and
// returns how many were still rented — a non-zero count at shutdown
// indicates a caller forgot to Release, which is a bug worth logging
// loudly rather than masking.
func (c *statementCache) closeAll() (leaked int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		if entry.rented {
			leaked++
		}
		_ = entry.stmt.Close()
	}
	c.entries = make(map[StatementID]*cacheEntry)
	return leaked
}
