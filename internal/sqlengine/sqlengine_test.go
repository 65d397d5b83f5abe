package sqlengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openTestConnection(t *testing.T) (*Connection, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "indexcore-sqlengine-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	conn, err := Open(context.Background(), dbPath, zerolog.Nop(), nil)
	require.NoError(t, err)

	return conn, func() {
		_ = conn.Close()
		_ = os.RemoveAll(tmpDir)
	}
}

func TestTransactionNestingIsFlat(t *testing.T) {
	conn, cleanup := openTestConnection(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, conn.Execute(ctx, "CREATE TABLE t (v INTEGER)"))

	outer, err := conn.StartTransaction(ctx)
	require.NoError(t, err)
	defer outer.Finish(ctx)

	inner, err := conn.StartTransaction(ctx)
	require.NoError(t, err)

	_, err = conn.conn.ExecContext(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	require.NoError(t, inner.Commit(ctx))
	require.NoError(t, outer.Commit(ctx))

	var count int
	require.NoError(t, conn.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	require.Equal(t, 1, count)
}

func TestNestedRollbackForcesOuterRollback(t *testing.T) {
	conn, cleanup := openTestConnection(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, conn.Execute(ctx, "CREATE TABLE t (v INTEGER)"))

	outer, err := conn.StartTransaction(ctx)
	require.NoError(t, err)

	inner, err := conn.StartTransaction(ctx)
	require.NoError(t, err)

	_, err = conn.conn.ExecContext(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	require.NoError(t, inner.Rollback(ctx))

	// The outer Commit must become a rollback because a nested frame
	// already aborted.
	err = outer.Commit(ctx)
	require.Error(t, err)

	var count int
	require.NoError(t, conn.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	require.Equal(t, 0, count)
}

func TestCommitWithoutBeginFails(t *testing.T) {
	conn, cleanup := openTestConnection(t)
	defer cleanup()
	ctx := context.Background()

	tx := &Transaction{conn: conn}
	err := tx.Commit(ctx)
	require.Error(t, err)
}

func TestStatementCacheRejectsDoubleRental(t *testing.T) {
	conn, cleanup := openTestConnection(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, conn.Execute(ctx, "CREATE TABLE t (v INTEGER)"))

	id := Here()
	first, err := conn.Rent(ctx, id, "INSERT INTO t VALUES (?)")
	require.NoError(t, err)
	defer first.Release()

	_, err = conn.Rent(ctx, id, "INSERT INTO t VALUES (?)")
	require.Error(t, err)

	first.Release()

	second, err := conn.Rent(ctx, id, "INSERT INTO t VALUES (?)")
	require.NoError(t, err)
	second.Release()
}
