package schema

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/ncruces/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/orthancore/indexcore/internal/sqlengine"
)

func openTestConnection(t *testing.T) (*sqlengine.Connection, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "indexcore-schema-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	conn, err := sqlengine.Open(context.Background(), dbPath, zerolog.Nop(), []sqlengine.ScalarFunction{
		{Name: "SignalFileDeleted", Arity: 7, Call: func(args []sqlite3.Value) {}},
		{Name: "SignalResourceDeleted", Arity: 3, Call: func(args []sqlite3.Value) {}},
		{Name: "SignalRemainingAncestor", Arity: 2, Call: func(args []sqlite3.Value) {}},
	})
	require.NoError(t, err)

	return conn, func() {
		_ = conn.Close()
		_ = os.RemoveAll(tmpDir)
	}
}

func TestOpenCreatesFreshSchemaAtCurrentVersion(t *testing.T) {
	conn, cleanup := openTestConnection(t)
	defer cleanup()
	ctx := context.Background()

	mgr := NewManager(conn)
	require.NoError(t, mgr.Open(ctx, nil))

	version, err := mgr.readVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, version)

	fast, err := mgr.lookupGlobalProperty(ctx, PropertyGetTotalSizeIsFast)
	require.NoError(t, err)
	require.Equal(t, "1", fast)
}

func TestOpenRejectsVersionOutsideCompatibilityWindow(t *testing.T) {
	conn, cleanup := openTestConnection(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, conn.Execute(ctx, ddl))
	_, err := conn.Conn().ExecContext(ctx,
		"INSERT INTO GlobalProperties(property, value) VALUES(?, ?)", PropertySchemaVersion, "2")
	require.NoError(t, err)

	mgr := NewManager(conn)
	err = mgr.Open(ctx, nil)
	require.Error(t, err)
}

func TestMigrateV3ToCurrentAppliesEachStep(t *testing.T) {
	conn, cleanup := openTestConnection(t)
	defer cleanup()
	ctx := context.Background()

	// Simulate a version-3 database: no Metadata, no DicomIdentifiers.
	require.NoError(t, conn.Execute(ctx, `
CREATE TABLE GlobalProperties(property INTEGER PRIMARY KEY, value TEXT NOT NULL);
CREATE TABLE Resources(
    internalId INTEGER PRIMARY KEY AUTOINCREMENT,
    resourceType INTEGER NOT NULL,
    publicId TEXT NOT NULL,
    parentId INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE
);
CREATE TABLE AttachedFiles(
    id INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE,
    fileType INTEGER NOT NULL,
    uuid TEXT NOT NULL,
    compressedSize INTEGER NOT NULL,
    uncompressedSize INTEGER NOT NULL,
    compressionType INTEGER NOT NULL,
    uncompressedHash TEXT,
    compressedHash TEXT,
    revision INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY(id, fileType)
);
`))
	_, err := conn.Conn().ExecContext(ctx,
		"INSERT INTO GlobalProperties(property, value) VALUES(?, ?)", PropertySchemaVersion, "3")
	require.NoError(t, err)

	mgr := NewManager(conn)
	reprojectCalls := 0
	require.NoError(t, mgr.Open(ctx, func(ctx context.Context, publicID string) error {
		reprojectCalls++
		return nil
	}))

	version, err := mgr.readVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, version)

	exists, err := mgr.tableExists(ctx, "Metadata")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = mgr.tableExists(ctx, "DicomIdentifiers")
	require.NoError(t, err)
	require.True(t, exists)

	fast, err := mgr.lookupGlobalProperty(ctx, PropertyGetTotalSizeIsFast)
	require.NoError(t, err)
	require.Equal(t, "1", fast)
}

func TestV5ToV6SkipsResourcesWithoutCachedJSON(t *testing.T) {
	conn, cleanup := openTestConnection(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, conn.Execute(ctx, ddl))
	_, err := conn.Conn().ExecContext(ctx,
		"INSERT INTO GlobalProperties(property, value) VALUES(?, ?) ON CONFLICT(property) DO UPDATE SET value=excluded.value",
		PropertySchemaVersion, "5")
	require.NoError(t, err)

	_, err = conn.Conn().ExecContext(ctx,
		"INSERT INTO Resources(internalId, resourceType, publicId, parentId) VALUES(1, 3, 'instance-without-json', NULL)")
	require.NoError(t, err)

	mgr := NewManager(conn)
	err = mgr.Open(ctx, func(ctx context.Context, publicID string) error {
		return sql.ErrNoRows
	})
	require.NoError(t, err)

	version, err := mgr.readVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, version)
}

func TestV5ToV6FailsWithoutReprojectCallback(t *testing.T) {
	conn, cleanup := openTestConnection(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, conn.Execute(ctx, ddl))
	_, err := conn.Conn().ExecContext(ctx,
		"INSERT INTO GlobalProperties(property, value) VALUES(?, ?) ON CONFLICT(property) DO UPDATE SET value=excluded.value",
		PropertySchemaVersion, "5")
	require.NoError(t, err)

	mgr := NewManager(conn)
	err = mgr.Open(ctx, nil)
	require.Error(t, err)
}
