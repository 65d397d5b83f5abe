package deletion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/schema"
	"github.com/orthancore/indexcore/internal/sqlengine"
	"github.com/orthancore/indexcore/internal/store"
)

type recordingListener struct {
	files     []model.FileDeletion
	resources []string
	remaining *model.RemainingAncestor
}

func (l *recordingListener) FileDeleted(ctx context.Context, f model.FileDeletion) {
	l.files = append(l.files, f)
}
func (l *recordingListener) ResourceDeleted(ctx context.Context, internalID int64, publicID string, level model.ResourceLevel) {
	l.resources = append(l.resources, publicID)
}
func (l *recordingListener) RemainingAncestor(ctx context.Context, r model.RemainingAncestor) {
	cp := r
	l.remaining = &cp
}

func newTestEnv(t *testing.T) (*sqlengine.Connection, *store.Store, *Engine, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "indexcore-deletion-*")
	require.NoError(t, err)

	engine := New()
	dbPath := filepath.Join(tmpDir, "test.db")
	conn, err := sqlengine.Open(context.Background(), dbPath, zerolog.Nop(), engine.ScalarFunctions())
	require.NoError(t, err)

	mgr := schema.NewManager(conn)
	require.NoError(t, mgr.Open(context.Background(), nil))

	return conn, store.New(conn), engine, func() {
		_ = conn.Close()
		_ = os.RemoveAll(tmpDir)
	}
}

func TestDeleteResourceNoRemainingAncestorWhileSiblingRemains(t *testing.T) {
	conn, st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	patientID, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	studyID, err := st.CreateResource(ctx, model.Study, "study-1")
	require.NoError(t, err)
	require.NoError(t, st.AttachChild(ctx, studyID, patientID))
	otherStudyID, err := st.CreateResource(ctx, model.Study, "study-2")
	require.NoError(t, err)
	require.NoError(t, st.AttachChild(ctx, otherStudyID, patientID))

	tx, err := conn.StartTransaction(ctx)
	require.NoError(t, err)
	defer tx.Finish(ctx)

	listener := &recordingListener{}
	require.NoError(t, engine.DeleteResource(ctx, conn, tx, studyID, listener))
	require.Empty(t, listener.resources, "delivery must wait for commit")

	require.NoError(t, tx.Commit(ctx))

	require.Equal(t, []string{"study-1"}, listener.resources)
	require.Nil(t, listener.remaining, "patient-1 still has study-2, so no ancestor is reported")
}

func TestDeleteResourceSignalsParentWhenLastChildRemoved(t *testing.T) {
	conn, st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	patientID, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	studyID, err := st.CreateResource(ctx, model.Study, "study-1")
	require.NoError(t, err)
	require.NoError(t, st.AttachChild(ctx, studyID, patientID))

	tx, err := conn.StartTransaction(ctx)
	require.NoError(t, err)
	defer tx.Finish(ctx)

	listener := &recordingListener{}
	require.NoError(t, engine.DeleteResource(ctx, conn, tx, studyID, listener))
	require.NoError(t, tx.Commit(ctx))

	require.Equal(t, []string{"study-1"}, listener.resources)
	require.NotNil(t, listener.remaining)
	require.Equal(t, "patient-1", listener.remaining.PublicID)
	require.Equal(t, model.Patient, listener.remaining.Level)
}

func TestDeleteResourceSignalsFileDeletion(t *testing.T) {
	conn, st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	patientID, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	require.NoError(t, st.AddAttachment(ctx, patientID, model.Attachment{
		UUID: "blob-uuid", ContentType: 1, CompressedSize: 10, UncompressedSize: 20,
	}))

	tx, err := conn.StartTransaction(ctx)
	require.NoError(t, err)
	defer tx.Finish(ctx)

	listener := &recordingListener{}
	require.NoError(t, engine.DeleteResource(ctx, conn, tx, patientID, listener))
	require.NoError(t, tx.Commit(ctx))

	require.Len(t, listener.files, 1)
	require.Equal(t, "blob-uuid", listener.files[0].UUID)
}

func TestDeleteResourceDiscardsEventsOnRollback(t *testing.T) {
	conn, st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	patientID, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	require.NoError(t, st.AddAttachment(ctx, patientID, model.Attachment{
		UUID: "blob-uuid", ContentType: 1, CompressedSize: 10, UncompressedSize: 20,
	}))

	tx, err := conn.StartTransaction(ctx)
	require.NoError(t, err)

	listener := &recordingListener{}
	require.NoError(t, engine.DeleteResource(ctx, conn, tx, patientID, listener))
	require.NoError(t, tx.Rollback(ctx))

	require.Empty(t, listener.files)
	require.Empty(t, listener.resources)
	require.Nil(t, listener.remaining)

	r, err := st.LookupResource(ctx, "patient-1")
	require.NoError(t, err)
	require.Equal(t, patientID, r.InternalID)
}

func TestDeleteResourceAccumulatesAcrossCallsInOneTransaction(t *testing.T) {
	conn, st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	patientID, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	firstStudy, err := st.CreateResource(ctx, model.Study, "study-1")
	require.NoError(t, err)
	require.NoError(t, st.AttachChild(ctx, firstStudy, patientID))
	secondStudy, err := st.CreateResource(ctx, model.Study, "study-2")
	require.NoError(t, err)
	require.NoError(t, st.AttachChild(ctx, secondStudy, patientID))

	tx, err := conn.StartTransaction(ctx)
	require.NoError(t, err)
	defer tx.Finish(ctx)

	listener := &recordingListener{}
	require.NoError(t, engine.DeleteResource(ctx, conn, tx, firstStudy, listener))
	require.NoError(t, engine.DeleteResource(ctx, conn, tx, secondStudy, listener))
	require.NoError(t, tx.Commit(ctx))

	require.ElementsMatch(t, []string{"study-1", "study-2"}, listener.resources)
}
