package recycling

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

func newTestEnv(t *testing.T) (*store.Store, *Controller, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "indexcore-recycling-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	conn, err := sqlengine.Open(context.Background(), dbPath, zerolog.Nop(), nil)
	require.NoError(t, err)

	mgr := schema.NewManager(conn)
	require.NoError(t, mgr.Open(context.Background(), nil))

	return store.New(conn), New(conn), func() {
		_ = conn.Close()
		_ = os.RemoveAll(tmpDir)
	}
}

func TestSelectPatientToRecycleIsFIFO(t *testing.T) {
	st, ctrl, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	first, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	_, err = st.CreateResource(ctx, model.Patient, "patient-2")
	require.NoError(t, err)

	selected, ok, err := ctrl.SelectPatientToRecycle(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, selected)
}

func TestProtectedPatientIsSkipped(t *testing.T) {
	st, ctrl, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	first, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	second, err := st.CreateResource(ctx, model.Patient, "patient-2")
	require.NoError(t, err)

	require.NoError(t, ctrl.SetProtectedPatient(ctx, first, true))

	protected, err := ctrl.IsProtectedPatient(ctx, first)
	require.NoError(t, err)
	require.True(t, protected)

	selected, ok, err := ctrl.SelectPatientToRecycle(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, selected)
}

func TestUnprotectingMovesPatientToTail(t *testing.T) {
	st, ctrl, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	first, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	second, err := st.CreateResource(ctx, model.Patient, "patient-2")
	require.NoError(t, err)

	require.NoError(t, ctrl.SetProtectedPatient(ctx, first, true))
	require.NoError(t, ctrl.SetProtectedPatient(ctx, first, false))

	// first was reinserted at the tail, so second (never removed) is now
	// the oldest entry in the queue.
	selected, ok, err := ctrl.SelectPatientToRecycle(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, selected)
}

func TestSelectPatientToRecycleAvoiding(t *testing.T) {
	st, ctrl, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	first, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	second, err := st.CreateResource(ctx, model.Patient, "patient-2")
	require.NoError(t, err)

	selected, ok, err := ctrl.SelectPatientToRecycleAvoiding(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, selected)
}

func TestSelectPatientToRecycleEmptyQueue(t *testing.T) {
	_, ctrl, cleanup := newTestEnv(t)
	defer cleanup()

	_, ok, err := ctrl.SelectPatientToRecycle(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTagMostRecentPatientMovesUnprotectedPatientToTail(t *testing.T) {
	st, ctrl, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	first, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	second, err := st.CreateResource(ctx, model.Patient, "patient-2")
	require.NoError(t, err)

	require.NoError(t, ctrl.TagMostRecentPatient(ctx, first))

	selected, ok, err := ctrl.SelectPatientToRecycle(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, selected)
}

func TestTagMostRecentPatientIgnoresProtectedPatient(t *testing.T) {
	st, ctrl, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	first, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)

	require.NoError(t, ctrl.SetProtectedPatient(ctx, first, true))
	require.NoError(t, ctrl.TagMostRecentPatient(ctx, first))

	protected, err := ctrl.IsProtectedPatient(ctx, first)
	require.NoError(t, err)
	require.True(t, protected, "tagging a protected patient must not re-enter it into the queue")
}
