package lookup

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
	"github.com/orthancore/indexcore/internal/tags"
)

const (
	patientIDTag = 0x0010
	patientIDEl  = 0x0020
	modalityEl   = 0x0060
)

func newTestEnv(t *testing.T) (*store.Store, *Engine, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "indexcore-lookup-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	conn, err := sqlengine.Open(context.Background(), dbPath, zerolog.Nop(), nil)
	require.NoError(t, err)

	mgr := schema.NewManager(conn)
	require.NoError(t, mgr.Open(context.Background(), nil))

	registry := tags.New()
	require.NoError(t, tags.LoadDefaults(registry))

	return store.New(conn), New(conn, registry), func() {
		_ = conn.Close()
		_ = os.RemoveAll(tmpDir)
	}
}

func seedPatientWithStudy(t *testing.T, st *store.Store, patientPublicID, patientID, studyPublicID, modality string) int64 {
	t.Helper()
	ctx := context.Background()

	patientInternal, err := st.CreateResource(ctx, model.Patient, patientPublicID)
	require.NoError(t, err)
	require.NoError(t, st.SetIdentifierTag(ctx, patientInternal, model.DicomTag{Group: patientIDTag, Element: patientIDEl}, patientID))

	studyInternal, err := st.CreateResource(ctx, model.Study, studyPublicID)
	require.NoError(t, err)
	require.NoError(t, st.AttachChild(ctx, studyInternal, patientInternal))

	seriesInternal, err := st.CreateResource(ctx, model.Series, studyPublicID+"-series")
	require.NoError(t, err)
	require.NoError(t, st.AttachChild(ctx, seriesInternal, studyInternal))
	require.NoError(t, st.SetMainDicomTag(ctx, seriesInternal, model.DicomTag{Group: 0x0008, Element: modalityEl}, modality))

	return patientInternal
}

func TestFindByIdentifierAtPatientLevel(t *testing.T) {
	st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	seedPatientWithStudy(t, st, "patient-1", "PAT001", "study-1", "CT")
	seedPatientWithStudy(t, st, "patient-2", "PAT002", "study-2", "MR")

	results, err := engine.Find(ctx, []DatabaseConstraint{
		{Level: model.Patient, Tag: model.DicomTag{Group: patientIDTag, Element: patientIDEl}, Operator: OpEqual, Value: "pat001", CaseSensitive: true, Mandatory: true},
	}, model.Patient, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"patient-1"}, results)
}

func TestFindNarrowsDownToQueryLevelAcrossDifferentConstraintLevel(t *testing.T) {
	st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	seedPatientWithStudy(t, st, "patient-1", "PAT001", "study-1", "CT")
	seedPatientWithStudy(t, st, "patient-2", "PAT002", "study-2", "MR")

	// Constraint at patient level, query resolved at series level.
	results, err := engine.Find(ctx, []DatabaseConstraint{
		{Level: model.Patient, Tag: model.DicomTag{Group: patientIDTag, Element: patientIDEl}, Operator: OpEqual, Value: "PAT002", CaseSensitive: true, Mandatory: true},
	}, model.Series, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"study-2-series"}, results)
}

func TestFindCombinesConstraintsAcrossLevels(t *testing.T) {
	st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	seedPatientWithStudy(t, st, "patient-1", "PAT001", "study-1", "CT")
	seedPatientWithStudy(t, st, "patient-2", "PAT002", "study-2", "CT")

	results, err := engine.Find(ctx, []DatabaseConstraint{
		{Level: model.Patient, Tag: model.DicomTag{Group: patientIDTag, Element: patientIDEl}, Operator: OpEqual, Value: "PAT002", CaseSensitive: true, Mandatory: true},
		{Level: model.Series, Tag: model.DicomTag{Group: 0x0008, Element: modalityEl}, Operator: OpEqual, Value: "CT", CaseSensitive: true, Mandatory: true},
	}, model.Patient, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"patient-2"}, results)
}

func TestFindWithWildcard(t *testing.T) {
	st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	seedPatientWithStudy(t, st, "patient-1", "PAT001", "study-1", "CT")
	seedPatientWithStudy(t, st, "patient-2", "PAT002", "study-2", "CT")

	results, err := engine.Find(ctx, []DatabaseConstraint{
		{Level: model.Patient, Tag: model.DicomTag{Group: patientIDTag, Element: patientIDEl}, Operator: OpWildcard, Value: "PAT00*", CaseSensitive: true, Mandatory: true},
	}, model.Patient, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"patient-1", "patient-2"}, results)
}

func TestFindWithNoConstraintsListsAll(t *testing.T) {
	st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	seedPatientWithStudy(t, st, "patient-1", "PAT001", "study-1", "CT")

	results, err := engine.Find(ctx, nil, model.Patient, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"patient-1"}, results)
}

func TestFindWithFuzzyPersonNameMatch(t *testing.T) {
	st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	patientInternal, err := st.CreateResource(ctx, model.Patient, "patient-1")
	require.NoError(t, err)
	require.NoError(t, st.SetMainDicomTag(ctx, patientInternal, model.DicomTag{Group: 0x0010, Element: 0x0010}, "SMITH^JOHN"))

	results, err := engine.Find(ctx, []DatabaseConstraint{
		{Level: model.Patient, Tag: model.DicomTag{Group: 0x0010, Element: 0x0010}, Operator: OpFuzzy, Value: "SMITH JON", Mandatory: true},
	}, model.Patient, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"patient-1"}, results)
}

func TestFindCaseInsensitiveMatchesRegardlessOfCase(t *testing.T) {
	st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	seedPatientWithStudy(t, st, "patient-1", "PAT001", "study-1", "CT")

	results, err := engine.Find(ctx, []DatabaseConstraint{
		{Level: model.Series, Tag: model.DicomTag{Group: 0x0008, Element: modalityEl}, Operator: OpEqual, Value: "ct", CaseSensitive: false, Mandatory: true},
	}, model.Series, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"study-1-series"}, results)

	results, err = engine.Find(ctx, []DatabaseConstraint{
		{Level: model.Series, Tag: model.DicomTag{Group: 0x0008, Element: modalityEl}, Operator: OpEqual, Value: "ct", CaseSensitive: true, Mandatory: true},
	}, model.Series, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestFindOptionalConstraintDoesNotExcludeResourcesMissingTheTag(t *testing.T) {
	st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	patientWith, err := st.CreateResource(ctx, model.Patient, "patient-with")
	require.NoError(t, err)
	require.NoError(t, st.SetMainDicomTag(ctx, patientWith, model.DicomTag{Group: 0x0010, Element: 0x1010}, "42"))

	_, err = st.CreateResource(ctx, model.Patient, "patient-without")
	require.NoError(t, err)

	results, err := engine.Find(ctx, []DatabaseConstraint{
		{Level: model.Patient, Tag: model.DicomTag{Group: 0x0010, Element: 0x1010}, Operator: OpEqual, Value: "99", CaseSensitive: true, Mandatory: false},
	}, model.Patient, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"patient-without"}, results)

	results, err = engine.Find(ctx, []DatabaseConstraint{
		{Level: model.Patient, Tag: model.DicomTag{Group: 0x0010, Element: 0x1010}, Operator: OpEqual, Value: "99", CaseSensitive: true, Mandatory: true},
	}, model.Patient, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestGetOneInstance(t *testing.T) {
	st, engine, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	patientInternal := seedPatientWithStudy(t, st, "patient-1", "PAT001", "study-1", "CT")
	seriesInternal, err := st.LookupInternalID(ctx, "study-1-series")
	require.NoError(t, err)
	instanceInternal, err := st.CreateResource(ctx, model.Instance, "instance-1")
	require.NoError(t, err)
	require.NoError(t, st.AttachChild(ctx, instanceInternal, seriesInternal))

	found, err := engine.GetOneInstance(ctx, patientInternal, model.Patient)
	require.NoError(t, err)
	require.Equal(t, instanceInternal, found)
}
