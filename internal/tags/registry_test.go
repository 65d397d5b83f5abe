package tags

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orthancore/indexcore/internal/model"
)

func TestLoadDefaultsRegistersIdentifierTags(t *testing.T) {
	r := New()
	require.NoError(t, LoadDefaults(r))

	patientIDs := r.GetByLevel(model.Patient, KindIdentifier)
	require.Contains(t, patientIDs, model.DicomTag{Group: 0x0010, Element: 0x0020})

	studyIDs := r.GetByLevel(model.Study, KindIdentifier)
	require.Contains(t, studyIDs, model.DicomTag{Group: 0x0020, Element: 0x000D})
}

func TestAddRejectsDuplicateTagAtSameLevel(t *testing.T) {
	r := New()
	tag := model.DicomTag{Group: 0x0010, Element: 0x0020}
	require.NoError(t, r.Add(model.Patient, tag, KindIdentifier))

	err := r.Add(model.Patient, tag, KindMain)
	require.Error(t, err)
}

func TestSignatureOfIsStableAndOrderIndependent(t *testing.T) {
	a := New()
	require.NoError(t, a.Add(model.Patient, model.DicomTag{Group: 0x0010, Element: 0x0020}, KindIdentifier))
	require.NoError(t, a.Add(model.Patient, model.DicomTag{Group: 0x0010, Element: 0x0010}, KindMain))

	b := New()
	require.NoError(t, b.Add(model.Patient, model.DicomTag{Group: 0x0010, Element: 0x0010}, KindMain))
	require.NoError(t, b.Add(model.Patient, model.DicomTag{Group: 0x0010, Element: 0x0020}, KindIdentifier))

	require.Equal(t, a.SignatureOf(model.Patient), b.SignatureOf(model.Patient))
}

func TestSignatureOfDiffersAcrossLevels(t *testing.T) {
	r := New()
	require.NoError(t, LoadDefaults(r))

	require.NotEqual(t, r.SignatureOf(model.Patient), r.SignatureOf(model.Study))
}
