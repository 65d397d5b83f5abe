// Package tags holds the registry of which DICOM tags are projected into
// MainDicomTags/DicomIdentifiers at each resource level, and produces the
// per-level signature string used to detect registry drift between a
// process and the database it opens.
package tags

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/orthancore/indexcore/internal/model"
)

// Kind distinguishes a main tag (projected for display/filtering) from an
// identifier tag (projected into DicomIdentifiers for exact-match lookup,
// e.g. PatientID, StudyInstanceUID).
type Kind int

const (
	KindMain Kind = iota
	KindIdentifier
)

type entry struct {
	tag  model.DicomTag
	kind Kind
}

// Registry is the set of tags projected at each resource level. It is
// safe for concurrent use; reads (GetByLevel, SignatureOf) vastly
// outnumber writes (Add), which only happen during startup registration.
type Registry struct {
	mu      sync.RWMutex
	byLevel map[model.ResourceLevel][]entry
	seen    map[model.ResourceLevel]map[model.DicomTag]bool
}

func New() *Registry {
	return &Registry{
		byLevel: make(map[model.ResourceLevel][]entry),
		seen:    make(map[model.ResourceLevel]map[model.DicomTag]bool),
	}
}

// Add registers tag at level with the given kind. Registering the same
// tag twice at the same level is a configuration error (the original
// implementation calls this case "MainDicomTagsMultiplyDefined") since it
// would leave the projected value ambiguous as to which write wins.
func (r *Registry) Add(level model.ResourceLevel, tag model.DicomTag, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[level] == nil {
		r.seen[level] = make(map[model.DicomTag]bool)
	}
	if r.seen[level][tag] {
		return fmt.Errorf("tags: tag %04x,%04x is already registered at level %s: %w", tag.Group, tag.Element, level, model.ErrDuplicate)
	}
	r.seen[level][tag] = true
	r.byLevel[level] = append(r.byLevel[level], entry{tag: tag, kind: kind})
	return nil
}

// GetByLevel returns the tags registered at level with the requested
// kind, in registration order.
func (r *Registry) GetByLevel(level model.ResourceLevel, kind Kind) []model.DicomTag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.DicomTag
	for _, e := range r.byLevel[level] {
		if e.kind == kind {
			out = append(out, e.tag)
		}
	}
	return out
}

// GetAll returns every tag registered at level regardless of kind.
func (r *Registry) GetAll(level model.ResourceLevel) []model.DicomTag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.DicomTag, 0, len(r.byLevel[level]))
	for _, e := range r.byLevel[level] {
		out = append(out, e.tag)
	}
	return out
}

// SignatureOf produces a stable "GGGG,EEEE;GGGG,EEEE;..." string over the
// tags registered at level, sorted for determinism. Two processes that
// open the same database must agree on this signature for each level;
// disagreement means one of them would write or expect a different
// projection than the other. This package only computes the signature:
// it neither stores it nor compares it against anything.
func (r *Registry) SignatureOf(level model.ResourceLevel) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]model.DicomTag, 0, len(r.byLevel[level]))
	for _, e := range r.byLevel[level] {
		tags = append(tags, e.tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Group != tags[j].Group {
			return tags[i].Group < tags[j].Group
		}
		return tags[i].Element < tags[j].Element
	})

	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, fmt.Sprintf("%04x,%04x", t.Group, t.Element))
	}
	return strings.Join(parts, ";")
}

// LoadDefaults registers the baseline set of main and identifier tags
// used by the reference DICOM attribute set: patient, study, series and
// instance level identifiers plus the handful of display attributes the
// lookup engine and UIs commonly filter on.
func LoadDefaults(r *Registry) error {
	for _, d := range defaultTags {
		if err := r.Add(d.level, d.tag, d.kind); err != nil {
			return fmt.Errorf("tags: loading defaults: %w", err)
		}
	}
	return nil
}

type defaultTag struct {
	level model.ResourceLevel
	tag   model.DicomTag
	kind  Kind
}

// defaultTags mirrors the standard DICOM main-dictionary projection: the
// identifier tags (PatientID, StudyInstanceUID, SeriesInstanceUID,
// SOPInstanceUID) plus a small set of descriptive tags kept for display
// and coarse filtering at each level.
var defaultTags = []defaultTag{
	{model.Patient, model.DicomTag{Group: 0x0010, Element: 0x0020}, KindIdentifier}, // PatientID
	{model.Patient, model.DicomTag{Group: 0x0010, Element: 0x0010}, KindMain},        // PatientName
	{model.Patient, model.DicomTag{Group: 0x0010, Element: 0x0030}, KindMain},        // PatientBirthDate
	{model.Patient, model.DicomTag{Group: 0x0010, Element: 0x0040}, KindMain},        // PatientSex

	{model.Study, model.DicomTag{Group: 0x0020, Element: 0x000D}, KindIdentifier}, // StudyInstanceUID
	{model.Study, model.DicomTag{Group: 0x0008, Element: 0x0020}, KindMain},       // StudyDate
	{model.Study, model.DicomTag{Group: 0x0008, Element: 0x0030}, KindMain},       // StudyTime
	{model.Study, model.DicomTag{Group: 0x0020, Element: 0x0010}, KindMain},       // StudyID
	{model.Study, model.DicomTag{Group: 0x0008, Element: 0x1030}, KindMain},       // StudyDescription
	{model.Study, model.DicomTag{Group: 0x0008, Element: 0x0050}, KindMain},       // AccessionNumber

	{model.Series, model.DicomTag{Group: 0x0020, Element: 0x000E}, KindIdentifier}, // SeriesInstanceUID
	{model.Series, model.DicomTag{Group: 0x0008, Element: 0x0060}, KindMain},       // Modality
	{model.Series, model.DicomTag{Group: 0x0020, Element: 0x0011}, KindMain},       // SeriesNumber
	{model.Series, model.DicomTag{Group: 0x0008, Element: 0x103E}, KindMain},       // SeriesDescription

	{model.Instance, model.DicomTag{Group: 0x0008, Element: 0x0018}, KindIdentifier}, // SOPInstanceUID
	{model.Instance, model.DicomTag{Group: 0x0020, Element: 0x0013}, KindMain},       // InstanceNumber
	{model.Instance, model.DicomTag{Group: 0x0008, Element: 0x0016}, KindMain},       // SOPClassUID
}
