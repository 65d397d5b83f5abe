package model

import "time"

// Resource is a node in the four-level hierarchy. InternalID is the
// opaque, engine-assigned primary key; PublicID is the externally
// assigned identifier callers use to address the resource.
type Resource struct {
	InternalID int64
	PublicID   string
	Level      ResourceLevel
	ParentID   *int64
}

// CompressionType mirrors the handful of compression schemes the storage
// area may apply to an attachment before it reaches disk. The core never
// inspects the bytes; it only records which scheme was used so the
// listener can reconstruct the blob.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionZlibWithSize
)

// Attachment describes a blob owned by exactly one resource, addressed by
// UUID in the external storage area. ContentType is an integer tag
// (DICOM file, JSON metadata cache, etc.) rather than a MIME string,
// matching the compact encoding the original schema uses.
type Attachment struct {
	UUID               string
	ContentType         int
	UncompressedSize    int64
	CompressedSize      int64
	CompressionType     CompressionType
	UncompressedHash    string
	CompressedHash      string
	Revision            int64
}

// FileDeletion is the command surfaced to the storage-area collaborator
// after a committing deletion: "this blob is no longer referenced".
type FileDeletion struct {
	UUID               string
	ContentType        int
	UncompressedSize   int64
	CompressionType    CompressionType
	CompressedSize     int64
	UncompressedHash   string
	CompressedHash     string
}

// ChangeKind enumerates the kinds of resource-state transitions recorded
// in the change log. Created, AttachmentAdded and so on are logged explicitly
// by the ingestion layer; Deleted is emitted only by the deletion engine.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
	ChangeStable
	ChangeAttachmentAdded
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "Created"
	case ChangeUpdated:
		return "Updated"
	case ChangeDeleted:
		return "Deleted"
	case ChangeStable:
		return "Stable"
	case ChangeAttachmentAdded:
		return "AttachmentAdded"
	default:
		return "Unknown"
	}
}

// ChangeEvent is one row of the append-only change log.
type ChangeEvent struct {
	Seq        int64
	Kind       ChangeKind
	ResourceID int64
	PublicID   string
	Level      ResourceLevel
	Date       time.Time
}

// ExportedResource is one row of the append-only export log: a
// historical record of a resource having been sent to a remote modality.
// It is not tied to the resource's lifetime and survives deletion.
type ExportedResource struct {
	Seq              int64
	Level            ResourceLevel
	PublicID         string
	Modality         string
	Date             time.Time
	PatientID        string
	StudyInstanceUID string
	SeriesInstanceUID string
	SopInstanceUID   string
}

// DicomTag is a (group, element) pair, the DICOM addressing unit for an
// attribute.
type DicomTag struct {
	Group   uint16
	Element uint16
}

// DicomMap is a flat association of tags to string values, as returned by
// GetMainDicomTags.
type DicomMap map[DicomTag]string

// RemainingAncestor is the deepest still-existing ancestor of a deleted
// subtree, reported to the listener at most once per DeleteResource call.
type RemainingAncestor struct {
	PublicID string
	Level    ResourceLevel
}
