package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/sqlengine"
)

// NewAttachmentUUID mints a fresh blob identifier for a storage-area
// collaborator that has no addressing scheme of its own. Callers that
// already know how to name their blobs (content-addressed storage,
// existing object keys) are free to pass their own string to
// AddAttachment instead.
func NewAttachmentUUID() string {
	return uuid.NewString()
}

// AddAttachment records a blob of contentType on a resource. A second
// call with the same (internalID, contentType) is not idempotent: it
// fails with model.ErrDuplicate rather than replacing the row, since an
// in-place replacement would update compressedSize/uncompressedSize
// without the AttachedFileDeleted/AttachedFileInserted triggers firing,
// silently drifting the GlobalIntegers size aggregates from the true
// sum. Callers that want to replace an attachment must DeleteAttachment
// it first.
func (s *Store) AddAttachment(ctx context.Context, internalID int64, a model.Attachment) error {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), `
INSERT INTO AttachedFiles(id, fileType, uuid, compressedSize, uncompressedSize, compressionType, uncompressedHash, compressedHash, revision)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("store: adding attachment %d on %d: %w", a.ContentType, internalID, err)
	}
	defer stmt.Release()

	_, err = stmt.Exec(ctx,
		internalID, a.ContentType, a.UUID, a.CompressedSize, a.UncompressedSize,
		int(a.CompressionType), nullableString(a.UncompressedHash), nullableString(a.CompressedHash), a.Revision)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("store: adding attachment %d on %d: %w", a.ContentType, internalID, model.ErrDuplicate)
		}
		return fmt.Errorf("store: adding attachment %d on %d: %w", a.ContentType, internalID, err)
	}
	return nil
}

// LookupAttachment fetches one attachment by resource and content type.
func (s *Store) LookupAttachment(ctx context.Context, internalID int64, contentType int) (model.Attachment, error) {
	var a model.Attachment
	var compressionType int
	var uncompressedHash, compressedHash sql.NullString

	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), `
SELECT uuid, compressedSize, uncompressedSize, compressionType, uncompressedHash, compressedHash, revision
FROM AttachedFiles WHERE id=? AND fileType=?`)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("store: looking up attachment %d on %d: %w", contentType, internalID, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, internalID, contentType).
		Scan(&a.UUID, &a.CompressedSize, &a.UncompressedSize, &compressionType, &uncompressedHash, &compressedHash, &a.Revision)

	if err == sql.ErrNoRows {
		return model.Attachment{}, fmt.Errorf("store: looking up attachment %d on %d: %w", contentType, internalID, model.ErrNotFound)
	}
	if err != nil {
		return model.Attachment{}, fmt.Errorf("store: looking up attachment %d on %d: %w", contentType, internalID, err)
	}

	a.ContentType = contentType
	a.CompressionType = model.CompressionType(compressionType)
	a.UncompressedHash = uncompressedHash.String
	a.CompressedHash = compressedHash.String
	return a, nil
}

// ListAvailableAttachments lists the content types attached to a
// resource.
func (s *Store) ListAvailableAttachments(ctx context.Context, internalID int64) ([]int, error) {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT fileType FROM AttachedFiles WHERE id=?")
	if err != nil {
		return nil, fmt.Errorf("store: listing attachments on %d: %w", internalID, err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, internalID)
	if err != nil {
		return nil, fmt.Errorf("store: listing attachments on %d: %w", internalID, err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var t int
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteAttachment removes one attachment. The AttachedFileDeleted
// trigger fires SignalFileDeleted and decrements the running size totals
// as part of the same statement.
func (s *Store) DeleteAttachment(ctx context.Context, internalID int64, contentType int) error {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "DELETE FROM AttachedFiles WHERE id=? AND fileType=?")
	if err != nil {
		return fmt.Errorf("store: deleting attachment %d on %d: %w", contentType, internalID, err)
	}
	defer stmt.Release()

	result, err := stmt.Exec(ctx, internalID, contentType)
	if err != nil {
		return fmt.Errorf("store: deleting attachment %d on %d: %w", contentType, internalID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: deleting attachment %d on %d: %w", contentType, internalID, err)
	}
	if rows == 0 {
		return fmt.Errorf("store: deleting attachment %d on %d: %w", contentType, internalID, model.ErrNotFound)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
