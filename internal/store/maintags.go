package store

import (
	"context"
	"fmt"

	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/sqlengine"
)

// SetMainDicomTag projects one display-oriented tag value onto a
// resource. Values are stored verbatim, unlike identifier tags which go
// through normalization.
func (s *Store) SetMainDicomTag(ctx context.Context, internalID int64, tag model.DicomTag, value string) error {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(),
		"INSERT INTO MainDicomTags(id, tagGroup, tagElement, value) VALUES(?, ?, ?, ?) ON CONFLICT(id, tagGroup, tagElement) DO UPDATE SET value=excluded.value")
	if err != nil {
		return fmt.Errorf("store: setting main tag %04x,%04x on %d: %w", tag.Group, tag.Element, internalID, err)
	}
	defer stmt.Release()

	_, err = stmt.Exec(ctx, internalID, tag.Group, tag.Element, value)
	if err != nil {
		return fmt.Errorf("store: setting main tag %04x,%04x on %d: %w", tag.Group, tag.Element, internalID, err)
	}
	return nil
}

// SetIdentifierTag projects one identifier tag value onto a resource. The
// value is normalized (trimmed, ASCII-filtered, uppercased) so that a
// lookup using a differently-formatted variant of the same identifier
// still matches.
func (s *Store) SetIdentifierTag(ctx context.Context, internalID int64, tag model.DicomTag, value string) error {
	normalized := normalizeIdentifier(value)
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(),
		"INSERT INTO DicomIdentifiers(id, tagGroup, tagElement, value) VALUES(?, ?, ?, ?) ON CONFLICT(id, tagGroup, tagElement) DO UPDATE SET value=excluded.value")
	if err != nil {
		return fmt.Errorf("store: setting identifier tag %04x,%04x on %d: %w", tag.Group, tag.Element, internalID, err)
	}
	defer stmt.Release()

	_, err = stmt.Exec(ctx, internalID, tag.Group, tag.Element, normalized)
	if err != nil {
		return fmt.Errorf("store: setting identifier tag %04x,%04x on %d: %w", tag.Group, tag.Element, internalID, err)
	}
	return nil
}

// ClearMainDicomTags removes every main and identifier tag projected on a
// resource, ahead of a fresh reprojection (e.g. during schema migration).
func (s *Store) ClearMainDicomTags(ctx context.Context, internalID int64) error {
	mainStmt, err := s.conn.Rent(ctx, sqlengine.Here(), "DELETE FROM MainDicomTags WHERE id=?")
	if err != nil {
		return fmt.Errorf("store: clearing main tags on %d: %w", internalID, err)
	}
	defer mainStmt.Release()
	if _, err := mainStmt.Exec(ctx, internalID); err != nil {
		return fmt.Errorf("store: clearing main tags on %d: %w", internalID, err)
	}

	idStmt, err := s.conn.Rent(ctx, sqlengine.Here(), "DELETE FROM DicomIdentifiers WHERE id=?")
	if err != nil {
		return fmt.Errorf("store: clearing identifier tags on %d: %w", internalID, err)
	}
	defer idStmt.Release()
	if _, err := idStmt.Exec(ctx, internalID); err != nil {
		return fmt.Errorf("store: clearing identifier tags on %d: %w", internalID, err)
	}
	return nil
}

// GetMainDicomTags returns every main tag projected on a resource. It does
// not include identifier tags, which live in a separate table and are
// fetched with GetIdentifierTags.
func (s *Store) GetMainDicomTags(ctx context.Context, internalID int64) (model.DicomMap, error) {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT tagGroup, tagElement, value FROM MainDicomTags WHERE id=?")
	if err != nil {
		return nil, fmt.Errorf("store: listing main tags on %d: %w", internalID, err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, internalID)
	if err != nil {
		return nil, fmt.Errorf("store: listing main tags on %d: %w", internalID, err)
	}
	defer rows.Close()

	out := make(model.DicomMap)
	for rows.Next() {
		var tag model.DicomTag
		var value string
		if err := rows.Scan(&tag.Group, &tag.Element, &value); err != nil {
			return nil, err
		}
		out[tag] = value
	}
	return out, rows.Err()
}

// GetIdentifierTags returns every identifier tag projected on a resource,
// in their normalized form.
func (s *Store) GetIdentifierTags(ctx context.Context, internalID int64) (model.DicomMap, error) {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT tagGroup, tagElement, value FROM DicomIdentifiers WHERE id=?")
	if err != nil {
		return nil, fmt.Errorf("store: listing identifier tags on %d: %w", internalID, err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, internalID)
	if err != nil {
		return nil, fmt.Errorf("store: listing identifier tags on %d: %w", internalID, err)
	}
	defer rows.Close()

	out := make(model.DicomMap)
	for rows.Next() {
		var tag model.DicomTag
		var value string
		if err := rows.Scan(&tag.Group, &tag.Element, &value); err != nil {
			return nil, err
		}
		out[tag] = value
	}
	return out, rows.Err()
}
