// Package store implements the Resource Store: creation, lookup and
// hierarchy navigation for patients/studies/series/instances, plus the
// metadata, main-tag and attachment projections attached to each
// resource, and the handful of whole-database global properties and
// aggregate counters. It is the primary read/write surface the rest of
// the core builds on.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orthancore/indexcore/internal/dicomnorm"
	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/sqlengine"
)

// Store is the Resource Store handle. It holds no state of its own beyond
// the connection; every call takes an explicit context and, where the
// caller is inside a multi-statement operation, runs against the same
// connection the transaction was started on.
type Store struct {
	conn *sqlengine.Connection
}

func New(conn *sqlengine.Connection) *Store {
	return &Store{conn: conn}
}

// CreateResource inserts a new, parentless resource of level and returns
// its internal id. publicID must be unique across all resources, at every
// level; a collision surfaces as model.ErrDuplicate. A resource
// created this way is linked into the hierarchy by a following,
// separate call to AttachChild.
func (s *Store) CreateResource(ctx context.Context, level model.ResourceLevel, publicID string) (int64, error) {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "INSERT INTO Resources(resourceType, publicId, parentId) VALUES(?, ?, NULL)")
	if err != nil {
		return 0, fmt.Errorf("store: creating resource %s: %w", publicID, err)
	}
	defer stmt.Release()

	result, err := stmt.Exec(ctx, int(level), publicID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("store: creating resource %s: %w", publicID, model.ErrDuplicate)
		}
		return 0, fmt.Errorf("store: creating resource %s: %w", publicID, err)
	}
	return result.LastInsertId()
}

// AttachChild links childID to parentID, completing the two-phase
// resource lifecycle: a resource is created parentless by CreateResource,
// then attached to its parent exactly once, immediately afterward. It
// does not re-parent an already-linked resource; childID must currently
// have parentId NULL.
func (s *Store) AttachChild(ctx context.Context, childID, parentID int64) error {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "UPDATE Resources SET parentId=? WHERE internalId=? AND parentId IS NULL")
	if err != nil {
		return fmt.Errorf("store: attaching %d to parent %d: %w", childID, parentID, err)
	}
	defer stmt.Release()

	result, err := stmt.Exec(ctx, parentID, childID)
	if err != nil {
		return fmt.Errorf("store: attaching %d to parent %d: %w", childID, parentID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: attaching %d to parent %d: %w", childID, parentID, err)
	}
	if rows == 0 {
		return fmt.Errorf("store: attaching %d to parent %d: %w", childID, parentID, model.ErrDuplicate)
	}
	return nil
}

// LookupResource finds a resource by its public id.
func (s *Store) LookupResource(ctx context.Context, publicID string) (model.Resource, error) {
	var r model.Resource
	var level int
	var parentID sql.NullInt64

	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT internalId, resourceType, publicId, parentId FROM Resources WHERE publicId=?")
	if err != nil {
		return model.Resource{}, fmt.Errorf("store: looking up %s: %w", publicID, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, publicID).Scan(&r.InternalID, &level, &r.PublicID, &parentID)

	if err == sql.ErrNoRows {
		return model.Resource{}, fmt.Errorf("store: looking up %s: %w", publicID, model.ErrNotFound)
	}
	if err != nil {
		return model.Resource{}, fmt.Errorf("store: looking up %s: %w", publicID, err)
	}

	r.Level = model.ResourceLevel(level)
	if parentID.Valid {
		r.ParentID = &parentID.Int64
	}
	return r, nil
}

// LookupInternalID resolves a public id to its internal id without
// fetching the rest of the row, for call sites that only need the key.
func (s *Store) LookupInternalID(ctx context.Context, publicID string) (int64, error) {
	var id int64
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT internalId FROM Resources WHERE publicId=?")
	if err != nil {
		return 0, fmt.Errorf("store: looking up %s: %w", publicID, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, publicID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("store: looking up %s: %w", publicID, model.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("store: looking up %s: %w", publicID, err)
	}
	return id, nil
}

// LookupParent returns the internal id of internalID's parent, and false
// if internalID is a Patient (has no parent).
func (s *Store) LookupParent(ctx context.Context, internalID int64) (int64, bool, error) {
	var parentID sql.NullInt64
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT parentId FROM Resources WHERE internalId=?")
	if err != nil {
		return 0, false, fmt.Errorf("store: looking up parent of %d: %w", internalID, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, internalID).Scan(&parentID)
	if err == sql.ErrNoRows {
		return 0, false, fmt.Errorf("store: looking up parent of %d: %w", internalID, model.ErrNotFound)
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: looking up parent of %d: %w", internalID, err)
	}
	if !parentID.Valid {
		return 0, false, nil
	}
	return parentID.Int64, true, nil
}

// GetChildrenInternalID lists the internal ids of internalID's direct
// children.
func (s *Store) GetChildrenInternalID(ctx context.Context, internalID int64) ([]int64, error) {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT internalId FROM Resources WHERE parentId=?")
	if err != nil {
		return nil, fmt.Errorf("store: listing children of %d: %w", internalID, err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, internalID)
	if err != nil {
		return nil, fmt.Errorf("store: listing children of %d: %w", internalID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetChildrenPublicID lists the public ids of internalID's direct
// children.
func (s *Store) GetChildrenPublicID(ctx context.Context, internalID int64) ([]string, error) {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT publicId FROM Resources WHERE parentId=?")
	if err != nil {
		return nil, fmt.Errorf("store: listing children of %d: %w", internalID, err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, internalID)
	if err != nil {
		return nil, fmt.Errorf("store: listing children of %d: %w", internalID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetAllPublicIDs paginates the public ids of every resource at level,
// ordered by internal id, starting strictly after sinceInternalID (0 to
// start from the beginning). It returns at most limit ids.
func (s *Store) GetAllPublicIDs(ctx context.Context, level model.ResourceLevel, sinceInternalID int64, limit int) ([]string, error) {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(),
		"SELECT publicId FROM Resources WHERE resourceType=? AND internalId > ? ORDER BY internalId LIMIT ?")
	if err != nil {
		return nil, fmt.Errorf("store: listing public ids at level %s: %w", level, err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, int(level), sinceInternalID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing public ids at level %s: %w", level, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetResourceCount returns the number of resources at level.
func (s *Store) GetResourceCount(ctx context.Context, level model.ResourceLevel) (int64, error) {
	var count int64
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT COUNT(*) FROM Resources WHERE resourceType=?")
	if err != nil {
		return 0, fmt.Errorf("store: counting resources at level %s: %w", level, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, int(level)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: counting resources at level %s: %w", level, err)
	}
	return count, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return sqlengine.IsConstraintViolation(err)
}

// normalizeIdentifier applies the identifier-normalization rule
// consistently between writes and lookups, so that a DicomIdentifiers row
// written from one variant form of a value is still found by a lookup
// using a different variant.
func normalizeIdentifier(value string) string {
	return dicomnorm.Normalize(value)
}
