package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orthancore/indexcore/internal/sqlengine"
)

// SetMetadata upserts one metadata value of the given type on a resource.
func (s *Store) SetMetadata(ctx context.Context, internalID int64, metadataType int, value string) error {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(),
		"INSERT INTO Metadata(id, type, value) VALUES(?, ?, ?) ON CONFLICT(id, type) DO UPDATE SET value=excluded.value")
	if err != nil {
		return fmt.Errorf("store: setting metadata %d on %d: %w", metadataType, internalID, err)
	}
	defer stmt.Release()

	_, err = stmt.Exec(ctx, internalID, metadataType, value)
	if err != nil {
		return fmt.Errorf("store: setting metadata %d on %d: %w", metadataType, internalID, err)
	}
	return nil
}

// LookupMetadata returns the value of one metadata type, and false if it
// is not set.
func (s *Store) LookupMetadata(ctx context.Context, internalID int64, metadataType int) (string, bool, error) {
	var value string
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT value FROM Metadata WHERE id=? AND type=?")
	if err != nil {
		return "", false, fmt.Errorf("store: looking up metadata %d on %d: %w", metadataType, internalID, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, internalID, metadataType).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: looking up metadata %d on %d: %w", metadataType, internalID, err)
	}
	return value, true, nil
}

// DeleteMetadata removes one metadata value; it is a no-op if not set.
func (s *Store) DeleteMetadata(ctx context.Context, internalID int64, metadataType int) error {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "DELETE FROM Metadata WHERE id=? AND type=?")
	if err != nil {
		return fmt.Errorf("store: deleting metadata %d on %d: %w", metadataType, internalID, err)
	}
	defer stmt.Release()

	_, err = stmt.Exec(ctx, internalID, metadataType)
	if err != nil {
		return fmt.Errorf("store: deleting metadata %d on %d: %w", metadataType, internalID, err)
	}
	return nil
}

// GetAllMetadata returns every metadata value set on a resource, keyed by
// type.
func (s *Store) GetAllMetadata(ctx context.Context, internalID int64) (map[int]string, error) {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT type, value FROM Metadata WHERE id=?")
	if err != nil {
		return nil, fmt.Errorf("store: listing metadata on %d: %w", internalID, err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, internalID)
	if err != nil {
		return nil, fmt.Errorf("store: listing metadata on %d: %w", internalID, err)
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var t int
		var v string
		if err := rows.Scan(&t, &v); err != nil {
			return nil, err
		}
		out[t] = v
	}
	return out, rows.Err()
}
