package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orthancore/indexcore/internal/sqlengine"
)

// SetGlobalProperty upserts a whole-database property. Property ids up to
// and including schema.PropertyDatabaseUUID are reserved for the schema
// manager; this
// method does not enforce that boundary, it is a convention callers
// outside this package are expected to respect.
func (s *Store) SetGlobalProperty(ctx context.Context, property int, value string) error {
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(),
		"INSERT INTO GlobalProperties(property, value) VALUES(?, ?) ON CONFLICT(property) DO UPDATE SET value=excluded.value")
	if err != nil {
		return fmt.Errorf("store: setting global property %d: %w", property, err)
	}
	defer stmt.Release()

	_, err = stmt.Exec(ctx, property, value)
	if err != nil {
		return fmt.Errorf("store: setting global property %d: %w", property, err)
	}
	return nil
}

// LookupGlobalProperty reads a global property, returning false if unset.
func (s *Store) LookupGlobalProperty(ctx context.Context, property int) (string, bool, error) {
	var value string
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT value FROM GlobalProperties WHERE property=?")
	if err != nil {
		return "", false, fmt.Errorf("store: reading global property %d: %w", property, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, property).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: reading global property %d: %w", property, err)
	}
	return value, true, nil
}

// GetTotalCompressedSize returns the running total of AttachedFiles
// compressed sizes, maintained incrementally by triggers rather than
// summed on demand.
func (s *Store) GetTotalCompressedSize(ctx context.Context) (int64, error) {
	return s.readGlobalInteger(ctx, 0)
}

// GetTotalUncompressedSize returns the running total of AttachedFiles
// uncompressed sizes.
func (s *Store) GetTotalUncompressedSize(ctx context.Context) (int64, error) {
	return s.readGlobalInteger(ctx, 1)
}

func (s *Store) readGlobalInteger(ctx context.Context, key int) (int64, error) {
	var value int64
	stmt, err := s.conn.Rent(ctx, sqlengine.Here(), "SELECT value FROM GlobalIntegers WHERE key=?")
	if err != nil {
		return 0, fmt.Errorf("store: reading global integer %d: %w", key, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: reading global integer %d: %w", key, err)
	}
	return value, nil
}

// IsDiskSizeAbove reports whether the total compressed size on disk
// exceeds thresholdBytes. The recycling controller does not call it; it
// is the check a caller makes before asking that controller for a patient
// to evict.
func (s *Store) IsDiskSizeAbove(ctx context.Context, thresholdBytes int64) (bool, error) {
	total, err := s.GetTotalCompressedSize(ctx)
	if err != nil {
		return false, err
	}
	return total > thresholdBytes, nil
}
