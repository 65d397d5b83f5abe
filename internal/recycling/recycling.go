// Package recycling implements the FIFO-with-protection patient eviction
// queue. Every patient starts unprotected and enters the recycling order
// at creation time (the schema's PatientAdded trigger inserts it);
// protecting a patient removes it from the queue so it can never be
// auto-selected for eviction, and unprotecting reinserts it at the tail,
// as if it had just been created.
package recycling

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orthancore/indexcore/internal/sqlengine"
)

type Controller struct {
	conn *sqlengine.Connection
}

func New(conn *sqlengine.Connection) *Controller {
	return &Controller{conn: conn}
}

// SelectPatientToRecycle returns the internal id of the oldest
// unprotected patient, and false if the queue is empty (every patient is
// either protected or there are none).
func (c *Controller) SelectPatientToRecycle(ctx context.Context) (int64, bool, error) {
	return c.selectOldest(ctx, nil)
}

// SelectPatientToRecycleAvoiding is the same as SelectPatientToRecycle but
// skips avoidPatientID, for callers that are about to recycle patients to
// make room for a new instance that is itself under avoidPatientID and
// must not be its own victim.
func (c *Controller) SelectPatientToRecycleAvoiding(ctx context.Context, avoidPatientID int64) (int64, bool, error) {
	return c.selectOldest(ctx, &avoidPatientID)
}

func (c *Controller) selectOldest(ctx context.Context, avoid *int64) (int64, bool, error) {
	var id int64
	var err error

	if avoid == nil {
		stmt, rentErr := c.conn.Rent(ctx, sqlengine.Here(), "SELECT patientId FROM PatientRecyclingOrder ORDER BY seq LIMIT 1")
		if rentErr != nil {
			return 0, false, fmt.Errorf("recycling: selecting patient to recycle: %w", rentErr)
		}
		defer stmt.Release()
		err = stmt.QueryRow(ctx).Scan(&id)
	} else {
		stmt, rentErr := c.conn.Rent(ctx, sqlengine.Here(), "SELECT patientId FROM PatientRecyclingOrder WHERE patientId != ? ORDER BY seq LIMIT 1")
		if rentErr != nil {
			return 0, false, fmt.Errorf("recycling: selecting patient to recycle: %w", rentErr)
		}
		defer stmt.Release()
		err = stmt.QueryRow(ctx, *avoid).Scan(&id)
	}

	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("recycling: selecting patient to recycle: %w", err)
	}
	return id, true, nil
}

// IsProtectedPatient reports whether patientID is currently protected
// from recycling (absent from PatientRecyclingOrder).
func (c *Controller) IsProtectedPatient(ctx context.Context, patientID int64) (bool, error) {
	var count int
	stmt, err := c.conn.Rent(ctx, sqlengine.Here(), "SELECT COUNT(*) FROM PatientRecyclingOrder WHERE patientId=?")
	if err != nil {
		return false, fmt.Errorf("recycling: checking protection of %d: %w", patientID, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, patientID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("recycling: checking protection of %d: %w", patientID, err)
	}
	return count == 0, nil
}

// SetProtectedPatient protects or unprotects a patient. Protecting
// deletes its row from PatientRecyclingOrder, taking it out of
// contention for eviction entirely. Unprotecting inserts a fresh row,
// which, because seq is an autoincrement primary key, places the patient
// at the tail of the queue, exactly as if it had just been created; it
// does not restore its original queue position.
func (c *Controller) SetProtectedPatient(ctx context.Context, patientID int64, protected bool) error {
	if protected {
		stmt, err := c.conn.Rent(ctx, sqlengine.Here(), "DELETE FROM PatientRecyclingOrder WHERE patientId=?")
		if err != nil {
			return fmt.Errorf("recycling: protecting patient %d: %w", patientID, err)
		}
		defer stmt.Release()

		if _, err := stmt.Exec(ctx, patientID); err != nil {
			return fmt.Errorf("recycling: protecting patient %d: %w", patientID, err)
		}
		return nil
	}

	isProtected, err := c.IsProtectedPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if !isProtected {
		// Already in the queue: unprotecting an unprotected patient is a
		// no-op rather than duplicating its row.
		return nil
	}

	stmt, err := c.conn.Rent(ctx, sqlengine.Here(), "INSERT INTO PatientRecyclingOrder(patientId) VALUES(?)")
	if err != nil {
		return fmt.Errorf("recycling: unprotecting patient %d: %w", patientID, err)
	}
	defer stmt.Release()

	if _, err := stmt.Exec(ctx, patientID); err != nil {
		return fmt.Errorf("recycling: unprotecting patient %d: %w", patientID, err)
	}
	return nil
}

// TagMostRecentPatient promotes patientID to the tail of the recycling
// queue, as if it had just been created. Unlike SetProtectedPatient(id,
// false), which is a no-op when the patient is already unprotected, this
// always removes and reinserts the row, so an already-unprotected patient
// that was accessed (a new instance stored under it, a query that
// touched it) moves back behind every other unprotected patient instead
// of staying at its old position. A protected patient is left alone: it
// is outside the queue entirely and re-queueing it would pull it back
// into contention for eviction.
func (c *Controller) TagMostRecentPatient(ctx context.Context, patientID int64) error {
	protected, err := c.IsProtectedPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if protected {
		return nil
	}

	delStmt, err := c.conn.Rent(ctx, sqlengine.Here(), "DELETE FROM PatientRecyclingOrder WHERE patientId=?")
	if err != nil {
		return fmt.Errorf("recycling: retagging patient %d: %w", patientID, err)
	}
	defer delStmt.Release()
	if _, err := delStmt.Exec(ctx, patientID); err != nil {
		return fmt.Errorf("recycling: retagging patient %d: %w", patientID, err)
	}

	insStmt, err := c.conn.Rent(ctx, sqlengine.Here(), "INSERT INTO PatientRecyclingOrder(patientId) VALUES(?)")
	if err != nil {
		return fmt.Errorf("recycling: retagging patient %d: %w", patientID, err)
	}
	defer insStmt.Release()
	if _, err := insStmt.Exec(ctx, patientID); err != nil {
		return fmt.Errorf("recycling: retagging patient %d: %w", patientID, err)
	}
	return nil
}
