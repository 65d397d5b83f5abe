// Package changelog implements the append-only Changes and
// ExportedResources logs: every write is an insert, never an update, and
// readers paginate forward from a sequence number with a "done" flag so
// a caller polling for new entries knows when it has drained the log.
package changelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/sqlengine"
)

type Log struct {
	conn *sqlengine.Connection
}

func New(conn *sqlengine.Connection) *Log {
	return &Log{conn: conn}
}

// LogChange appends one entry to the change log.
func (l *Log) LogChange(ctx context.Context, kind model.ChangeKind, resourceID int64, publicID string, level model.ResourceLevel, when time.Time) error {
	stmt, err := l.conn.Rent(ctx, sqlengine.Here(), "INSERT INTO Changes(changeType, internalId, resourceType, date) VALUES(?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("changelog: logging change on %s: %w", publicID, err)
	}
	defer stmt.Release()

	_, err = stmt.Exec(ctx, int(kind), resourceID, int(level), when.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("changelog: logging change on %s: %w", publicID, err)
	}
	return nil
}

// ChangesPage is one page of the change log: up to maxResults entries
// starting strictly after since, plus whether the log was fully drained.
type ChangesPage struct {
	Changes []model.ChangeEvent
	Done    bool
}

// GetChanges paginates the change log forward from since (0 to start
// from the beginning), joining back to Resources for the current public
// id — a resource deleted after being logged still has its change
// entries, but its public id can no longer be resolved, so those rows are
// silently skipped, matching the append-only log's "history survives
// deletion, point-in-time detail does not" semantics. One extra row
// beyond maxResults is fetched to decide Done without a second query.
func (l *Log) GetChanges(ctx context.Context, since int64, maxResults int) (ChangesPage, error) {
	stmt, err := l.conn.Rent(ctx, sqlengine.Here(), `
SELECT c.seq, c.changeType, c.internalId, r.publicId, c.resourceType, c.date
FROM Changes c
LEFT JOIN Resources r ON r.internalId = c.internalId
WHERE c.seq > ?
ORDER BY c.seq
LIMIT ?`)
	if err != nil {
		return ChangesPage{}, fmt.Errorf("changelog: listing changes: %w", err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, since, maxResults+1)
	if err != nil {
		return ChangesPage{}, fmt.Errorf("changelog: listing changes: %w", err)
	}
	defer rows.Close()

	var page ChangesPage
	for rows.Next() {
		var e model.ChangeEvent
		var kind, level int
		var publicID sql.NullString
		var dateText string

		if err := rows.Scan(&e.Seq, &kind, &e.ResourceID, &publicID, &level, &dateText); err != nil {
			return ChangesPage{}, err
		}
		if !publicID.Valid {
			continue
		}

		e.Kind = model.ChangeKind(kind)
		e.Level = model.ResourceLevel(level)
		e.PublicID = publicID.String
		e.Date, _ = time.Parse(time.RFC3339Nano, dateText)

		page.Changes = append(page.Changes, e)
	}
	if err := rows.Err(); err != nil {
		return ChangesPage{}, err
	}

	if len(page.Changes) > maxResults {
		page.Changes = page.Changes[:maxResults]
		page.Done = false
	} else {
		page.Done = true
	}
	return page, nil
}

// GetLastChange returns the most recently logged change, and false if the
// log is empty.
func (l *Log) GetLastChange(ctx context.Context) (model.ChangeEvent, bool, error) {
	var e model.ChangeEvent
	var kind, level int
	var publicID sql.NullString
	var dateText string

	stmt, err := l.conn.Rent(ctx, sqlengine.Here(), `
SELECT c.seq, c.changeType, c.internalId, r.publicId, c.resourceType, c.date
FROM Changes c
LEFT JOIN Resources r ON r.internalId = c.internalId
ORDER BY c.seq DESC LIMIT 1`)
	if err != nil {
		return model.ChangeEvent{}, false, fmt.Errorf("changelog: reading last change: %w", err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx).Scan(&e.Seq, &kind, &e.ResourceID, &publicID, &level, &dateText)

	if err == sql.ErrNoRows {
		return model.ChangeEvent{}, false, nil
	}
	if err != nil {
		return model.ChangeEvent{}, false, fmt.Errorf("changelog: reading last change: %w", err)
	}

	e.Kind = model.ChangeKind(kind)
	e.Level = model.ResourceLevel(level)
	e.PublicID = publicID.String
	e.Date, _ = time.Parse(time.RFC3339Nano, dateText)
	return e, true, nil
}

// ClearChanges deletes every entry from the change log. It does not
// affect ExportedResources, which is tracked independently.
func (l *Log) ClearChanges(ctx context.Context) error {
	stmt, err := l.conn.Rent(ctx, sqlengine.Here(), "DELETE FROM Changes")
	if err != nil {
		return fmt.Errorf("changelog: clearing changes: %w", err)
	}
	defer stmt.Release()

	if _, err := stmt.Exec(ctx); err != nil {
		return fmt.Errorf("changelog: clearing changes: %w", err)
	}
	return nil
}
