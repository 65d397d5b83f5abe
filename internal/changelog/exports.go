package changelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/sqlengine"
)

// LogExportedResource appends one entry to the export log. Unlike the
// change log, exported resources are not tied to a living resource's
// internal id — they record the DICOM identifiers directly, so the entry
// survives the resource's later deletion.
func (l *Log) LogExportedResource(ctx context.Context, e model.ExportedResource, when time.Time) error {
	stmt, err := l.conn.Rent(ctx, sqlengine.Here(), `
INSERT INTO ExportedResources(resourceType, publicId, remoteModality, patientId, studyInstanceUid, seriesInstanceUid, sopInstanceUid, date)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("changelog: logging export of %s: %w", e.PublicID, err)
	}
	defer stmt.Release()

	_, err = stmt.Exec(ctx,
		int(e.Level), e.PublicID, e.Modality, e.PatientID, e.StudyInstanceUID, e.SeriesInstanceUID, e.SopInstanceUID,
		when.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("changelog: logging export of %s: %w", e.PublicID, err)
	}
	return nil
}

// ExportsPage is one page of the export log.
type ExportsPage struct {
	Exports []model.ExportedResource
	Done    bool
}

// GetExportedResources paginates the export log forward from since.
func (l *Log) GetExportedResources(ctx context.Context, since int64, maxResults int) (ExportsPage, error) {
	stmt, err := l.conn.Rent(ctx, sqlengine.Here(), `
SELECT seq, resourceType, publicId, remoteModality, patientId, studyInstanceUid, seriesInstanceUid, sopInstanceUid, date
FROM ExportedResources
WHERE seq > ?
ORDER BY seq
LIMIT ?`)
	if err != nil {
		return ExportsPage{}, fmt.Errorf("changelog: listing exports: %w", err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, since, maxResults+1)
	if err != nil {
		return ExportsPage{}, fmt.Errorf("changelog: listing exports: %w", err)
	}
	defer rows.Close()

	var page ExportsPage
	for rows.Next() {
		var e model.ExportedResource
		var level int
		var dateText string
		if err := rows.Scan(&e.Seq, &level, &e.PublicID, &e.Modality, &e.PatientID,
			&e.StudyInstanceUID, &e.SeriesInstanceUID, &e.SopInstanceUID, &dateText); err != nil {
			return ExportsPage{}, err
		}
		e.Level = model.ResourceLevel(level)
		e.Date, _ = time.Parse(time.RFC3339Nano, dateText)
		page.Exports = append(page.Exports, e)
	}
	if err := rows.Err(); err != nil {
		return ExportsPage{}, err
	}

	if len(page.Exports) > maxResults {
		page.Exports = page.Exports[:maxResults]
		page.Done = false
	} else {
		page.Done = true
	}
	return page, nil
}

// GetLastExportedResource returns the most recently logged export entry.
func (l *Log) GetLastExportedResource(ctx context.Context) (model.ExportedResource, bool, error) {
	var e model.ExportedResource
	var level int
	var dateText string

	stmt, err := l.conn.Rent(ctx, sqlengine.Here(), `
SELECT seq, resourceType, publicId, remoteModality, patientId, studyInstanceUid, seriesInstanceUid, sopInstanceUid, date
FROM ExportedResources
ORDER BY seq DESC LIMIT 1`)
	if err != nil {
		return model.ExportedResource{}, false, fmt.Errorf("changelog: reading last export: %w", err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx).Scan(&e.Seq, &level, &e.PublicID, &e.Modality, &e.PatientID,
		&e.StudyInstanceUID, &e.SeriesInstanceUID, &e.SopInstanceUID, &dateText)

	if err == sql.ErrNoRows {
		return model.ExportedResource{}, false, nil
	}
	if err != nil {
		return model.ExportedResource{}, false, fmt.Errorf("changelog: reading last export: %w", err)
	}

	e.Level = model.ResourceLevel(level)
	e.Date, _ = time.Parse(time.RFC3339Nano, dateText)
	return e, true, nil
}
