package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/sqlengine"
)

// ReprojectJSON recomputes a resource's main DICOM tag projection from its
// cached DICOM JSON. It is supplied by the storage-area collaborator: the
// schema manager knows nothing about attachment storage, only that v5->v6
// needs a reprojection callback. Any error it returns for a resource (for
// example, because that resource has no cached JSON) makes the migration
// roll that resource back, log it and go on with the next one rather than
// abort the whole migration (the cached JSON is itself only a
// storage-area convenience, not an invariant the index can enforce).
type ReprojectJSON func(ctx context.Context, publicID string) error

// Manager owns schema creation and version migration for one connection.
type Manager struct {
	conn *sqlengine.Connection
	log  zerolog.Logger
}

func NewManager(conn *sqlengine.Connection) *Manager {
	return &Manager{conn: conn, log: conn.Logger()}
}

// Open creates the schema if the database is empty, checks the schema
// version against the compatibility window, runs any pending migrations
// to reach CurrentVersion, and installs the attachment-size aggregation
// triggers out of band if they are not yet present. reproject may be nil;
// if a v5->v6 migration is needed and reproject is nil, Open fails rather
// than silently skip every resource.
func (m *Manager) Open(ctx context.Context, reproject ReprojectJSON) error {
	exists, err := m.tableExists(ctx, "GlobalProperties")
	if err != nil {
		return err
	}

	if !exists {
		if err := m.createFresh(ctx); err != nil {
			return err
		}
		return nil
	}

	version, err := m.readVersion(ctx)
	if err != nil {
		return err
	}

	if version < MinSupportedVersion || version > MaxSupportedVersion {
		return fmt.Errorf("indexcore: %w: database is at version %d, supported range is [%d,%d]",
			model.ErrIncompatibleSchema, version, MinSupportedVersion, MaxSupportedVersion)
	}

	if err := m.migrate(ctx, version, reproject); err != nil {
		return err
	}

	return nil
}

func (m *Manager) createFresh(ctx context.Context) error {
	tx, err := m.conn.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("indexcore: creating schema: %w", err)
	}
	defer tx.Finish(ctx)

	if err := m.conn.Execute(ctx, ddl); err != nil {
		return fmt.Errorf("indexcore: creating schema: %w", err)
	}
	if err := m.setGlobalProperty(ctx, PropertySchemaVersion, strconv.Itoa(CurrentVersion)); err != nil {
		return err
	}
	if err := m.setGlobalProperty(ctx, PropertyGetTotalSizeIsFast, "1"); err != nil {
		return err
	}
	if err := m.setGlobalProperty(ctx, PropertyDatabaseUUID, uuid.NewString()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// migrate walks version forward to CurrentVersion one step at a time,
// applying each step's upgrade script and bumping the stored version
// before moving on, so a crash mid-migration resumes from the last
// completed step rather than reapplying it.
func (m *Manager) migrate(ctx context.Context, version int, reproject ReprojectJSON) error {
	for version < CurrentVersion {
		next := version + 1
		m.log.Info().Int("from", version).Int("to", next).Msg("applying schema migration")

		switch next {
		case 4:
			if err := m.migrateV3ToV4(ctx); err != nil {
				return err
			}
		case 5:
			if err := m.migrateV4ToV5(ctx); err != nil {
				return err
			}
		case 6:
			if err := m.migrateV5ToV6(ctx, reproject); err != nil {
				return err
			}
		default:
			return fmt.Errorf("indexcore: %w: no migration path to version %d", model.ErrIncompatibleSchema, next)
		}

		if err := m.setGlobalProperty(ctx, PropertySchemaVersion, strconv.Itoa(next)); err != nil {
			return err
		}
		version = next
	}

	// The attachment-size triggers were introduced alongside version 6 in
	// the original implementation but are tracked by their own property
	// so they can be installed out of band on a database that reached
	// version 6 before the triggers existed, without a version bump.
	fast, err := m.lookupGlobalProperty(ctx, PropertyGetTotalSizeIsFast)
	if err != nil {
		return err
	}
	if fast != "1" {
		if err := m.installAttachmentSizeTracking(ctx); err != nil {
			return err
		}
	}

	return nil
}

// migrateV3ToV4 adds the Metadata table, absent in version 3.
func (m *Manager) migrateV3ToV4(ctx context.Context) error {
	return m.conn.Execute(ctx, `
CREATE TABLE IF NOT EXISTS Metadata(
    id          INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE,
    type        INTEGER NOT NULL,
    value       TEXT NOT NULL,
    PRIMARY KEY(id, type)
);
`)
}

// migrateV4ToV5 adds the DicomIdentifiers table as a projection distinct
// from MainDicomTags, splitting identifier lookups (PatientID,
// StudyInstanceUID, ...) from display-oriented main tags.
func (m *Manager) migrateV4ToV5(ctx context.Context) error {
	return m.conn.Execute(ctx, `
CREATE TABLE IF NOT EXISTS DicomIdentifiers(
    id          INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE,
    tagGroup    INTEGER NOT NULL,
    tagElement  INTEGER NOT NULL,
    value        TEXT COLLATE BINARY,
    PRIMARY KEY(id, tagGroup, tagElement)
);
CREATE INDEX IF NOT EXISTS DicomIdentifiersIndex1 ON DicomIdentifiers(id);
CREATE INDEX IF NOT EXISTS DicomIdentifiersIndex2 ON DicomIdentifiers(tagGroup, tagElement, value);
`)
}

// migrateV5ToV6 walks every resource (patients, studies, series and
// instances) and reprojects its main tags from cached DICOM JSON via the
// supplied callback, with one savepoint per resource so a single bad
// resource is rolled back on its own and doesn't abort the whole
// migration. The resources are not wrapped in one enclosing transaction:
// each savepoint is opened outside any transaction, so each resource's
// reprojection is committed by its own RELEASE.
func (m *Manager) migrateV5ToV6(ctx context.Context, reproject ReprojectJSON) error {
	if reproject == nil {
		return fmt.Errorf("indexcore: %w: v5->v6 migration requires a DICOM JSON reprojection callback", model.ErrIncompatibleSchema)
	}

	rows, err := m.conn.Conn().QueryContext(ctx, "SELECT publicId FROM Resources")
	if err != nil {
		return fmt.Errorf("indexcore: listing resources for reprojection: %w", err)
	}
	defer rows.Close()

	var publicIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("indexcore: scanning resource id: %w", err)
		}
		publicIDs = append(publicIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var skipped int
	for _, publicID := range publicIDs {
		if _, err := m.conn.Conn().ExecContext(ctx, "SAVEPOINT reproject"); err != nil {
			return fmt.Errorf("indexcore: SAVEPOINT: %w", err)
		}

		err := reproject(ctx, publicID)
		if err != nil {
			if _, rbErr := m.conn.Conn().ExecContext(ctx, "ROLLBACK TO reproject"); rbErr != nil {
				return fmt.Errorf("indexcore: ROLLBACK TO reproject: %w", rbErr)
			}
			skipped++
			m.log.Warn().Str("public_id", publicID).Err(err).Msg("skipping reprojection: no cached DICOM JSON")
		}

		if _, err := m.conn.Conn().ExecContext(ctx, "RELEASE reproject"); err != nil {
			return fmt.Errorf("indexcore: RELEASE reproject: %w", err)
		}
	}

	if skipped > 0 {
		m.log.Warn().Int("skipped", skipped).Int("total", len(publicIDs)).Msg("v5->v6 migration completed with skipped resources")
	}

	return nil
}

// installAttachmentSizeTracking creates the triggers that keep
// GlobalIntegers in sync with AttachedFiles, and seeds the running totals
// from any rows already present — needed when the triggers are installed
// on a database that already holds attachments.
func (m *Manager) installAttachmentSizeTracking(ctx context.Context) error {
	exists, err := m.tableExists(ctx, "GlobalIntegers")
	if err != nil {
		return err
	}
	if !exists {
		if err := m.conn.Execute(ctx, `
CREATE TABLE GlobalIntegers(
    key         INTEGER PRIMARY KEY,
    value       INTEGER NOT NULL
);
`); err != nil {
			return err
		}
	}

	if err := m.conn.Execute(ctx, `
INSERT OR REPLACE INTO GlobalIntegers(key, value)
VALUES (0, (SELECT IFNULL(SUM(compressedSize), 0) FROM AttachedFiles)),
       (1, (SELECT IFNULL(SUM(uncompressedSize), 0) FROM AttachedFiles));
`); err != nil {
		return fmt.Errorf("indexcore: seeding attachment size totals: %w", err)
	}

	if err := m.conn.Execute(ctx, `
CREATE TRIGGER IF NOT EXISTS AttachedFileInserted
AFTER INSERT ON AttachedFiles
FOR EACH ROW
BEGIN
    UPDATE GlobalIntegers SET value = value + new.compressedSize WHERE key = 0;
    UPDATE GlobalIntegers SET value = value + new.uncompressedSize WHERE key = 1;
END;
`); err != nil {
		return err
	}

	if err := m.conn.Execute(ctx, `
CREATE TRIGGER IF NOT EXISTS AttachedFileDeleted
AFTER DELETE ON AttachedFiles
FOR EACH ROW
BEGIN
    SELECT SignalFileDeleted(old.uuid, old.fileType, old.uncompressedSize,
                              old.compressionType, old.compressedSize,
                              old.uncompressedHash, old.compressedHash);
    UPDATE GlobalIntegers SET value = value - old.compressedSize WHERE key = 0;
    UPDATE GlobalIntegers SET value = value - old.uncompressedSize WHERE key = 1;
END;
`); err != nil {
		return err
	}

	return m.setGlobalProperty(ctx, PropertyGetTotalSizeIsFast, "1")
}

func (m *Manager) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := m.conn.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("indexcore: checking table %s: %w", name, err)
	}
	return count > 0, nil
}

func (m *Manager) readVersion(ctx context.Context) (int, error) {
	value, err := m.lookupGlobalProperty(ctx, PropertySchemaVersion)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, fmt.Errorf("indexcore: %w: schema version property is missing", model.ErrIncompatibleSchema)
	}
	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("indexcore: %w: schema version %q is not an integer", model.ErrIncompatibleSchema, value)
	}
	return version, nil
}

func (m *Manager) lookupGlobalProperty(ctx context.Context, property int) (string, error) {
	var value string
	stmt, err := m.conn.Rent(ctx, sqlengine.Here(), "SELECT value FROM GlobalProperties WHERE property=?")
	if err != nil {
		return "", fmt.Errorf("indexcore: reading global property %d: %w", property, err)
	}
	defer stmt.Release()

	err = stmt.QueryRow(ctx, property).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("indexcore: reading global property %d: %w", property, err)
	}
	return value, nil
}

func (m *Manager) setGlobalProperty(ctx context.Context, property int, value string) error {
	stmt, err := m.conn.Rent(ctx, sqlengine.Here(),
		"INSERT INTO GlobalProperties(property, value) VALUES(?, ?) ON CONFLICT(property) DO UPDATE SET value=excluded.value")
	if err != nil {
		return fmt.Errorf("indexcore: writing global property %d: %w", property, err)
	}
	defer stmt.Release()

	_, err = stmt.Exec(ctx, property, value)
	if err != nil {
		return fmt.Errorf("indexcore: writing global property %d: %w", property, err)
	}
	return nil
}
