// Package schema creates the database schema on first open, reads and
// writes the schema-version global property, and applies ordered
// upgrade scripts to reach the current version.
package schema

import "github.com/orthancore/indexcore/internal/model"

// Global property ids. GlobalProperties is a plain (id, value) table; the
// first two reserved ids below are read before any transaction, on open,
// to discover the schema version and the attachment-size trigger state.
const (
	PropertySchemaVersion       = 1
	PropertyGetTotalSizeIsFast  = 2
	PropertyDatabaseUUID        = 3
)

// MinSupportedVersion and MaxSupportedVersion bound the compatibility
// window: a database opened outside [Min, Max] fails to open rather than
// risk silently misinterpreting rows. CurrentVersion is the target that
// Manager.Open migrates every older database up to.
const (
	MinSupportedVersion = 3
	MaxSupportedVersion = 6
	CurrentVersion       = 6
)

// ddl is the full schema: tables, indices and triggers created inside a
// single transaction the first time a database is opened. Column and
// table names are normative (callers/migrations depend on them), per the
// persisted state layout.
const ddl = `
CREATE TABLE GlobalProperties(
    property    INTEGER PRIMARY KEY,
    value       TEXT NOT NULL
);

CREATE TABLE Resources(
    internalId  INTEGER PRIMARY KEY AUTOINCREMENT,
    resourceType INTEGER NOT NULL,
    publicId    TEXT NOT NULL,
    parentId    INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE
);

CREATE UNIQUE INDEX ResourcesPublicId ON Resources(publicId);
CREATE INDEX ResourcesParentId ON Resources(parentId);

CREATE TABLE MainDicomTags(
    id          INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE,
    tagGroup    INTEGER NOT NULL,
    tagElement  INTEGER NOT NULL,
    value       TEXT NOT NULL,
    PRIMARY KEY(id, tagGroup, tagElement)
);

CREATE TABLE DicomIdentifiers(
    id          INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE,
    tagGroup    INTEGER NOT NULL,
    tagElement  INTEGER NOT NULL,
    value        TEXT COLLATE BINARY,
    PRIMARY KEY(id, tagGroup, tagElement)
);

CREATE INDEX DicomIdentifiersIndex1 ON DicomIdentifiers(id);
CREATE INDEX DicomIdentifiersIndex2 ON DicomIdentifiers(tagGroup, tagElement, value);

CREATE TABLE Metadata(
    id          INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE,
    type        INTEGER NOT NULL,
    value       TEXT NOT NULL,
    PRIMARY KEY(id, type)
);

CREATE TABLE AttachedFiles(
    id          INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE,
    fileType    INTEGER NOT NULL,
    uuid        TEXT NOT NULL,
    compressedSize      INTEGER NOT NULL,
    uncompressedSize    INTEGER NOT NULL,
    compressionType     INTEGER NOT NULL,
    uncompressedHash    TEXT,
    compressedHash      TEXT,
    revision    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY(id, fileType)
);

CREATE INDEX AttachedFilesIndex ON AttachedFiles(id);

CREATE TABLE Changes(
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    changeType  INTEGER NOT NULL,
    internalId  INTEGER NOT NULL,
    resourceType INTEGER NOT NULL,
    date        TEXT NOT NULL
);

CREATE INDEX ChangesIndex ON Changes(internalId);

CREATE TABLE ExportedResources(
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    resourceType INTEGER NOT NULL,
    publicId    TEXT NOT NULL,
    remoteModality TEXT NOT NULL,
    patientId   TEXT NOT NULL,
    studyInstanceUid  TEXT NOT NULL,
    seriesInstanceUid TEXT NOT NULL,
    sopInstanceUid    TEXT NOT NULL,
    date        TEXT NOT NULL
);

CREATE TABLE PatientRecyclingOrder(
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    patientId   INTEGER REFERENCES Resources(internalId) ON DELETE CASCADE
);

CREATE INDEX PatientRecyclingIndex ON PatientRecyclingOrder(patientId);

CREATE TABLE GlobalIntegers(
    key         INTEGER PRIMARY KEY,
    value       INTEGER NOT NULL
);

INSERT INTO GlobalIntegers VALUES(0, 0);
INSERT INTO GlobalIntegers VALUES(1, 0);

CREATE TRIGGER AttachedFileInserted
AFTER INSERT ON AttachedFiles
FOR EACH ROW
BEGIN
    UPDATE GlobalIntegers SET value = value + new.compressedSize WHERE key = 0;
    UPDATE GlobalIntegers SET value = value + new.uncompressedSize WHERE key = 1;
END;

CREATE TRIGGER AttachedFileDeleted
AFTER DELETE ON AttachedFiles
FOR EACH ROW
BEGIN
    SELECT SignalFileDeleted(old.uuid, old.fileType, old.uncompressedSize,
                              old.compressionType, old.compressedSize,
                              old.uncompressedHash, old.compressedHash);
    UPDATE GlobalIntegers SET value = value - old.compressedSize WHERE key = 0;
    UPDATE GlobalIntegers SET value = value - old.uncompressedSize WHERE key = 1;
END;

CREATE TRIGGER ResourceDeleted
AFTER DELETE ON Resources
FOR EACH ROW
BEGIN
    SELECT SignalResourceDeleted(old.internalId, old.publicId, old.resourceType);
    SELECT SignalRemainingAncestor(
               (SELECT publicId FROM Resources WHERE internalId = old.parentId),
               (SELECT resourceType FROM Resources WHERE internalId = old.parentId)
           )
    WHERE old.parentId IS NOT NULL
      AND NOT EXISTS(SELECT 1 FROM Resources WHERE parentId = old.parentId);
END;

CREATE TRIGGER PatientAdded
AFTER INSERT ON Resources
FOR EACH ROW WHEN new.resourceType = 0
BEGIN
    INSERT INTO PatientRecyclingOrder(patientId) VALUES(new.internalId);
END;
`

// resourceLevelColumn is the integer encoding this schema uses for
// model.ResourceLevel in the Resources.resourceType / Changes /
// ExportedResources columns: Patient=0 < Study=1 < Series=2 <
// Instance=3, matching the original's ResourceType ordering that the
// "deepest remaining ancestor" tie-break compares against.
func resourceLevelColumn(level model.ResourceLevel) int {
	return int(level)
}
