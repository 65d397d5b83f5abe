package model

import "errors"

// Error kinds surfaced by the core, per the error handling design.
// Callers use errors.Is against these sentinels; wrapped context is
// attached with fmt.Errorf("...: %w", ErrX) at the call site.
var (
	// ErrNotFound is returned when a lookup that expected a row found none.
	ErrNotFound = errors.New("indexcore: not found")

	// ErrDuplicate is returned when a uniqueness constraint would be
	// violated (public id collision, duplicate main tag at a level).
	ErrDuplicate = errors.New("indexcore: duplicate")

	// ErrBadSequenceOfCalls is returned for transaction or statement
	// misuse: commit without begin, double begin, renting an
	// already-rented cached statement, using a statement outside its
	// owning transaction.
	ErrBadSequenceOfCalls = errors.New("indexcore: bad sequence of calls")

	// ErrIncompatibleSchema is returned when the on-disk schema version
	// falls outside the supported compatibility window.
	ErrIncompatibleSchema = errors.New("indexcore: incompatible schema version")

	// ErrCorruption is returned when the engine reports a foreign-key or
	// invariant violation that should never happen given correct callers.
	ErrCorruption = errors.New("indexcore: database corruption")

	// ErrStorageAreaFailure is the error kind for a failed storage-area
	// file deletion. No function in this module returns it: the deletion
	// Listener's FileDeleted has no error result, so a listener cannot
	// report such a failure back at commit time.
	ErrStorageAreaFailure = errors.New("indexcore: storage area failure")
)
