// Package deletion implements the Deletion Engine: a single DELETE
// statement against Resources, relying on ON DELETE CASCADE and the
// schema's AFTER DELETE triggers to walk the whole subtree and surface
// the resulting file deletions, change events and "remaining ancestor"
// signal back into Go. Everything the triggers report during one
// transaction is buffered in memory and only delivered to the caller's
// listener once that transaction actually commits — a rolled-back delete
// must leave no trace.
package deletion

import (
	"context"
	"fmt"
	"sync"

	"github.com/ncruces/go-sqlite3"

	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/sqlengine"
)

// Listener receives the events a committed deletion produced. Every
// method receives the ctx the enclosing Commit was called with — never a
// background context — since delivery only happens once, right after the
// transaction that produced these events is durable.
type Listener interface {
	FileDeleted(ctx context.Context, f model.FileDeletion)
	ResourceDeleted(ctx context.Context, internalID int64, publicID string, level model.ResourceLevel)
	RemainingAncestor(ctx context.Context, r model.RemainingAncestor)
}

// Engine owns the scalar-function registrations the schema's deletion
// triggers call into, and the per-call buffer those callbacks fill.
// Exactly one Engine should be registered per Connection: the scalar
// functions are stateless closures over this struct's buffer.
type Engine struct {
	mu sync.Mutex

	pendingFiles     []model.FileDeletion
	pendingResources []resourceDeletedEvent
	hasRemaining     bool
	remaining        model.RemainingAncestor

	// pendingTx is the transaction the current buffer belongs to. A new
	// transaction pointer (a fresh StartTransaction always returns a new
	// *Transaction) means the buffer is stale — left over from a prior
	// transaction that committed or rolled back — and must be cleared
	// before this call's events start accumulating into it, so that two
	// DeleteResource calls against the same open transaction deliver
	// everything from both, rather than the second call wiping the first.
	pendingTx *sqlengine.Transaction
}

type resourceDeletedEvent struct {
	internalID int64
	publicID   string
	level      model.ResourceLevel
}

func New() *Engine {
	return &Engine{}
}

// ScalarFunctions returns the three callbacks the schema's triggers
// invoke, for registration with sqlengine.Open. Binding them here (rather
// than having schema import deletion) keeps the trigger SQL in one
// package and the Go-side state in another, matching the separation the
// schema and deletion manager have in the reference design.
func (e *Engine) ScalarFunctions() []sqlengine.ScalarFunction {
	return []sqlengine.ScalarFunction{
		{Name: "SignalFileDeleted", Arity: 7, Call: e.signalFileDeleted},
		{Name: "SignalResourceDeleted", Arity: 3, Call: e.signalResourceDeleted},
		{Name: "SignalRemainingAncestor", Arity: 2, Call: e.signalRemainingAncestor},
	}
}

func (e *Engine) signalFileDeleted(args []sqlite3.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pendingFiles = append(e.pendingFiles, model.FileDeletion{
		UUID:             args[0].Text(),
		ContentType:      int(args[1].Int64()),
		UncompressedSize: args[2].Int64(),
		CompressionType:  model.CompressionType(args[3].Int64()),
		CompressedSize:   args[4].Int64(),
		UncompressedHash: nullableText(args[5]),
		CompressedHash:   nullableText(args[6]),
	})
}

func (e *Engine) signalResourceDeleted(args []sqlite3.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pendingResources = append(e.pendingResources, resourceDeletedEvent{
		internalID: args[0].Int64(),
		publicID:   args[1].Text(),
		level:      model.ResourceLevel(args[2].Int64()),
	})
}

// signalRemainingAncestor keeps the deepest ancestor reported during the
// current DELETE — the one whose level value is largest, i.e. closest to
// Instance — matching the ">=" tie-break the reference deletion wrapper
// uses so that the last-reported deepest ancestor wins ties.
func (e *Engine) signalRemainingAncestor(args []sqlite3.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if args[0].Text() == "" {
		return
	}
	level := model.ResourceLevel(args[1].Int64())
	if !e.hasRemaining || level >= e.remaining.Level {
		e.hasRemaining = true
		e.remaining = model.RemainingAncestor{PublicID: args[0].Text(), Level: level}
	}
}

func nullableText(v sqlite3.Value) string {
	if v.Type() == sqlite3.NULL {
		return ""
	}
	return v.Text()
}

// reset clears the buffer. DeleteResource calls it only when a new
// transaction begins, not before every DELETE statement, so the events of
// several calls in one transaction accumulate.
func (e *Engine) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingFiles = nil
	e.pendingResources = nil
	e.hasRemaining = false
	e.remaining = model.RemainingAncestor{}
}

// DeleteResource deletes the resource identified by internalID and every
// descendant, via cascading foreign keys, in one statement. It never
// delivers events to listener directly: the first call against a given
// tx registers a commit hook so that delivery happens only once, after
// tx's outermost frame actually commits; if tx rolls back instead — at
// any nesting depth — the hook never runs and the buffered events are
// discarded along with the statement's effects, per the transaction's
// own all-or-nothing scope. A second DeleteResource call against the
// same still-open tx accumulates into the same buffer rather than
// clearing what the first call already collected.
func (e *Engine) DeleteResource(ctx context.Context, conn *sqlengine.Connection, tx *sqlengine.Transaction, internalID int64, listener Listener) error {
	if e.pendingTx != tx {
		e.reset()
		e.pendingTx = tx
		tx.AddCommitHook(func(hookCtx context.Context) {
			e.deliver(hookCtx, listener)
			e.pendingTx = nil
		})
	}

	stmt, err := conn.Rent(ctx, sqlengine.Here(), "DELETE FROM Resources WHERE internalId=?")
	if err != nil {
		return fmt.Errorf("deletion: deleting resource %d: %w", internalID, err)
	}
	defer stmt.Release()

	if _, err := stmt.Exec(ctx, internalID); err != nil {
		return fmt.Errorf("deletion: deleting resource %d: %w", internalID, err)
	}

	return nil
}

// deliver hands the buffered events to listener in the order the schema
// fires them: files, then resources, then (at most one) remaining
// ancestor. Only ever called as a commit hook, once the transaction that
// produced these events is durable.
func (e *Engine) deliver(ctx context.Context, listener Listener) {
	e.mu.Lock()
	files := e.pendingFiles
	resources := e.pendingResources
	hasRemaining := e.hasRemaining
	remaining := e.remaining
	e.mu.Unlock()

	if listener == nil {
		return
	}
	for _, f := range files {
		listener.FileDeleted(ctx, f)
	}
	for _, r := range resources {
		listener.ResourceDeleted(ctx, r.internalID, r.publicID, r.level)
	}
	if hasRemaining {
		listener.RemainingAncestor(ctx, remaining)
	}
}
