package sqlengine

import (
	"context"
	"fmt"

	"github.com/orthancore/indexcore/internal/model"
)

// Transaction is a scoped handle onto one (possibly nested) transaction
// frame. Begin/Commit/Rollback are counted: only the outermost Begin
// issues a real BEGIN, only the outermost Commit issues COMMIT. Once any
// nested frame rolls back, the connection is marked "needs rollback":
// every later Begin fails and every later Commit becomes a Rollback,
// until the outermost frame actually issues ROLLBACK.
type Transaction struct {
	conn     *Connection
	depth    int
	finished bool
}

// StartTransaction opens a new transaction frame. If a transaction is
// already open it is a nested frame sharing the same underlying SQL
// transaction; if none is open, this issues a real BEGIN.
func (c *Connection) StartTransaction(ctx context.Context) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.needsRollback {
		// A nested frame already rolled back and the outermost frame has
		// not yet issued the real ROLLBACK. Refuse to start new work on
		// top of it.
		return nil, fmt.Errorf("sqlengine: %w: connection needs rollback", model.ErrBadSequenceOfCalls)
	}

	if c.transactionNesting == 0 {
		if err := c.conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			return nil, fmt.Errorf("sqlengine: BEGIN: %w", err)
		}
		c.commitHooks = nil
	}

	c.transactionNesting++
	return &Transaction{conn: c, depth: c.transactionNesting}, nil
}

// AddCommitHook registers fn to run after this transaction's outermost
// frame issues a real, successful COMMIT. Hooks run in registration
// order with the Commit call's own ctx, and are discarded without
// running if the transaction (at any nesting depth) rolls back instead.
// This is how side effects that SQL triggers buffer in memory — pending
// file deletions, change events — are held back until the data they
// describe is actually durable.
func (t *Transaction) AddCommitHook(fn func(context.Context)) {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitHooks = append(c.commitHooks, fn)
}

// Commit commits this frame. Only the outermost frame issues a real
// COMMIT; if a nested rollback occurred anywhere in the tree, every
// commit (including the outermost one) becomes a ROLLBACK instead.
func (t *Transaction) Commit(ctx context.Context) error {
	hooks, err := t.commitLocked(ctx)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook(ctx)
	}
	return nil
}

// commitLocked does the SQL-level work of Commit under the connection's
// lock and returns the commit hooks to run afterward, outside the lock —
// a hook must never be invoked while holding it, since hooks call back
// into listener code this package doesn't control.
func (t *Transaction) commitLocked(ctx context.Context) ([]func(context.Context), error) {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.finished {
		return nil, fmt.Errorf("sqlengine: %w: transaction already finished", model.ErrBadSequenceOfCalls)
	}
	if c.transactionNesting == 0 {
		return nil, fmt.Errorf("sqlengine: %w: commit without an open transaction", model.ErrBadSequenceOfCalls)
	}

	t.finished = true
	c.transactionNesting--

	if c.transactionNesting > 0 {
		// Inner frame: nothing to do at the SQL level, flatness is the
		// whole point. needsRollback (if set) propagates to the caller's
		// eventual outermost Commit/Rollback.
		return nil, nil
	}

	if c.needsRollback {
		c.needsRollback = false
		c.commitHooks = nil
		if err := c.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
			return nil, fmt.Errorf("sqlengine: ROLLBACK (forced by nested failure): %w", err)
		}
		return nil, fmt.Errorf("sqlengine: transaction rolled back due to a nested failure")
	}

	if err := c.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("sqlengine: COMMIT: %w", err)
	}

	hooks := c.commitHooks
	c.commitHooks = nil
	return hooks, nil
}

// Rollback aborts this frame. Any nested Rollback sets the "needs
// rollback" flag on the whole transaction tree; only the outermost frame
// issues the real ROLLBACK statement.
func (t *Transaction) Rollback(ctx context.Context) error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.finished {
		return fmt.Errorf("sqlengine: %w: transaction already finished", model.ErrBadSequenceOfCalls)
	}
	if c.transactionNesting == 0 {
		return fmt.Errorf("sqlengine: %w: rollback without an open transaction", model.ErrBadSequenceOfCalls)
	}

	t.finished = true
	c.transactionNesting--
	c.needsRollback = true

	if c.transactionNesting > 0 {
		return nil
	}

	c.needsRollback = false
	c.commitHooks = nil
	if err := c.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return fmt.Errorf("sqlengine: ROLLBACK: %w", err)
	}
	return nil
}

// Finish rolls the transaction back if it was never committed or rolled
// back explicitly — the "dropped without commit rolls back" scope rule.
// Callers use `defer tx.Finish(ctx)` immediately after StartTransaction.
func (t *Transaction) Finish(ctx context.Context) {
	if t.finished {
		return
	}
	_ = t.Rollback(ctx)
}
