package changelog

import (
	"context"
	"time"

	"github.com/orthancore/indexcore/internal/deletion"
	"github.com/orthancore/indexcore/internal/model"
)

// DeletionListener bridges the Deletion Engine's events into the change
// log: every resource the engine reports as deleted gets a ChangeDeleted
// row, the implicit change-production path the engine itself has no way
// to reach (it does not import this package).
// Next, when set, receives every event too, so a caller that also needs
// the raw file-deletion/remaining-ancestor signals (to release blob
// storage, say) can layer both behind one deletion.Listener.
type DeletionListener struct {
	Log  *Log
	Next deletion.Listener
	Now  func() time.Time
}

var _ deletion.Listener = (*DeletionListener)(nil)

func (d *DeletionListener) FileDeleted(ctx context.Context, f model.FileDeletion) {
	if d.Next != nil {
		d.Next.FileDeleted(ctx, f)
	}
}

func (d *DeletionListener) ResourceDeleted(ctx context.Context, internalID int64, publicID string, level model.ResourceLevel) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	if err := d.Log.LogChange(ctx, model.ChangeDeleted, internalID, publicID, level, now()); err != nil {
		d.Log.conn.Logger().Error().Err(err).Str("public_id", publicID).Msg("changelog: failed to log implicit deletion change")
	}
	if d.Next != nil {
		d.Next.ResourceDeleted(ctx, internalID, publicID, level)
	}
}

func (d *DeletionListener) RemainingAncestor(ctx context.Context, r model.RemainingAncestor) {
	if d.Next != nil {
		d.Next.RemainingAncestor(ctx, r)
	}
}
