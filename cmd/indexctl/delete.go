package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orthancore/indexcore/internal/changelog"
	"github.com/orthancore/indexcore/internal/deletion"
	"github.com/orthancore/indexcore/internal/schema"
	"github.com/orthancore/indexcore/internal/sqlengine"
	"github.com/orthancore/indexcore/internal/store"
)

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <public-id>",
		Short: "Delete a resource and everything beneath it",
		Long: `Deletes the resource named by public-id, cascading to every
descendant. File deletions, the implicit ChangeDeleted log entry and any
remaining-ancestor signal are buffered until the delete's own transaction
commits, then delivered; a failed delete leaves the database untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}

			ctx := context.Background()
			engine := deletion.New()
			conn, err := sqlengine.Open(ctx, cfg.DatabasePath, log, engine.ScalarFunctions())
			if err != nil {
				return fmt.Errorf("indexctl: opening %s: %w", cfg.DatabasePath, err)
			}
			defer conn.Close()

			mgr := schema.NewManager(conn)
			if err := mgr.Open(ctx, nil); err != nil {
				return fmt.Errorf("indexctl: opening schema: %w", err)
			}

			st := store.New(conn)
			internalID, err := st.LookupInternalID(ctx, args[0])
			if err != nil {
				return fmt.Errorf("indexctl: deleting %s: %w", args[0], err)
			}

			changes := changelog.New(conn)
			listener := &changelog.DeletionListener{Log: changes, Now: time.Now}

			tx, err := conn.StartTransaction(ctx)
			if err != nil {
				return fmt.Errorf("indexctl: deleting %s: %w", args[0], err)
			}
			defer tx.Finish(ctx)

			if err := engine.DeleteResource(ctx, conn, tx, internalID, listener); err != nil {
				return fmt.Errorf("indexctl: deleting %s: %w", args[0], err)
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("indexctl: deleting %s: %w", args[0], err)
			}

			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
