package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orthancore/indexcore/internal/deletion"
	"github.com/orthancore/indexcore/internal/schema"
	"github.com/orthancore/indexcore/internal/sqlengine"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema to the current version",
		Long: `Opens the database, creating it if necessary, and brings its schema
up to the current version. A database already at the current version
opens as is; one at version 5 or older must go through the v5->v6
reprojection, which needs a caller that can supply cached DICOM JSON.
This command has none, so on such a database it fails.`,
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
			// indexctl has no storage-area collaborator of its own, so it
			// cannot reproject cached DICOM JSON; a database at schema
			// version 5 or older needs a caller that can supply one.
			if err := mgr.Open(ctx, nil); err != nil {
				return fmt.Errorf("indexctl: migrating schema: %w", err)
			}

			fmt.Printf("database at %s is now at schema version %d\n", cfg.DatabasePath, schema.CurrentVersion)
			return nil
		},
	}
}
