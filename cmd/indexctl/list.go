package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orthancore/indexcore/internal/deletion"
	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/schema"
	"github.com/orthancore/indexcore/internal/sqlengine"
	"github.com/orthancore/indexcore/internal/store"
)

func newListCommand() *cobra.Command {
	var levelName string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the public ids of resources at a given level",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(levelName)
			if err != nil {
				return err
			}

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
			ids, err := st.GetAllPublicIDs(ctx, level, 0, limit)
			if err != nil {
				return err
			}

			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&levelName, "level", "Patient", "resource level to list (Patient, Study, Series, Instance)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of public ids to print")

	return cmd
}

func parseLevel(name string) (model.ResourceLevel, error) {
	for _, l := range model.AllLevels() {
		if l.String() == name {
			return l, nil
		}
	}
	return 0, fmt.Errorf("indexctl: unknown level %q", name)
}
