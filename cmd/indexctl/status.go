package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/orthancore/indexcore/internal/deletion"
	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/schema"
	"github.com/orthancore/indexcore/internal/sqlengine"
	"github.com/orthancore/indexcore/internal/store"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print aggregate counters and disk usage for the database",
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
			for _, level := range model.AllLevels() {
				count, err := st.GetResourceCount(ctx, level)
				if err != nil {
					return err
				}
				fmt.Printf("%-10s %d\n", level.String()+"s:", count)
			}

			compressed, err := st.GetTotalCompressedSize(ctx)
			if err != nil {
				return err
			}
			uncompressed, err := st.GetTotalUncompressedSize(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("disk usage: %s (uncompressed %s)\n", humanize.Bytes(uint64(compressed)), humanize.Bytes(uint64(uncompressed)))

			return nil
		},
	}
}
