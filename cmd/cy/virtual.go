package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/cropyard/internal/allocator"
	"github.com/zulandar/cropyard/internal/cascade"
)

func newVirtualCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "virtual",
		Short: "Manage virtual sub-blocks",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cropyard.yaml", "path to Cropyard config file")

	var cropID, actor, plantOn string
	var area float64
	var plantCount int
	addCmd := &cobra.Command{
		Use:   "add <parent-block-id>",
		Short: "Carve a virtual block out of a physical block's area budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			_, alloc, err := buildEngine(cfg, gormDB)
			if err != nil {
				return err
			}
			opts := allocator.AllocateOpts{
				ParentID:   args[0],
				CropID:     cropID,
				Area:       decimal.NewFromFloat(area),
				PlantCount: plantCount,
				Actor:      actor,
			}
			if plantOn != "" {
				d, err := time.Parse("2006-01-02", plantOn)
				if err != nil {
					return fmt.Errorf("cy: parse --plant-on %q: %w", plantOn, err)
				}
				opts.PlantingDate = &d
			}
			b, err := alloc.Allocate(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created virtual block %s (%s), %s %s, status %s\n",
				b.Code, b.ID, b.AllocatedArea, b.AreaUnit, b.Status)
			return nil
		},
	}
	addCmd.Flags().StringVar(&cropID, "crop", "", "crop ID (required)")
	addCmd.Flags().Float64Var(&area, "area", 0, "area to reserve (required)")
	addCmd.Flags().IntVar(&plantCount, "plants", 0, "plant count (required)")
	addCmd.Flags().StringVar(&plantOn, "plant-on", "", "planting date YYYY-MM-DD (default: now)")
	addCmd.Flags().StringVar(&actor, "actor", "cli", "acting user")
	cmd.AddCommand(addCmd)

	var retireActor string
	retireCmd := &cobra.Command{
		Use:   "retire <virtual-block-id>",
		Short: "Retire a virtual block, transferring its history to the parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			_, alloc, err := buildEngine(cfg, gormDB)
			if err != nil {
				return err
			}
			parent, stats, err := alloc.RetireVirtual(args[0], retireActor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Retired. %d task(s) transferred, %d deleted, %s returned to %s (now %s)\n",
				stats.TasksTransferred, stats.TasksDeleted, stats.AreaReturned, parent.Code, parent.Status)
			return nil
		},
	}
	retireCmd.Flags().StringVar(&retireActor, "actor", "cli", "acting user")
	cmd.AddCommand(retireCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <block-id>",
		Short: "Cascade-delete a block and everything it produced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			stats, err := cascade.Delete(gormDB, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Deleted %d block(s), %d task(s), %d entr(ies); %d archive(s) retained\n",
				stats.BlocksDeleted, stats.TasksDeleted, stats.EntriesDeleted, stats.ArchivesRetained)
			return nil
		},
	})

	return cmd
}
