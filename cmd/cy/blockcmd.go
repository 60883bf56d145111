package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/cropyard/internal/block"
)

func newBlockCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "block",
		Short: "Manage cultivation blocks",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cropyard.yaml", "path to Cropyard config file")

	var siteID, areaUnit string
	var area float64
	var capacity int
	createCmd := &cobra.Command{
		Use:   "create <code>",
		Short: "Create a physical block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine, _, err := buildEngine(cfg, gormDB)
			if err != nil {
				return err
			}
			b, err := engine.Create(block.CreateOpts{
				SiteID:    siteID,
				Code:      args[0],
				TotalArea: decimal.NewFromFloat(area),
				AreaUnit:  areaUnit,
				Capacity:  capacity,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created block %s (%s), %s %s\n", b.Code, b.ID, b.TotalArea, b.AreaUnit)
			return nil
		},
	}
	createCmd.Flags().StringVar(&siteID, "site", "", "owning site ID (required)")
	createCmd.Flags().Float64Var(&area, "area", 0, "total area (required)")
	createCmd.Flags().StringVar(&areaUnit, "unit", "m2", "area unit")
	createCmd.Flags().IntVar(&capacity, "capacity", 0, "max plant count (0 = unlimited)")
	cmd.AddCommand(createCmd)

	var listSite, listStatus string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine, _, err := buildEngine(cfg, gormDB)
			if err != nil {
				return err
			}
			blocks, err := engine.List(block.ListFilters{SiteID: listSite, Status: listStatus})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range blocks {
				crop := "-"
				if b.CropID != nil {
					crop = *b.CropID
				}
				fmt.Fprintf(out, "%-12s %-16s %-10s %-10s crop=%s\n", b.ID, b.Code, b.Category, b.Status, crop)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&listSite, "site", "", "filter by site")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	cmd.AddCommand(listCmd)

	var actor, note, cropID string
	var plantCount int
	var force bool
	statusCmd := &cobra.Command{
		Use:   "status <block-id> <new-status>",
		Short: "Transition a block to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine, alloc, err := buildEngine(cfg, gormDB)
			if err != nil {
				return err
			}
			_ = alloc // registers the retirement flow on the engine
			b, err := engine.Transition(args[0], args[1], block.TransitionOpts{
				Actor:      actor,
				Note:       note,
				CropID:     cropID,
				PlantCount: plantCount,
				Force:      force,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Block %s is now %s\n", b.Code, b.Status)
			return nil
		},
	}
	statusCmd.Flags().StringVar(&actor, "actor", "cli", "acting user")
	statusCmd.Flags().StringVar(&note, "note", "", "optional note")
	statusCmd.Flags().StringVar(&cropID, "crop", "", "crop ID (when entering planned/growing)")
	statusCmd.Flags().IntVar(&plantCount, "plants", 0, "plant count (when entering planned/growing)")
	statusCmd.Flags().BoolVar(&force, "force", false, "auto-complete pending tasks that trigger this transition")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "next <block-id>",
		Short: "Show valid next statuses for a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine, _, err := buildEngine(cfg, gormDB)
			if err != nil {
				return err
			}
			next, err := engine.ValidNext(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(next, ", "))
			return nil
		},
	})

	return cmd
}
