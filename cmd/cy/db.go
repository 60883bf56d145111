package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/zulandar/cropyard/internal/allocator"
	"github.com/zulandar/cropyard/internal/block"
	"github.com/zulandar/cropyard/internal/config"
	"github.com/zulandar/cropyard/internal/db"
	"github.com/zulandar/cropyard/internal/notify"
	"github.com/zulandar/cropyard/internal/tasks"
	"gorm.io/gorm"
)

// connectFromConfig loads config and opens the configured database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// buildEngine wires the state machine, allocator and notifier from config.
func buildEngine(cfg *config.Config, gormDB *gorm.DB) (*block.Engine, *allocator.Allocator, error) {
	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		// Notifications are advisory; a bad adapter config must not keep
		// the service down.
		log.Printf("cy: notify disabled: %v", err)
		notifier = nil
	}
	engine, err := block.NewEngine(block.EngineOpts{
		DB:          gormDB,
		TaskOptions: tasks.OptionsFromConfig(cfg.Tasks),
		Notifier:    notifier,
	})
	if err != nil {
		return nil, nil, err
	}
	alloc := allocator.New(gormDB, engine)
	return engine, alloc, nil
}

func newDBCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cropyard.yaml", "path to Cropyard config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update all tables and seed reference data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			if err := db.SeedSites(gormDB, cfg.Sites); err != nil {
				return err
			}
			if err := db.SeedCrops(gormDB, cfg.Crops); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration complete.")
			return nil
		},
	})

	return cmd
}
