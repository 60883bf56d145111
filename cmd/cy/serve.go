package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/cropyard/internal/aggregate"
	"github.com/zulandar/cropyard/internal/notify"
	"github.com/zulandar/cropyard/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the daily aggregation schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine, alloc, err := buildEngine(cfg, gormDB)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			notifier, _ := notify.FromConfig(cfg.Notify)
			cronRunner, err := aggregate.StartScheduler(gormDB, cfg.Aggregate.Cron, notifier)
			if err != nil {
				return err
			}
			defer cronRunner.Stop()

			if port == 0 {
				port = cfg.Server.Port
			}
			return server.Start(ctx, server.Opts{
				DB:        gormDB,
				Engine:    engine,
				Allocator: alloc,
				Port:      port,
				Out:       cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cropyard.yaml", "path to Cropyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override the configured API port")
	return cmd
}
