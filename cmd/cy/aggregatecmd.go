package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/cropyard/internal/aggregate"
	"github.com/zulandar/cropyard/internal/notify"
)

func newAggregateCmd() *cobra.Command {
	var configPath, date string
	var daemon bool

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Close out daily harvest tasks",
		Long:  "Runs the daily harvest aggregation once (default: for yesterday), or as a long-running scheduled daemon with --daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			if daemon {
				notifier, _ := notify.FromConfig(cfg.Notify)
				c, err := aggregate.StartScheduler(gormDB, cfg.Aggregate.Cron, notifier)
				if err != nil {
					return err
				}
				defer c.Stop()
				fmt.Fprintf(cmd.OutOrStdout(), "Aggregation daemon running on schedule %q\n", cfg.Aggregate.Cron)
				select {} // run until killed
			}

			asOf := time.Now().AddDate(0, 0, -1)
			if date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("cy: parse --date %q: %w", date, err)
				}
				asOf = d
			}
			sum, err := aggregate.Run(gormDB, asOf)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s: %d task(s) closed out (%d entries, %s total), %d failed\n",
				sum.Date.Format("2006-01-02"), sum.TasksProcessed, sum.EntryCount,
				sum.TotalQuantity, sum.TasksFailed)
			for _, f := range sum.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "  failed: %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cropyard.yaml", "path to Cropyard config file")
	cmd.Flags().StringVar(&date, "date", "", "day to aggregate, YYYY-MM-DD (default: yesterday)")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "run on the configured cron schedule until killed")
	return cmd
}
