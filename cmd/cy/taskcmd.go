package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/cropyard/internal/block"
	"github.com/zulandar/cropyard/internal/tasks"
)

func newTaskCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cropyard.yaml", "path to Cropyard config file")

	var blockID, status, taskType string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			list, err := tasks.List(gormDB, tasks.ListFilters{
				BlockID: blockID,
				Status:  status,
				Type:    taskType,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range list {
				fmt.Fprintf(out, "%-12s %-20s %-12s %s  %s\n",
					t.ID, t.Type, t.Status, t.ScheduledFor.Format("2006-01-02"), t.Title)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&blockID, "block", "", "filter by block")
	listCmd.Flags().StringVar(&status, "status", "", "filter by status")
	listCmd.Flags().StringVar(&taskType, "type", "", "filter by type")
	cmd.AddCommand(listCmd)

	var actor, note string
	completeCmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task completed (and fire its status trigger, if any)",
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
			t, err := tasks.Complete(gormDB, args[0], actor, note)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task %s completed: %s\n", t.ID, t.Title)
			if t.TriggersStatus != nil {
				b, terr := engine.Transition(t.BlockID, *t.TriggersStatus, block.TransitionOpts{
					Actor: actor,
					Note:  "task " + t.ID + " completed",
				})
				if terr != nil {
					fmt.Fprintf(out, "Status trigger failed: %v\n", terr)
					return nil
				}
				fmt.Fprintf(out, "Block %s is now %s\n", b.Code, b.Status)
			}
			return nil
		},
	}
	completeCmd.Flags().StringVar(&actor, "actor", "cli", "acting user")
	completeCmd.Flags().StringVar(&note, "note", "", "optional note")
	cmd.AddCommand(completeCmd)

	var grade, recordedBy string
	var quantity float64
	entryCmd := &cobra.Command{
		Use:   "entry <task-id>",
		Short: "Add a harvest entry to a recurring-harvest task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			entry, err := tasks.AddHarvestEntry(gormDB, args[0],
				decimal.NewFromFloat(quantity), grade, recordedBy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s grade %s on task %s\n",
				entry.Quantity, entry.Grade, args[0])
			return nil
		},
	}
	entryCmd.Flags().Float64Var(&quantity, "qty", 0, "quantity harvested (required)")
	entryCmd.Flags().StringVar(&grade, "grade", "A", "quality grade")
	entryCmd.Flags().StringVar(&recordedBy, "by", "cli", "contributor")
	cmd.AddCommand(entryCmd)

	var cancelNote string
	cancelCmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or in-progress task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			t, err := tasks.Cancel(gormDB, args[0], cancelNote)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s cancelled\n", t.ID)
			return nil
		},
	}
	cancelCmd.Flags().StringVar(&cancelNote, "note", "", "optional note")
	cmd.AddCommand(cancelCmd)

	return cmd
}
