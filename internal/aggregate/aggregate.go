// Package aggregate closes out daily-accumulating harvest tasks.
package aggregate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/models"
	"github.com/zulandar/cropyard/internal/tasks"
	"gorm.io/gorm"
)

// Summary reports one aggregation run.
type Summary struct {
	Date           time.Time
	TasksProcessed int
	TasksFailed    int
	TotalQuantity  decimal.Decimal
	EntryCount     int
	Failures       []string
}

// Run closes out every recurring-harvest task scheduled for the day asOf
// falls in that is still accumulating: entries are summed into the task's
// materialized totals and the task is marked completed.
//
// Each task is aggregated independently; one failure is recorded and the
// batch continues. Re-running is a no-op for already-closed tasks because
// their status is no longer accumulating.
func Run(db *gorm.DB, asOf time.Time) (*Summary, error) {
	dayStart := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var open []models.Task
	err := db.Where("type = ? AND status IN ? AND scheduled_for >= ? AND scheduled_for < ?",
		models.TaskRecurringHarvest,
		[]string{models.TaskPending, models.TaskInProgress},
		dayStart, dayEnd).
		Find(&open).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate: find open tasks for %s: %w", dayStart.Format("2006-01-02"), err)
	}

	sum := &Summary{Date: dayStart}
	for i := range open {
		t := &open[i]
		entryCount, total, err := closeOut(db, t)
		if err != nil {
			sum.TasksFailed++
			sum.Failures = append(sum.Failures, fmt.Sprintf("%s: %v", t.ID, err))
			continue
		}
		sum.TasksProcessed++
		sum.EntryCount += entryCount
		sum.TotalQuantity = sum.TotalQuantity.Add(total)
	}
	return sum, nil
}

// closeOut sums one task's entries and marks it completed.
func closeOut(db *gorm.DB, t *models.Task) (int, decimal.Decimal, error) {
	var entryCount int
	var total decimal.Decimal
	err := db.Transaction(func(tx *gorm.DB) error {
		var entries []models.HarvestEntry
		if err := tx.Where("task_id = ?", t.ID).Find(&entries).Error; err != nil {
			return fmt.Errorf("load entries: %w", err)
		}

		totals := map[string]decimal.Decimal{}
		for _, e := range entries {
			total = total.Add(e.Quantity)
			totals[e.Grade] = totals[e.Grade].Add(e.Quantity)
		}
		gradeJSON, err := tasks.MarshalGradeTotals(totals)
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Task{}).
			Where("id = ? AND status IN ?", t.ID,
				[]string{models.TaskPending, models.TaskInProgress}).
			Updates(map[string]interface{}{
				"total_quantity": total,
				"grade_totals":   gradeJSON,
				"entry_count":    len(entries),
				"status":         models.TaskCompleted,
				"completed_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("close out: %w", res.Error)
		}
		// Raced with another closer: nothing to do.
		if res.RowsAffected == 0 {
			total = decimal.Zero
			return nil
		}
		entryCount = len(entries)
		return nil
	})
	if err != nil {
		return 0, decimal.Zero, err
	}
	return entryCount, total, nil
}
