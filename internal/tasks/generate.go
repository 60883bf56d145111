// Package tasks creates, reschedules and mutates the dated work items
// derived from a block's lifecycle timeline.
package tasks

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zulandar/cropyard/internal/config"
	"github.com/zulandar/cropyard/internal/models"
	"github.com/zulandar/cropyard/internal/timeline"
	"gorm.io/gorm"
)

// Options tunes the generated-task schedule.
type Options struct {
	// HarvestWindowDays is the fallback window length when the crop profile
	// has no harvest duration.
	HarvestWindowDays    int
	ReadinessLeadDays    int
	CompletionBufferDays int
	CleaningBufferDays   int
}

// DefaultOptions returns the standard schedule tuning.
func DefaultOptions() Options {
	return Options{
		HarvestWindowDays:    14,
		ReadinessLeadDays:    2,
		CompletionBufferDays: 1,
		CleaningBufferDays:   2,
	}
}

// OptionsFromConfig maps config.TaskConfig onto Options.
func OptionsFromConfig(tc config.TaskConfig) Options {
	return Options{
		HarvestWindowDays:    tc.HarvestWindowDays,
		ReadinessLeadDays:    tc.ReadinessLeadDays,
		CompletionBufferDays: tc.CompletionBufferDays,
		CleaningBufferDays:   tc.CleaningBufferDays,
	}
}

// GenerateID creates a unique task ID in tk-xxxxxx format (6-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("tasks: generate ID: %w", err)
	}
	return "tk-" + hex.EncodeToString(b), nil
}

func generateUniqueID(db *gorm.DB) (string, error) {
	for i := 0; i < 10; i++ {
		id, err := GenerateID()
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Model(&models.Task{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("tasks: check ID %s: %w", id, err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("tasks: could not generate unique ID after 10 attempts")
}

// template is one slot in the fixed per-cycle task schedule.
type template struct {
	Type     string
	When     time.Time
	Title    string
	Triggers string // status this task's completion should drive, "" for none
}

// buildTemplates expands a crop's expected dates into the fixed task
// schedule. The fruiting check is omitted for crops without a fruiting
// phase; the recurring harvest slot repeats daily across the window.
func buildTemplates(crop *models.Crop, exp timeline.Expected, o Options) []template {
	var tpls []template

	tpls = append(tpls, template{
		Type:     models.TaskPlanting,
		When:     exp.Growing,
		Title:    fmt.Sprintf("Plant %s", crop.Name),
		Triggers: models.StatusGrowing,
	})

	if exp.Fruiting != nil {
		tpls = append(tpls, template{
			Type:     models.TaskFruitingCheck,
			When:     *exp.Fruiting,
			Title:    fmt.Sprintf("Check fruit set for %s", crop.Name),
			Triggers: models.StatusFruiting,
		})
	}

	tpls = append(tpls, template{
		Type:     models.TaskHarvestReadiness,
		When:     exp.Harvesting.AddDate(0, 0, -o.ReadinessLeadDays),
		Title:    fmt.Sprintf("Confirm %s ready for harvest", crop.Name),
		Triggers: models.StatusHarvesting,
	})

	window := crop.HarvestDays
	if window <= 0 {
		window = o.HarvestWindowDays
	}
	for i := 0; i < window; i++ {
		tpls = append(tpls, template{
			Type:  models.TaskRecurringHarvest,
			When:  exp.Harvesting.AddDate(0, 0, i),
			Title: fmt.Sprintf("Harvest %s (day %d of %d)", crop.Name, i+1, window),
		})
	}

	completion := exp.Harvesting.AddDate(0, 0, window+o.CompletionBufferDays)
	tpls = append(tpls, template{
		Type:     models.TaskHarvestCompletion,
		When:     completion,
		Title:    fmt.Sprintf("Close out %s harvest", crop.Name),
		Triggers: models.StatusCleaning,
	})

	tpls = append(tpls, template{
		Type:     models.TaskCleaning,
		When:     completion.AddDate(0, 0, o.CleaningBufferDays),
		Title:    "Clean and reset block",
		Triggers: models.StatusEmpty,
	})

	return tpls
}

// GenerateForCycle creates the full task schedule for a freshly planned
// cycle. Every task carries the cycle ID so a later timeline shift can find
// exactly the tasks it owns.
func GenerateForCycle(db *gorm.DB, block *models.Block, crop *models.Crop, exp timeline.Expected, o Options) ([]models.Task, error) {
	tpls := buildTemplates(crop, exp, o)

	created := make([]models.Task, 0, len(tpls))
	for _, tpl := range tpls {
		id, err := generateUniqueID(db)
		if err != nil {
			return created, err
		}
		t := models.Task{
			ID:            id,
			BlockID:       block.ID,
			SiteID:        block.SiteID,
			Type:          tpl.Type,
			Status:        models.TaskPending,
			Title:         tpl.Title,
			ScheduledFor:  tpl.When,
			AutoGenerated: true,
			CycleID:       block.CycleID,
			GradeTotals:   "{}",
		}
		if tpl.Triggers != "" {
			trig := tpl.Triggers
			t.TriggersStatus = &trig
		}
		if err := db.Create(&t).Error; err != nil {
			return created, fmt.Errorf("tasks: create %s task for %s: %w", tpl.Type, block.ID, err)
		}
		created = append(created, t)
	}
	return created, nil
}

// RescheduleForTimelineShift recomputes every pending auto-generated task of
// a cycle from the new expected dates. Template dates are rebuilt rather than
// offset so an added or removed fruiting phase is reflected. Returns the
// number of tasks rescheduled.
func RescheduleForTimelineShift(db *gorm.DB, cycleID string, crop *models.Crop, exp timeline.Expected, o Options) (int, error) {
	var pending []models.Task
	if err := db.Where("cycle_id = ? AND auto_generated = ? AND status = ?",
		cycleID, true, models.TaskPending).
		Order("scheduled_for asc").
		Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("tasks: load pending for cycle %s: %w", cycleID, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	tpls := buildTemplates(crop, exp, o)

	// Index templates: singleton types by type, recurring dates in order.
	single := make(map[string]template)
	var recurring []template
	for _, tpl := range tpls {
		if tpl.Type == models.TaskRecurringHarvest {
			recurring = append(recurring, tpl)
		} else {
			single[tpl.Type] = tpl
		}
	}

	changed := 0
	recurIdx := 0
	blockID := pending[0].BlockID
	for i := range pending {
		t := &pending[i]
		if t.Type == models.TaskRecurringHarvest {
			if recurIdx < len(recurring) {
				tpl := recurring[recurIdx]
				recurIdx++
				if !t.ScheduledFor.Equal(tpl.When) {
					if err := db.Model(t).Updates(map[string]interface{}{
						"scheduled_for": tpl.When,
						"title":         tpl.Title,
					}).Error; err != nil {
						return changed, fmt.Errorf("tasks: reschedule %s: %w", t.ID, err)
					}
					changed++
				}
				continue
			}
			// Window shrank: surplus daily tasks are cancelled.
			if err := db.Model(t).Update("status", models.TaskCancelled).Error; err != nil {
				return changed, fmt.Errorf("tasks: cancel %s: %w", t.ID, err)
			}
			changed++
			continue
		}

		tpl, ok := single[t.Type]
		if !ok {
			// Phase removed from the timeline (e.g. fruiting dropped).
			if err := db.Model(t).Update("status", models.TaskCancelled).Error; err != nil {
				return changed, fmt.Errorf("tasks: cancel %s: %w", t.ID, err)
			}
			changed++
			continue
		}
		delete(single, t.Type)
		if !t.ScheduledFor.Equal(tpl.When) {
			if err := db.Model(t).Update("scheduled_for", tpl.When).Error; err != nil {
				return changed, fmt.Errorf("tasks: reschedule %s: %w", t.ID, err)
			}
			changed++
		}
	}

	// Window grew or a phase appeared: create the missing slots.
	var block models.Block
	if err := db.First(&block, "id = ?", blockID).Error; err != nil {
		return changed, fmt.Errorf("tasks: load block %s: %w", blockID, err)
	}
	for i := recurIdx; i < len(recurring); i++ {
		if err := createFromTemplate(db, &block, cycleID, recurring[i]); err != nil {
			return changed, err
		}
		changed++
	}
	for _, tpl := range single {
		if completedOrActive(db, cycleID, tpl.Type) {
			continue
		}
		if err := createFromTemplate(db, &block, cycleID, tpl); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// completedOrActive reports whether the cycle already has a non-pending,
// non-cancelled task of this type (completed or in-progress work is never
// regenerated).
func completedOrActive(db *gorm.DB, cycleID, taskType string) bool {
	var count int64
	db.Model(&models.Task{}).
		Where("cycle_id = ? AND type = ? AND status IN ?", cycleID, taskType,
			[]string{models.TaskCompleted, models.TaskInProgress}).
		Count(&count)
	return count > 0
}

func createFromTemplate(db *gorm.DB, block *models.Block, cycleID string, tpl template) error {
	id, err := generateUniqueID(db)
	if err != nil {
		return err
	}
	t := models.Task{
		ID:            id,
		BlockID:       block.ID,
		SiteID:        block.SiteID,
		Type:          tpl.Type,
		Status:        models.TaskPending,
		Title:         tpl.Title,
		ScheduledFor:  tpl.When,
		AutoGenerated: true,
		CycleID:       cycleID,
		GradeTotals:   "{}",
	}
	if tpl.Triggers != "" {
		trig := tpl.Triggers
		t.TriggersStatus = &trig
	}
	if err := db.Create(&t).Error; err != nil {
		return fmt.Errorf("tasks: create %s task for %s: %w", tpl.Type, block.ID, err)
	}
	return nil
}

// CancelFutureTasks cancels every still-pending auto-generated task of a
// cycle. Used when a harvest is ended early by hand. Returns the count.
func CancelFutureTasks(db *gorm.DB, cycleID string) (int, error) {
	result := db.Model(&models.Task{}).
		Where("cycle_id = ? AND auto_generated = ? AND status = ?",
			cycleID, true, models.TaskPending).
		Update("status", models.TaskCancelled)
	if result.Error != nil {
		return 0, fmt.Errorf("tasks: cancel future for cycle %s: %w", cycleID, result.Error)
	}
	return int(result.RowsAffected), nil
}
