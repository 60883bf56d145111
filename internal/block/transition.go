package block

import (
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/archive"
	"github.com/zulandar/cropyard/internal/fault"
	"github.com/zulandar/cropyard/internal/models"
	"github.com/zulandar/cropyard/internal/tasks"
	"github.com/zulandar/cropyard/internal/timeline"
	"gorm.io/gorm"
)

// ValidTransitions maps each status to its valid next statuses. Alert is
// reachable from (and leaves to) any status and is special-cased in
// transitionAllowed; the growing → harvesting edge is only open for crops
// without a fruiting phase.
var ValidTransitions = map[string][]string{
	models.StatusEmpty:      {models.StatusPlanned, models.StatusGrowing},
	models.StatusPlanned:    {models.StatusGrowing},
	models.StatusGrowing:    {models.StatusFruiting, models.StatusHarvesting},
	models.StatusFruiting:   {models.StatusHarvesting},
	models.StatusHarvesting: {models.StatusCleaning},
	models.StatusCleaning:   {models.StatusEmpty},
	models.StatusPartial:    {models.StatusEmpty},
}

func validStatus(s string) bool {
	switch s {
	case models.StatusEmpty, models.StatusPlanned, models.StatusGrowing,
		models.StatusFruiting, models.StatusHarvesting, models.StatusCleaning,
		models.StatusAlert, models.StatusPartial:
		return true
	}
	return false
}

// transitionAllowed checks the fixed table, applying the crop-dependent
// fruiting skip as a post-filter.
func transitionAllowed(from, to string, crop *models.Crop) bool {
	if to == models.StatusAlert {
		return from != models.StatusAlert
	}
	if from == models.StatusAlert {
		return true // restored to any prior state
	}
	for _, n := range ValidTransitions[from] {
		if n != to {
			continue
		}
		if from == models.StatusGrowing && crop != nil {
			if to == models.StatusHarvesting && crop.FruitingDays > 0 {
				return false
			}
			if to == models.StatusFruiting && crop.FruitingDays == 0 {
				return false
			}
		}
		return true
	}
	return false
}

// ValidNext returns the statuses a block may transition to from its current
// state, with the fruiting skip applied.
func (e *Engine) ValidNext(id string) ([]string, error) {
	b, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if b.Status == models.StatusAlert {
		if b.StatusBeforeAlert != nil {
			return []string{*b.StatusBeforeAlert}, nil
		}
		return []string{models.StatusEmpty}, nil
	}

	var crop *models.Crop
	if b.CropID != nil {
		if crop, err = getCrop(e.db, *b.CropID); err != nil {
			return nil, err
		}
	}

	var out []string
	for _, n := range ValidTransitions[b.Status] {
		if transitionAllowed(b.Status, n, crop) {
			out = append(out, n)
		}
	}
	out = append(out, models.StatusAlert)
	return out, nil
}

// TransitionOpts holds caller-supplied parameters for a status change.
type TransitionOpts struct {
	Actor      string
	Note       string
	CropID     string // required when first entering planned/growing
	PlantCount int    // required when first entering planned/growing
	// PlantingDate anchors the expected timeline when planning ahead;
	// defaults to the transition time.
	PlantingDate *time.Time
	// Force auto-completes pending tasks that would have triggered this same
	// transition instead of rejecting the call.
	Force bool
	// At overrides the transition timestamp (backfill and tests).
	At *time.Time
}

type statusRecordOpts struct {
	Actor    string
	Note     string
	At       time.Time
	Expected *time.Time
	Offset   *int
	Timing   string
}

func appendStatusRecord(tx *gorm.DB, b *models.Block, status string, opts statusRecordOpts) error {
	rec := models.StatusChange{
		BlockID:    b.ID,
		Status:     status,
		At:         opts.At,
		Actor:      opts.Actor,
		Note:       opts.Note,
		ExpectedAt: opts.Expected,
		OffsetDays: opts.Offset,
		Timing:     opts.Timing,
	}
	if err := tx.Create(&rec).Error; err != nil {
		return fmt.Errorf("block: append status record for %s: %w", b.ID, err)
	}
	return nil
}

// expectedFor reads the stored expected date for entering the given status.
func expectedFor(b *models.Block, status string) *time.Time {
	switch status {
	case models.StatusGrowing:
		return b.ExpectedGrowing
	case models.StatusFruiting:
		return b.ExpectedFruiting
	case models.StatusHarvesting:
		return b.ExpectedHarvesting
	case models.StatusCleaning:
		return b.ExpectedCleaning
	}
	return nil
}

// Transition validates and executes a status change as one unit of work:
// timeline computation, task generation, status mutation and (on cycle
// close) archival either all apply or none do. Task generation alone is
// advisory; its failure is logged and does not roll back the transition.
//
// A transition to the current status is an idempotent no-op. For a virtual
// block closing its cycle the parent is returned, since the virtual block
// ceases to exist.
func (e *Engine) Transition(id, newStatus string, opts TransitionOpts) (*models.Block, error) {
	b, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if b.Status == newStatus {
		return b, nil
	}
	if !validStatus(newStatus) {
		return nil, fault.New(fault.InvalidTransition, "unknown status %q", newStatus)
	}

	now := time.Now()
	if opts.At != nil {
		now = *opts.At
	}

	// Resolve the crop profile before touching local state.
	var crop *models.Crop
	cropID := opts.CropID
	if cropID == "" && b.CropID != nil {
		cropID = *b.CropID
	}
	if cropID != "" {
		if crop, err = getCrop(e.db, cropID); err != nil {
			return nil, err
		}
	}

	if newStatus == models.StatusAlert {
		return e.enterAlert(b, opts, now)
	}

	fromAlert := b.Status == models.StatusAlert
	if !transitionAllowed(b.Status, newStatus, crop) {
		return nil, fault.New(fault.InvalidTransition, "%s → %s is not permitted", b.Status, newStatus)
	}

	// Pending tasks that would have triggered this same transition either
	// block the call or, when forced, are auto-completed first.
	var blocking []models.Task
	if !fromAlert {
		if blocking, err = tasks.PendingTriggered(e.db, b.ID, newStatus); err != nil {
			return nil, err
		}
		if len(blocking) > 0 && !opts.Force {
			ids := make([]string, len(blocking))
			for i, t := range blocking {
				ids[i] = t.ID
			}
			return nil, &fault.Error{
				Kind:          fault.Conflict,
				Msg:           fmt.Sprintf("%d pending task(s) trigger %s; complete them or force", len(blocking), newStatus),
				BlockingTasks: ids,
			}
		}
	}

	enteringPlan := newStatus == models.StatusPlanned || newStatus == models.StatusGrowing
	newCycle := enteringPlan && b.CropID == nil
	if newCycle {
		if opts.CropID == "" {
			return nil, fault.New(fault.ValidationFailed, "crop is required to enter %s", newStatus)
		}
		if opts.PlantCount <= 0 {
			return nil, fault.New(fault.ValidationFailed, "plant count is required to enter %s", newStatus)
		}
		if b.Capacity > 0 && opts.PlantCount > b.Capacity {
			return nil, fault.New(fault.ValidationFailed, "plant count %d exceeds capacity %d", opts.PlantCount, b.Capacity)
		}
	}

	var result *models.Block
	txErr := e.db.Transaction(func(tx *gorm.DB) error {
		rec := statusRecordOpts{Actor: opts.Actor, Note: opts.Note, At: now}
		if expAt := expectedFor(b, newStatus); expAt != nil {
			off := timeline.OffsetDays(now, *expAt)
			rec.Expected = expAt
			rec.Offset = &off
			rec.Timing = timeline.Classify(off)
		}

		updates := map[string]interface{}{"status": newStatus}
		if fromAlert {
			updates["status_before_alert"] = nil
		}

		if len(blocking) > 0 {
			ids := make([]string, len(blocking))
			for i, t := range blocking {
				ids[i] = t.ID
			}
			note := fmt.Sprintf("auto-completed: block forced to %s", newStatus)
			if err := tasks.AutoComplete(tx, ids, note); err != nil {
				return err
			}
		}

		switch {
		case newCycle:
			start := now
			if opts.PlantingDate != nil {
				start = *opts.PlantingDate
			}
			exp := timeline.FromStart(crop, start)
			cycleID, err := newCycleID()
			if err != nil {
				return err
			}
			updates["crop_id"] = crop.ID
			updates["plant_count"] = opts.PlantCount
			updates["cycle_id"] = cycleID
			updates["expected_growing"] = exp.Growing
			updates["expected_fruiting"] = exp.Fruiting
			updates["expected_harvesting"] = exp.Harvesting
			updates["expected_cleaning"] = exp.Cleaning
			// Predicted yield is computed once at planning time and frozen
			// for the rest of the cycle.
			updates["predicted_yield"] = crop.YieldPerPlant.Mul(decimal.NewFromInt(int64(opts.PlantCount)))
			updates["yield_unit"] = crop.YieldUnit
			if newStatus == models.StatusGrowing {
				updates["planted_at"] = start
			}

			gen := *b
			gen.CycleID = cycleID
			if _, gerr := tasks.GenerateForCycle(tx, &gen, crop, exp, e.taskOpts); gerr != nil {
				log.Printf("block: task generation for %s: %v (transition proceeds)", b.ID, gerr)
			}

		case newStatus == models.StatusGrowing && b.CropID != nil && (!fromAlert || b.PlantedAt == nil):
			// Reusing the plan's crop: only the future dates move, anchored
			// on the actual start. The record above already captured the
			// offset against the planned date. A plan interrupted by an
			// alert resumes here too, so the cycle still gets its planting
			// timestamp.
			exp := timeline.FromStart(crop, now)
			updates["planted_at"] = now
			updates["expected_fruiting"] = exp.Fruiting
			updates["expected_harvesting"] = exp.Harvesting
			updates["expected_cleaning"] = exp.Cleaning
			if _, rerr := tasks.RescheduleForTimelineShift(tx, b.CycleID, crop, exp, e.taskOpts); rerr != nil {
				log.Printf("block: reschedule for %s: %v (transition proceeds)", b.ID, rerr)
			}
		}

		if newStatus == models.StatusCleaning {
			if _, err := tasks.AutoCompleteRecurring(tx, b.ID, "auto-completed: harvesting finished"); err != nil {
				return err
			}
		}

		if newStatus == models.StatusEmpty {
			return e.closeCycle(tx, b, newStatus, updates, rec, opts, now, &result)
		}

		if err := tx.Model(&models.Block{}).Where("id = ?", b.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("block: update %s: %w", b.ID, err)
		}
		return appendStatusRecord(tx, b, newStatus, rec)
	})
	if txErr != nil {
		return nil, txErr
	}
	if result != nil {
		return result, nil
	}
	return e.Get(id)
}

// enterAlert saves the prior status and flips the block to alert.
func (e *Engine) enterAlert(b *models.Block, opts TransitionOpts, now time.Time) (*models.Block, error) {
	prior := b.Status
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Block{}).Where("id = ?", b.ID).Updates(map[string]interface{}{
			"status":              models.StatusAlert,
			"status_before_alert": prior,
		}).Error; err != nil {
			return fmt.Errorf("block: update %s: %w", b.ID, err)
		}
		return appendStatusRecord(tx, b, models.StatusAlert,
			statusRecordOpts{Actor: opts.Actor, Note: opts.Note, At: now})
	})
	if err != nil {
		return nil, err
	}
	e.notifyBestEffort(
		fmt.Sprintf("Block %s in alert", b.Code),
		fmt.Sprintf("Block %s (%s) moved from %s to alert. %s", b.Code, b.ID, prior, opts.Note))
	return e.Get(b.ID)
}

// closeCycle runs the cleaning → empty tail: archive the finished cycle
// first, then either retire a virtual block (the parent is returned to the
// caller) or reset a physical one for reuse.
func (e *Engine) closeCycle(tx *gorm.DB, b *models.Block, newStatus string, updates map[string]interface{}, rec statusRecordOpts, opts TransitionOpts, now time.Time, result **models.Block) error {
	if b.CropID != nil {
		reason := opts.Note
		if reason == "" {
			reason = "cycle complete"
		}
		if _, err := e.archive.ArchiveCycle(tx, b, archive.Opts{
			Actor:    opts.Actor,
			Reason:   reason,
			ClosedAt: now,
		}); err != nil {
			return err
		}
	}

	if b.Category == models.CategoryVirtual {
		if e.retirer == nil {
			return fmt.Errorf("block: no retirement flow configured for virtual block %s", b.ID)
		}
		parent, err := e.retirer.Retire(tx, b.ID, opts.Actor)
		if err != nil {
			return err
		}
		*result = parent
		return nil
	}

	// Pending leftovers of the closed cycle are removed with the reset,
	// entries and all; completed and cancelled tasks stay for reporting.
	if b.CycleID != "" {
		var pendingIDs []string
		if err := tx.Model(&models.Task{}).
			Where("block_id = ? AND cycle_id = ? AND status = ?",
				b.ID, b.CycleID, models.TaskPending).
			Pluck("id", &pendingIDs).Error; err != nil {
			return fmt.Errorf("block: pending tasks of %s: %w", b.ID, err)
		}
		if len(pendingIDs) > 0 {
			if err := tx.Where("task_id IN ?", pendingIDs).Delete(&models.HarvestEntry{}).Error; err != nil {
				return fmt.Errorf("block: clear entries for %s: %w", b.ID, err)
			}
			if err := tx.Where("id IN ?", pendingIDs).Delete(&models.Task{}).Error; err != nil {
				return fmt.Errorf("block: clear pending tasks for %s: %w", b.ID, err)
			}
		}
	}

	// A physical block whose children are still growing parks in partial
	// rather than empty.
	final := newStatus
	if b.Category == models.CategoryPhysical {
		var children int64
		if err := tx.Model(&models.Block{}).
			Where("parent_id = ? AND deleted = ?", b.ID, false).
			Count(&children).Error; err != nil {
			return fmt.Errorf("block: count children of %s: %w", b.ID, err)
		}
		if children > 0 {
			final = models.StatusPartial
		}
	}

	updates["status"] = final
	updates["crop_id"] = nil
	updates["plant_count"] = nil
	updates["planted_at"] = nil
	updates["cycle_id"] = ""
	updates["expected_growing"] = nil
	updates["expected_fruiting"] = nil
	updates["expected_harvesting"] = nil
	updates["expected_cleaning"] = nil
	updates["predicted_yield"] = decimal.Zero
	updates["actual_yield"] = decimal.Zero
	updates["yield_unit"] = ""
	updates["harvest_count"] = 0
	updates["status_before_alert"] = nil

	if err := tx.Model(&models.Block{}).Where("id = ?", b.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("block: reset %s: %w", b.ID, err)
	}

	// Per-cycle history resets; the lifetime record lives in the archive.
	if err := tx.Where("block_id = ?", b.ID).Delete(&models.StatusChange{}).Error; err != nil {
		return fmt.Errorf("block: clear history for %s: %w", b.ID, err)
	}
	return appendStatusRecord(tx, b, final, rec)
}
