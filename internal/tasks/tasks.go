package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/fault"
	"github.com/zulandar/cropyard/internal/models"
	"gorm.io/gorm"
)

// CreateOpts holds parameters for creating a task by hand.
type CreateOpts struct {
	BlockID      string
	Type         string // defaults to custom
	Title        string
	ScheduledFor time.Time
	DueAt        *time.Time
	Assignee     string
	Note         string
}

// ListFilters holds optional filters for listing tasks.
type ListFilters struct {
	BlockID string
	SiteID  string
	CycleID string
	Status  string
	Type    string
	Limit   int
	Offset  int
}

var validTypes = map[string]bool{
	models.TaskPlanting:          true,
	models.TaskFruitingCheck:     true,
	models.TaskHarvestReadiness:  true,
	models.TaskRecurringHarvest:  true,
	models.TaskHarvestCompletion: true,
	models.TaskCleaning:          true,
	models.TaskCustom:            true,
}

// Create creates a manually authored task for a block.
func Create(db *gorm.DB, opts CreateOpts) (*models.Task, error) {
	if opts.BlockID == "" {
		return nil, fault.New(fault.ValidationFailed, "block ID is required")
	}
	if opts.Type == "" {
		opts.Type = models.TaskCustom
	}
	if !validTypes[opts.Type] {
		return nil, fault.New(fault.ValidationFailed, "unknown task type %q", opts.Type)
	}
	if opts.Title == "" {
		return nil, fault.New(fault.ValidationFailed, "title is required")
	}

	var block models.Block
	if err := db.Where("id = ? AND deleted = ?", opts.BlockID, false).First(&block).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "block %s not found", opts.BlockID)
		}
		return nil, fmt.Errorf("tasks: load block %s: %w", opts.BlockID, err)
	}

	id, err := generateUniqueID(db)
	if err != nil {
		return nil, err
	}
	t := models.Task{
		ID:           id,
		BlockID:      block.ID,
		SiteID:       block.SiteID,
		Type:         opts.Type,
		Status:       models.TaskPending,
		Title:        opts.Title,
		ScheduledFor: opts.ScheduledFor,
		DueAt:        opts.DueAt,
		Assignee:     opts.Assignee,
		CycleID:      block.CycleID,
		Note:         opts.Note,
		GradeTotals:  "{}",
	}
	if err := db.Create(&t).Error; err != nil {
		return nil, fmt.Errorf("tasks: create task for %s: %w", block.ID, err)
	}
	return &t, nil
}

// Get loads a task by ID.
func Get(db *gorm.DB, id string) (*models.Task, error) {
	var t models.Task
	if err := db.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "task %s not found", id)
		}
		return nil, fmt.Errorf("tasks: load %s: %w", id, err)
	}
	return &t, nil
}

// List returns tasks matching the filters, oldest schedule first.
func List(db *gorm.DB, f ListFilters) ([]models.Task, error) {
	q := db.Model(&models.Task{})
	if f.BlockID != "" {
		q = q.Where("block_id = ?", f.BlockID)
	}
	if f.SiteID != "" {
		q = q.Where("site_id = ?", f.SiteID)
	}
	if f.CycleID != "" {
		q = q.Where("cycle_id = ?", f.CycleID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	var out []models.Task
	if err := q.Order("scheduled_for asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("tasks: list: %w", err)
	}
	return out, nil
}

// Complete marks a task completed. The caller inspects TriggersStatus on the
// returned task to decide whether a status transition should follow.
func Complete(db *gorm.DB, id, actor, note string) (*models.Task, error) {
	t, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if t.Status == models.TaskCompleted {
		return t, nil
	}
	if t.Status == models.TaskCancelled {
		return nil, fault.New(fault.Conflict, "task %s is cancelled", id)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":       models.TaskCompleted,
		"completed_at": now,
	}
	if actor != "" {
		updates["assignee"] = actor
	}
	if note != "" {
		updates["note"] = appendNote(t.Note, note)
	}
	if err := db.Model(t).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("tasks: complete %s: %w", id, err)
	}
	return Get(db, id)
}

// Cancel marks a pending or in-progress task cancelled.
func Cancel(db *gorm.DB, id, note string) (*models.Task, error) {
	t, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if t.Status == models.TaskCancelled {
		return t, nil
	}
	if t.Status == models.TaskCompleted {
		return nil, fault.New(fault.Conflict, "task %s is already completed", id)
	}
	updates := map[string]interface{}{"status": models.TaskCancelled}
	if note != "" {
		updates["note"] = appendNote(t.Note, note)
	}
	if err := db.Model(t).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("tasks: cancel %s: %w", id, err)
	}
	return Get(db, id)
}

// AddHarvestEntry appends one harvest contribution to a recurring-harvest
// task and bumps the owning block's running yield figures. The task's own
// totals are materialized later by the daily aggregation job.
func AddHarvestEntry(db *gorm.DB, taskID string, qty decimal.Decimal, grade, recordedBy string) (*models.HarvestEntry, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fault.New(fault.ValidationFailed, "quantity must be positive")
	}
	t, err := Get(db, taskID)
	if err != nil {
		return nil, err
	}
	if t.Type != models.TaskRecurringHarvest {
		return nil, fault.New(fault.ValidationFailed, "task %s is %s, entries belong on recurring_harvest tasks", taskID, t.Type)
	}
	if t.Status == models.TaskCompleted || t.Status == models.TaskCancelled {
		return nil, fault.New(fault.Conflict, "task %s is %s and no longer accumulating", taskID, t.Status)
	}

	entry := models.HarvestEntry{
		TaskID:     t.ID,
		Quantity:   qty,
		Grade:      grade,
		RecordedBy: recordedBy,
		RecordedAt: time.Now(),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("tasks: add entry to %s: %w", taskID, err)
		}
		// Keep the task visibly in progress once work lands on it.
		if t.Status == models.TaskPending {
			if err := tx.Model(&models.Task{}).Where("id = ?", t.ID).
				Update("status", models.TaskInProgress).Error; err != nil {
				return fmt.Errorf("tasks: start %s: %w", taskID, err)
			}
		}
		// Atomic increment of the block's running yield and event count.
		if err := tx.Model(&models.Block{}).Where("id = ?", t.BlockID).
			Updates(map[string]interface{}{
				"actual_yield":  gorm.Expr("actual_yield + ?", qty),
				"harvest_count": gorm.Expr("harvest_count + 1"),
			}).Error; err != nil {
			return fmt.Errorf("tasks: bump yield on %s: %w", t.BlockID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// PendingTriggered returns pending tasks on a block whose completion would
// drive it into the given status. These block a direct transition unless the
// caller forces it.
func PendingTriggered(db *gorm.DB, blockID, status string) ([]models.Task, error) {
	var out []models.Task
	if err := db.Where("block_id = ? AND status IN ? AND triggers_status = ?",
		blockID, []string{models.TaskPending, models.TaskInProgress}, status).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("tasks: pending triggers for %s: %w", blockID, err)
	}
	return out, nil
}

// AutoComplete marks the given tasks completed with a system note.
func AutoComplete(db *gorm.DB, taskIDs []string, note string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	now := time.Now()
	for _, id := range taskIDs {
		var t models.Task
		if err := db.Where("id = ?", id).First(&t).Error; err != nil {
			return fmt.Errorf("tasks: load %s: %w", id, err)
		}
		if err := db.Model(&t).Updates(map[string]interface{}{
			"status":       models.TaskCompleted,
			"completed_at": now,
			"note":         appendNote(t.Note, note),
		}).Error; err != nil {
			return fmt.Errorf("tasks: auto-complete %s: %w", id, err)
		}
	}
	return nil
}

// AutoCompleteRecurring completes every still-accumulating recurring-harvest
// task on a block, noting why. Used when harvesting ends.
func AutoCompleteRecurring(db *gorm.DB, blockID, note string) (int, error) {
	var open []models.Task
	if err := db.Where("block_id = ? AND type = ? AND status IN ?",
		blockID, models.TaskRecurringHarvest,
		[]string{models.TaskPending, models.TaskInProgress}).
		Find(&open).Error; err != nil {
		return 0, fmt.Errorf("tasks: open recurring for %s: %w", blockID, err)
	}
	ids := make([]string, len(open))
	for i, t := range open {
		ids[i] = t.ID
	}
	if err := AutoComplete(db, ids, note); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// GradeTotals parses a task's materialized per-grade totals.
func GradeTotals(t *models.Task) (map[string]decimal.Decimal, error) {
	totals := map[string]decimal.Decimal{}
	if t.GradeTotals == "" || t.GradeTotals == "{}" {
		return totals, nil
	}
	if err := json.Unmarshal([]byte(t.GradeTotals), &totals); err != nil {
		return nil, fmt.Errorf("tasks: parse grade totals on %s: %w", t.ID, err)
	}
	return totals, nil
}

// MarshalGradeTotals serializes per-grade totals for storage.
func MarshalGradeTotals(totals map[string]decimal.Decimal) (string, error) {
	data, err := json.Marshal(totals)
	if err != nil {
		return "", fmt.Errorf("tasks: marshal grade totals: %w", err)
	}
	return string(data), nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
