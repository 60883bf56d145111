// Package allocator manages a physical block's subdivisible area budget,
// carving out and retiring virtual blocks for concurrent crops.
package allocator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/block"
	"github.com/zulandar/cropyard/internal/fault"
	"github.com/zulandar/cropyard/internal/models"
	"github.com/zulandar/cropyard/internal/tasks"
	"gorm.io/gorm"
)

// Allocator reserves and returns area on physical blocks.
type Allocator struct {
	db     *gorm.DB
	engine *block.Engine

	// Stats of retirements executed through the state machine, keyed by the
	// retired block's ID until RetireVirtual collects them.
	mu        sync.Mutex
	lastStats map[string]*RetireStats
}

// New creates an allocator and registers it as the engine's retirement flow.
func New(db *gorm.DB, engine *block.Engine) *Allocator {
	a := &Allocator{db: db, engine: engine, lastStats: make(map[string]*RetireStats)}
	engine.SetRetirer(a)
	return a
}

// AllocateOpts holds parameters for carving out a virtual block.
type AllocateOpts struct {
	ParentID     string
	CropID       string
	Area         decimal.Decimal
	PlantCount   int
	PlantingDate *time.Time
	Actor        string
}

// RetireStats summarizes what a retirement moved and returned.
type RetireStats struct {
	TasksTransferred int
	TasksDeleted     int
	AreaReturned     decimal.Decimal
}

// Allocate reserves area on a physical parent, creates the virtual block
// under a sequential child code, and immediately drives it through the
// planning/growing transition. On the parent's first allocation the budget
// is lazily initialized to its total area.
//
// The budget deduction is a guarded atomic decrement, so two concurrent
// allocations can never both succeed against the same remaining area. If the
// follow-up transition fails the reservation is compensated.
func (a *Allocator) Allocate(opts AllocateOpts) (*models.Block, error) {
	if opts.Area.LessThanOrEqual(decimal.Zero) {
		return nil, fault.New(fault.ValidationFailed, "area must be positive")
	}
	if opts.CropID == "" {
		return nil, fault.New(fault.ValidationFailed, "crop is required")
	}
	if opts.PlantCount <= 0 {
		return nil, fault.New(fault.ValidationFailed, "plant count is required")
	}

	parent, err := a.engine.Get(opts.ParentID)
	if err != nil {
		return nil, err
	}
	if parent.Category != models.CategoryPhysical {
		return nil, fault.New(fault.ValidationFailed, "block %s is virtual; only physical blocks can host sub-crops", parent.ID)
	}

	var child models.Block
	txErr := a.db.Transaction(func(tx *gorm.DB) error {
		// Lazy budget init, idempotent under concurrency.
		if err := tx.Model(&models.Block{}).
			Where("id = ? AND remaining_area IS NULL", parent.ID).
			Update("remaining_area", parent.TotalArea).Error; err != nil {
			return fmt.Errorf("allocator: init budget on %s: %w", parent.ID, err)
		}

		res := tx.Model(&models.Block{}).
			Where("id = ? AND remaining_area >= ?", parent.ID, opts.Area).
			Update("remaining_area", gorm.Expr("remaining_area - ?", opts.Area))
		if res.Error != nil {
			return fmt.Errorf("allocator: reserve %s on %s: %w", opts.Area, parent.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			remaining := parent.TotalArea
			var cur models.Block
			if err := tx.Select("remaining_area").First(&cur, "id = ?", parent.ID).Error; err == nil && cur.RemainingArea != nil {
				remaining = *cur.RemainingArea
			}
			return fault.New(fault.ValidationFailed,
				"requested %s %s exceeds remaining budget %s on %s",
				opts.Area, parent.AreaUnit, remaining, parent.Code)
		}

		code, err := nextChildCode(tx, parent)
		if err != nil {
			return err
		}
		id, err := block.GenerateID()
		if err != nil {
			return err
		}
		child = models.Block{
			ID:            id,
			Code:          code,
			SiteID:        parent.SiteID,
			Category:      models.CategoryVirtual,
			ParentID:      &parent.ID,
			TotalArea:     opts.Area,
			AreaUnit:      parent.AreaUnit,
			AllocatedArea: opts.Area,
			Status:        models.StatusEmpty,
		}
		if err := tx.Create(&child).Error; err != nil {
			return fmt.Errorf("allocator: create virtual block %s: %w", code, err)
		}
		if err := tx.Create(&models.StatusChange{
			BlockID: child.ID,
			Status:  models.StatusEmpty,
			At:      time.Now(),
			Actor:   opts.Actor,
			Note:    "allocated from " + parent.Code,
		}).Error; err != nil {
			return fmt.Errorf("allocator: record creation of %s: %w", code, err)
		}

		// A parent with nothing of its own going on parks in partial.
		if parent.Status == models.StatusEmpty {
			if err := tx.Model(&models.Block{}).Where("id = ?", parent.ID).
				Update("status", models.StatusPartial).Error; err != nil {
				return fmt.Errorf("allocator: mark %s partial: %w", parent.ID, err)
			}
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	// Drive the new block into its cycle. Planning-ahead lands in planned,
	// an immediate start lands in growing.
	target := models.StatusGrowing
	if opts.PlantingDate != nil && opts.PlantingDate.After(time.Now()) {
		target = models.StatusPlanned
	}
	out, err := a.engine.Transition(child.ID, target, block.TransitionOpts{
		Actor:        opts.Actor,
		CropID:       opts.CropID,
		PlantCount:   opts.PlantCount,
		PlantingDate: opts.PlantingDate,
	})
	if err != nil {
		a.compensate(parent.ID, child.ID, opts.Area)
		return nil, err
	}
	return out, nil
}

// compensate undoes a reservation whose follow-up transition failed.
func (a *Allocator) compensate(parentID, childID string, area decimal.Decimal) {
	a.db.Transaction(func(tx *gorm.DB) error {
		tx.Where("block_id = ?", childID).Delete(&models.StatusChange{})
		tx.Where("id = ?", childID).Delete(&models.Block{})
		tx.Model(&models.Block{}).Where("id = ?", parentID).
			Update("remaining_area", gorm.Expr("remaining_area + ?", area))
		var children int64
		tx.Model(&models.Block{}).
			Where("parent_id = ? AND deleted = ?", parentID, false).
			Count(&children)
		if children == 0 {
			tx.Model(&models.Block{}).
				Where("id = ? AND status = ?", parentID, models.StatusPartial).
				Update("status", models.StatusEmpty)
		}
		return nil
	})
}

// nextChildCode builds the next sequential parentCode/NNN suffix. Retired
// children are gone from the blocks table, so archives count too.
func nextChildCode(tx *gorm.DB, parent *models.Block) (string, error) {
	prefix := parent.Code + "/"
	max := 0

	scan := func(codes []string) {
		for _, c := range codes {
			if !strings.HasPrefix(c, prefix) {
				continue
			}
			if n, err := strconv.Atoi(strings.TrimPrefix(c, prefix)); err == nil && n > max {
				max = n
			}
		}
	}

	var liveCodes []string
	if err := tx.Model(&models.Block{}).Where("parent_id = ?", parent.ID).
		Pluck("code", &liveCodes).Error; err != nil {
		return "", fmt.Errorf("allocator: scan child codes of %s: %w", parent.ID, err)
	}
	scan(liveCodes)

	var archivedCodes []string
	if err := tx.Model(&models.CycleArchive{}).
		Where("block_code LIKE ?", prefix+"%").
		Pluck("block_code", &archivedCodes).Error; err != nil {
		return "", fmt.Errorf("allocator: scan archived codes of %s: %w", parent.ID, err)
	}
	scan(archivedCodes)

	return fmt.Sprintf("%s%03d", prefix, max+1), nil
}

// Retire implements block.VirtualRetirer inside the state machine's
// transaction: transfer the work the virtual block produced to its parent,
// return its area to the budget, demote the parent if idle, and delete the
// virtual block. The stats are parked for RetireVirtual to collect once the
// transition commits.
func (a *Allocator) Retire(tx *gorm.DB, blockID, actor string) (*models.Block, error) {
	parent, stats, err := a.retire(tx, blockID, actor)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.lastStats[blockID] = stats
	a.mu.Unlock()
	return parent, nil
}

// takeStats collects the stats parked by a transition-driven retirement.
func (a *Allocator) takeStats(blockID string) *RetireStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := a.lastStats[blockID]
	delete(a.lastStats, blockID)
	return stats
}

func (a *Allocator) retire(tx *gorm.DB, blockID, actor string) (*models.Block, *RetireStats, error) {
	var b models.Block
	if err := tx.Where("id = ? AND deleted = ?", blockID, false).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fault.New(fault.NotFound, "block %s not found", blockID)
		}
		return nil, nil, fmt.Errorf("allocator: load %s: %w", blockID, err)
	}
	if b.Category != models.CategoryVirtual || b.ParentID == nil {
		return nil, nil, fault.New(fault.ValidationFailed, "block %s is not a virtual block", blockID)
	}
	parentID := *b.ParentID

	stats := &RetireStats{AreaReturned: b.AllocatedArea}

	// In-progress work is closed out before the transfer so the parent only
	// inherits finished history.
	var open []models.Task
	if err := tx.Where("block_id = ? AND status = ?", b.ID, models.TaskInProgress).
		Find(&open).Error; err != nil {
		return nil, nil, fmt.Errorf("allocator: open tasks of %s: %w", b.ID, err)
	}
	openIDs := make([]string, len(open))
	for i, t := range open {
		openIDs[i] = t.ID
	}
	if err := tasks.AutoComplete(tx, openIDs, fmt.Sprintf("auto-completed: virtual block %s retired", b.Code)); err != nil {
		return nil, nil, err
	}

	// Pending tasks never happened; they are deleted outright.
	var pendingIDs []string
	if err := tx.Model(&models.Task{}).
		Where("block_id = ? AND status IN ?", b.ID,
			[]string{models.TaskPending, models.TaskCancelled}).
		Pluck("id", &pendingIDs).Error; err != nil {
		return nil, nil, fmt.Errorf("allocator: pending tasks of %s: %w", b.ID, err)
	}
	if len(pendingIDs) > 0 {
		if err := tx.Where("task_id IN ?", pendingIDs).Delete(&models.HarvestEntry{}).Error; err != nil {
			return nil, nil, fmt.Errorf("allocator: delete entries of %s: %w", b.ID, err)
		}
		if err := tx.Where("id IN ?", pendingIDs).Delete(&models.Task{}).Error; err != nil {
			return nil, nil, fmt.Errorf("allocator: delete pending tasks of %s: %w", b.ID, err)
		}
		stats.TasksDeleted = len(pendingIDs)
	}

	// Everything completed moves to the parent, tagged with the source code.
	res := tx.Model(&models.Task{}).
		Where("block_id = ? AND status = ?", b.ID, models.TaskCompleted).
		Updates(map[string]interface{}{
			"block_id":    parentID,
			"source_code": b.Code,
		})
	if res.Error != nil {
		return nil, nil, fmt.Errorf("allocator: transfer tasks of %s: %w", b.ID, res.Error)
	}
	stats.TasksTransferred = int(res.RowsAffected)

	// Return the reserved area to the parent's budget.
	if err := tx.Model(&models.Block{}).Where("id = ?", parentID).
		Update("remaining_area", gorm.Expr("remaining_area + ?", b.AllocatedArea)).Error; err != nil {
		return nil, nil, fmt.Errorf("allocator: return area to %s: %w", parentID, err)
	}

	// Remove the virtual block and its per-cycle history.
	if err := tx.Where("block_id = ?", b.ID).Delete(&models.StatusChange{}).Error; err != nil {
		return nil, nil, fmt.Errorf("allocator: clear history of %s: %w", b.ID, err)
	}
	if err := tx.Where("id = ?", b.ID).Delete(&models.Block{}).Error; err != nil {
		return nil, nil, fmt.Errorf("allocator: delete %s: %w", b.ID, err)
	}

	// Demote an idle parent back to empty.
	var parent models.Block
	if err := tx.Where("id = ?", parentID).First(&parent).Error; err != nil {
		return nil, nil, fmt.Errorf("allocator: load parent %s: %w", parentID, err)
	}
	var children int64
	if err := tx.Model(&models.Block{}).
		Where("parent_id = ? AND deleted = ?", parentID, false).
		Count(&children).Error; err != nil {
		return nil, nil, fmt.Errorf("allocator: count children of %s: %w", parentID, err)
	}
	if children == 0 && parent.CropID == nil && parent.Status == models.StatusPartial {
		if err := tx.Model(&models.Block{}).Where("id = ?", parentID).
			Update("status", models.StatusEmpty).Error; err != nil {
			return nil, nil, fmt.Errorf("allocator: demote %s: %w", parentID, err)
		}
		parent.Status = models.StatusEmpty
	}
	return &parent, stats, nil
}

// RetireVirtual is the exposed retirement operation. A virtual block in
// cleaning is closed through the normal cleaning → empty transition (which
// archives first); one that never started its cycle is torn down directly.
func (a *Allocator) RetireVirtual(blockID, actor string) (*models.Block, *RetireStats, error) {
	b, err := a.engine.Get(blockID)
	if err != nil {
		return nil, nil, err
	}
	if b.Category != models.CategoryVirtual {
		return nil, nil, fault.New(fault.ValidationFailed, "block %s is not a virtual block", blockID)
	}

	switch b.Status {
	case models.StatusCleaning:
		// The forced transition may auto-complete pending trigger tasks
		// before the retirement runs, so the stats come from the retirement
		// itself rather than a pre-count.
		parent, err := a.engine.Transition(b.ID, models.StatusEmpty, block.TransitionOpts{
			Actor: actor,
			Note:  "virtual block retired",
			Force: true,
		})
		if err != nil {
			a.takeStats(b.ID)
			return nil, nil, err
		}
		stats := a.takeStats(b.ID)
		if stats == nil {
			stats = &RetireStats{AreaReturned: b.AllocatedArea}
		}
		return parent, stats, nil
	case models.StatusEmpty, models.StatusPlanned:
		var parent *models.Block
		var stats *RetireStats
		err := a.db.Transaction(func(tx *gorm.DB) error {
			p, s, rerr := a.retire(tx, b.ID, actor)
			parent, stats = p, s
			return rerr
		})
		if err != nil {
			return nil, nil, err
		}
		return parent, stats, nil
	default:
		return nil, nil, fault.New(fault.Conflict,
			"block %s is %s; finish its cycle (or move it to cleaning) before retiring", b.ID, b.Status)
	}
}
