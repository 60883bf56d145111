// Package cascade removes a block and everything it produced, relocating
// historical records to the retained archive instead of erasing them.
package cascade

import (
	"errors"
	"fmt"

	"github.com/zulandar/cropyard/internal/fault"
	"github.com/zulandar/cropyard/internal/models"
	"gorm.io/gorm"
)

// maxDepth bounds the parent/child walk; a corrupted pointer chain must not
// loop the deletion.
const maxDepth = 16

// Stats accumulates what one cascade removed and retained.
type Stats struct {
	BlocksDeleted    int
	TasksDeleted     int
	EntriesDeleted   int
	ArchivesRetained int
}

// Delete removes a block and its whole virtual subtree. Cycle archives are
// flipped to retained; tasks, harvest entries and status history are
// deleted; block rows are tombstoned via the soft-delete flag.
func Delete(db *gorm.DB, blockID string) (*Stats, error) {
	var root models.Block
	if err := db.Where("id = ? AND deleted = ?", blockID, false).First(&root).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "block %s not found", blockID)
		}
		return nil, fmt.Errorf("cascade: load %s: %w", blockID, err)
	}

	ids, err := collectSubtree(db, root.ID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	err = db.Transaction(func(tx *gorm.DB) error {
		// Children first, so a partial failure never orphans a subtree.
		for i := len(ids) - 1; i >= 0; i-- {
			if err := deleteOne(tx, ids[i], stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// collectSubtree walks the child tree breadth-first with a visited set and a
// depth guard, returning IDs in root-first order.
func collectSubtree(db *gorm.DB, rootID string) ([]string, error) {
	visited := map[string]bool{rootID: true}
	order := []string{rootID}
	frontier := []string{rootID}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("cascade: block tree under %s deeper than %d, refusing (corrupted parent pointers?)", rootID, maxDepth)
		}
		var children []string
		if err := db.Model(&models.Block{}).
			Where("parent_id IN ? AND deleted = ?", frontier, false).
			Pluck("id", &children).Error; err != nil {
			return nil, fmt.Errorf("cascade: children of %v: %w", frontier, err)
		}
		frontier = frontier[:0]
		for _, id := range children {
			if visited[id] {
				return nil, fmt.Errorf("cascade: cycle detected at block %s, refusing", id)
			}
			visited[id] = true
			order = append(order, id)
			frontier = append(frontier, id)
		}
	}
	return order, nil
}

func deleteOne(tx *gorm.DB, id string, stats *Stats) error {
	res := tx.Model(&models.CycleArchive{}).
		Where("block_id = ?", id).Update("retained", true)
	if res.Error != nil {
		return fmt.Errorf("cascade: retain archives of %s: %w", id, res.Error)
	}
	stats.ArchivesRetained += int(res.RowsAffected)

	var taskIDs []string
	if err := tx.Model(&models.Task{}).Where("block_id = ?", id).
		Pluck("id", &taskIDs).Error; err != nil {
		return fmt.Errorf("cascade: tasks of %s: %w", id, err)
	}
	if len(taskIDs) > 0 {
		res = tx.Where("task_id IN ?", taskIDs).Delete(&models.HarvestEntry{})
		if res.Error != nil {
			return fmt.Errorf("cascade: entries of %s: %w", id, res.Error)
		}
		stats.EntriesDeleted += int(res.RowsAffected)

		res = tx.Where("id IN ?", taskIDs).Delete(&models.Task{})
		if res.Error != nil {
			return fmt.Errorf("cascade: delete tasks of %s: %w", id, res.Error)
		}
		stats.TasksDeleted += int(res.RowsAffected)
	}

	if err := tx.Where("block_id = ?", id).Delete(&models.StatusChange{}).Error; err != nil {
		return fmt.Errorf("cascade: history of %s: %w", id, err)
	}

	if err := tx.Model(&models.Block{}).Where("id = ?", id).
		Update("deleted", true).Error; err != nil {
		return fmt.Errorf("cascade: tombstone %s: %w", id, err)
	}
	stats.BlocksDeleted++
	return nil
}
