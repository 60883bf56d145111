// Package block implements the cultivation-block state machine and its
// surrounding lifecycle operations.
package block

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/archive"
	"github.com/zulandar/cropyard/internal/fault"
	"github.com/zulandar/cropyard/internal/models"
	"github.com/zulandar/cropyard/internal/notify"
	"github.com/zulandar/cropyard/internal/tasks"
	"gorm.io/gorm"
)

// VirtualRetirer tears down a virtual block when its cycle ends, returning
// the parent the caller should see instead. Implemented by the allocator;
// injected here to keep the allocate/retire pair in one place.
type VirtualRetirer interface {
	Retire(tx *gorm.DB, blockID, actor string) (*models.Block, error)
}

// EngineOpts holds dependencies for the state machine.
type EngineOpts struct {
	DB          *gorm.DB
	TaskOptions tasks.Options
	Archive     *archive.Service
	Notifier    notify.Sender // optional, best-effort
}

// Engine executes validated status transitions, orchestrating the timeline
// calculator, task generator and archival service in one unit of work.
type Engine struct {
	db       *gorm.DB
	taskOpts tasks.Options
	archive  *archive.Service
	notifier notify.Sender
	retirer  VirtualRetirer
}

// NewEngine creates a state machine engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("block: db is required")
	}
	if opts.Archive == nil {
		opts.Archive = archive.NewService(archive.ServiceOpts{})
	}
	if opts.TaskOptions == (tasks.Options{}) {
		opts.TaskOptions = tasks.DefaultOptions()
	}
	return &Engine{
		db:       opts.DB,
		taskOpts: opts.TaskOptions,
		archive:  opts.Archive,
		notifier: opts.Notifier,
	}, nil
}

// SetRetirer registers the virtual-block retirement flow. Wired after
// construction because the allocator also drives this engine.
func (e *Engine) SetRetirer(r VirtualRetirer) { e.retirer = r }

// DB exposes the underlying handle for collaborating packages.
func (e *Engine) DB() *gorm.DB { return e.db }

// TaskOptions exposes the schedule tuning used for generated tasks.
func (e *Engine) TaskOptions() tasks.Options { return e.taskOpts }

// GenerateID creates a unique block ID in bk-xxxxxx format (6-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("block: generate ID: %w", err)
	}
	return "bk-" + hex.EncodeToString(b), nil
}

func generateUniqueID(db *gorm.DB) (string, error) {
	for i := 0; i < 10; i++ {
		id, err := GenerateID()
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Model(&models.Block{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("block: check ID %s: %w", id, err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("block: could not generate unique ID after 10 attempts")
}

// newCycleID creates an opaque cycle identifier in cy-xxxxxxxx format.
func newCycleID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("block: generate cycle ID: %w", err)
	}
	return "cy-" + hex.EncodeToString(b), nil
}

// CreateOpts holds parameters for creating a physical block.
type CreateOpts struct {
	SiteID    string
	Code      string
	TotalArea decimal.Decimal
	AreaUnit  string
	Capacity  int
}

// ListFilters holds optional filters for listing blocks.
type ListFilters struct {
	SiteID   string
	Status   string
	Category string
	ParentID string
	Limit    int
	Offset   int
}

// Create creates a physical block in the empty status.
func (e *Engine) Create(opts CreateOpts) (*models.Block, error) {
	if opts.SiteID == "" {
		return nil, fault.New(fault.ValidationFailed, "site ID is required")
	}
	if opts.Code == "" {
		return nil, fault.New(fault.ValidationFailed, "code is required")
	}
	if opts.TotalArea.LessThanOrEqual(decimal.Zero) {
		return nil, fault.New(fault.ValidationFailed, "total area must be positive")
	}
	if opts.AreaUnit == "" {
		opts.AreaUnit = "m2"
	}

	var site models.Site
	if err := e.db.Where("id = ?", opts.SiteID).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "site %s not found", opts.SiteID)
		}
		return nil, fault.Wrap(fault.DependencyUnavailable, err, "site lookup for %s", opts.SiteID)
	}

	var dup int64
	if err := e.db.Model(&models.Block{}).
		Where("site_id = ? AND code = ? AND deleted = ?", opts.SiteID, opts.Code, false).
		Count(&dup).Error; err != nil {
		return nil, fmt.Errorf("block: check code %q: %w", opts.Code, err)
	}
	if dup > 0 {
		return nil, fault.New(fault.Conflict, "code %q already exists in site %s", opts.Code, opts.SiteID)
	}

	id, err := generateUniqueID(e.db)
	if err != nil {
		return nil, err
	}
	b := models.Block{
		ID:        id,
		Code:      opts.Code,
		SiteID:    opts.SiteID,
		Category:  models.CategoryPhysical,
		TotalArea: opts.TotalArea,
		AreaUnit:  opts.AreaUnit,
		Capacity:  opts.Capacity,
		Status:    models.StatusEmpty,
	}
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&b).Error; err != nil {
			return fmt.Errorf("block: create %s: %w", opts.Code, err)
		}
		return appendStatusRecord(tx, &b, models.StatusEmpty, statusRecordOpts{Actor: "system", Note: "created", At: b.CreatedAt})
	})
	if err != nil {
		return nil, err
	}
	return e.Get(b.ID)
}

// Get loads a live (not soft-deleted) block with its status history.
func (e *Engine) Get(id string) (*models.Block, error) {
	return getBlock(e.db, id)
}

func getBlock(db *gorm.DB, id string) (*models.Block, error) {
	var b models.Block
	err := db.Preload("StatusHistory", func(q *gorm.DB) *gorm.DB {
		return q.Order("status_changes.at asc, status_changes.id asc")
	}).Where("id = ? AND deleted = ?", id, false).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "block %s not found", id)
		}
		return nil, fmt.Errorf("block: load %s: %w", id, err)
	}
	return &b, nil
}

// List returns blocks matching the filters.
func (e *Engine) List(f ListFilters) ([]models.Block, error) {
	q := e.db.Model(&models.Block{}).Where("deleted = ?", false)
	if f.SiteID != "" {
		q = q.Where("site_id = ?", f.SiteID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.ParentID != "" {
		q = q.Where("parent_id = ?", f.ParentID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	var out []models.Block
	if err := q.Order("code asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("block: list: %w", err)
	}
	return out, nil
}

// Children returns the live virtual children of a physical block.
func (e *Engine) Children(parentID string) ([]models.Block, error) {
	return e.List(ListFilters{ParentID: parentID, Category: models.CategoryVirtual})
}

// getCrop validates a crop reference against the catalog before any local
// mutation depends on it.
func getCrop(db *gorm.DB, id string) (*models.Crop, error) {
	var c models.Crop
	if err := db.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.ValidationFailed, "crop %s not in catalog", id)
		}
		return nil, fault.Wrap(fault.DependencyUnavailable, err, "crop lookup for %s", id)
	}
	return &c, nil
}

// notifyBestEffort sends a notification without letting delivery failures
// surface to the caller.
func (e *Engine) notifyBestEffort(title, body string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(title, body); err != nil {
		log.Printf("block: notify %q: %v", title, err)
	}
}
