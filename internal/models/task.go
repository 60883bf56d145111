package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Task types.
const (
	TaskPlanting          = "planting"
	TaskFruitingCheck     = "fruiting_check"
	TaskHarvestReadiness  = "harvest_readiness"
	TaskRecurringHarvest  = "recurring_harvest"
	TaskHarvestCompletion = "harvest_completion"
	TaskCleaning          = "cleaning"
	TaskCustom            = "custom"
)

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskCancelled  = "cancelled"
)

// Task is a dated unit of operational work derived from a block's lifecycle.
type Task struct {
	ID      string `gorm:"primaryKey;size:32"`
	BlockID string `gorm:"size:32;index;not null"`
	SiteID  string `gorm:"size:32;index"`
	Type    string `gorm:"size:24;not null;index"`
	Status  string `gorm:"size:16;default:pending;index"`
	Title   string `gorm:"size:128"`

	ScheduledFor time.Time `gorm:"index"`
	DueAt        *time.Time
	Assignee     string `gorm:"size:64"`

	// TriggersStatus marks a task whose completion should drive the owning
	// block into this status.
	TriggersStatus *string `gorm:"size:16"`

	AutoGenerated bool   `gorm:"default:false"`
	CycleID       string `gorm:"size:32;index"`
	// SourceCode tags a task transferred from a retired virtual block with
	// the code of the block that produced it.
	SourceCode string `gorm:"size:64"`
	Note       string `gorm:"type:text"`

	// Accumulation fields, used only by recurring_harvest tasks.
	TotalQuantity decimal.Decimal `gorm:"type:decimal(12,3)"`
	GradeTotals   string          `gorm:"type:json"`
	EntryCount    int             `gorm:"default:0"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	Entries []HarvestEntry `gorm:"foreignKey:TaskID"`
}

// HarvestEntry is one contribution to a recurring harvest task.
type HarvestEntry struct {
	ID         uint            `gorm:"primaryKey;autoIncrement"`
	TaskID     string          `gorm:"size:32;index;not null"`
	Quantity   decimal.Decimal `gorm:"type:decimal(12,3)"`
	Grade      string          `gorm:"size:16"`
	RecordedBy string          `gorm:"size:64"`
	RecordedAt time.Time
}
