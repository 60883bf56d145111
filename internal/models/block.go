package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Block statuses. A block moves through the fixed growing cycle; "alert" is
// reachable from any status and "partial" marks a physical block whose only
// activity is its virtual children.
const (
	StatusEmpty      = "empty"
	StatusPlanned    = "planned"
	StatusGrowing    = "growing"
	StatusFruiting   = "fruiting"
	StatusHarvesting = "harvesting"
	StatusCleaning   = "cleaning"
	StatusAlert      = "alert"
	StatusPartial    = "partial"
)

// Block categories.
const (
	CategoryPhysical = "physical"
	CategoryVirtual  = "virtual"
)

// Timing classifications for a status change against its expected date.
const (
	TimingEarly  = "early"
	TimingOnTime = "on_time"
	TimingLate   = "late"
)

// Block is a cultivation area, physical or virtual.
type Block struct {
	ID       string  `gorm:"primaryKey;size:32"`
	Code     string  `gorm:"size:64;not null;index"`
	SiteID   string  `gorm:"size:32;index;not null"`
	Category string  `gorm:"size:16;default:physical"`
	ParentID *string `gorm:"size:32;index"`

	TotalArea decimal.Decimal `gorm:"type:decimal(12,3)"`
	AreaUnit  string          `gorm:"size:8;default:m2"`
	// RemainingArea is the allocatable budget of a physical block. It stays
	// nil until the first virtual allocation initializes it to TotalArea.
	RemainingArea *decimal.Decimal `gorm:"type:decimal(12,3)"`
	// AllocatedArea is the slice of the parent budget held by a virtual block.
	AllocatedArea decimal.Decimal `gorm:"type:decimal(12,3)"`
	Capacity      int             `gorm:"default:0"`

	Status            string  `gorm:"size:16;default:empty;index"`
	StatusBeforeAlert *string `gorm:"size:16"`

	CropID     *string    `gorm:"size:32"`
	PlantCount *int
	PlantedAt  *time.Time
	CycleID    string `gorm:"size:32;index"`

	ExpectedGrowing    *time.Time
	ExpectedFruiting   *time.Time
	ExpectedHarvesting *time.Time
	ExpectedCleaning   *time.Time

	PredictedYield decimal.Decimal `gorm:"type:decimal(12,3)"`
	ActualYield    decimal.Decimal `gorm:"type:decimal(12,3)"`
	YieldUnit      string          `gorm:"size:8"`
	HarvestCount   int             `gorm:"default:0"`

	Deleted   bool `gorm:"default:false;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Parent        *Block         `gorm:"foreignKey:ParentID"`
	Children      []Block        `gorm:"foreignKey:ParentID"`
	StatusHistory []StatusChange `gorm:"foreignKey:BlockID"`
}

// StatusChange is one append-only entry in a block's per-cycle history.
// The history is cleared when the block returns to empty; full-lifetime
// history lives in CycleArchive rows.
type StatusChange struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	BlockID string `gorm:"size:32;index;not null"`
	Status  string `gorm:"size:16;not null"`
	At      time.Time
	Actor   string `gorm:"size:64"`
	Note    string `gorm:"type:text"`

	ExpectedAt *time.Time
	// OffsetDays is actual minus expected, in whole days.
	OffsetDays *int
	Timing     string `gorm:"size:8"`
}
