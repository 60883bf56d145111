package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleArchive is the immutable snapshot of one completed growing cycle.
// Written once by the archival step of cleaning → empty; never updated.
// Cascade deletion flips Retained instead of erasing rows.
type CycleArchive struct {
	ID        string `gorm:"primaryKey;size:32"`
	BlockID   string `gorm:"size:32;index;not null"`
	BlockCode string `gorm:"size:64"`
	SiteID    string `gorm:"size:32;index"`
	SiteName  string `gorm:"size:128"`
	CycleID   string `gorm:"size:32;index"`

	CropID     string `gorm:"size:32"`
	CropName   string `gorm:"size:64"`
	PlantCount int

	PlantedAt *time.Time
	ClosedAt  time.Time
	// CycleDays is at least 1 even for same-day cycles.
	CycleDays int

	PredictedYield decimal.Decimal `gorm:"type:decimal(12,3)"`
	ActualYield    decimal.Decimal `gorm:"type:decimal(12,3)"`
	YieldUnit      string          `gorm:"size:8"`
	HarvestCount   int
	GradeTotals    string `gorm:"type:json"`

	StatusHistory string `gorm:"type:json"`

	AlertCount              int
	AvgAlertResolutionHours float64

	Actor    string `gorm:"size:64"`
	Reason   string `gorm:"size:128"`
	Retained bool   `gorm:"default:false;index"`

	CreatedAt time.Time
}

// Alert is a device/condition alert row owned by the external alert
// collaborator. This engine only reads them for archive summaries.
type Alert struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	BlockID    string `gorm:"size:32;index;not null"`
	Kind       string `gorm:"size:32"`
	RaisedAt   time.Time
	ResolvedAt *time.Time
}
