package models

import "github.com/shopspring/decimal"

// Crop is a read-only reference-catalog entry describing a crop's growth
// profile. Stage durations are calendar days.
type Crop struct {
	ID              string `gorm:"primaryKey;size:32"`
	Name            string `gorm:"size:64;not null"`
	GerminationDays int
	VegetativeDays  int
	FloweringDays   int
	FruitingDays    int
	HarvestDays     int
	TotalDays       int
	YieldPerPlant   decimal.Decimal `gorm:"type:decimal(12,3)"`
	YieldUnit       string          `gorm:"size:8;default:kg"`
}

// Site is an owning location for blocks.
type Site struct {
	ID   string `gorm:"primaryKey;size:32"`
	Name string `gorm:"size:128;not null"`
}
