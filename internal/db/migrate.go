package db

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/config"
	"github.com/zulandar/cropyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Block{},
		&models.StatusChange{},
		&models.Task{},
		&models.HarvestEntry{},
		&models.CycleArchive{},
		&models.Crop{},
		&models.Site{},
		&models.Alert{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedSites upserts Site rows from configuration.
func SeedSites(db *gorm.DB, sites []config.SiteConfig) error {
	for _, sc := range sites {
		site := models.Site{ID: sc.ID, Name: sc.Name}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&site)
		if result.Error != nil {
			return fmt.Errorf("db: seed site %q: %w", sc.ID, result.Error)
		}
	}
	return nil
}

// SeedCrops upserts Crop catalog rows from configuration.
func SeedCrops(db *gorm.DB, crops []config.CropConfig) error {
	for _, cc := range crops {
		crop := models.Crop{
			ID:              cc.ID,
			Name:            cc.Name,
			GerminationDays: cc.GerminationDays,
			VegetativeDays:  cc.VegetativeDays,
			FloweringDays:   cc.FloweringDays,
			FruitingDays:    cc.FruitingDays,
			HarvestDays:     cc.HarvestDays,
			TotalDays:       cc.TotalDays,
			YieldPerPlant:   decimal.NewFromFloat(cc.YieldPerPlant),
			YieldUnit:       cc.YieldUnit,
		}
		result := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "germination_days", "vegetative_days", "flowering_days",
				"fruiting_days", "harvest_days", "total_days", "yield_per_plant", "yield_unit",
			}),
		}).Create(&crop)
		if result.Error != nil {
			return fmt.Errorf("db: seed crop %q: %w", cc.ID, result.Error)
		}
	}
	return nil
}
