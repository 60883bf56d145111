package archive

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openArchiveTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Site{},
		&models.Crop{},
		&models.Block{},
		&models.StatusChange{},
		&models.Task{},
		&models.HarvestEntry{},
		&models.CycleArchive{},
		&models.Alert{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	db.Create(&models.Site{ID: "site-1", Name: "North Greenhouse"})
	db.Create(&models.Crop{ID: "crop-lettuce", Name: "Lettuce", YieldPerPlant: decimal.NewFromFloat(0.5), YieldUnit: "kg"})
	return db
}

func ptr(t time.Time) *time.Time { return &t }

// finishedBlock builds a block at the end of its cycle, with history, a
// recorded harvest and two alerts (one resolved in four hours).
func finishedBlock(t *testing.T, db *gorm.DB) *models.Block {
	t.Helper()
	planted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	cropID := "crop-lettuce"
	plants := 100

	b := &models.Block{
		ID:             "bk-arch",
		Code:           "A-01",
		SiteID:         "site-1",
		Category:       models.CategoryPhysical,
		Status:         models.StatusCleaning,
		CropID:         &cropID,
		PlantCount:     &plants,
		PlantedAt:      &planted,
		CycleID:        "cy-1",
		PredictedYield: decimal.NewFromInt(50),
		ActualYield:    decimal.NewFromInt(5),
		YieldUnit:      "kg",
		HarvestCount:   2,
		StatusHistory: []models.StatusChange{
			{Status: models.StatusGrowing, At: planted, Actor: "sam"},
			{Status: models.StatusHarvesting, At: planted.AddDate(0, 0, 37), Actor: "sam"},
			{Status: models.StatusCleaning, At: planted.AddDate(0, 0, 51), Actor: "sam"},
		},
	}
	if err := db.Create(b).Error; err != nil {
		t.Fatalf("seed block: %v", err)
	}

	task := &models.Task{ID: "tk-h1", BlockID: b.ID, Type: models.TaskRecurringHarvest,
		Status: models.TaskCompleted, CycleID: "cy-1"}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	db.Create(&models.HarvestEntry{TaskID: task.ID, Quantity: decimal.NewFromInt(3), Grade: "A", RecordedBy: "sam"})
	db.Create(&models.HarvestEntry{TaskID: task.ID, Quantity: decimal.NewFromInt(2), Grade: "B", RecordedBy: "kim"})

	raised := planted.AddDate(0, 0, 10)
	db.Create(&models.Alert{BlockID: b.ID, Kind: "humidity", RaisedAt: raised, ResolvedAt: ptr(raised.Add(4 * time.Hour))})
	db.Create(&models.Alert{BlockID: b.ID, Kind: "temperature", RaisedAt: raised.AddDate(0, 0, 5)})
	return b
}

func TestArchiveCycle(t *testing.T) {
	db := openArchiveTestDB(t)
	b := finishedBlock(t, db)
	closed := b.PlantedAt.AddDate(0, 0, 51)

	svc := NewService(ServiceOpts{})
	rec, err := svc.ArchiveCycle(db, b, Opts{Actor: "sam", Reason: "cycle complete", ClosedAt: closed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.BlockCode != "A-01" || rec.SiteName != "North Greenhouse" {
		t.Errorf("labels = %q / %q", rec.BlockCode, rec.SiteName)
	}
	if rec.CropName != "Lettuce" || rec.PlantCount != 100 {
		t.Errorf("crop = %q plants = %d", rec.CropName, rec.PlantCount)
	}
	if rec.CycleDays != 51 {
		t.Errorf("cycle days = %d, want 51", rec.CycleDays)
	}
	if !rec.ActualYield.Equal(decimal.NewFromInt(5)) || rec.HarvestCount != 2 {
		t.Errorf("yield = %s count = %d", rec.ActualYield, rec.HarvestCount)
	}
	if !strings.Contains(rec.GradeTotals, `"A":"3"`) || !strings.Contains(rec.GradeTotals, `"B":"2"`) {
		t.Errorf("grade totals = %s", rec.GradeTotals)
	}
	if !strings.Contains(rec.StatusHistory, models.StatusHarvesting) {
		t.Errorf("history = %s", rec.StatusHistory)
	}
	if rec.AlertCount != 2 {
		t.Errorf("alert count = %d, want 2", rec.AlertCount)
	}
	// Only the resolved alert contributes to the average.
	if rec.AvgAlertResolutionHours != 4 {
		t.Errorf("avg resolution = %v hours, want 4", rec.AvgAlertResolutionHours)
	}
	if !strings.HasPrefix(rec.ID, "ar-") {
		t.Errorf("ID = %q, want ar- prefix", rec.ID)
	}
	if rec.Retained {
		t.Error("fresh archives start unretained")
	}
}

func TestArchiveCycleRequiresActiveCycle(t *testing.T) {
	db := openArchiveTestDB(t)
	b := &models.Block{ID: "bk-idle", Code: "B-01", SiteID: "site-1", Status: models.StatusEmpty}
	db.Create(b)

	svc := NewService(ServiceOpts{})
	if _, err := svc.ArchiveCycle(db, b, Opts{}); err == nil {
		t.Error("expected error for a block with no cycle")
	}
}

type failingAlerts struct{}

func (failingAlerts) Summary(*gorm.DB, string) (int, float64, error) {
	return 0, 0, errors.New("alert service down")
}

type failingSites struct{}

func (failingSites) Name(*gorm.DB, string) (string, error) {
	return "", errors.New("site registry down")
}

func TestArchiveCycleDegradesOnCollaboratorFailure(t *testing.T) {
	db := openArchiveTestDB(t)
	b := finishedBlock(t, db)

	svc := NewService(ServiceOpts{Alerts: failingAlerts{}, Sites: failingSites{}})
	rec, err := svc.ArchiveCycle(db, b, Opts{Actor: "sam", ClosedAt: b.PlantedAt.AddDate(0, 0, 51)})
	if err != nil {
		t.Fatalf("collaborator failure must not block the archive: %v", err)
	}
	if rec.AlertCount != 0 || rec.AvgAlertResolutionHours != 0 {
		t.Errorf("alert summary = %d/%v, want empty on failure", rec.AlertCount, rec.AvgAlertResolutionHours)
	}
	if rec.SiteName != "" {
		t.Errorf("site name = %q, want omitted on failure", rec.SiteName)
	}
	// The cycle data itself is unaffected by the degradation.
	if rec.CropName != "Lettuce" {
		t.Errorf("crop = %q", rec.CropName)
	}
}

func TestCycleDays(t *testing.T) {
	planted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		plantedAt *time.Time
		closedAt  time.Time
		want      int
	}{
		{"normal cycle", ptr(planted), planted.AddDate(0, 0, 51), 51},
		// A same-day plant-and-close still counts as one day.
		{"same day", ptr(planted), planted.Add(6 * time.Hour), 1},
		{"never planted", nil, planted, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cycleDays(tc.plantedAt, tc.closedAt); got != tc.want {
				t.Errorf("cycleDays = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestListForBlock(t *testing.T) {
	db := openArchiveTestDB(t)
	older := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	db.Create(&models.CycleArchive{ID: "ar-old", BlockID: "bk-1", ClosedAt: older})
	db.Create(&models.CycleArchive{ID: "ar-new", BlockID: "bk-1", ClosedAt: newer})
	db.Create(&models.CycleArchive{ID: "ar-other", BlockID: "bk-2", ClosedAt: newer})

	got, err := ListForBlock(db, "bk-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("listed %d archives, want 2", len(got))
	}
	if got[0].ID != "ar-new" || got[1].ID != "ar-old" {
		t.Errorf("order = [%s %s], want newest first", got[0].ID, got[1].ID)
	}
}
