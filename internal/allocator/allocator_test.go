package allocator

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/block"
	"github.com/zulandar/cropyard/internal/fault"
	"github.com/zulandar/cropyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openAllocTestDB opens an in-memory SQLite DB seeded with a site, a crop
// and a 500 m2 physical parent block.
func openAllocTestDB(t *testing.T) (*Allocator, *block.Engine, *gorm.DB, *models.Block) {
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
	db.Create(&models.Crop{
		ID: "crop-lettuce", Name: "Lettuce",
		GerminationDays: 7, VegetativeDays: 30, HarvestDays: 14, TotalDays: 51,
		YieldPerPlant: decimal.NewFromFloat(0.5), YieldUnit: "kg",
	})

	engine, err := block.NewEngine(block.EngineOpts{DB: db})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	alloc := New(db, engine)

	parent, err := engine.Create(block.CreateOpts{
		SiteID:    "site-1",
		Code:      "A-01",
		TotalArea: decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	return alloc, engine, db, parent
}

func allocate(t *testing.T, a *Allocator, parentID string, area int64) *models.Block {
	t.Helper()
	child, err := a.Allocate(AllocateOpts{
		ParentID:   parentID,
		CropID:     "crop-lettuce",
		Area:       decimal.NewFromInt(area),
		PlantCount: 50,
		Actor:      "sam",
	})
	if err != nil {
		t.Fatalf("allocate %d: %v", area, err)
	}
	return child
}

func remainingArea(t *testing.T, db *gorm.DB, id string) decimal.Decimal {
	t.Helper()
	var b models.Block
	if err := db.First(&b, "id = ?", id).Error; err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	if b.RemainingArea == nil {
		t.Fatalf("remaining area on %s is nil", id)
	}
	return *b.RemainingArea
}

func TestAllocateValidation(t *testing.T) {
	a, _, db, parent := openAllocTestDB(t)

	cases := []struct {
		name string
		opts AllocateOpts
		want fault.Kind
	}{
		{"zero area", AllocateOpts{ParentID: parent.ID, CropID: "crop-lettuce", PlantCount: 10}, fault.ValidationFailed},
		{"missing crop", AllocateOpts{ParentID: parent.ID, Area: decimal.NewFromInt(10), PlantCount: 10}, fault.ValidationFailed},
		{"missing plants", AllocateOpts{ParentID: parent.ID, CropID: "crop-lettuce", Area: decimal.NewFromInt(10)}, fault.ValidationFailed},
		{"parent not found", AllocateOpts{ParentID: "bk-nope", CropID: "crop-lettuce", Area: decimal.NewFromInt(10), PlantCount: 10}, fault.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Allocate(tc.opts)
			if fault.KindOf(err) != tc.want {
				t.Errorf("err = %v, want kind %s", err, tc.want)
			}
		})
	}

	t.Run("virtual parent", func(t *testing.T) {
		db.Create(&models.Block{
			ID: "bk-virt", Code: "A-01/009", SiteID: "site-1",
			Category: models.CategoryVirtual, ParentID: &parent.ID,
			Status: models.StatusGrowing,
		})
		_, err := a.Allocate(AllocateOpts{
			ParentID: "bk-virt", CropID: "crop-lettuce",
			Area: decimal.NewFromInt(10), PlantCount: 10,
		})
		if !fault.IsKind(err, fault.ValidationFailed) {
			t.Errorf("err = %v, want validation_failed", err)
		}
	})
}

func TestAllocateInitializesBudgetAndStartsCycle(t *testing.T) {
	a, engine, db, parent := openAllocTestDB(t)

	child := allocate(t, a, parent.ID, 200)

	if child.Category != models.CategoryVirtual {
		t.Errorf("category = %q, want virtual", child.Category)
	}
	if child.Code != "A-01/001" {
		t.Errorf("code = %q, want A-01/001", child.Code)
	}
	if !child.AllocatedArea.Equal(decimal.NewFromInt(200)) {
		t.Errorf("allocated area = %s, want 200", child.AllocatedArea)
	}
	if child.Status != models.StatusGrowing {
		t.Errorf("status = %q, want growing", child.Status)
	}
	if child.CropID == nil || *child.CropID != "crop-lettuce" {
		t.Errorf("crop = %v", child.CropID)
	}

	// First allocation initializes the 500 budget, then deducts 200.
	if got := remainingArea(t, db, parent.ID); !got.Equal(decimal.NewFromInt(300)) {
		t.Errorf("parent remaining = %s, want 300", got)
	}
	// A parent with nothing of its own going on parks in partial.
	p, err := engine.Get(parent.ID)
	if err != nil {
		t.Fatalf("load parent: %v", err)
	}
	if p.Status != models.StatusPartial {
		t.Errorf("parent status = %q, want partial", p.Status)
	}
}

func TestAllocateRejectsOverBudget(t *testing.T) {
	a, _, db, parent := openAllocTestDB(t)
	allocate(t, a, parent.ID, 200)

	_, err := a.Allocate(AllocateOpts{
		ParentID:   parent.ID,
		CropID:     "crop-lettuce",
		Area:       decimal.NewFromInt(350),
		PlantCount: 50,
		Actor:      "sam",
	})
	if !fault.IsKind(err, fault.ValidationFailed) {
		t.Fatalf("err = %v, want validation_failed", err)
	}
	if !strings.Contains(err.Error(), "exceeds remaining budget") {
		t.Errorf("err = %v, want budget message", err)
	}

	// The rejected request leaves the budget and the child set untouched.
	if got := remainingArea(t, db, parent.ID); !got.Equal(decimal.NewFromInt(300)) {
		t.Errorf("parent remaining = %s, want 300", got)
	}
	var children int64
	db.Model(&models.Block{}).Where("parent_id = ?", parent.ID).Count(&children)
	if children != 1 {
		t.Errorf("%d children, want 1", children)
	}
}

func TestAllocateExhaustsBudgetExactly(t *testing.T) {
	a, _, db, parent := openAllocTestDB(t)
	allocate(t, a, parent.ID, 200)
	allocate(t, a, parent.ID, 300)

	if got := remainingArea(t, db, parent.ID); !got.IsZero() {
		t.Errorf("parent remaining = %s, want 0", got)
	}
	_, err := a.Allocate(AllocateOpts{
		ParentID:   parent.ID,
		CropID:     "crop-lettuce",
		Area:       decimal.NewFromInt(1),
		PlantCount: 1,
		Actor:      "sam",
	})
	if !fault.IsKind(err, fault.ValidationFailed) {
		t.Errorf("err = %v, want validation_failed once the budget is gone", err)
	}

	// The allocated slices never sum past the parent's total.
	var children []models.Block
	db.Where("parent_id = ?", parent.ID).Find(&children)
	sum := decimal.Zero
	for _, c := range children {
		sum = sum.Add(c.AllocatedArea)
	}
	if sum.GreaterThan(parent.TotalArea) {
		t.Errorf("allocated sum %s exceeds total %s", sum, parent.TotalArea)
	}
}

func TestAllocateCompensatesOnFailedTransition(t *testing.T) {
	a, engine, db, parent := openAllocTestDB(t)

	// The crop passes local validation but is not in the catalog, so the
	// follow-up transition fails after the reservation succeeded.
	_, err := a.Allocate(AllocateOpts{
		ParentID:   parent.ID,
		CropID:     "crop-unknown",
		Area:       decimal.NewFromInt(100),
		PlantCount: 10,
		Actor:      "sam",
	})
	if !fault.IsKind(err, fault.ValidationFailed) {
		t.Fatalf("err = %v, want validation_failed", err)
	}

	if got := remainingArea(t, db, parent.ID); !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("parent remaining = %s, want full 500 after compensation", got)
	}
	var children int64
	db.Model(&models.Block{}).Where("parent_id = ?", parent.ID).Count(&children)
	if children != 0 {
		t.Errorf("%d children survive the compensation", children)
	}
	p, err := engine.Get(parent.ID)
	if err != nil {
		t.Fatalf("load parent: %v", err)
	}
	if p.Status != models.StatusEmpty {
		t.Errorf("parent status = %q, want empty", p.Status)
	}
}

func TestRetireTransfersWorkToParent(t *testing.T) {
	a, engine, db, parent := openAllocTestDB(t)
	child := allocate(t, a, parent.ID, 200)

	// Replace the generated schedule with a known task mix: three completed,
	// one still in progress, two pending.
	db.Where("block_id = ?", child.ID).Delete(&models.Task{})
	now := time.Now()
	mix := []models.Task{
		{ID: "tk-c1", BlockID: child.ID, Type: models.TaskCustom, Status: models.TaskCompleted, CompletedAt: &now},
		{ID: "tk-c2", BlockID: child.ID, Type: models.TaskCustom, Status: models.TaskCompleted, CompletedAt: &now},
		{ID: "tk-c3", BlockID: child.ID, Type: models.TaskCustom, Status: models.TaskCompleted, CompletedAt: &now},
		{ID: "tk-ip", BlockID: child.ID, Type: models.TaskCustom, Status: models.TaskInProgress},
		{ID: "tk-p1", BlockID: child.ID, Type: models.TaskCustom, Status: models.TaskPending},
		{ID: "tk-p2", BlockID: child.ID, Type: models.TaskCustom, Status: models.TaskPending},
	}
	for i := range mix {
		if err := db.Create(&mix[i]).Error; err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}

	// Walk the child to the end of its cycle, then retire it.
	if _, err := engine.Transition(child.ID, models.StatusHarvesting, block.TransitionOpts{Force: true}); err != nil {
		t.Fatalf("harvesting: %v", err)
	}
	if _, err := engine.Transition(child.ID, models.StatusCleaning, block.TransitionOpts{Force: true}); err != nil {
		t.Fatalf("cleaning: %v", err)
	}
	gotParent, stats, err := a.RetireVirtual(child.ID, "sam")
	if err != nil {
		t.Fatalf("retire: %v", err)
	}

	// In-progress work is auto-completed and travels with the completed set.
	if stats.TasksTransferred != 4 {
		t.Errorf("transferred = %d, want 4", stats.TasksTransferred)
	}
	if stats.TasksDeleted != 2 {
		t.Errorf("deleted = %d, want 2", stats.TasksDeleted)
	}
	if !stats.AreaReturned.Equal(decimal.NewFromInt(200)) {
		t.Errorf("area returned = %s, want 200", stats.AreaReturned)
	}

	var transferred []models.Task
	db.Where("block_id = ?", parent.ID).Find(&transferred)
	if len(transferred) != 4 {
		t.Fatalf("parent owns %d tasks, want 4", len(transferred))
	}
	for _, task := range transferred {
		if task.Status != models.TaskCompleted {
			t.Errorf("task %s status = %q, want completed", task.ID, task.Status)
		}
		if task.SourceCode != child.Code {
			t.Errorf("task %s source = %q, want %q", task.ID, task.SourceCode, child.Code)
		}
	}

	// The virtual block is gone for good, its area is back, and the idle
	// parent drops out of partial.
	if _, err := engine.Get(child.ID); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("child lookup err = %v, want not_found", err)
	}
	if got := remainingArea(t, db, parent.ID); !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("parent remaining = %s, want 500", got)
	}
	if gotParent.Status != models.StatusEmpty {
		t.Errorf("parent status = %q, want empty", gotParent.Status)
	}

	// The cycle still archived before the teardown.
	var archives int64
	db.Model(&models.CycleArchive{}).Where("block_id = ?", child.ID).Count(&archives)
	if archives != 1 {
		t.Errorf("%d archives for the retired child, want 1", archives)
	}
}

func TestRetireStatsMatchGeneratedSchedule(t *testing.T) {
	a, engine, db, parent := openAllocTestDB(t)
	child := allocate(t, a, parent.ID, 200)

	// Walk the full generated schedule: forcing harvesting completes the
	// readiness task, forcing cleaning completes the completion task and
	// closes out the recurring harvests.
	if _, err := engine.Transition(child.ID, models.StatusHarvesting, block.TransitionOpts{Force: true}); err != nil {
		t.Fatalf("harvesting: %v", err)
	}
	if _, err := engine.Transition(child.ID, models.StatusCleaning, block.TransitionOpts{Force: true}); err != nil {
		t.Fatalf("cleaning: %v", err)
	}

	_, stats, err := a.RetireVirtual(child.ID, "sam")
	if err != nil {
		t.Fatalf("retire: %v", err)
	}

	// The retirement itself force-completes the pending cleaning task, so it
	// travels with the completed set: 17 of the 18 generated tasks transfer
	// and only the never-fired planting task is deleted.
	if stats.TasksTransferred != 17 {
		t.Errorf("transferred = %d, want 17", stats.TasksTransferred)
	}
	if stats.TasksDeleted != 1 {
		t.Errorf("deleted = %d, want 1", stats.TasksDeleted)
	}

	var transferred int64
	db.Model(&models.Task{}).Where("block_id = ?", parent.ID).Count(&transferred)
	if int(transferred) != stats.TasksTransferred {
		t.Errorf("parent owns %d tasks, stats claim %d", transferred, stats.TasksTransferred)
	}
	var leftovers int64
	db.Model(&models.Task{}).Where("block_id = ?", child.ID).Count(&leftovers)
	if leftovers != 0 {
		t.Errorf("%d tasks still on the retired child, want 0", leftovers)
	}
}

func TestRetirePlannedChildTearsDownDirectly(t *testing.T) {
	a, engine, db, parent := openAllocTestDB(t)

	future := time.Now().Add(72 * time.Hour)
	child, err := a.Allocate(AllocateOpts{
		ParentID:     parent.ID,
		CropID:       "crop-lettuce",
		Area:         decimal.NewFromInt(150),
		PlantCount:   30,
		PlantingDate: &future,
		Actor:        "sam",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if child.Status != models.StatusPlanned {
		t.Fatalf("status = %q, want planned for a future planting date", child.Status)
	}

	gotParent, stats, err := a.RetireVirtual(child.ID, "sam")
	if err != nil {
		t.Fatalf("retire: %v", err)
	}
	// Nothing ever ran: the whole generated schedule is discarded.
	if stats.TasksTransferred != 0 {
		t.Errorf("transferred = %d, want 0", stats.TasksTransferred)
	}
	if stats.TasksDeleted != 18 {
		t.Errorf("deleted = %d, want the full generated schedule (18)", stats.TasksDeleted)
	}
	if got := remainingArea(t, db, parent.ID); !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("parent remaining = %s, want 500", got)
	}
	if gotParent.Status != models.StatusEmpty {
		t.Errorf("parent status = %q, want empty", gotParent.Status)
	}
	// No cycle completed, so nothing archived.
	var archives int64
	db.Model(&models.CycleArchive{}).Where("block_id = ?", child.ID).Count(&archives)
	if archives != 0 {
		t.Errorf("%d archives for an unstarted cycle, want 0", archives)
	}
	_ = engine
}

func TestRetireMidCycleConflicts(t *testing.T) {
	a, _, _, parent := openAllocTestDB(t)
	child := allocate(t, a, parent.ID, 100)

	_, _, err := a.RetireVirtual(child.ID, "sam")
	if !fault.IsKind(err, fault.Conflict) {
		t.Errorf("err = %v, want conflict while growing", err)
	}
}

func TestChildCodesStaySequentialAcrossRetirement(t *testing.T) {
	a, engine, _, parent := openAllocTestDB(t)
	first := allocate(t, a, parent.ID, 100)
	if first.Code != "A-01/001" {
		t.Fatalf("first code = %q", first.Code)
	}

	if _, err := engine.Transition(first.ID, models.StatusHarvesting, block.TransitionOpts{Force: true}); err != nil {
		t.Fatalf("harvesting: %v", err)
	}
	if _, err := engine.Transition(first.ID, models.StatusCleaning, block.TransitionOpts{Force: true}); err != nil {
		t.Fatalf("cleaning: %v", err)
	}
	if _, _, err := a.RetireVirtual(first.ID, "sam"); err != nil {
		t.Fatalf("retire: %v", err)
	}

	// The retired child only survives as an archive row, but its code is
	// never reissued.
	second := allocate(t, a, parent.ID, 100)
	if second.Code != "A-01/002" {
		t.Errorf("second code = %q, want A-01/002", second.Code)
	}
}

func TestRetireNonVirtualBlock(t *testing.T) {
	a, _, _, parent := openAllocTestDB(t)
	_, _, err := a.RetireVirtual(parent.ID, "sam")
	if !fault.IsKind(err, fault.ValidationFailed) {
		t.Errorf("err = %v, want validation_failed", err)
	}
}
