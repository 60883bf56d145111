package timeline

import (
	"testing"
	"time"

	"github.com/zulandar/cropyard/internal/models"
)

var start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return start.AddDate(0, 0, n) }

func TestFromStart_NoFruitingPhase(t *testing.T) {
	// Leafy-green style profile: no flowering, no fruiting.
	crop := &models.Crop{
		GerminationDays: 7,
		VegetativeDays:  30,
		FloweringDays:   0,
		FruitingDays:    0,
		HarvestDays:     14,
		TotalDays:       51,
	}
	exp := FromStart(crop, start)

	if !exp.Growing.Equal(day(0)) {
		t.Errorf("growing = %v, want %v", exp.Growing, day(0))
	}
	if exp.Fruiting != nil {
		t.Errorf("expected no fruiting date for zero-fruiting crop, got %v", *exp.Fruiting)
	}
	if !exp.Harvesting.Equal(day(37)) {
		t.Errorf("harvesting = %v, want %v", exp.Harvesting, day(37))
	}
	if !exp.Cleaning.Equal(day(51)) {
		t.Errorf("cleaning = %v, want %v", exp.Cleaning, day(51))
	}
}

func TestFromStart_WithFruitingPhase(t *testing.T) {
	crop := &models.Crop{
		GerminationDays: 5,
		VegetativeDays:  20,
		FloweringDays:   5,
		FruitingDays:    10,
		HarvestDays:     7,
		TotalDays:       47,
	}
	exp := FromStart(crop, start)

	if exp.Fruiting == nil {
		t.Fatal("expected a fruiting date")
	}
	if !exp.Fruiting.Equal(day(30)) {
		t.Errorf("fruiting = %v, want %v", *exp.Fruiting, day(30))
	}
	if !exp.Harvesting.Equal(day(40)) {
		t.Errorf("harvesting = %v, want %v", exp.Harvesting, day(40))
	}
	if !exp.Cleaning.Equal(day(47)) {
		t.Errorf("cleaning = %v, want %v", exp.Cleaning, day(47))
	}
}

func TestFromStart_TotalDaysDerivedWhenMissing(t *testing.T) {
	crop := &models.Crop{
		GerminationDays: 3,
		VegetativeDays:  10,
		FruitingDays:    4,
		HarvestDays:     5,
	}
	exp := FromStart(crop, start)
	if !exp.Cleaning.Equal(day(22)) {
		t.Errorf("cleaning = %v, want stage sum %v", exp.Cleaning, day(22))
	}
}

func TestFor(t *testing.T) {
	crop := &models.Crop{GerminationDays: 2, VegetativeDays: 3, FruitingDays: 1, HarvestDays: 2, TotalDays: 8}
	exp := FromStart(crop, start)

	if got := exp.For(models.StatusGrowing); got == nil || !got.Equal(exp.Growing) {
		t.Errorf("For(growing) = %v", got)
	}
	if got := exp.For(models.StatusFruiting); got == nil || !got.Equal(*exp.Fruiting) {
		t.Errorf("For(fruiting) = %v", got)
	}
	if got := exp.For(models.StatusHarvesting); got == nil || !got.Equal(exp.Harvesting) {
		t.Errorf("For(harvesting) = %v", got)
	}
	if got := exp.For(models.StatusCleaning); got == nil || !got.Equal(exp.Cleaning) {
		t.Errorf("For(cleaning) = %v", got)
	}
	if got := exp.For(models.StatusEmpty); got != nil {
		t.Errorf("For(empty) = %v, want nil", got)
	}
}

func TestOffsetDays(t *testing.T) {
	cases := []struct {
		name     string
		actual   time.Time
		expected time.Time
		want     int
	}{
		{"on time", day(5), day(5), 0},
		{"late", day(8), day(5), 3},
		{"early", day(3), day(5), -2},
		// Time-of-day noise must not change the whole-day offset.
		{"same day different hours", day(5).Add(23 * time.Hour), day(5).Add(1 * time.Hour), 0},
		{"next day early morning", day(6).Add(1 * time.Hour), day(5).Add(22 * time.Hour), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OffsetDays(tc.actual, tc.expected); got != tc.want {
				t.Errorf("OffsetDays = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(-1); got != models.TimingEarly {
		t.Errorf("Classify(-1) = %q", got)
	}
	if got := Classify(0); got != models.TimingOnTime {
		t.Errorf("Classify(0) = %q", got)
	}
	if got := Classify(4); got != models.TimingLate {
		t.Errorf("Classify(4) = %q", got)
	}
}
