// Package timeline computes expected lifecycle dates from crop growth profiles.
package timeline

import (
	"time"

	"github.com/zulandar/cropyard/internal/models"
)

// Expected holds the calculator-derived dates for one growing cycle.
// Fruiting is nil when the crop's profile has zero fruiting duration,
// in which case growing → harvesting is a direct transition.
type Expected struct {
	Growing    time.Time
	Fruiting   *time.Time
	Harvesting time.Time
	Cleaning   time.Time
}

// FromStart derives expected dates for a cycle starting (planted) at start.
// Dates accumulate stage durations in order: germination and vegetative lead
// to harvest readiness, with flowering and fruiting in between when present.
func FromStart(crop *models.Crop, start time.Time) Expected {
	exp := Expected{Growing: start}

	preFruit := crop.GerminationDays + crop.VegetativeDays + crop.FloweringDays
	if crop.FruitingDays > 0 {
		f := start.AddDate(0, 0, preFruit)
		exp.Fruiting = &f
	}

	exp.Harvesting = start.AddDate(0, 0, preFruit+crop.FruitingDays)

	total := crop.TotalDays
	if total <= 0 {
		total = preFruit + crop.FruitingDays + crop.HarvestDays
	}
	exp.Cleaning = start.AddDate(0, 0, total)
	return exp
}

// For returns the expected date for entering the given status, or nil when
// the timeline has no entry for it.
func (e Expected) For(status string) *time.Time {
	switch status {
	case models.StatusGrowing:
		return &e.Growing
	case models.StatusFruiting:
		return e.Fruiting
	case models.StatusHarvesting:
		return &e.Harvesting
	case models.StatusCleaning:
		return &e.Cleaning
	}
	return nil
}

// OffsetDays returns actual − expected in whole calendar days.
func OffsetDays(actual, expected time.Time) int {
	a := dateOnly(actual)
	e := dateOnly(expected)
	return int(a.Sub(e).Hours() / 24)
}

// Classify maps a day offset to early/on_time/late.
func Classify(offsetDays int) string {
	switch {
	case offsetDays < 0:
		return models.TimingEarly
	case offsetDays > 0:
		return models.TimingLate
	default:
		return models.TimingOnTime
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
