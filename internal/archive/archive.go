// Package archive snapshots completed growing cycles into immutable history.
package archive

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/models"
	"gorm.io/gorm"
)

// AlertSource is the external alert collaborator. Its failure degrades an
// archive to an empty alert summary; it never blocks a cycle close.
type AlertSource interface {
	Summary(tx *gorm.DB, blockID string) (count int, avgResolutionHours float64, err error)
}

// SiteSource labels archive snapshots with the owning site's name.
type SiteSource interface {
	Name(tx *gorm.DB, siteID string) (string, error)
}

// ServiceOpts holds collaborator overrides; nil fields use the DB-backed
// defaults.
type ServiceOpts struct {
	Alerts AlertSource
	Sites  SiteSource
}

// Service writes cycle archives.
type Service struct {
	alerts AlertSource
	sites  SiteSource
}

// NewService creates an archival service.
func NewService(opts ServiceOpts) *Service {
	if opts.Alerts == nil {
		opts.Alerts = dbAlertSource{}
	}
	if opts.Sites == nil {
		opts.Sites = dbSiteSource{}
	}
	return &Service{alerts: opts.Alerts, sites: opts.Sites}
}

// Opts holds parameters for archiving one cycle.
type Opts struct {
	Actor    string
	Reason   string
	ClosedAt time.Time
}

// historyEntry is the archived form of a status-change record.
type historyEntry struct {
	Status     string     `json:"status"`
	At         time.Time  `json:"at"`
	Actor      string     `json:"actor,omitempty"`
	Note       string     `json:"note,omitempty"`
	ExpectedAt *time.Time `json:"expectedAt,omitempty"`
	OffsetDays *int       `json:"offsetDays,omitempty"`
	Timing     string     `json:"timing,omitempty"`
}

// ArchiveCycle snapshots the block's current cycle: crop, KPIs, the full
// status-change history, per-grade harvest totals and the alert summary.
// It does not clear the live block; the state machine does that afterwards,
// so the snapshot always exists before live data is wiped.
func (s *Service) ArchiveCycle(tx *gorm.DB, b *models.Block, opts Opts) (*models.CycleArchive, error) {
	if b.CropID == nil {
		return nil, fmt.Errorf("archive: block %s has no active cycle", b.ID)
	}
	if opts.ClosedAt.IsZero() {
		opts.ClosedAt = time.Now()
	}

	var crop models.Crop
	if err := tx.Where("id = ?", *b.CropID).First(&crop).Error; err != nil {
		return nil, fmt.Errorf("archive: crop %s for block %s: %w", *b.CropID, b.ID, err)
	}

	siteName, err := s.sites.Name(tx, b.SiteID)
	if err != nil {
		log.Printf("archive: site lookup for %s: %v (label omitted)", b.SiteID, err)
		siteName = ""
	}

	alertCount, avgHours, err := s.alerts.Summary(tx, b.ID)
	if err != nil {
		log.Printf("archive: alert summary for %s: %v (empty summary used)", b.ID, err)
		alertCount, avgHours = 0, 0
	}

	gradeTotals, err := cycleGradeTotals(tx, b.ID, b.CycleID)
	if err != nil {
		return nil, err
	}
	gradeJSON, err := json.Marshal(gradeTotals)
	if err != nil {
		return nil, fmt.Errorf("archive: marshal grade totals for %s: %w", b.ID, err)
	}

	history := make([]historyEntry, 0, len(b.StatusHistory))
	for _, h := range b.StatusHistory {
		history = append(history, historyEntry{
			Status:     h.Status,
			At:         h.At,
			Actor:      h.Actor,
			Note:       h.Note,
			ExpectedAt: h.ExpectedAt,
			OffsetDays: h.OffsetDays,
			Timing:     h.Timing,
		})
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("archive: marshal history for %s: %w", b.ID, err)
	}

	plantCount := 0
	if b.PlantCount != nil {
		plantCount = *b.PlantCount
	}

	id, err := generateID()
	if err != nil {
		return nil, err
	}
	rec := models.CycleArchive{
		ID:                      id,
		BlockID:                 b.ID,
		BlockCode:               b.Code,
		SiteID:                  b.SiteID,
		SiteName:                siteName,
		CycleID:                 b.CycleID,
		CropID:                  crop.ID,
		CropName:                crop.Name,
		PlantCount:              plantCount,
		PlantedAt:               b.PlantedAt,
		ClosedAt:                opts.ClosedAt,
		CycleDays:               cycleDays(b.PlantedAt, opts.ClosedAt),
		PredictedYield:          b.PredictedYield,
		ActualYield:             b.ActualYield,
		YieldUnit:               b.YieldUnit,
		HarvestCount:            b.HarvestCount,
		GradeTotals:             string(gradeJSON),
		StatusHistory:           string(historyJSON),
		AlertCount:              alertCount,
		AvgAlertResolutionHours: avgHours,
		Actor:                   opts.Actor,
		Reason:                  opts.Reason,
	}
	if err := tx.Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("archive: write archive for %s: %w", b.ID, err)
	}
	return &rec, nil
}

// ListForBlock returns a block's archives, newest first.
func ListForBlock(db *gorm.DB, blockID string) ([]models.CycleArchive, error) {
	var out []models.CycleArchive
	if err := db.Where("block_id = ?", blockID).
		Order("closed_at desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("archive: list for %s: %w", blockID, err)
	}
	return out, nil
}

// cycleDays is the cycle duration in days, never below 1 so same-day cycles
// do not record zero.
func cycleDays(plantedAt *time.Time, closedAt time.Time) int {
	if plantedAt == nil {
		return 1
	}
	days := int(closedAt.Sub(*plantedAt).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// cycleGradeTotals sums the cycle's harvest entries by quality grade.
func cycleGradeTotals(tx *gorm.DB, blockID, cycleID string) (map[string]decimal.Decimal, error) {
	var entries []models.HarvestEntry
	err := tx.Joins("JOIN tasks ON tasks.id = harvest_entries.task_id").
		Where("tasks.block_id = ? AND tasks.cycle_id = ?", blockID, cycleID).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("archive: harvest entries for %s: %w", blockID, err)
	}
	totals := map[string]decimal.Decimal{}
	for _, e := range entries {
		totals[e.Grade] = totals[e.Grade].Add(e.Quantity)
	}
	return totals, nil
}

func generateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("archive: generate ID: %w", err)
	}
	return "ar-" + hex.EncodeToString(b), nil
}

// dbAlertSource reads the alert collaborator's rows from the shared store.
type dbAlertSource struct{}

func (dbAlertSource) Summary(tx *gorm.DB, blockID string) (int, float64, error) {
	var alerts []models.Alert
	if err := tx.Where("block_id = ?", blockID).Find(&alerts).Error; err != nil {
		return 0, 0, fmt.Errorf("archive: load alerts for %s: %w", blockID, err)
	}
	count := len(alerts)
	resolved := 0
	var total time.Duration
	for _, a := range alerts {
		if a.ResolvedAt != nil {
			resolved++
			total += a.ResolvedAt.Sub(a.RaisedAt)
		}
	}
	avg := 0.0
	if resolved > 0 {
		avg = total.Hours() / float64(resolved)
	}
	return count, avg, nil
}

// dbSiteSource reads site names from the shared store.
type dbSiteSource struct{}

func (dbSiteSource) Name(tx *gorm.DB, siteID string) (string, error) {
	var site models.Site
	if err := tx.Where("id = ?", siteID).First(&site).Error; err != nil {
		return "", fmt.Errorf("archive: load site %s: %w", siteID, err)
	}
	return site.Name, nil
}
