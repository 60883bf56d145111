package db

import (
	"testing"

	"github.com/zulandar/cropyard/internal/config"
	"github.com/zulandar/cropyard/internal/models"
)

func TestDSN(t *testing.T) {
	cases := []struct {
		name     string
		user     string
		password string
		want     string
	}{
		{"with password", "cy", "secret", "cy:secret@tcp(db.internal:3306)/cropyard?parseTime=true"},
		{"without password", "root", "", "root@tcp(db.internal:3306)/cropyard?parseTime=true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DSN(tc.user, tc.password, "db.internal", 3306, "cropyard")
			if got != tc.want {
				t.Errorf("DSN = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConnectSQLiteInMemory(t *testing.T) {
	gormDB, err := Connect(config.DBConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	if !gormDB.Migrator().HasTable(&models.Block{}) {
		t.Error("blocks table missing after migration")
	}
}

func TestConnectUnsupportedDriver(t *testing.T) {
	if _, err := Connect(config.DBConfig{Driver: "postgres"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	gormDB, err := Connect(config.DBConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	sites := []config.SiteConfig{{ID: "site-1", Name: "North Greenhouse"}}
	crops := []config.CropConfig{{ID: "crop-lettuce", Name: "Lettuce", HarvestDays: 14}}

	for i := 0; i < 2; i++ {
		if err := SeedSites(gormDB, sites); err != nil {
			t.Fatalf("seed sites (pass %d): %v", i+1, err)
		}
		if err := SeedCrops(gormDB, crops); err != nil {
			t.Fatalf("seed crops (pass %d): %v", i+1, err)
		}
	}

	var siteCount, cropCount int64
	gormDB.Model(&models.Site{}).Count(&siteCount)
	gormDB.Model(&models.Crop{}).Count(&cropCount)
	if siteCount != 1 || cropCount != 1 {
		t.Errorf("counts = %d sites, %d crops; want 1/1 after reseeding", siteCount, cropCount)
	}

	// Reseeding with a changed name updates in place.
	sites[0].Name = "North Greenhouse (renamed)"
	if err := SeedSites(gormDB, sites); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	var site models.Site
	gormDB.First(&site, "id = ?", "site-1")
	if site.Name != "North Greenhouse (renamed)" {
		t.Errorf("site name = %q after update", site.Name)
	}
}
