// Package config provides YAML-based configuration loading for Cropyard.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Cropyard configuration, loaded from cropyard.yaml.
type Config struct {
	DB        DBConfig        `yaml:"db"`
	Server    ServerConfig    `yaml:"server"`
	Tasks     TaskConfig      `yaml:"tasks"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Notify    NotifyConfig    `yaml:"notify"`
	Sites     []SiteConfig    `yaml:"sites"`
	Crops     []CropConfig    `yaml:"crops"`
}

// DBConfig holds connection settings. Driver "sqlite" uses Path; driver
// "mysql" uses Host/Port/Database.
type DBConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// TaskConfig tunes generated-task scheduling.
type TaskConfig struct {
	// HarvestWindowDays is used when a crop profile has no harvest duration.
	HarvestWindowDays    int `yaml:"harvest_window_days"`
	ReadinessLeadDays    int `yaml:"readiness_lead_days"`
	CompletionBufferDays int `yaml:"completion_buffer_days"`
	CleaningBufferDays   int `yaml:"cleaning_buffer_days"`
}

// AggregateConfig schedules the daily harvest aggregation job.
type AggregateConfig struct {
	// Cron is a standard 5-field cron expression.
	Cron string `yaml:"cron"`
}

// NotifyConfig configures best-effort notification adapters. Empty tokens
// disable the corresponding adapter.
type NotifyConfig struct {
	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannel   string `yaml:"slack_channel"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
}

// SiteConfig seeds a site row.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// CropConfig seeds a crop catalog row.
type CropConfig struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	GerminationDays int     `yaml:"germination_days"`
	VegetativeDays  int     `yaml:"vegetative_days"`
	FloweringDays   int     `yaml:"flowering_days"`
	FruitingDays    int     `yaml:"fruiting_days"`
	HarvestDays     int     `yaml:"harvest_days"`
	TotalDays       int     `yaml:"total_days"`
	YieldPerPlant   float64 `yaml:"yield_per_plant"`
	YieldUnit       string  `yaml:"yield_unit"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Path == "" {
		c.DB.Path = "cropyard.db"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "cropyard"
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Tasks.HarvestWindowDays == 0 {
		c.Tasks.HarvestWindowDays = 14
	}
	if c.Tasks.ReadinessLeadDays == 0 {
		c.Tasks.ReadinessLeadDays = 2
	}
	if c.Tasks.CompletionBufferDays == 0 {
		c.Tasks.CompletionBufferDays = 1
	}
	if c.Tasks.CleaningBufferDays == 0 {
		c.Tasks.CleaningBufferDays = 2
	}
	if c.Aggregate.Cron == "" {
		c.Aggregate.Cron = "0 0 * * *"
	}
	for i := range c.Crops {
		cr := &c.Crops[i]
		if cr.TotalDays == 0 {
			cr.TotalDays = cr.GerminationDays + cr.VegetativeDays +
				cr.FloweringDays + cr.FruitingDays + cr.HarvestDays
		}
		if cr.YieldUnit == "" {
			cr.YieldUnit = "kg"
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q must be sqlite or mysql", c.DB.Driver))
	}
	if c.Tasks.HarvestWindowDays < 1 {
		errs = append(errs, "tasks.harvest_window_days must be at least 1")
	}
	for i, s := range c.Sites {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("sites[%d].id is required", i))
		}
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("sites[%d].name is required", i))
		}
	}
	for i, cr := range c.Crops {
		if cr.ID == "" {
			errs = append(errs, fmt.Sprintf("crops[%d].id is required", i))
		}
		if cr.Name == "" {
			errs = append(errs, fmt.Sprintf("crops[%d].name is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
