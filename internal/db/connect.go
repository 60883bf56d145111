// Package db provides GORM connection and migration helpers.
package db

import (
	"fmt"

	"github.com/zulandar/cropyard/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from connection settings.
func DSN(user, password, host string, port int, database string) string {
	cred := user
	if password != "" {
		cred = user + ":" + password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", cred, host, port, database)
}

// Connect opens a GORM connection according to the configured driver.
// SQLite is used for local and test deployments, MySQL for shared ones.
func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch cfg.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.Path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", cfg.Path, err)
		}
		return db, nil
	case "mysql":
		dsn := DSN(cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		db, err := gorm.Open(mysql.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}
