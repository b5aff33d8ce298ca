// Package database opens the exploit-memory store. SQLite per hostname is
// the default; postgres is available for shared deployments. No package
// init: connections are opened explicitly so the CLI can run store-free
// commands without a database present.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/StrikeScan/go-pipeline/strike/database/models"
)

// Config selects the database backend.
type Config struct {
	// Type is "sqlite" or "postgres". STRIKE_DB_TYPE overrides.
	Type string
	// DSN is the postgres connection string. STRIKE_DB_DSN overrides.
	DSN string
	// Dir holds per-hostname sqlite files.
	Dir string
}

// FromEnv applies environment overrides to a config.
func (c Config) FromEnv() Config {
	if v := os.Getenv("STRIKE_DB_TYPE"); v != "" {
		c.Type = v
	}
	if v := os.Getenv("STRIKE_DB_DSN"); v != "" {
		c.DSN = v
	}
	return c
}

// Open connects to the memory store for one hostname and migrates the
// schema.
func Open(cfg Config, hostname string) (*gorm.DB, error) {
	cfg = cfg.FromEnv()

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var db *gorm.DB
	var err error
	switch cfg.Type {
	case "postgres":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "host=localhost user=postgres password=password dbname=strike port=5432 sslmode=disable"
		}
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
	case "", "sqlite":
		if hostname == "" {
			return nil, fmt.Errorf("open sqlite memory store: empty hostname")
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
		path := filepath.Join(cfg.Dir, hostname+".db")
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Application{},
		&models.Vulnerability{},
		&models.RemediationHistory{},
		&models.Credential{},
		&models.AttackPattern{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
