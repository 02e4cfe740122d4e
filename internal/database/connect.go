package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talentqueue/jobqueue/internal/config"
)

// Connect opens a gorm.DB using cfg.DBDriver — postgres in production,
// sqlite for local/test runs (mirrors the teacher's test helper pattern
// of gorm.Open(sqlite.Open(...)) but selected by configuration rather
// than hardcoded to one driver).
func Connect(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch cfg.DBDriver {
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		return gorm.Open(sqlite.Open(dsn), gcfg)
	default:
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = fmt.Sprintf(
				"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
				cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
			)
		}
		db, err := gorm.Open(postgres.Open(dsn), gcfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.DBMaxConnections)
		sqlDB.SetMaxIdleConns(cfg.DBIdleConnections)
		sqlDB.SetConnMaxLifetime(cfg.DBConnLifetime)
		return db, nil
	}
}
