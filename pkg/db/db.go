// Package db owns the PostgreSQL connection used by the durable record store.
package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/decksense/presentation-backend/config"
)

// GetConnection opens a gorm connection with the configured pool limits.
func GetConnection(cfg *config.DatabaseConfig) *gorm.DB {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=%s",
		cfg.Host,
		cfg.Username,
		cfg.Password,
		cfg.Name,
		cfg.Port,
		cfg.TimeZone,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		QueryFields: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("accessing connection pool: %v", err)
	}
	sqlDB.SetMaxIdleConns(cfg.Pool.IdleConnections)
	sqlDB.SetMaxOpenConns(cfg.Pool.MaxConnections)
	if cfg.Pool.ConnLifeTime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Pool.ConnLifeTime)
	} else {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
