package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/faceingest/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// InitGormDB opens the metadata store for driver ("sqlite" or "postgres").
// For sqlite dataSourceName is a file path, for postgres a DSN.
func InitGormDB(driver, dataSourceName string, debug bool) (*gorm.DB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	gormLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dataSourceName)
	case DriverPostgres:
		dialector = postgres.Open(dataSourceName)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	if driver == DriverSQLite {
		// enable write-ahead logging for better concurrency
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			log.Printf("warning: failed to set WAL mode: %v", err)
		}
		if err := db.Exec("PRAGMA busy_timeout=5000;").Error; err != nil {
			log.Printf("warning: failed to set busy timeout: %v", err)
		}
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Printf("GORM Database initialized successfully (%s)", driver)
	return db, nil
}

// AutoMigrateModels creates or updates the image_metadata table.
func AutoMigrateModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.ImageMetadata{}); err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	log.Println("GORM AutoMigrate completed successfully.")
	return nil
}

// CloseGormDB closes the connection pool behind db.
func CloseGormDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
