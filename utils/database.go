package utils

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ustawi/donation-gateway/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dialector picks the GORM driver for cfg.Driver.
func dialector(cfg DatabaseConfig) (gorm.Dialector, string, error) {
	switch cfg.Driver {
	case "", "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		return mysql.Open(dsn), fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.DBName), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port)
		return postgres.Open(dsn), fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.DBName), nil
	case "sqlite":
		return sqlite.Open(cfg.Path), cfg.Path, nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// InitDatabase opens the configured database and tunes the connection pool.
func InitDatabase(cfg DatabaseConfig, l *Logger) (*gorm.DB, error) {
	dial, target, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	// Only errors in production
	logLevel := logger.Info
	if os.Getenv("GO_ENV") == "production" {
		logLevel = logger.Error
	}

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
		},
	)

	l.Info("connecting to database", Fields{"driver": cfg.Driver, "target": target})
	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
	})
	if err != nil {
		l.Error("database connection failed", Fields{"driver": cfg.Driver, "target": target, "error": err})
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "sqlite" {
		// sqlite serialises writers
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(15)
		sqlDB.SetMaxOpenConns(120)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(30 * time.Minute)
	}

	return db, nil
}

// MigrateDatabase creates or updates the donations and payment_transactions tables.
func MigrateDatabase(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Donation{},
		&models.PaymentTransaction{},
	)
}
