package infrastructure

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/config"
	"interview-coordinator/infrastructure/logger"
)

// NewMySQLConnection opens the pool and migrates the schema when enabled.
func NewMySQLConnection(cfg config.DatabaseConfig, log logger.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}

	log.Info("connected to MySQL", map[string]interface{}{
		"maxOpenConns": cfg.MaxOpenConns,
		"autoMigrate":  cfg.AutoMigrate,
	})
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Job{},
		&domain.Application{},
		&domain.Session{},
		&domain.QuestionItem{},
		&domain.ManualScore{},
		&domain.EvaluationResult{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }
