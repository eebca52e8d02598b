// Package database opens the sqlite index shared by the media and users packages.
package database

import (
	"fmt"
	golog "log"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB
var log = logrus.WithFields(logrus.Fields{
	"component": "database",
})

func Init(d *gorm.DB, logger *logrus.Logger) error {
	db = d
	log = logger.WithFields(logrus.Fields{
		"component": "database",
	})
	return nil
}

func Fini() {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Open opens (creating if needed) the sqlite file at path and migrates models.
func Open(path string, models ...any) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	gormLogger := logger.New(
		golog.New(os.Stdout, "\r\n", golog.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
	d, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// set only a single connection so we don't actually have concurrent writes
	sqlDB, err := d.DB()
	if err != nil {
		return nil, fmt.Errorf("retrieve database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := d.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debugf("opened %s", path)
	return d, nil
}
