// Package db opens the relational store and keeps its schema current
package db

import (
	"errors"
	"fmt"
	"os"

	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/util"

	v "github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New opens the database configured under db.* and migrates it
func New() (*gorm.DB, error) {
	driver := v.GetString("db.driver")

	var dsn string
	switch driver {
	case "postgres":
		dsn = PostgresDSN(
			v.GetString("db.host"),
			v.GetInt("db.port"),
			v.GetString("db.user"),
			v.GetString("db.password"),
			v.GetString("db.name"),
			v.GetString("db.sslmode"),
		)
	case "sqlite":
		path := v.GetString("db.path")

		// Inside a container the file has to be mounted by the host, otherwise
		// all data is gone with the container
		if util.IsRunningInDocker() {
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("SQLite database file not mounted, please use docker volumes to mount it to %s", path)
			}
		}

		dsn = SQLiteDSN(path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := Open(driver, dsn, v.GetString("app.env") != "production")
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func PostgresDSN(host string, port int, user, password, name, sslmode string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		host, port, user, password, name, sslmode)
}

// SQLiteDSN turns on foreign keys so cascades behave like they do on postgres.
// SQLite ignores SELECT ... FOR UPDATE, so transactions take the write lock
// when they begin and concurrent writers queue up behind the busy timeout.
func SQLiteDSN(path string) string {
	return path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
}

// Open connects to the database without migrating it
func Open(driver, dsn string, verbose bool) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch driver {
	case "postgres":
		dial = postgres.Open(dsn)
	case "sqlite":
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	level := logger.Error
	if verbose {
		level = logger.Warn
	}

	db, err := gorm.Open(dial, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s database, %w", driver, err)
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		model.User{},
		model.Profile{},
		model.VerificationToken{},
		model.ResendRequest{},
		model.Student{},
		model.Attendance{},
		model.FeeStructure{},
		model.StudentFee{},
		model.FeePayment{},
		model.Circular{},
		model.CircularRecipient{},
		model.Homework{},
		model.HomeworkSubmission{},
		model.HomeworkAttachment{},
		model.TimetableEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to automigrate tables, %w", err)
	}

	return nil
}
