package repository

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"geoplanner/internal/model"
)

// NewDB opens a SQLite database and runs migrations. Migrations are additive:
// new columns get zero-value defaults, so rows written by an older schema stay
// readable.
func NewDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "geoplanner.db"
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the schema to an already-open database. Exposed separately
// so tests can run it against an in-memory SQLite instance.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Category{},
		&model.Location{},
		&model.Task{},
		&model.Project{},
		&model.ProjectMember{},
		&model.ProjectTask{},
		&model.ProjectInvitation{},
	); err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}
	return nil
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	// Ignore DSNs with explicit mode=memory or network.
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	// Strip file: prefix if present.
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}
