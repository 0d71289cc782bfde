package db

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reportinsight/internal/config"
)

// Connect opens a GORM database connection using APP_DATABASE_URL. A
// postgres:// URL selects PostgreSQL; a "file:" DSN selects SQLite.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required")
	}

	var (
		db  *gorm.DB
		err error
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
		// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true, TranslateError: true})
	case strings.HasPrefix(dsn, "file:"):
		db, err = OpenSQLite(dsn)
	default:
		return nil, errors.New("APP_DATABASE_URL must be a postgres:// URL or a sqlite file: DSN")
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a SQLite database limited to a single connection, so
// writers queue instead of failing with SQLITE_BUSY.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Report{},
		&ArchivedReport{},
		&UserMetrics{},
		&ActivityHeatCell{},
		&Member{},
		&Feedback{},
		&KPISnapshot{},
		&Manager{},
		&SourceKey{},
	)
}

// EnsureBootstrapManager makes sure there is at least one admin manager
// corresponding to the bootstrap credentials in config. If a manager with
// that username already exists, it is left as-is.
func EnsureBootstrapManager(db *gorm.DB, cfg *config.Config) error {
	if cfg.ManagerUser == "" || cfg.ManagerPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&Manager{}).Where("username = ?", cfg.ManagerUser).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.ManagerPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return db.Create(&Manager{
		Username:     cfg.ManagerUser,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}).Error
}

// EnsureBootstrapSourceKey registers the configured ingestion key for the
// bootstrap manager. If the key already exists it is re-activated and its
// channel name refreshed.
func EnsureBootstrapSourceKey(db *gorm.DB, cfg *config.Config) error {
	if cfg.BootstrapSourceKey == "" {
		return nil
	}

	var manager Manager
	if err := db.Where("username = ?", cfg.ManagerUser).First(&manager).Error; err != nil {
		return err
	}

	// Use Find so "not found" doesn't log as error.
	var existing SourceKey
	if err := db.Where("key = ?", cfg.BootstrapSourceKey).Limit(1).Find(&existing).Error; err == nil && existing.ID != 0 {
		existing.ManagerID = manager.ID
		existing.Name = cfg.BootstrapSourceName
		existing.Active = true
		return db.Save(&existing).Error
	}

	return db.Create(&SourceKey{
		ManagerID: manager.ID,
		Name:      cfg.BootstrapSourceName,
		Key:       cfg.BootstrapSourceKey,
		Active:    true,
	}).Error
}

// OpenMemory opens and migrates a private in-memory SQLite database named
// name. Tests use one per case.
func OpenMemory(name string) (*gorm.DB, error) {
	db, err := OpenSQLite("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
