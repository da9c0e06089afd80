package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/model"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Models migrated into the audit database.
var models = []interface{}{
	&model.User{},
	&model.Binding{},
	&model.DownloadLog{},
	&model.OperationLog{},
	&model.LoginLog{},
}

// InitDB opens the sqlite database at path, migrates it and seeds the admin
// account when a password is configured.
func InitDB(path, adminUser, adminPassword string, log *slog.Logger) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if adminPassword != "" {
		if err := seedAdmin(db, adminUser, adminPassword); err != nil {
			return nil, err
		}
		log.Info("admin account ready", slog.String("username", adminUser))
	} else {
		log.Warn("no admin password configured, admin API is unusable")
	}

	DB = db
	return db, nil
}

func open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite allows a single writer; one connection avoids SQLITE_BUSY under
	// concurrent binding attempts and keeps :memory: databases alive.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// seedAdmin creates the admin account when it does not exist yet. An existing
// account is left alone so a password changed through the API survives restarts.
func seedAdmin(db *gorm.DB, username, password string) error {
	var count int64
	if err := db.Model(&model.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return fmt.Errorf("look up admin: %w", err)
	}
	if count > 0 {
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	return db.Create(&model.User{
		Username:  username,
		Password:  string(hashed),
		Role:      model.RoleAdmin,
		Status:    "active",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}).Error
}
