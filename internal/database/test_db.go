package database

import (
	"gorm.io/gorm"
)

// InitTestDB replaces DB with a fresh in-memory database.
func InitTestDB() *gorm.DB {
	db, err := open(":memory:")
	if err != nil {
		panic("failed to open test database: " + err.Error())
	}
	DB = db
	return db
}

// SeedTestAdmin creates an admin account in the test database.
func SeedTestAdmin(username, password string) error {
	return seedAdmin(DB, username, password)
}

func CleanTestDB() {
	sqlDB, err := DB.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
