// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/farellandr/quariarbox/config"
	"github.com/farellandr/quariarbox/internal/models"
)

var dbSeq atomic.Int64

// NewDB opens a migrated in-memory SQLite database private to the test.
// It holds a single connection, so code running inside a transaction must
// use the transaction handle for every query.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:quariarbox_test_%d?mode=memory&cache=shared&_foreign_keys=1", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := config.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	if err := config.SeedRoles(db); err != nil {
		t.Fatalf("Failed to seed roles: %v", err)
	}
	return db
}

// CreateUser inserts a user with the given role and returns it with the role loaded.
func CreateUser(t *testing.T, db *gorm.DB, username, roleName string) *models.User {
	t.Helper()

	var role models.Role
	if err := db.Where("name = ?", roleName).First(&role).Error; err != nil {
		t.Fatalf("Failed to load role %s: %v", roleName, err)
	}

	user := &models.User{
		Email:     username + "@example.com",
		Username:  username,
		FirstName: "Test",
		LastName:  username,
		Password:  "not-a-real-hash",
		RoleID:    role.ID,
		Role:      role,
	}
	if err := db.Omit("Role").Create(user).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return user
}

// CreateShipment inserts a shipment owned by owner. Weight is a decimal string.
func CreateShipment(t *testing.T, db *gorm.DB, owner *models.User, weight string) *models.Shipment {
	t.Helper()

	shipment := &models.Shipment{
		TrackingNumber:     fmt.Sprintf("TRK%09d", dbSeq.Add(1)),
		OriginAddress:      "12 Marina Road, Lagos",
		DestinationAddress: "4 Ahmadu Bello Way, Abuja",
		Weight:             decimal.RequireFromString(weight),
		Status:             models.ShipmentPending,
		UserID:             owner.ID,
	}
	if err := db.Omit("User").Create(shipment).Error; err != nil {
		t.Fatalf("Failed to create shipment: %v", err)
	}
	return shipment
}
