// Package dbtest opens throwaway in-memory SQLite databases migrated with
// every model, for repository and service tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
)

// Open returns a migrated client. A single connection serializes
// transactions, so code running inside WithTx must only use its tx.
func Open(t testing.TB) *db.Client {
	t.Helper()
	dsn := "file:pharmalink_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db.FromGorm(conn)
}

// Catalog is a seeded pharmacy with its owner.
type Catalog struct {
	Pharmacy models.Pharmacy
	OwnerID  uuid.UUID
}

// SeedPharmacy inserts an active pharmacy owned by a fresh user id.
func SeedPharmacy(t testing.TB, client *db.Client, name string) Catalog {
	t.Helper()
	owner := uuid.New()
	pharmacy := models.Pharmacy{
		ID:          uuid.New(),
		OwnerUserID: owner,
		Name:        name,
		Address:     name + " street",
		IsActive:    true,
	}
	if err := client.DB().Create(&pharmacy).Error; err != nil {
		t.Fatalf("seed pharmacy: %v", err)
	}
	return Catalog{Pharmacy: pharmacy, OwnerID: owner}
}

// SeedStock inserts a medicine and the pharmacy's inventory row for it.
func SeedStock(t testing.TB, client *db.Client, pharmacyID uuid.UUID, price string, stock int) models.InventoryEntry {
	t.Helper()
	medicine := models.Medicine{ID: uuid.New(), Name: "med-" + uuid.NewString()[:8]}
	if err := client.DB().Create(&medicine).Error; err != nil {
		t.Fatalf("seed medicine: %v", err)
	}
	entry := models.InventoryEntry{
		ID:                uuid.New(),
		PharmacyID:        pharmacyID,
		MedicineID:        medicine.ID,
		Price:             decimal.RequireFromString(price),
		Stock:             stock,
		IsAvailable:       stock > 0,
		MinStockThreshold: 5,
	}
	if err := client.DB().Create(&entry).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return entry
}

// Stock reads the current stock for a pair.
func Stock(t testing.TB, client *db.Client, pharmacyID, medicineID uuid.UUID) int {
	t.Helper()
	var entry models.InventoryEntry
	if err := client.DB().Where("pharmacy_id = ? AND medicine_id = ?", pharmacyID, medicineID).First(&entry).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	return entry.Stock
}
