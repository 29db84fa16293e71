package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryEntry is a pharmacy's stock and price for one medicine.
// Stock is only decremented inside a settlement transaction.
type InventoryEntry struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PharmacyID        uuid.UUID       `gorm:"column:pharmacy_id;type:uuid;not null;uniqueIndex:uniq_inventory_pharmacy_medicine"`
	MedicineID        uuid.UUID       `gorm:"column:medicine_id;type:uuid;not null;uniqueIndex:uniq_inventory_pharmacy_medicine"`
	Price             decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Stock             int             `gorm:"column:stock;not null"`
	IsAvailable       bool            `gorm:"column:is_available;not null"`
	MinStockThreshold int             `gorm:"column:min_stock_threshold;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
