package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine is one pending (customer, pharmacy, medicine) selection.
// Position is monotonic per customer and fixes settlement order.
type CartLine struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID uuid.UUID       `gorm:"column:customer_id;type:uuid;not null;uniqueIndex:uniq_cart_line;uniqueIndex:uniq_cart_position"`
	PharmacyID uuid.UUID       `gorm:"column:pharmacy_id;type:uuid;not null;uniqueIndex:uniq_cart_line"`
	MedicineID uuid.UUID       `gorm:"column:medicine_id;type:uuid;not null;uniqueIndex:uniq_cart_line"`
	Quantity   int             `gorm:"column:quantity;not null"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Position   int64           `gorm:"column:position;not null;uniqueIndex:uniq_cart_position"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Subtotal is the snapshot price times quantity.
func (c CartLine) Subtotal() decimal.Decimal {
	return c.Price.Mul(decimal.NewFromInt(int64(c.Quantity)))
}
